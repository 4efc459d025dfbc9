package contact

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/broadcast/internal/domain"
	"github.com/ignite/broadcast/internal/pkg/logger"
)

// Limiter paces outbound validation calls. *ratelimit.SlidingWindow
// satisfies it.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Service implements contact business logic. Safe for concurrent use if
// the repository and validator are.
type Service struct {
	repo      Repository
	validator Validator
	pace      Limiter
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithValidator replaces the default DNS validator.
func WithValidator(v Validator) Option {
	return func(s *Service) { s.validator = v }
}

// WithValidationLimiter paces multi-address validation requests.
func WithValidationLimiter(l Limiter) Option {
	return func(s *Service) { s.pace = l }
}

// NewService creates a contact service backed by repo.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{repo: repo, validator: NewDNSValidator(nil), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetClock replaces time.Now, for tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, domain.ErrConflict):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	case errors.Is(err, domain.ErrUnknownReference):
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return err
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Get returns a single contact.
func (s *Service) Get(ctx context.Context, id string) (*domain.Contact, error) {
	c, err := s.repo.GetContact(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	return c, nil
}

// List returns contacts matching the filter.
func (s *Service) List(ctx context.Context, f ListFilter) ([]domain.Contact, int, error) {
	if f.Status != "" && !domain.ContactStatus(f.Status).Valid() {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrValidation, f.Status)
	}
	return s.repo.ListContacts(ctx, f)
}

// CreateInput holds the fields for creating a contact.
type CreateInput struct {
	Email     string               `json:"email"`
	FirstName string               `json:"firstName"`
	LastName  string               `json:"lastName"`
	Status    domain.ContactStatus `json:"status"`
	Fields    map[string]any       `json:"customFields"`
	GroupIDs  []string             `json:"groupIds"`
}

// Create validates and stores a new contact. New contacts start
// NOT_VALIDATED.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Contact, error) {
	email := normalizeEmail(in.Email)
	if !ValidSyntax(email) {
		return nil, fmt.Errorf("%w: %q is not a valid email address", ErrValidation, in.Email)
	}
	status := in.Status
	if status == "" {
		status = domain.ContactSubscribed
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}

	now := s.now().UTC()
	c := &domain.Contact{
		ID:               uuid.New().String(),
		Email:            email,
		FirstName:        strings.TrimSpace(in.FirstName),
		LastName:         strings.TrimSpace(in.LastName),
		Status:           status,
		ValidationStatus: domain.ValidationNotValidated,
		GroupIDs:         in.GroupIDs,
		Fields:           in.Fields,
		CreatedAt:        now,
	}
	if status == domain.ContactUnsubscribed {
		c.UnsubscribedAt = &now
	}
	if err := s.repo.CreateContact(ctx, c); err != nil {
		return nil, translate(err)
	}
	return c, nil
}

// Update modifies a contact. Changing the email resets nothing else; the
// caller re-validates when it matters.
func (s *Service) Update(ctx context.Context, id string, u UpdateFields) (*domain.Contact, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Email != nil {
		email := normalizeEmail(*u.Email)
		if !ValidSyntax(email) {
			return nil, fmt.Errorf("%w: %q is not a valid email address", ErrValidation, *u.Email)
		}
		u.Email = &email
	}
	if u.Status != nil && !u.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, *u.Status)
	}
	if u.empty() {
		return c, nil
	}
	if err := s.repo.UpdateContact(ctx, id, u); err != nil {
		return nil, translate(err)
	}
	return s.Get(ctx, id)
}

// Delete removes a contact and its send history.
func (s *Service) Delete(ctx context.Context, id string) error {
	return translate(s.repo.DeleteContact(ctx, id))
}

// Bulk actions.
const (
	BulkGroup       = "group"
	BulkUngroup     = "ungroup"
	BulkDelete      = "delete"
	BulkUnsubscribe = "unsubscribe"
	BulkResubscribe = "resubscribe"
)

// BulkRequest applies one action to many contacts. GroupID is required for
// group and ungroup.
type BulkRequest struct {
	Action     string   `json:"action"`
	ContactIDs []string `json:"contactIds"`
	GroupID    string   `json:"groupId"`
}

// BulkResult counts the contacts the action applied to. Per-contact
// failures are listed and do not stop the batch.
type BulkResult struct {
	Action    string   `json:"action"`
	Processed int      `json:"processed"`
	Errors    []string `json:"errors"`
}

// Bulk runs req against every listed contact.
func (s *Service) Bulk(ctx context.Context, req BulkRequest) (*BulkResult, error) {
	if len(req.ContactIDs) == 0 {
		return nil, fmt.Errorf("%w: contactIds must not be empty", ErrValidation)
	}
	res := &BulkResult{Action: req.Action, Errors: []string{}}

	switch req.Action {
	case BulkGroup, BulkUngroup:
		if strings.TrimSpace(req.GroupID) == "" {
			return nil, fmt.Errorf("%w: groupId is required for %s", ErrValidation, req.Action)
		}
	case BulkDelete, BulkUnsubscribe, BulkResubscribe:
	default:
		return nil, fmt.Errorf("%w: unknown bulk action %q", ErrValidation, req.Action)
	}

	if req.Action == BulkUngroup {
		n, err := s.repo.RemoveContactsFromGroup(ctx, req.ContactIDs, req.GroupID)
		if err != nil {
			return nil, fmt.Errorf("ungroup contacts: %w", err)
		}
		res.Processed = n
		return res, nil
	}

	for _, id := range req.ContactIDs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		var err error
		switch req.Action {
		case BulkGroup:
			err = s.repo.AddContactToGroup(ctx, id, req.GroupID)
			if errors.Is(err, domain.ErrUnknownReference) {
				// Every remaining id would fail the same way.
				return nil, translate(err)
			}
		case BulkDelete:
			err = s.repo.DeleteContact(ctx, id)
		case BulkUnsubscribe:
			st := domain.ContactUnsubscribed
			err = s.repo.UpdateContact(ctx, id, UpdateFields{Status: &st})
		case BulkResubscribe:
			st := domain.ContactSubscribed
			err = s.repo.UpdateContact(ctx, id, UpdateFields{Status: &st})
		}
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("Failed to %s contact %s: %v", req.Action, id, err))
			continue
		}
		res.Processed++
	}
	logger.Info("bulk contact action", "action", req.Action, "processed", res.Processed, "errors", len(res.Errors))
	return res, nil
}

// ValidateRequest names what to validate. Exactly one form is used, in the
// order ContactID, ContactIDs, Email, Emails.
type ValidateRequest struct {
	ContactID  string   `json:"contactId"`
	ContactIDs []string `json:"contactIds"`
	Email      string   `json:"email"`
	Emails     []string `json:"emails"`
}

// ValidationOutcome is the result for one address.
type ValidationOutcome struct {
	Identifier       string                  `json:"identifier"`
	Status           string                  `json:"status"`
	ValidationStatus domain.ValidationStatus `json:"validationStatus,omitempty"`
	Score            *int                    `json:"score,omitempty"`
	Error            string                  `json:"error,omitempty"`
}

// ValidationReport summarizes a validation request.
type ValidationReport struct {
	Validated int                 `json:"validated"`
	Failed    int                 `json:"failed"`
	Results   []ValidationOutcome `json:"results"`
}

func (r *ValidationReport) ok(id string, v *Validation) {
	score := v.Score
	r.Validated++
	r.Results = append(r.Results, ValidationOutcome{
		Identifier: id, Status: "success", ValidationStatus: v.Status, Score: &score,
	})
}

func (r *ValidationReport) fail(id string, err error) {
	r.Failed++
	r.Results = append(r.Results, ValidationOutcome{Identifier: id, Status: "failed", Error: err.Error()})
}

// Validate checks deliverability and stores the verdict on every matching
// contact. Addresses given directly are validated even when no contact has
// them. Contacts named by id always get a fresh verdict; raw addresses may
// be answered from the validator's cache.
func (s *Service) Validate(ctx context.Context, req ValidateRequest) (*ValidationReport, error) {
	rep := &ValidationReport{Results: []ValidationOutcome{}}

	switch {
	case req.ContactID != "":
		c, err := s.Get(ctx, req.ContactID)
		if err != nil {
			return nil, err
		}
		s.validateContact(ctx, rep, c)

	case len(req.ContactIDs) > 0:
		for i, id := range req.ContactIDs {
			c, err := s.repo.GetContact(ctx, id)
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			if err != nil {
				rep.fail(id, err)
				continue
			}
			if err := s.wait(ctx, i); err != nil {
				return rep, err
			}
			s.validateContact(ctx, rep, c)
		}

	case req.Email != "" || len(req.Emails) > 0:
		emails := append([]string(nil), req.Emails...)
		if req.Email != "" {
			emails = []string{req.Email}
		}
		for i := range emails {
			emails[i] = normalizeEmail(emails[i])
			if !ValidSyntax(emails[i]) {
				return nil, fmt.Errorf("%w: %q is not a valid email address", ErrValidation, emails[i])
			}
		}
		for i, email := range emails {
			if err := s.wait(ctx, i); err != nil {
				return rep, err
			}
			s.validateEmail(ctx, rep, email)
		}

	default:
		return nil, fmt.Errorf("%w: provide contactId, contactIds, email or emails", ErrValidation)
	}

	logger.Info("contacts validated", "validated", rep.Validated, "failed", rep.Failed)
	return rep, nil
}

func (s *Service) wait(ctx context.Context, i int) error {
	if i == 0 || s.pace == nil {
		return ctx.Err()
	}
	return s.pace.Wait(ctx)
}

func (s *Service) check(ctx context.Context, email string, fresh bool) (*Validation, error) {
	var (
		v   *Validation
		err error
	)
	if r, ok := s.validator.(Refresher); ok && fresh {
		v, err = r.Refresh(ctx, email)
	} else {
		v, err = s.validator.Validate(ctx, email)
	}
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, errors.New("validator returned no result")
	}
	if v.ValidatedAt.IsZero() {
		v.ValidatedAt = s.now().UTC()
	}
	return v, nil
}

func (s *Service) validateContact(ctx context.Context, rep *ValidationReport, c *domain.Contact) {
	v, err := s.check(ctx, c.Email, true)
	if err != nil {
		logger.Warn("contact validation failed", "contact_id", c.ID, "email", c.Email, "error", err)
		rep.fail(c.Email, err)
		return
	}
	if err := s.repo.SetContactValidation(ctx, c.ID, *v); err != nil {
		rep.fail(c.Email, fmt.Errorf("store validation: %w", err))
		return
	}
	rep.ok(c.Email, v)
}

func (s *Service) validateEmail(ctx context.Context, rep *ValidationReport, email string) {
	v, err := s.check(ctx, email, false)
	if err != nil {
		logger.Warn("email validation failed", "email", email, "error", err)
		rep.fail(email, err)
		return
	}
	c, err := s.repo.GetContactByEmail(ctx, email)
	switch {
	case errors.Is(err, domain.ErrNotFound):
	case err != nil:
		rep.fail(email, fmt.Errorf("look up contact: %w", err))
		return
	default:
		if err := s.repo.SetContactValidation(ctx, c.ID, *v); err != nil {
			rep.fail(email, fmt.Errorf("store validation: %w", err))
			return
		}
	}
	rep.ok(email, v)
}

// ValidationState is the stored verdict of one contact.
type ValidationState struct {
	Email              string                  `json:"email"`
	ValidationStatus   domain.ValidationStatus `json:"validationStatus"`
	ValidatedAt        *time.Time              `json:"validatedAt"`
	ValidationScore    *int                    `json:"validationScore"`
	ValidationMetadata map[string]any          `json:"validationMetadata"`
}

// ValidationOf returns the stored verdict for the contact with id, or with
// email when id is empty.
func (s *Service) ValidationOf(ctx context.Context, id, email string) (*ValidationState, error) {
	var (
		c   *domain.Contact
		err error
	)
	switch {
	case id != "":
		c, err = s.repo.GetContact(ctx, id)
	case email != "":
		c, err = s.repo.GetContactByEmail(ctx, normalizeEmail(email))
	default:
		return nil, fmt.Errorf("%w: provide contactId or email", ErrValidation)
	}
	if err != nil {
		return nil, translate(err)
	}
	return &ValidationState{
		Email:              c.Email,
		ValidationStatus:   c.ValidationStatus,
		ValidatedAt:        c.ValidatedAt,
		ValidationScore:    c.ValidationScore,
		ValidationMetadata: c.ValidationMetadata,
	}, nil
}
