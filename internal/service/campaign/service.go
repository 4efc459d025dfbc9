package campaign

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

// Service implements campaign business logic. All public methods are safe
// for concurrent use if the underlying repository is concurrency-safe.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a campaign service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// SetClock replaces time.Now, for tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

func translate(err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// Get returns a single campaign.
func (s *Service) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	return c, nil
}

// List returns campaigns matching the filter.
func (s *Service) List(ctx context.Context, f ListFilter) ([]domain.Campaign, int, error) {
	if f.Status != "" && !domain.CampaignStatus(f.Status).Valid() {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrValidation, f.Status)
	}
	return s.repo.List(ctx, f)
}

// CreateInput holds the fields for creating a new campaign.
type CreateInput struct {
	Name        string   `json:"name"`
	Subject     string   `json:"subject"`
	HTMLContent string   `json:"htmlContent"`
	GroupIDs    []string `json:"groupIds"`
}

// Create validates and persists a new campaign in draft status.
func (s *Service) Create(ctx context.Context, input CreateInput) (*domain.Campaign, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if strings.TrimSpace(input.Subject) == "" {
		return nil, fmt.Errorf("%w: subject is required", ErrValidation)
	}

	c := &domain.Campaign{
		ID:          uuid.New().String(),
		Name:        strings.TrimSpace(input.Name),
		Subject:     input.Subject,
		HTMLContent: input.HTMLContent,
		GroupIDs:    input.GroupIDs,
		Status:      domain.CampaignDraft,
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Update modifies content and targeting of a draft or scheduled campaign.
func (s *Service) Update(ctx context.Context, id string, u UpdateFields) (*domain.Campaign, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.Editable() {
		return nil, fmt.Errorf("%w: cannot edit a %s campaign", ErrInvalidTransition, c.Status)
	}
	if u.Name != nil && strings.TrimSpace(*u.Name) == "" {
		return nil, fmt.Errorf("%w: name cannot be empty", ErrValidation)
	}
	if u.Subject != nil && strings.TrimSpace(*u.Subject) == "" {
		return nil, fmt.Errorf("%w: subject cannot be empty", ErrValidation)
	}
	if u.empty() {
		return c, nil
	}
	if err := s.repo.Update(ctx, id, u); err != nil {
		return nil, translate(err)
	}
	return s.Get(ctx, id)
}

// Delete removes a draft or cancelled campaign.
func (s *Service) Delete(ctx context.Context, id string) error {
	c, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if c.Status != domain.CampaignDraft && c.Status != domain.CampaignCancelled {
		return fmt.Errorf("%w: only draft or cancelled campaigns can be deleted", ErrInvalidTransition)
	}
	return translate(s.repo.Delete(ctx, id))
}

// Schedule arranges a draft (or re-times a scheduled) campaign for a future
// send. The campaign must have content.
func (s *Service) Schedule(ctx context.Context, id string, at time.Time) (*domain.Campaign, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.CampaignDraft && c.Status != domain.CampaignScheduled {
		return nil, fmt.Errorf("%w: cannot schedule a %s campaign", ErrInvalidTransition, c.Status)
	}
	if !c.HasContent() {
		return nil, fmt.Errorf("%w: campaign has no content", ErrValidation)
	}
	if !at.After(s.now()) {
		return nil, fmt.Errorf("%w: scheduled time must be in the future", ErrValidation)
	}
	at = at.UTC()
	if err := s.repo.SetSchedule(ctx, id, domain.CampaignScheduled, &at); err != nil {
		return nil, translate(err)
	}
	logger.Info("campaign scheduled", "campaign_id", id, "scheduled_at", at.Format(time.RFC3339))
	return s.Get(ctx, id)
}

// Unschedule returns a scheduled campaign to draft.
func (s *Service) Unschedule(ctx context.Context, id string) (*domain.Campaign, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.CampaignScheduled {
		return nil, fmt.Errorf("%w: campaign is not scheduled", ErrInvalidTransition)
	}
	if err := s.repo.SetSchedule(ctx, id, domain.CampaignDraft, nil); err != nil {
		return nil, translate(err)
	}
	return s.Get(ctx, id)
}

// Cancel stops a draft or scheduled campaign for good.
func (s *Service) Cancel(ctx context.Context, id string) (*domain.Campaign, error) {
	return s.transition(ctx, id, domain.CampaignCancelled)
}

func (s *Service) transition(ctx context.Context, id string, to domain.CampaignStatus) (*domain.Campaign, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransition(c.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, to)
	}
	if err := s.repo.UpdateStatus(ctx, id, to); err != nil {
		return nil, translate(err)
	}
	c.Status = to
	return c, nil
}

// ForceStatus is the operator override for a campaign stuck in SENDING,
// for example after the process was killed mid-batch. Only DRAFT and SENT
// are accepted.
func (s *Service) ForceStatus(ctx context.Context, id string, to domain.CampaignStatus) (*domain.Campaign, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !domain.CanForce(c.Status, to) {
		return nil, fmt.Errorf("%w: cannot force %s -> %s", ErrInvalidTransition, c.Status, to)
	}
	if err := s.repo.UpdateStatus(ctx, id, to); err != nil {
		return nil, translate(err)
	}
	logger.Warn("campaign status forced", "campaign_id", id, "from", string(c.Status), "to", string(to))
	c.Status = to
	return c, nil
}

// Duplicate copies content and targeting into a new draft.
func (s *Service) Duplicate(ctx context.Context, id string) (*domain.Campaign, error) {
	src, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.Create(ctx, CreateInput{
		Name:        src.Name + " (Copy)",
		Subject:     src.Subject,
		HTMLContent: src.HTMLContent,
		GroupIDs:    append([]string(nil), src.GroupIDs...),
	})
}
