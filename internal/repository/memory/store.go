// Package memory is an in-process implementation of every repository
// contract. It backs the test suites and single-node development runs
// without PostgreSQL.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/broadcast/internal/domain"
	"github.com/ignite/broadcast/internal/service/campaign"
	"github.com/ignite/broadcast/internal/service/contact"
	"github.com/ignite/broadcast/internal/service/sending"
)

// Store keeps campaigns, contacts, send records and events in memory.
// Contacts are returned in insertion order. Safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	campaigns map[string]*domain.Campaign
	order     []string
	contacts  []*domain.Contact
	sends     []*domain.SendRecord
	events    []domain.Event
	now       func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		campaigns: make(map[string]*domain.Campaign),
		now:       time.Now,
	}
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, domain.ErrNotFound)
}

func copyContact(c *domain.Contact) *domain.Contact {
	cp := *c
	cp.GroupIDs = append([]string(nil), c.GroupIDs...)
	return &cp
}

func copyCampaign(c *domain.Campaign) *domain.Campaign {
	cp := *c
	cp.GroupIDs = append([]string(nil), c.GroupIDs...)
	return &cp
}

// =============================================================================
// Seeding
// =============================================================================

// AddContact stores a contact. Missing ids and statuses are filled in.
func (s *Store) AddContact(c domain.Contact) *domain.Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = domain.ContactSubscribed
	}
	if c.ValidationStatus == "" {
		c.ValidationStatus = domain.ValidationNotValidated
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	cp := c
	s.contacts = append(s.contacts, &cp)
	out := cp
	return &out
}

// AddSendRecord stores a record as-is, for seeding history.
func (s *Store) AddSendRecord(r domain.SendRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	s.sends = append(s.sends, &r)
}

// =============================================================================
// Inspection
// =============================================================================

// SendRecords returns the records of a campaign in creation order.
func (s *Store) SendRecords(campaignID string) []domain.SendRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.SendRecord
	for _, r := range s.sends {
		if r.CampaignID == campaignID {
			out = append(out, *r)
		}
	}
	return out
}

// Events returns every event recorded for a send.
func (s *Store) Events(sendID string) []domain.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Event
	for _, e := range s.events {
		if e.SendID == sendID {
			out = append(out, e)
		}
	}
	return out
}

// =============================================================================
// Campaigns (campaign.Repository, scheduler)
// =============================================================================

func (s *Store) Get(_ context.Context, id string) (*domain.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, notFound("campaign", id)
	}
	return copyCampaign(c), nil
}

func (s *Store) List(_ context.Context, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Campaign
	search := strings.ToLower(f.Search)
	for i := len(s.order) - 1; i >= 0; i-- {
		c := s.campaigns[s.order[i]]
		if f.Status != "" && string(c.Status) != f.Status {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(c.Name), search) {
			continue
		}
		out = append(out, *copyCampaign(c))
	}
	total := len(out)
	if f.Offset >= len(out) {
		return nil, total, nil
	}
	end := len(out)
	if f.Limit > 0 && f.Offset+f.Limit < end {
		end = f.Offset + f.Limit
	}
	return out[f.Offset:end], total, nil
}

func (s *Store) Create(_ context.Context, c *domain.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if _, exists := s.campaigns[c.ID]; exists {
		return fmt.Errorf("campaign %s already exists", c.ID)
	}
	now := s.now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	s.campaigns[c.ID] = copyCampaign(c)
	s.order = append(s.order, c.ID)
	return nil
}

func (s *Store) Update(_ context.Context, id string, u campaign.UpdateFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return notFound("campaign", id)
	}
	if u.Name != nil {
		c.Name = *u.Name
	}
	if u.Subject != nil {
		c.Subject = *u.Subject
	}
	if u.HTMLContent != nil {
		c.HTMLContent = *u.HTMLContent
	}
	if u.GroupIDs != nil {
		c.GroupIDs = append([]string(nil), (*u.GroupIDs)...)
	}
	c.UpdatedAt = s.now()
	return nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.campaigns[id]; !ok {
		return notFound("campaign", id)
	}
	delete(s.campaigns, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Store) UpdateStatus(_ context.Context, id string, status domain.CampaignStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return notFound("campaign", id)
	}
	c.Status = status
	c.UpdatedAt = s.now()
	return nil
}

func (s *Store) SetSchedule(_ context.Context, id string, status domain.CampaignStatus, at *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return notFound("campaign", id)
	}
	c.Status = status
	c.ScheduledAt = at
	c.UpdatedAt = s.now()
	return nil
}

// ListDue returns campaigns in status whose scheduled_at is set and not
// after now, oldest schedule first.
func (s *Store) ListDue(_ context.Context, status domain.CampaignStatus, now time.Time) ([]domain.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Campaign
	for _, id := range s.order {
		c := s.campaigns[id]
		if c.Status == status && c.ScheduledAt != nil && !c.ScheduledAt.After(now) {
			out = append(out, *copyCampaign(c))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ScheduledAt.Before(*out[j].ScheduledAt) })
	return out, nil
}

// =============================================================================
// Send pipeline (sending.Store)
// =============================================================================

func (s *Store) GetCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	return s.Get(ctx, id)
}

func (s *Store) ListSubscribedContacts(_ context.Context, groupIDs []string) ([]domain.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Contact
	for _, c := range s.contacts {
		if c.Status == domain.ContactSubscribed && c.InGroups(groupIDs) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *Store) ContactsWithHistory(_ context.Context, campaignID string, q sending.HistoryQuery) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool)
	for _, r := range s.sends {
		if r.CampaignID != campaignID {
			continue
		}
		if q.SuccessfulOnly && !r.Status.Successful() {
			continue
		}
		if q.Since != nil && r.CreatedAt.Before(*q.Since) {
			continue
		}
		if q.Before != nil && !r.CreatedAt.Before(*q.Before) {
			continue
		}
		out[r.ContactID] = true
	}
	return out, nil
}

func (s *Store) HasSuccessfulSend(_ context.Context, campaignID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.sends {
		if r.CampaignID == campaignID && r.Status.Successful() {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) StartPass(_ context.Context, campaignID string, mode domain.SendMode, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[campaignID]
	if !ok {
		return notFound("campaign", campaignID)
	}
	c.Status = domain.CampaignSending
	c.PassMode = mode
	at := startedAt
	c.PassStartedAt = &at
	c.UpdatedAt = s.now()
	return nil
}

func (s *Store) SetCampaignStatus(ctx context.Context, campaignID string, status domain.CampaignStatus) error {
	return s.UpdateStatus(ctx, campaignID, status)
}

func (s *Store) CreateSendRecord(_ context.Context, rec *domain.SendRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	cp := *rec
	s.sends = append(s.sends, &cp)
	return nil
}

func (s *Store) findSend(id string) *domain.SendRecord {
	for _, r := range s.sends {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func (s *Store) CompleteSendRecord(_ context.Context, id, messageID string, sentAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.findSend(id)
	if r == nil {
		return notFound("send", id)
	}
	r.Status = domain.SendSent
	r.MessageID = messageID
	at := sentAt
	r.SentAt = &at
	if c, ok := s.campaigns[r.CampaignID]; ok && c.SentAt == nil {
		c.SentAt = &at
	}
	s.events = append(s.events, domain.Event{
		ID:        uuid.New().String(),
		SendID:    r.ID,
		ContactID: r.ContactID,
		Type:      domain.EventSent,
		CreatedAt: sentAt,
	})
	return nil
}

func (s *Store) FailSendRecord(_ context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.findSend(id)
	if r == nil {
		return notFound("send", id)
	}
	r.Status = domain.SendFailed
	r.Error = reason
	return nil
}

// =============================================================================
// Tracking and feedback (tracking.Store, suppression.Repository)
// =============================================================================

func (s *Store) GetSend(_ context.Context, id string) (*domain.SendRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r := s.findSend(id)
	if r == nil {
		return nil, notFound("send", id)
	}
	cp := *r
	return &cp, nil
}

func (s *Store) FindSendByMessageID(_ context.Context, messageID string) (*domain.SendRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.sends {
		if messageID != "" && r.MessageID == messageID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, notFound("message", messageID)
}


func (s *Store) SetContactStatus(_ context.Context, id string, status domain.ContactStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.contacts {
		if c.ID != id {
			continue
		}
		c.Status = status
		if status == domain.ContactUnsubscribed && c.UnsubscribedAt == nil {
			t := at
			c.UnsubscribedAt = &t
		}
		return nil
	}
	return notFound("contact", id)
}

func (s *Store) ActiveSends(_ context.Context, contactID string) ([]domain.SendRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.SendRecord
	for _, r := range s.sends {
		if r.ContactID != contactID {
			continue
		}
		switch r.Status {
		case domain.SendPending, domain.SendSent, domain.SendDelivered:
			out = append(out, *r)
		}
	}
	return out, nil
}

// RecordEvent appends ev and advances the status of its send record.
func (s *Store) RecordEvent(_ context.Context, ev *domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.findSend(ev.SendID)
	if r == nil {
		return notFound("send", ev.SendID)
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.now()
	}
	ev.ContactID = r.ContactID
	s.events = append(s.events, *ev)
	domain.ApplyEvent(r, ev.Type, ev.CreatedAt)
	return nil
}

// =============================================================================
// Contacts (contact.Repository)
// =============================================================================

func (s *Store) findContact(id string) (int, *domain.Contact) {
	for i, c := range s.contacts {
		if c.ID == id {
			return i, c
		}
	}
	return -1, nil
}

func (s *Store) emailTaken(email, exceptID string) bool {
	for _, c := range s.contacts {
		if c.ID != exceptID && strings.EqualFold(c.Email, email) {
			return true
		}
	}
	return false
}

func (s *Store) GetContact(_ context.Context, id string) (*domain.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, c := s.findContact(id); c != nil {
		return copyContact(c), nil
	}
	return nil, notFound("contact", id)
}

func (s *Store) GetContactByEmail(_ context.Context, email string) (*domain.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.contacts {
		if strings.EqualFold(c.Email, email) {
			return copyContact(c), nil
		}
	}
	return nil, notFound("contact", email)
}

// ListContacts returns the newest contacts first.
func (s *Store) ListContacts(_ context.Context, f contact.ListFilter) ([]domain.Contact, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	search := strings.ToLower(f.Search)
	var out []domain.Contact
	for i := len(s.contacts) - 1; i >= 0; i-- {
		c := s.contacts[i]
		if f.Status != "" && string(c.Status) != f.Status {
			continue
		}
		if f.GroupID != "" && !c.InGroups([]string{f.GroupID}) {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(c.Email), search) &&
			!strings.Contains(strings.ToLower(c.FirstName), search) &&
			!strings.Contains(strings.ToLower(c.LastName), search) {
			continue
		}
		out = append(out, *copyContact(c))
	}
	total := len(out)
	if f.Offset >= len(out) {
		return nil, total, nil
	}
	end := len(out)
	if f.Limit > 0 && f.Offset+f.Limit < end {
		end = f.Offset + f.Limit
	}
	return out[f.Offset:end], total, nil
}

func (s *Store) CreateContact(_ context.Context, c *domain.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if s.emailTaken(c.Email, "") {
		return fmt.Errorf("contact %s: %w", c.Email, domain.ErrConflict)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	s.contacts = append(s.contacts, copyContact(c))
	return nil
}

func (s *Store) UpdateContact(_ context.Context, id string, u contact.UpdateFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, c := s.findContact(id)
	if c == nil {
		return notFound("contact", id)
	}
	if u.Email != nil {
		if s.emailTaken(*u.Email, id) {
			return fmt.Errorf("contact %s: %w", *u.Email, domain.ErrConflict)
		}
		c.Email = *u.Email
	}
	if u.FirstName != nil {
		c.FirstName = *u.FirstName
	}
	if u.LastName != nil {
		c.LastName = *u.LastName
	}
	if u.Status != nil {
		c.Status = *u.Status
		if c.Status == domain.ContactUnsubscribed {
			if c.UnsubscribedAt == nil {
				at := s.now()
				c.UnsubscribedAt = &at
			}
		} else {
			c.UnsubscribedAt = nil
		}
	}
	if u.Fields != nil {
		c.Fields = *u.Fields
	}
	if u.GroupIDs != nil {
		c.GroupIDs = append([]string(nil), (*u.GroupIDs)...)
	}
	return nil
}

// DeleteContact also drops the contact's send records and events, as the
// database cascade does.
func (s *Store) DeleteContact(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, c := s.findContact(id)
	if c == nil {
		return notFound("contact", id)
	}
	s.contacts = append(s.contacts[:i], s.contacts[i+1:]...)

	sends := s.sends[:0]
	for _, r := range s.sends {
		if r.ContactID != id {
			sends = append(sends, r)
		}
	}
	s.sends = sends
	events := s.events[:0]
	for _, e := range s.events {
		if e.ContactID != id {
			events = append(events, e)
		}
	}
	s.events = events
	return nil
}

func (s *Store) AddContactToGroup(_ context.Context, contactID, groupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, c := s.findContact(contactID)
	if c == nil {
		return notFound("contact", contactID)
	}
	if !c.InGroups([]string{groupID}) {
		c.GroupIDs = append(c.GroupIDs, groupID)
	}
	return nil
}

func (s *Store) RemoveContactsFromGroup(_ context.Context, contactIDs []string, groupID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for _, id := range contactIDs {
		_, c := s.findContact(id)
		if c == nil {
			continue
		}
		for i, g := range c.GroupIDs {
			if g == groupID {
				c.GroupIDs = append(c.GroupIDs[:i:i], c.GroupIDs[i+1:]...)
				removed++
				break
			}
		}
	}
	return removed, nil
}

func (s *Store) SetContactValidation(_ context.Context, id string, v contact.Validation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, c := s.findContact(id)
	if c == nil {
		return notFound("contact", id)
	}
	at := v.ValidatedAt
	score := v.Score
	c.ValidationStatus = v.Status
	c.ValidatedAt = &at
	c.ValidationScore = &score
	c.ValidationMetadata = v.Metadata
	return nil
}
