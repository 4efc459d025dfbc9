package suppression

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/broadcast/internal/domain"
	"github.com/ignite/broadcast/internal/pkg/logger"
)

// BouncePermanent is the SES bounce type that suppresses the address.
const BouncePermanent = "Permanent"

// Service implements unsubscribe and provider feedback handling. It is safe
// for concurrent use.
type Service struct {
	repo   Repository
	events EventRecorder
	tokens TokenVerifier
	now    func() time.Time
}

// NewService creates a feedback service.
func NewService(repo Repository, events EventRecorder, tokens TokenVerifier) *Service {
	return &Service{repo: repo, events: events, tokens: tokens, now: time.Now}
}

// SetClock overrides the time source. Tests only.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Lookup returns the contact an unsubscribe token belongs to.
func (s *Service) Lookup(ctx context.Context, token string) (*domain.Contact, error) {
	contactID, ok := s.tokens.Verify(strings.TrimSpace(token))
	if !ok {
		return nil, ErrInvalidToken
	}
	c, err := s.repo.GetContact(ctx, contactID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get contact: %w", err)
	}
	return c, nil
}

// Unsubscribe marks the token's contact UNSUBSCRIBED and logs an
// UNSUBSCRIBED event on every send still in flight for it. Repeating the
// call is harmless.
func (s *Service) Unsubscribe(ctx context.Context, token, feedback string) error {
	c, err := s.Lookup(ctx, token)
	if err != nil {
		return err
	}
	now := s.now()
	if err := s.repo.SetContactStatus(ctx, c.ID, domain.ContactUnsubscribed, now); err != nil {
		return fmt.Errorf("unsubscribe contact: %w", err)
	}

	sends, err := s.repo.ActiveSends(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("list active sends: %w", err)
	}
	var meta map[string]any
	if feedback = strings.TrimSpace(feedback); feedback != "" {
		meta = map[string]any{"feedback": feedback}
	}
	for _, send := range sends {
		ev := &domain.Event{
			SendID:    send.ID,
			ContactID: c.ID,
			Type:      domain.EventUnsubscribed,
			Metadata:  meta,
			CreatedAt: now,
		}
		if err := s.events.RecordEvent(ctx, ev); err != nil {
			return fmt.Errorf("record unsubscribe for send %s: %w", send.ID, err)
		}
	}

	logger.Info("contact unsubscribed", "contact_id", c.ID, "email", c.Email, "sends", len(sends))
	return nil
}

// HandleBounce logs BOUNCED on the message's send. A permanent bounce also
// marks the contact BOUNCED so it is never targeted again.
func (s *Service) HandleBounce(ctx context.Context, messageID, bounceType, bounceSubType string) error {
	send, err := s.findSend(ctx, messageID)
	if err != nil {
		return err
	}
	now := s.now()
	ev := &domain.Event{
		SendID:    send.ID,
		ContactID: send.ContactID,
		Type:      domain.EventBounced,
		Metadata:  map[string]any{"bounceType": bounceType, "bounceSubType": bounceSubType},
		CreatedAt: now,
	}
	if err := s.events.RecordEvent(ctx, ev); err != nil {
		return fmt.Errorf("record bounce: %w", err)
	}
	if bounceType == BouncePermanent {
		if err := s.repo.SetContactStatus(ctx, send.ContactID, domain.ContactBounced, now); err != nil {
			return fmt.Errorf("mark contact bounced: %w", err)
		}
		logger.Warn("hard bounce", "contact_id", send.ContactID, "send_id", send.ID, "sub_type", bounceSubType)
	}
	return nil
}

// HandleComplaint logs COMPLAINED and unsubscribes the contact.
func (s *Service) HandleComplaint(ctx context.Context, messageID, feedbackType string) error {
	send, err := s.findSend(ctx, messageID)
	if err != nil {
		return err
	}
	now := s.now()
	var meta map[string]any
	if feedbackType != "" {
		meta = map[string]any{"complaintFeedbackType": feedbackType}
	}
	ev := &domain.Event{
		SendID:    send.ID,
		ContactID: send.ContactID,
		Type:      domain.EventComplained,
		Metadata:  meta,
		CreatedAt: now,
	}
	if err := s.events.RecordEvent(ctx, ev); err != nil {
		return fmt.Errorf("record complaint: %w", err)
	}
	if err := s.repo.SetContactStatus(ctx, send.ContactID, domain.ContactUnsubscribed, now); err != nil {
		return fmt.Errorf("unsubscribe complainer: %w", err)
	}
	logger.Warn("complaint received", "contact_id", send.ContactID, "send_id", send.ID)
	return nil
}

// HandleDelivery logs DELIVERED on the message's send.
func (s *Service) HandleDelivery(ctx context.Context, messageID string) error {
	send, err := s.findSend(ctx, messageID)
	if err != nil {
		return err
	}
	ev := &domain.Event{
		SendID:    send.ID,
		ContactID: send.ContactID,
		Type:      domain.EventDelivered,
		CreatedAt: s.now(),
	}
	if err := s.events.RecordEvent(ctx, ev); err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}

func (s *Service) findSend(ctx context.Context, messageID string) (*domain.SendRecord, error) {
	if messageID == "" {
		return nil, ErrUnknownMessage
	}
	send, err := s.repo.FindSendByMessageID(ctx, messageID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownMessage, messageID)
		}
		return nil, fmt.Errorf("find send: %w", err)
	}
	return send, nil
}
