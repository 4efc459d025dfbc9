// Package sending runs the campaign send pipeline: it works out which
// contacts are still owed a campaign, delivers one bounded batch of them
// through the rate limiter and the email transport, and records every
// attempt so an interrupted pass can be resumed without repeating a send.
package sending

import (
	"context"
	"time"

	"github.com/ignite/broadcast/internal/domain"
)

// Sender delivers one rendered message and returns the provider's message
// id. Failures should be reported as *TransportError. Implementations must
// be safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, to, subject, html string) (string, error)
}

// Limiter gates each call to the Sender.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Renderer produces the per-recipient subject and body.
type Renderer interface {
	Merge(text string, c domain.Contact) string
	Render(template string, c domain.Contact, sendID, unsubscribeToken string) string
}

// TokenGenerator issues unsubscribe tokens for contacts.
type TokenGenerator interface {
	Generate(contactID string) string
}

// HistoryQuery selects send records of one campaign. Zero values mean no
// restriction.
type HistoryQuery struct {
	// SuccessfulOnly restricts to records the provider accepted.
	SuccessfulOnly bool
	// Since keeps records created at or after this instant.
	Since *time.Time
	// Before keeps records created strictly before this instant.
	Before *time.Time
}

// Store is the persistence contract of the orchestrator. Implementations
// must return an error wrapping domain.ErrNotFound for a missing campaign.
type Store interface {
	GetCampaign(ctx context.Context, id string) (*domain.Campaign, error)

	// ListSubscribedContacts returns SUBSCRIBED contacts in any of the groups
	// (all contacts when groupIDs is empty) in a stable order.
	ListSubscribedContacts(ctx context.Context, groupIDs []string) ([]domain.Contact, error)

	// ContactsWithHistory returns the ids of contacts having at least one
	// record for the campaign matching q.
	ContactsWithHistory(ctx context.Context, campaignID string, q HistoryQuery) (map[string]bool, error)

	// HasSuccessfulSend reports whether any record of the campaign was
	// accepted by the provider.
	HasSuccessfulSend(ctx context.Context, campaignID string) (bool, error)

	// StartPass moves the campaign to SENDING, records the pass mode and
	// start, and sets sent_at only when it is still empty.
	StartPass(ctx context.Context, campaignID string, mode domain.SendMode, startedAt time.Time) error

	SetCampaignStatus(ctx context.Context, campaignID string, status domain.CampaignStatus) error

	CreateSendRecord(ctx context.Context, rec *domain.SendRecord) error

	// CompleteSendRecord marks the record SENT and appends a SENT event.
	CompleteSendRecord(ctx context.Context, id, messageID string, sentAt time.Time) error

	FailSendRecord(ctx context.Context, id, reason string) error
}
