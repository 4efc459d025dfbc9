package suppression

import (
	"context"
	"time"

	"github.com/ignite/broadcast/internal/domain"
)

// Repository defines the data access contract for feedback processing.
type Repository interface {
	GetContact(ctx context.Context, id string) (*domain.Contact, error)

	// SetContactStatus changes a contact's subscription state. Moving to
	// UNSUBSCRIBED stamps unsubscribedAt the first time.
	SetContactStatus(ctx context.Context, id string, status domain.ContactStatus, at time.Time) error

	// FindSendByMessageID resolves a provider message id to its send record.
	FindSendByMessageID(ctx context.Context, messageID string) (*domain.SendRecord, error)

	// ActiveSends returns the contact's PENDING, SENT and DELIVERED records.
	ActiveSends(ctx context.Context, contactID string) ([]domain.SendRecord, error)
}

// EventRecorder appends an event to a send's log and advances its status.
// Implementations may write synchronously or hand the event to a queue.
type EventRecorder interface {
	RecordEvent(ctx context.Context, ev *domain.Event) error
}

// TokenVerifier resolves a signed unsubscribe token to a contact id.
type TokenVerifier interface {
	Verify(token string) (contactID string, ok bool)
}
