package contact

import (
	"context"

	"github.com/ignite/broadcast/internal/domain"
)

// Repository defines the data access contract for contacts.
// Implementations must be safe for concurrent use, return an error wrapping
// domain.ErrNotFound for missing rows, domain.ErrConflict for a duplicate
// email and domain.ErrUnknownReference for a group that does not exist.
type Repository interface {
	// GetContact returns a single contact with its group ids.
	GetContact(ctx context.Context, id string) (*domain.Contact, error)

	// GetContactByEmail looks a contact up by its normalized email.
	GetContactByEmail(ctx context.Context, email string) (*domain.Contact, error)

	// ListContacts returns contacts matching the filter, newest first, and
	// the total number of matches before pagination.
	ListContacts(ctx context.Context, filter ListFilter) ([]domain.Contact, int, error)

	// CreateContact inserts a contact and its group memberships.
	CreateContact(ctx context.Context, c *domain.Contact) error

	// UpdateContact applies the non-nil fields. A status change to
	// UNSUBSCRIBED stamps unsubscribed_at; any other status clears it.
	UpdateContact(ctx context.Context, id string, u UpdateFields) error

	// DeleteContact removes a contact with its memberships and send history.
	DeleteContact(ctx context.Context, id string) error

	// AddContactToGroup is idempotent.
	AddContactToGroup(ctx context.Context, contactID, groupID string) error

	// RemoveContactsFromGroup returns how many memberships were removed.
	RemoveContactsFromGroup(ctx context.Context, contactIDs []string, groupID string) (int, error)

	// SetContactValidation records a validation result on the contact.
	SetContactValidation(ctx context.Context, id string, v Validation) error
}

// ListFilter controls pagination and filtering for contact lists. Search
// matches email, first or last name case-insensitively.
type ListFilter struct {
	Status  string
	GroupID string
	Search  string
	Limit   int
	Offset  int
}

// UpdateFields holds the mutable fields for a contact update.
// Nil fields are not applied. GroupIDs replaces the full membership.
type UpdateFields struct {
	Email     *string               `json:"email"`
	FirstName *string               `json:"firstName"`
	LastName  *string               `json:"lastName"`
	Status    *domain.ContactStatus `json:"status"`
	Fields    *map[string]any       `json:"customFields"`
	GroupIDs  *[]string             `json:"groupIds"`
}

func (u UpdateFields) empty() bool {
	return u.Email == nil && u.FirstName == nil && u.LastName == nil &&
		u.Status == nil && u.Fields == nil && u.GroupIDs == nil
}
