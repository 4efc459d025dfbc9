package domain

import "time"

// ContactStatus enumerates the subscription states of a contact.
type ContactStatus string

const (
	ContactSubscribed   ContactStatus = "SUBSCRIBED"
	ContactUnsubscribed ContactStatus = "UNSUBSCRIBED"
	ContactBounced      ContactStatus = "BOUNCED"
)

// ValidationStatus is the outcome of deliverability validation.
type ValidationStatus string

const (
	ValidationValid        ValidationStatus = "VALID"
	ValidationInvalid      ValidationStatus = "INVALID"
	ValidationCatchAll     ValidationStatus = "CATCH_ALL"
	ValidationUnknown      ValidationStatus = "UNKNOWN"
	ValidationNotValidated ValidationStatus = "NOT_VALIDATED"
)

// Sendable reports whether mail may be attempted. Only a confirmed INVALID
// result blocks sending.
func (v ValidationStatus) Sendable() bool {
	return v != ValidationInvalid
}

// Contact is an addressable recipient.
type Contact struct {
	ID               string           `json:"id" db:"id"`
	Email            string           `json:"email" db:"email"`
	FirstName        string           `json:"firstName" db:"first_name"`
	LastName         string           `json:"lastName" db:"last_name"`
	Status           ContactStatus    `json:"status" db:"status"`
	ValidationStatus ValidationStatus `json:"validationStatus" db:"validation_status"`
	GroupIDs         []string         `json:"groupIds" db:"-"`
	Fields           map[string]any   `json:"customFields" db:"custom_fields"`

	ValidatedAt        *time.Time     `json:"validatedAt" db:"validated_at"`
	ValidationScore    *int           `json:"validationScore" db:"validation_score"`
	ValidationMetadata map[string]any `json:"validationMetadata,omitempty" db:"validation_metadata"`

	UnsubscribedAt *time.Time `json:"unsubscribedAt" db:"unsubscribed_at"`
	CreatedAt      time.Time  `json:"createdAt" db:"created_at"`
}

// Valid reports whether s is a known contact status.
func (s ContactStatus) Valid() bool {
	switch s {
	case ContactSubscribed, ContactUnsubscribed, ContactBounced:
		return true
	}
	return false
}

// Eligible reports whether the contact may receive a campaign at all.
func (c *Contact) Eligible() bool {
	return c.Status == ContactSubscribed && c.ValidationStatus.Sendable()
}

// InGroups reports whether the contact belongs to any of the given groups.
// An empty group list matches everyone.
func (c *Contact) InGroups(groupIDs []string) bool {
	if len(groupIDs) == 0 {
		return true
	}
	for _, want := range groupIDs {
		for _, have := range c.GroupIDs {
			if want == have {
				return true
			}
		}
	}
	return false
}
