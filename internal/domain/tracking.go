package domain

import "time"

// EventType enumerates per-send lifecycle and engagement events.
type EventType string

const (
	EventSent         EventType = "SENT"
	EventDelivered    EventType = "DELIVERED"
	EventOpened       EventType = "OPENED"
	EventClicked      EventType = "CLICKED"
	EventBounced      EventType = "BOUNCED"
	EventComplained   EventType = "COMPLAINED"
	EventUnsubscribed EventType = "UNSUBSCRIBED"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventSent, EventDelivered, EventOpened, EventClicked,
		EventBounced, EventComplained, EventUnsubscribed:
		return true
	}
	return false
}

// Event is one row of the per-send event log.
type Event struct {
	ID        string         `json:"id"`
	SendID    string         `json:"sendId"`
	ContactID string         `json:"contactId"`
	Type      EventType      `json:"type"`
	URL       string         `json:"url,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}
