package domain

import (
	"strings"
	"time"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "DRAFT"
	CampaignScheduled CampaignStatus = "SCHEDULED"
	CampaignSending   CampaignStatus = "SENDING"
	CampaignSent      CampaignStatus = "SENT"
	CampaignCancelled CampaignStatus = "CANCELLED"
)

// Valid reports whether s is a known campaign status.
func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignDraft, CampaignScheduled, CampaignSending, CampaignSent, CampaignCancelled:
		return true
	}
	return false
}

// transitions lists the regular (non-operator) lifecycle moves.
var transitions = map[CampaignStatus][]CampaignStatus{
	CampaignDraft:     {CampaignScheduled, CampaignSending, CampaignCancelled},
	CampaignScheduled: {CampaignDraft, CampaignSending, CampaignCancelled},
	CampaignSending:   {CampaignSent, CampaignDraft},
	CampaignSent:      {CampaignSending},
}

// CanTransition reports whether a campaign may move from one status to
// another during normal operation. Operator overrides use CanForce.
func CanTransition(from, to CampaignStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CanForce reports whether an operator may force a campaign into the target
// status. Only DRAFT and SENT are valid override targets and cancelled
// campaigns stay cancelled.
func CanForce(from, to CampaignStatus) bool {
	if from == CampaignCancelled {
		return false
	}
	return to == CampaignDraft || to == CampaignSent
}

// Campaign is a single email broadcast definition.
type Campaign struct {
	ID          string         `json:"id" db:"id"`
	Name        string         `json:"name" db:"name"`
	Subject     string         `json:"subject" db:"subject"`
	HTMLContent string         `json:"htmlContent" db:"html_content"`
	GroupIDs    []string       `json:"groupIds" db:"-"`
	Status      CampaignStatus `json:"status" db:"status"`
	ScheduledAt *time.Time     `json:"scheduledAt" db:"scheduled_at"`

	// SentAt is set by the first send pass and never overwritten by a resend.
	SentAt *time.Time `json:"sentAt" db:"sent_at"`

	// PassMode and PassStartedAt describe the send pass currently (or most
	// recently) in progress.
	PassMode      SendMode   `json:"passMode,omitempty" db:"pass_mode"`
	PassStartedAt *time.Time `json:"passStartedAt,omitempty" db:"pass_started_at"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// HasContent reports whether the campaign has a body that can be sent.
func (c *Campaign) HasContent() bool {
	return strings.TrimSpace(c.HTMLContent) != ""
}

// IsTerminal returns true if the campaign is in a final state.
func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignSent || c.Status == CampaignCancelled
}

// Editable reports whether content and targeting may still change.
func (c *Campaign) Editable() bool {
	return c.Status == CampaignDraft || c.Status == CampaignScheduled
}
