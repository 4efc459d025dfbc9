package domain

import (
	"fmt"
	"time"
)

// SendMode selects how a send pass treats a campaign's delivery history.
type SendMode string

const (
	// ModeFresh starts a first pass with no history filter.
	ModeFresh SendMode = "fresh"
	// ModeResume continues a pass, skipping recipients already sent to.
	ModeResume SendMode = "resume"
	// ModeResendNew re-triggers a sent campaign for recipients with no
	// prior record of any kind.
	ModeResendNew SendMode = "resend_new"
	// ModeResendAll re-triggers a sent campaign for every eligible recipient.
	ModeResendAll SendMode = "resend_all"
)

// Valid reports whether m is a known mode.
func (m SendMode) Valid() bool {
	switch m {
	case ModeFresh, ModeResume, ModeResendNew, ModeResendAll:
		return true
	}
	return false
}

// IsResend reports whether m re-triggers a completed campaign.
func (m SendMode) IsResend() bool {
	return m == ModeResendNew || m == ModeResendAll
}

// ParseSendMode folds the resend/resume flag combination into one mode.
// Resend takes priority over resume; an empty resendMode means "new".
func ParseSendMode(resend bool, resendMode string, resume bool) (SendMode, error) {
	if resend {
		switch resendMode {
		case "", "new":
			return ModeResendNew, nil
		case "all":
			return ModeResendAll, nil
		default:
			return "", fmt.Errorf("unknown resend mode %q", resendMode)
		}
	}
	if resume {
		return ModeResume, nil
	}
	return ModeFresh, nil
}

// SendStatus tracks one delivery attempt. PENDING, SENT and FAILED are set
// by the sender; later values arrive from tracking and provider feedback.
type SendStatus string

const (
	SendPending    SendStatus = "PENDING"
	SendSent       SendStatus = "SENT"
	SendFailed     SendStatus = "FAILED"
	SendDelivered  SendStatus = "DELIVERED"
	SendOpened     SendStatus = "OPENED"
	SendClicked    SendStatus = "CLICKED"
	SendBounced    SendStatus = "BOUNCED"
	SendComplained SendStatus = "COMPLAINED"
)

// Successful reports whether the provider accepted the message.
func (s SendStatus) Successful() bool {
	return s != SendPending && s != SendFailed && s != ""
}

// SuccessfulSendStatuses lists every status counted as a completed send.
var SuccessfulSendStatuses = []SendStatus{
	SendSent, SendDelivered, SendOpened, SendClicked, SendBounced, SendComplained,
}

// SendRecord is the audit row for one (campaign, contact) delivery attempt.
type SendRecord struct {
	ID         string     `json:"id" db:"id"`
	CampaignID string     `json:"campaignId" db:"campaign_id"`
	ContactID  string     `json:"contactId" db:"contact_id"`
	Status     SendStatus `json:"status" db:"status"`
	MessageID  string     `json:"messageId,omitempty" db:"message_id"`
	Error      string     `json:"error,omitempty" db:"error"`
	SentAt     *time.Time `json:"sentAt" db:"sent_at"`
	OpenedAt   *time.Time `json:"openedAt" db:"opened_at"`
	ClickedAt  *time.Time `json:"clickedAt" db:"clicked_at"`
	CreatedAt  time.Time  `json:"createdAt" db:"created_at"`
}

// ApplyEvent advances a record for a tracking or provider event. Opens and
// clicks never regress a later state, the first occurrence sets the
// matching timestamp, and bounces and complaints always win.
func ApplyEvent(r *SendRecord, t EventType, at time.Time) {
	switch t {
	case EventDelivered:
		if r.Status == SendSent {
			r.Status = SendDelivered
		}
	case EventOpened:
		if r.OpenedAt == nil {
			ts := at
			r.OpenedAt = &ts
		}
		if r.Status == SendSent || r.Status == SendDelivered {
			r.Status = SendOpened
		}
	case EventClicked:
		if r.ClickedAt == nil {
			ts := at
			r.ClickedAt = &ts
		}
		if r.Status == SendSent || r.Status == SendDelivered || r.Status == SendOpened {
			r.Status = SendClicked
		}
	case EventBounced:
		r.Status = SendBounced
	case EventComplained:
		r.Status = SendComplained
	}
}
