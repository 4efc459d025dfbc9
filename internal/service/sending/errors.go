package sending

import (
	"errors"
	"fmt"
)

// Sentinel errors for the send pipeline.
var (
	ErrNotFound     = errors.New("campaign not found")
	ErrInvalidState = errors.New("campaign cannot be sent in its current state")
	ErrNoContent    = fmt.Errorf("campaign has no content: %w", ErrInvalidState)
	ErrBusy         = errors.New("campaign is being sent by another request")
	ErrPersistence  = errors.New("send aborted")
)

// TransportError is a delivery failure reported by the email provider. It
// only ever fails the single recipient it belongs to.
type TransportError struct {
	Provider string
	Err      error
}

func (e *TransportError) Error() string {
	if e.Provider == "" {
		return e.Err.Error()
	}
	return e.Provider + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }
