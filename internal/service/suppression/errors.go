package suppression

import "errors"

// Sentinel errors for the suppression service layer.
var (
	ErrNotFound       = errors.New("contact not found")
	ErrInvalidToken   = errors.New("invalid unsubscribe token")
	ErrUnknownMessage = errors.New("email send not found for message id")
)
