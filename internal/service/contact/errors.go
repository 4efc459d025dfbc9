package contact

import "errors"

// Sentinel errors for the contact service layer.
var (
	ErrNotFound   = errors.New("contact not found")
	ErrValidation = errors.New("invalid contact")
	ErrDuplicate  = errors.New("contact already exists")
)
