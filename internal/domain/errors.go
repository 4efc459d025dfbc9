package domain

import "errors"

// ErrNotFound is returned by repositories when a row does not exist.
// Services translate it into their own sentinel.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write would break a uniqueness rule, such
// as a second contact with the same email.
var ErrConflict = errors.New("conflict")

// ErrUnknownReference is returned when a write names a row that does not
// exist, such as a contact group.
var ErrUnknownReference = errors.New("unknown reference")
