// Package contact implements contact management: CRUD, group membership,
// bulk actions and deliverability validation.
//
// Validation writes the validation_status the send pipeline reads to skip
// INVALID addresses. Validators are pluggable; the default chain checks
// syntax and DNS locally and falls back to ZeroBounce when a key is
// configured.
//
// Repository implementations live in repository/postgres/ and repository/memory/.
package contact
