// Package campaign implements campaign lifecycle management.
//
// The service layer owns creation, editing, scheduling, cancellation and
// operator overrides. Delivery itself lives in service/sending. It depends
// on the repository interface defined in this package and never on HTTP.
//
// Repository implementations live in repository/postgres/ and repository/memory/.
package campaign
