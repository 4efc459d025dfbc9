// Package suppression applies recipient feedback to contacts and sends.
//
// Feedback flows in from two places: unsubscribe links clicked by the
// recipient, and SES bounce/complaint/delivery notifications relayed over
// SNS. Either way the outcome is the same kind of write: an event on the
// affected send records and, where the feedback demands it, a contact
// status change that removes the address from future sends.
//
// The service layer depends only on the Repository and EventRecorder
// interfaces defined in repository.go. It never imports net/http or
// database/sql directly.
package suppression
