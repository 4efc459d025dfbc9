// Package tracking serves the recipient-facing endpoints embedded in
// campaign email (open pixel, click redirect, unsubscribe) and the SES
// feedback webhook, and moves the resulting events into storage either
// directly or through an SQS queue.
package tracking
