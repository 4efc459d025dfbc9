// Package content turns a campaign template and one contact into the HTML
// that is actually delivered: merge tags, open pixel, click redirects and
// the unsubscribe footer. Nothing here does I/O and nothing here fails;
// malformed markup degrades to a best-effort append.
package content
