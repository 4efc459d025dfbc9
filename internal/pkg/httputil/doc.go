// Package httputil provides the JSON response and request helpers shared by
// every HTTP handler in the service.
//
// Handlers use these instead of raw http.ResponseWriter calls so that error
// envelopes, content types and internal-error logging stay consistent.
package httputil
