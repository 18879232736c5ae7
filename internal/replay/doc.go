// Package replay keeps the results of completed write requests for a short
// window so that a retried request with the same request id is answered
// from memory instead of being applied again.
package replay
