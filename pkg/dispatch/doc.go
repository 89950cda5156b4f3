// Package dispatch turns delivered triggers into outbound HTTP requests.
//
// The Listener is the handler for the delayed-message channel. For each
// trigger it checks that the job still exists, sends the stored request
// once, and retires the record with a versionstamp-guarded delete. A
// trigger whose job is gone is a no-op, which makes redelivery harmless
// except in the short window between sending and retiring.
//
// Send failures and error statuses are logged, never retried.
package dispatch
