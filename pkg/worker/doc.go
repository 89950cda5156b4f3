// Package worker provides the delivery loop for the delayed-message channel.
//
// This package includes:
//   - Worker: leases ready messages and hands their payloads to a Handler
//   - WorkerOption: concurrency, polling, lease and redelivery settings
//   - An expiry sweeper driven by a cron schedule
//   - Retry with backoff for storage calls
//
// Delivery is at least once: a handler error, a panic, or a lost lease makes
// the message visible again. Handlers must tolerate duplicates.
//
// Most users should import the root package github.com/jdziat/simple-delayed-requests
// which wires the dispatch listener in as the handler.
package worker
