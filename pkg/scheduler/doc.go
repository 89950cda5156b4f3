// Package scheduler provides the Scheduler type, the public face of the
// delayed request system.
//
// This package includes:
//   - Scheduler: schedules, lists and cancels jobs
//   - Option: per-call options such as the target queue
//   - SchedulerOption: construction options (logger, sender, limits)
//   - Event subscription for monitoring
//
// Most users should import the root package github.com/jdziat/simple-delayed-requests
// which re-exports Scheduler and all option functions.
package scheduler
