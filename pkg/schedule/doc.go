// Package schedule turns user-supplied time strings into instants.
//
// This package includes:
//   - Parse for absolute fire times (RFC 3339, HTTP-date, unix milliseconds,
//     relative "+duration", and free-form dates understood by jinzhu/now)
//   - Cron for housekeeping schedules such as the expiry sweeper
//
// Most users should import the root package github.com/jdziat/simple-delayed-requests
// which re-exports these functions.
package schedule
