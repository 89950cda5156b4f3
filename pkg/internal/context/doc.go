// Package context provides internal context helpers for request dispatch.
//
// This package is internal and should not be imported directly.
// It provides context value types for:
//   - Delivery context: the message being handled and the worker handling it
//   - Job context: the job whose request is being sent
package context
