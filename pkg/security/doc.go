// Package security provides validation, sanitization, and limits for the later package.
//
// This package includes:
//   - Queue name validation
//   - Target URL, method and body checks applied before a request is stored
//   - Error message sanitization for logs and events
//   - Clamping functions for concurrency and delivery limits
//
// Most users should import the root package github.com/jdziat/simple-delayed-requests
// which re-exports these functions.
package security
