// Package core provides the fundamental types and interfaces for the later package.
//
// This package contains:
//   - Job, Request and Trigger data models
//   - Key tuples and their ordered binary encoding
//   - The KV, DelayedQueue and Storage contracts, plus the AtomicOperation builder
//   - Event types for scheduler monitoring
//   - Error types shared by every layer
//
// Most users should import the root package github.com/jdziat/simple-delayed-requests
// instead of this package directly.
package core
