package core

import (
	"errors"
	"fmt"
	"time"
)

// Request and validation errors
var (
	ErrInvalidRequest   = errors.New("later: invalid request")
	ErrInvalidQueueName = errors.New("later: invalid queue name")
	ErrQueueNameTooLong = errors.New("later: queue name too long")
	ErrRequestTooLarge  = errors.New("later: request body exceeds size limit")
)

// Storage and coordination errors
var (
	ErrContention         = errors.New("later: id allocation gave up after repeated conflicts")
	ErrStorageUnavailable = errors.New("later: storage unavailable")
	ErrMessageNotOwned    = errors.New("later: message lease not held by this worker")
	ErrInvalidKey         = errors.New("later: malformed key")
)

// StorageError wraps a backend failure so callers can match ErrStorageUnavailable
// while still reaching the driver error.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("later: storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error {
	return []error{ErrStorageUnavailable, e.Err}
}

// StorageFailure wraps err as a StorageError. A nil err stays nil.
func StorageFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// NoRetryError indicates a delivery failure that should not be redelivered.
type NoRetryError struct {
	Err error
}

func (e *NoRetryError) Error() string {
	return fmt.Sprintf("no retry: %v", e.Err)
}

func (e *NoRetryError) Unwrap() error {
	return e.Err
}

// NoRetry wraps an error to indicate the message should be dropped.
func NoRetry(err error) error {
	return &NoRetryError{Err: err}
}

// RetryAfterError asks the delivery loop to redeliver after a fixed delay.
type RetryAfterError struct {
	Err   error
	Delay time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("retry after %v: %v", e.Delay, e.Err)
}

func (e *RetryAfterError) Unwrap() error {
	return e.Err
}

// RetryAfter wraps an error to indicate it should be redelivered after d.
func RetryAfter(d time.Duration, err error) error {
	return &RetryAfterError{Err: err, Delay: d}
}
