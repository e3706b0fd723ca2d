package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady is returned when an operation requires a Ready session.
	ErrNotReady = errors.New("client is not ready, scan the QR code first")

	// ErrInitInFlight is returned when an init is requested while a previous
	// init has not yet resolved.
	ErrInitInFlight = errors.New("initialization already in progress")

	// ErrNoDriver is returned when the driver handle is gone, e.g. a
	// teardown completed while a broadcast was still iterating.
	ErrNoDriver = errors.New("no live driver instance")

	// ErrAlreadyReady signals that an init command was a no-op because the
	// session is already serving.
	ErrAlreadyReady = errors.New("client is already active")
)

// ValidationError reports the specific constraint a broadcast request
// violated. It is always surfaced to the requesting operator, never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid broadcast request: %s", e.Reason)
}

// DestinationFetchError wraps a driver failure while resolving the live
// destination set. It aborts the whole dispatch.
type DestinationFetchError struct {
	Err error
}

func (e *DestinationFetchError) Error() string {
	return fmt.Sprintf("failed to fetch destinations: %v", e.Err)
}

func (e *DestinationFetchError) Unwrap() error { return e.Err }
