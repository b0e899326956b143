package domain

import "errors"

// Domain errors represent error conditions in the driftlab domain.
// These errors are returned by the public API and can be checked with errors.Is.
var (
	// ErrAlreadyRunning is returned when Run() is called on a lab that is running.
	ErrAlreadyRunning = errors.New("driftlab: already running")

	// ErrNotRunning is returned when Stop() is called on a stopped instance.
	ErrNotRunning = errors.New("driftlab: not running")

	// ErrShutdownTimeout is returned when graceful shutdown times out.
	ErrShutdownTimeout = errors.New("driftlab: shutdown timeout")

	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("driftlab: invalid configuration")

	// ErrContextCanceled is returned when a run is cut short by context cancellation.
	ErrContextCanceled = errors.New("driftlab: context canceled")

	// ErrDelivery is returned by a transport when a single send attempt fails.
	// Delivery errors are retryable at the process loop boundary.
	ErrDelivery = errors.New("driftlab: message delivery failed")

	// ErrCommunication is returned when delivery retries are exhausted.
	// It fails the process and, with it, the whole run; messages are never
	// dropped silently because a lost message would corrupt the causal order.
	ErrCommunication = errors.New("driftlab: process communication failure")

	// ErrInvariant is returned when the logical clock would exceed MaxLogicalClock.
	ErrInvariant = errors.New("driftlab: logical clock invariant violated")

	// ErrRunNotFound is returned when a run id does not exist in the store.
	ErrRunNotFound = errors.New("driftlab: run not found")
)
