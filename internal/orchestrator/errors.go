package orchestrator

import "errors"

// Orchestration errors. Conflict errors are rejected synchronously
// with no state mutation.
var (
	ErrJobNotFound     = errors.New("provisioning job not found")
	ErrUpgradeNotFound = errors.New("firmware upgrade not found")

	// ErrDeviceBusy means another job or upgrade already occupies the
	// device. At most one active operation per device is allowed.
	ErrDeviceBusy = errors.New("device already has an active job or upgrade")

	// ErrNotCancellable means the operation was already dispatched.
	// No cancellation signal is sent to the remote server, so
	// cancellation after dispatch is unsupported.
	ErrNotCancellable = errors.New("operation is no longer cancellable")

	ErrQueueFull = errors.New("work queue is full")
)
