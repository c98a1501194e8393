package coordinator

import "errors"

// Domain errors for the coordinator package.
var (
	// ErrAlreadyRunning is returned when starting an endpoint ID that is
	// already polled.
	ErrAlreadyRunning = errors.New("coordinator: endpoint already running")

	// ErrNotFound is returned for an unknown endpoint ID.
	ErrNotFound = errors.New("coordinator: endpoint not found")

	// ErrStopped is returned when using a stopped poller.
	ErrStopped = errors.New("coordinator: poller stopped")

	// ErrInvalidConfig is returned for endpoint configs missing an ID or
	// host.
	ErrInvalidConfig = errors.New("coordinator: invalid endpoint config")
)
