package history

import "errors"

var (
	// ErrDeviceIDRequired is returned when a device ID is empty.
	ErrDeviceIDRequired = errors.New("history: device id is required")

	// ErrNotFound is returned when no status is stored for a device.
	ErrNotFound = errors.New("history: not found")

	// ErrInvalidRetention is returned for a non-positive prune window.
	ErrInvalidRetention = errors.New("history: retention must be positive")
)
