package device

import "errors"

// Domain errors for the device package.
var (
	// ErrProbeFailed is returned when no generation could read the
	// device's status.
	ErrProbeFailed = errors.New("device: no generation answered the probe")

	// ErrInvalidEndpoint is returned for endpoints without a host or with
	// an unknown generation.
	ErrInvalidEndpoint = errors.New("device: invalid endpoint")
)
