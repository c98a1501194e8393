package bridge

import "errors"

// Domain errors for the bridge package.
var (
	// ErrMissingDependency is returned by New when a required option is nil.
	ErrMissingDependency = errors.New("bridge: missing dependency")

	// ErrInvalidCommand is returned for command payloads that cannot be
	// parsed or lack a field.
	ErrInvalidCommand = errors.New("bridge: invalid command")
)
