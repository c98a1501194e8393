package codec

import "errors"

// Domain errors for the codec package.
var (
	// ErrMalformedPayload is returned when a payload is structurally invalid
	// for its generation. It indicates a firmware mismatch, not a transient
	// fault, and is not retried.
	ErrMalformedPayload = errors.New("codec: malformed payload")

	// ErrUnsupportedCapability is returned when a command names a field the
	// device profile does not allow to be written.
	ErrUnsupportedCapability = errors.New("codec: unsupported capability")
)
