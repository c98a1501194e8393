package normalize

import "errors"

// Domain errors for the normalize package.
var (
	// ErrInvalidValue is returned when a command value cannot be encoded for
	// the field, e.g. an unknown enum label or a string for a numeric field.
	ErrInvalidValue = errors.New("normalize: invalid value")
)
