package profile

import "errors"

// Domain errors for the profile package.
var (
	// ErrUnknownModel is returned when no profile matches a model identifier.
	// Callers fall back to Minimal for the device's generation.
	ErrUnknownModel = errors.New("profile: unknown model")

	// ErrUnknownGeneration is returned when a generation tag is not recognised.
	ErrUnknownGeneration = errors.New("profile: unknown generation")

	// ErrInvalidProfile is returned when a profile definition fails validation.
	ErrInvalidProfile = errors.New("profile: invalid profile")
)
