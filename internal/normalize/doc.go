// Package normalize translates raw device status maps into stable,
// generation-independent records and back.
//
// Normalize applies a profile.DeviceProfile to a codec.StatusMap: each known
// protocol key is renamed to its semantic field name and its value decoded by
// the field's rule. Unknown keys are dropped and returned to the caller for
// logging, so firmware that reports extra fields stays usable. Denormalize is
// the inverse for a single writable field and is used to build commands.
package normalize
