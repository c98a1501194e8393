package codec

import (
	"fmt"
	"sort"

	"github.com/nerrad567/purifier-bridge/internal/profile"
)

// StatusMap maps protocol-native field keys to raw scalar values.
//
// Values are int64, float64, string or bool. A StatusMap lives for one poll
// cycle or one command and is never persisted.
type StatusMap map[string]any

// Keys returns the map's keys in sorted order.
func (m StatusMap) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Codec serializes StatusMaps for one device generation.
type Codec interface {
	// Generation returns the generation this codec speaks.
	Generation() profile.Generation

	// Decode parses a decrypted status payload.
	Decode(plaintext []byte) (StatusMap, error)

	// Encode serializes control fields. Every key must be a writable
	// protocol key of the codec's profile.
	Encode(fields StatusMap) ([]byte, error)

	// HandshakeRequired reports whether a cipher session must exist before
	// payloads can be exchanged.
	HandshakeRequired() bool
}

// Options constrain what a codec accepts.
type Options struct {
	// Numeric holds protocol keys whose values must be numbers.
	Numeric map[string]struct{}

	// Writable holds protocol keys that may appear in an encoded command.
	Writable map[string]struct{}
}

// For returns the codec for a generation.
func For(gen profile.Generation, opts Options) (Codec, error) {
	base := baseCodec{gen: gen, opts: opts}
	switch gen {
	case profile.GenerationLegacy:
		return &legacyCodec{baseCodec: base}, nil
	case profile.GenerationEncrypted:
		return &jsonCodec{baseCodec: base}, nil
	case profile.GenerationEncryptedV2:
		return &cborCodec{baseCodec: base}, nil
	default:
		return nil, fmt.Errorf("codec: %w: %q", profile.ErrUnknownGeneration, gen)
	}
}

// ForProfile returns the codec for a profile's generation, constrained by
// the profile's numeric fields and capability set.
func ForProfile(p *profile.DeviceProfile) (Codec, error) {
	return For(p.Generation, Options{
		Numeric:  p.NumericKeys(),
		Writable: p.CapabilityKeys(),
	})
}

// Decode parses plaintext with the unconstrained codec for gen.
// It is used when no profile is known yet, e.g. while probing a device.
func Decode(plaintext []byte, gen profile.Generation) (StatusMap, error) {
	c, err := For(gen, Options{})
	if err != nil {
		return nil, err
	}
	return c.Decode(plaintext)
}

// baseCodec carries the behaviour shared by all generations.
type baseCodec struct {
	gen  profile.Generation
	opts Options
}

func (b baseCodec) Generation() profile.Generation { return b.gen }

func (b baseCodec) HandshakeRequired() bool { return b.gen.HandshakeRequired() }

// checkValue validates one decoded value and returns it in its normalised
// form. Only scalars are accepted and numeric-only keys must hold numbers.
func (b baseCodec) checkValue(key string, v any) (any, error) {
	v = profile.NormaliseRaw(v)
	switch v.(type) {
	case int64, float64:
		return v, nil
	case string, bool:
		if _, numeric := b.opts.Numeric[key]; numeric {
			return nil, fmt.Errorf("%w: field %q: non-numeric value %v", ErrMalformedPayload, key, v)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("%w: field %q: unsupported value type %T", ErrMalformedPayload, key, v)
	}
}

// checkCommand rejects command fields that are not writable and values
// that cannot be carried on the wire.
func (b baseCodec) checkCommand(fields StatusMap) error {
	if len(fields) == 0 {
		return fmt.Errorf("%w: empty command", ErrUnsupportedCapability)
	}
	for _, k := range fields.Keys() {
		if _, ok := b.opts.Writable[k]; !ok {
			return fmt.Errorf("%w: %q", ErrUnsupportedCapability, k)
		}
		switch profile.NormaliseRaw(fields[k]).(type) {
		case int64, float64, string, bool:
		default:
			return fmt.Errorf("%w: field %q: unsupported value type %T", ErrUnsupportedCapability, k, fields[k])
		}
	}
	return nil
}
