package normalize

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/nerrad567/purifier-bridge/internal/codec"
	"github.com/nerrad567/purifier-bridge/internal/profile"
)

// Status maps semantic field names to typed values.
//
// Values are int64, float64, string or bool. A Status never contains
// protocol-native keys.
type Status map[string]any

// Clone returns a shallow copy.
func (s Status) Clone() Status {
	out := make(Status, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Fields returns the field names in sorted order.
func (s Status) Fields() []string {
	names := make([]string, 0, len(s))
	for k := range s {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Diff returns the sorted names of fields that were added, removed or
// changed relative to prev. A nil prev reports every field.
func (s Status) Diff(prev Status) []string {
	changed := make([]string, 0)
	for k, v := range s {
		old, ok := prev[k]
		if !ok || profile.Canonical(old) != profile.Canonical(v) {
			changed = append(changed, k)
		}
	}
	for k := range prev {
		if _, ok := s[k]; !ok {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return changed
}

// Normalize applies the profile's translation table to a raw status map.
//
// Parameters:
//   - m: Raw status map from the codec
//   - p: Profile of the device that produced m
//
// Returns:
//   - Status: Semantic field names to decoded values
//   - []string: Protocol keys absent from the profile, sorted
//   - error: codec.ErrMalformedPayload if a known key has a value its rule
//     cannot decode; no partial Status is returned
func Normalize(m codec.StatusMap, p *profile.DeviceProfile) (Status, []string, error) {
	out := make(Status, len(m))
	var dropped []string

	for _, key := range m.Keys() {
		f, ok := p.FieldByKey(key)
		if !ok {
			dropped = append(dropped, key)
			continue
		}
		v, err := decodeValue(f, m[key])
		if err != nil {
			return nil, nil, fmt.Errorf("%w: field %s (%s): %w", codec.ErrMalformedPayload, f.Name, key, err)
		}
		out[f.Name] = v
	}
	return out, dropped, nil
}

func decodeValue(f profile.Field, raw any) (any, error) {
	raw = profile.NormaliseRaw(raw)

	switch f.Kind {
	case profile.KindNumber:
		return number(raw)

	case profile.KindEnum:
		c := profile.Canonical(raw)
		for _, opt := range f.Enum {
			if profile.Canonical(opt.Raw) == c {
				return opt.Label, nil
			}
		}
		// Codes newer than the profile surface as their raw form.
		return c, nil

	case profile.KindSwitch:
		switch profile.Canonical(raw) {
		case profile.Canonical(f.On):
			return true, nil
		case profile.Canonical(f.Off):
			return false, nil
		default:
			return nil, fmt.Errorf("value %v is neither on (%v) nor off (%v)", raw, f.On, f.Off)
		}

	case profile.KindBit:
		n, err := number(raw)
		if err != nil {
			return nil, err
		}
		i, ok := n.(int64)
		if !ok {
			return nil, fmt.Errorf("bit field value %v is not an integer", n)
		}
		return i&(1<<f.Bit) != 0, nil

	case profile.KindText:
		if s, ok := raw.(string); ok {
			return s, nil
		}
		if _, ok := raw.(bool); ok {
			return nil, errors.New("text field value is boolean")
		}
		return profile.Canonical(raw), nil

	default:
		return nil, fmt.Errorf("unknown field kind %q", f.Kind)
	}
}

// number accepts integers, floats and numeric strings.
func number(raw any) (any, error) {
	switch v := raw.(type) {
	case int64, float64:
		return v, nil
	case string:
		s := strings.TrimSpace(v)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, nil
		}
		if fl, err := strconv.ParseFloat(s, 64); err == nil {
			return profile.NormaliseRaw(fl), nil
		}
		return nil, fmt.Errorf("value %q is not numeric", v)
	default:
		return nil, fmt.Errorf("value %v (%T) is not numeric", raw, raw)
	}
}

// Denormalize converts one semantic field and value into the protocol key
// and raw value a command carries.
//
// Enum fields accept a label or a known raw code. Switch fields accept a
// bool, their raw on/off value, or one of "on", "off", "true", "false". Numeric fields accept numbers
// and numeric strings.
func Denormalize(field string, value any, p *profile.DeviceProfile) (string, any, error) {
	f, ok := p.FieldByName(field)
	if !ok || !p.HasCapability(field) {
		return "", nil, fmt.Errorf("%w: %s does not support %q", codec.ErrUnsupportedCapability, p.Name, field)
	}

	raw, err := encodeValue(f, profile.NormaliseRaw(value))
	if err != nil {
		return "", nil, fmt.Errorf("%w: %s: %w", ErrInvalidValue, field, err)
	}
	return f.Key, raw, nil
}

func encodeValue(f profile.Field, value any) (any, error) {
	switch f.Kind {
	case profile.KindNumber:
		if _, ok := value.(bool); ok {
			return nil, errors.New("boolean for numeric field")
		}
		return number(value)

	case profile.KindEnum:
		c := profile.Canonical(value)
		for _, opt := range f.Enum {
			if opt.Label == c {
				return opt.Raw, nil
			}
		}
		for _, opt := range f.Enum {
			if profile.Canonical(opt.Raw) == c {
				return opt.Raw, nil
			}
		}
		return nil, fmt.Errorf("unknown option %q", c)

	case profile.KindSwitch:
		switch profile.Canonical(value) {
		case profile.Canonical(f.On):
			return f.On, nil
		case profile.Canonical(f.Off):
			return f.Off, nil
		}
		on, err := switchValue(value)
		if err != nil {
			return nil, err
		}
		if on {
			return f.On, nil
		}
		return f.Off, nil

	case profile.KindText:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", value)
		}
		return s, nil

	default:
		return nil, fmt.Errorf("field kind %q is read-only", f.Kind)
	}
}

func switchValue(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "on", "true":
			return true, nil
		case "off", "false":
			return false, nil
		}
	}
	return false, fmt.Errorf("expected on/off, got %v", v)
}
