package profile

import (
	"fmt"
	"math"
	"sort"
	"strconv"
)

// FieldKind selects how a raw protocol value decodes to a typed value.
type FieldKind string

// Field decoding rules.
const (
	// KindNumber passes integers through; numeric strings are parsed.
	KindNumber FieldKind = "number"

	// KindEnum maps raw codes to labels through the field's Enum table.
	KindEnum FieldKind = "enum"

	// KindSwitch maps the field's On/Off raw values to true/false.
	KindSwitch FieldKind = "switch"

	// KindBit decodes to true when bit Bit of an integer value is set.
	KindBit FieldKind = "bit"

	// KindText passes the value through as a string.
	KindText FieldKind = "text"
)

// EnumOption pairs a raw protocol code with its semantic label.
type EnumOption struct {
	Raw   any    `yaml:"raw"`
	Label string `yaml:"label"`
}

// Field is one entry of a profile's translation table.
type Field struct {
	// Key is the protocol-native field key (e.g. "pwr", "D03102").
	Key string `yaml:"key"`

	// Name is the stable semantic field name (e.g. "power", "fan_speed").
	Name string `yaml:"name"`

	Kind FieldKind    `yaml:"kind"`
	Enum []EnumOption `yaml:"enum,omitempty"`
	On   any          `yaml:"on,omitempty"`
	Off  any          `yaml:"off,omitempty"`
	Bit  uint         `yaml:"bit,omitempty"`
}

// Numeric reports whether the field's raw value must be an integer.
func (f Field) Numeric() bool {
	return f.Kind == KindNumber || f.Kind == KindBit
}

// DeviceProfile describes one model family.
//
// Profiles are immutable once returned by a Registry; callers must not
// modify the exported slices.
type DeviceProfile struct {
	Name         string     `yaml:"name"`
	Models       []string   `yaml:"models"`
	Generation   Generation `yaml:"generation"`
	Capabilities []string   `yaml:"capabilities"`
	Fields       []Field    `yaml:"fields"`

	byKey  map[string]int
	byName map[string]int
	caps   map[string]struct{}
}

// FieldByKey returns the field translating the given protocol key.
func (p *DeviceProfile) FieldByKey(key string) (Field, bool) {
	i, ok := p.byKey[key]
	if !ok {
		return Field{}, false
	}
	return p.Fields[i], true
}

// FieldByName returns the field with the given semantic name.
func (p *DeviceProfile) FieldByName(name string) (Field, bool) {
	i, ok := p.byName[name]
	if !ok {
		return Field{}, false
	}
	return p.Fields[i], true
}

// HasCapability reports whether the semantic field may be written.
func (p *DeviceProfile) HasCapability(name string) bool {
	_, ok := p.caps[name]
	return ok
}

// CapabilityKeys returns the protocol keys of all writable fields.
func (p *DeviceProfile) CapabilityKeys() map[string]struct{} {
	keys := make(map[string]struct{}, len(p.caps))
	for name := range p.caps {
		if f, ok := p.FieldByName(name); ok {
			keys[f.Key] = struct{}{}
		}
	}
	return keys
}

// NumericKeys returns the protocol keys whose values must be integers.
func (p *DeviceProfile) NumericKeys() map[string]struct{} {
	keys := make(map[string]struct{})
	for _, f := range p.Fields {
		if f.Numeric() {
			keys[f.Key] = struct{}{}
		}
	}
	return keys
}

// SemanticNames returns all semantic field names, sorted.
func (p *DeviceProfile) SemanticNames() []string {
	names := make([]string, 0, len(p.Fields))
	for _, f := range p.Fields {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names
}

// compile composes the generation identity fields, validates the
// translation table and builds the lookup indexes.
func (p *DeviceProfile) compile() error {
	if p.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidProfile)
	}
	if !p.Generation.Valid() {
		return fmt.Errorf("%w: %s: %w: %q", ErrInvalidProfile, p.Name, ErrUnknownGeneration, p.Generation)
	}

	fields := make([]Field, 0, len(p.Fields)+len(identityFields[p.Generation]))
	fields = append(fields, p.Fields...)
	declared := make(map[string]bool, len(p.Fields))
	for _, f := range p.Fields {
		declared[f.Name] = true
		declared["key:"+f.Key] = true
	}
	for _, f := range identityFields[p.Generation] {
		if declared[f.Name] || declared["key:"+f.Key] {
			continue
		}
		fields = append(fields, f)
	}
	p.Fields = fields

	p.byKey = make(map[string]int, len(fields))
	p.byName = make(map[string]int, len(fields))
	for i := range p.Fields {
		f := &p.Fields[i]
		if err := f.normalise(); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidProfile, p.Name, err)
		}
		if _, dup := p.byKey[f.Key]; dup {
			return fmt.Errorf("%w: %s: protocol key %q declared twice", ErrInvalidProfile, p.Name, f.Key)
		}
		if _, dup := p.byName[f.Name]; dup {
			return fmt.Errorf("%w: %s: semantic name %q declared twice", ErrInvalidProfile, p.Name, f.Name)
		}
		p.byKey[f.Key] = i
		p.byName[f.Name] = i
	}

	p.caps = make(map[string]struct{}, len(p.Capabilities))
	for _, c := range p.Capabilities {
		f, ok := p.FieldByName(c)
		if !ok {
			return fmt.Errorf("%w: %s: capability %q has no field", ErrInvalidProfile, p.Name, c)
		}
		if f.Kind == KindBit {
			return fmt.Errorf("%w: %s: capability %q is a read-only bit field", ErrInvalidProfile, p.Name, c)
		}
		p.caps[c] = struct{}{}
	}
	return nil
}

// normalise validates a field rule and converts YAML scalars to the
// raw value types the codecs produce.
func (f *Field) normalise() error {
	if f.Key == "" || f.Name == "" {
		return fmt.Errorf("field key and name are required (key=%q name=%q)", f.Key, f.Name)
	}
	switch f.Kind {
	case "":
		f.Kind = KindNumber
	case KindNumber, KindText:
	case KindEnum:
		if len(f.Enum) == 0 {
			return fmt.Errorf("enum field %q has no options", f.Name)
		}
		labels := make(map[string]bool, len(f.Enum))
		for i := range f.Enum {
			f.Enum[i].Raw = NormaliseRaw(f.Enum[i].Raw)
			if f.Enum[i].Label == "" || labels[f.Enum[i].Label] {
				return fmt.Errorf("enum field %q has empty or duplicate label %q", f.Name, f.Enum[i].Label)
			}
			labels[f.Enum[i].Label] = true
		}
	case KindSwitch:
		if f.On == nil || f.Off == nil {
			return fmt.Errorf("switch field %q needs on and off values", f.Name)
		}
		f.On = NormaliseRaw(f.On)
		f.Off = NormaliseRaw(f.Off)
		if Canonical(f.On) == Canonical(f.Off) {
			return fmt.Errorf("switch field %q has identical on and off values", f.Name)
		}
	case KindBit:
		if f.Bit >= 64 { //nolint:mnd // int64 width
			return fmt.Errorf("bit field %q index %d out of range", f.Name, f.Bit)
		}
	default:
		return fmt.Errorf("field %q has unknown kind %q", f.Name, f.Kind)
	}
	return nil
}

// NormaliseRaw converts integer and float scalars to int64 where the value
// is integral, leaving strings and bools untouched.
func NormaliseRaw(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case uint:
		return int64(n) //nolint:gosec // protocol values fit in int64
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case uint64:
		if n <= math.MaxInt64 {
			return int64(n)
		}
		return float64(n)
	case float32:
		return NormaliseRaw(float64(n))
	case float64:
		if n == math.Trunc(n) && math.Abs(n) < 1<<53 {
			return int64(n)
		}
		return n
	default:
		return v
	}
}

// Canonical renders a raw scalar in a comparable string form so that
// int64(1), "1" and 1.0 are treated as the same protocol value.
func Canonical(v any) string {
	switch n := NormaliseRaw(v).(type) {
	case nil:
		return ""
	case string:
		return n
	case int64:
		return strconv.FormatInt(n, 10)
	case float64:
		return strconv.FormatFloat(n, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(n)
	default:
		return fmt.Sprint(n)
	}
}
