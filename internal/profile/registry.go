package profile

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed profiles.yaml
var builtinProfiles []byte

// modelIDLength is the number of characters of a reported model ID that
// identify the model (e.g. "AC3033/10" from "AC3033/10 rev B").
const modelIDLength = 9

// profileFile is the on-disk layout of a profiles YAML document.
type profileFile struct {
	Profiles []*DeviceProfile `yaml:"profiles"`
}

// Registry resolves model identifiers to DeviceProfiles.
type Registry struct {
	profiles []*DeviceProfile
	byModel  map[string]*DeviceProfile
	byFamily map[string]*DeviceProfile
}

// NewRegistry validates the given profiles and indexes them by model.
//
// Later profiles replace earlier ones with the same Name, which is how an
// operator file overrides built-ins.
func NewRegistry(profiles ...*DeviceProfile) (*Registry, error) {
	byName := make(map[string]int, len(profiles))
	ordered := make([]*DeviceProfile, 0, len(profiles))
	for _, p := range profiles {
		if p == nil {
			continue
		}
		if i, ok := byName[p.Name]; ok {
			ordered[i] = p
			continue
		}
		byName[p.Name] = len(ordered)
		ordered = append(ordered, p)
	}

	r := &Registry{
		profiles: ordered,
		byModel:  make(map[string]*DeviceProfile),
		byFamily: make(map[string]*DeviceProfile),
	}
	for _, p := range ordered {
		if err := p.compile(); err != nil {
			return nil, err
		}
		for _, m := range p.Models {
			key := NormaliseModel(m)
			if other, dup := r.byModel[key]; dup && other != p {
				return nil, fmt.Errorf("%w: model %q claimed by %s and %s", ErrInvalidProfile, m, other.Name, p.Name)
			}
			r.byModel[key] = p
			if _, taken := r.byFamily[modelFamily(key)]; !taken {
				r.byFamily[modelFamily(key)] = p
			}
		}
	}
	return r, nil
}

// Parse decodes a profiles YAML document without validating it.
func Parse(data []byte) ([]*DeviceProfile, error) {
	var f profileFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: parsing profiles: %w", ErrInvalidProfile, err)
	}
	return f.Profiles, nil
}

// LoadBuiltin returns a Registry holding only the embedded profiles.
func LoadBuiltin() (*Registry, error) {
	return Load("")
}

// Load returns a Registry of the embedded profiles overlaid with the
// profiles in path. An empty path loads the built-ins only.
func Load(path string) (*Registry, error) {
	profiles, err := Parse(builtinProfiles)
	if err != nil {
		return nil, fmt.Errorf("builtin profiles: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading profiles file: %w", err)
		}
		extra, err := Parse(data)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, extra...)
	}

	return NewRegistry(profiles...)
}

// ProfileFor returns the profile for a model identifier.
//
// The identifier is matched exactly (after normalisation) and then by its
// family prefix before "/". A family belongs to the first profile listing
// one of its models. Returns ErrUnknownModel if neither matches.
func (r *Registry) ProfileFor(model string) (*DeviceProfile, error) {
	key := NormaliseModel(model)
	if key == "" {
		return nil, fmt.Errorf("%w: empty model identifier", ErrUnknownModel)
	}
	if p, ok := r.byModel[key]; ok {
		return p, nil
	}
	if p, ok := r.byFamily[modelFamily(key)]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownModel, model)
}

// Profiles returns all registered profiles sorted by name.
func (r *Registry) Profiles() []*DeviceProfile {
	out := make([]*DeviceProfile, len(r.profiles))
	copy(out, r.profiles)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Minimal returns the unknown-device profile for a generation: identity
// fields only and an empty capability set.
func Minimal(gen Generation) *DeviceProfile {
	if !gen.Valid() {
		gen = GenerationLegacy
	}
	p := &DeviceProfile{
		Name:       "minimal-" + string(gen),
		Generation: gen,
	}
	// Identity fields are generated, compile cannot fail.
	_ = p.compile() //nolint:errcheck
	return p
}

// modelFamily returns the part of a normalised model ID before "/".
func modelFamily(key string) string {
	family, _, _ := strings.Cut(key, "/")
	return family
}

// NormaliseModel trims, upper-cases and truncates a reported model ID.
func NormaliseModel(model string) string {
	m := strings.ToUpper(strings.TrimSpace(model))
	if len(m) > modelIDLength {
		m = m[:modelIDLength]
	}
	return m
}

// modelKeys and nameKeys are tried in generation order.
var (
	modelKeys = []string{"modelid", "D01-05", "D01S05"}
	nameKeys  = []string{"name", "D01-03", "D01S03"}
)

// ExtractModel returns the normalised model ID from a raw status map, or ""
// if none of the known model keys is present.
func ExtractModel(status map[string]any) string {
	for _, k := range modelKeys {
		if s, ok := status[k].(string); ok && s != "" {
			return NormaliseModel(s)
		}
	}
	return ""
}

// ExtractName returns the user-assigned device name from a raw status map.
func ExtractName(status map[string]any) string {
	for _, k := range nameKeys {
		if s, ok := status[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
