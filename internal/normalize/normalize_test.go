package normalize

import (
	"errors"
	"reflect"
	"testing"

	"github.com/nerrad567/purifier-bridge/internal/codec"
	"github.com/nerrad567/purifier-bridge/internal/profile"
)

func builtin(t *testing.T, model string) *profile.DeviceProfile {
	t.Helper()
	reg, err := profile.LoadBuiltin()
	if err != nil {
		t.Fatalf("LoadBuiltin() error = %v", err)
	}
	p, err := reg.ProfileFor(model)
	if err != nil {
		t.Fatalf("ProfileFor(%q) error = %v", model, err)
	}
	return p
}

func TestNormalizeLegacyScenario(t *testing.T) {
	p := builtin(t, "AC2729/10")
	m, err := codec.Decode([]byte("speed=2;pm25=34"), profile.GenerationLegacy)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	got, dropped, err := Normalize(m, p)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	want := Status{"fan_speed": int64(2), "pm25": int64(34)}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Normalize() = %v, want %v", got, want)
	}
	if len(dropped) != 0 {
		t.Errorf("dropped = %v, want none", dropped)
	}
}

func TestNormalizeDropsUnknownKeys(t *testing.T) {
	p := builtin(t, "AC2729/10")
	m := codec.StatusMap{
		"pwr":      int64(1),
		"mode":     "A",
		"pm25":     int64(12),
		"ddp":      "1",
		"fw_extra": int64(99),
	}

	got, dropped, err := Normalize(m, p)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	want := Status{"power": true, "mode": "allergen", "pm25": int64(12)}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Normalize() = %v, want %v", got, want)
	}
	if !reflect.DeepEqual(dropped, []string{"ddp", "fw_extra"}) {
		t.Errorf("dropped = %v", dropped)
	}
	if _, ok := got["pwr"]; ok {
		t.Error("status contains protocol key pwr")
	}
}

func TestNormalizeRules(t *testing.T) {
	tests := []struct {
		name  string
		model string
		raw   codec.StatusMap
		want  Status
	}{
		{
			name:  "encrypted switch and enum strings",
			model: "AC3737/10",
			raw:   codec.StatusMap{"D03-02": "ON", "D03-12": "Turbo", "D03-03": true, "D03-33": int64(7)},
			want:  Status{"power": true, "mode": "turbo", "child_lock": true, "pm25": int64(7)},
		},
		{
			name:  "v2 numeric enum and bit",
			model: "AC0950/10",
			raw:   codec.StatusMap{"D03102": int64(0), "D0310C": int64(17), "D03240": int64(8)},
			want:  Status{"power": false, "mode": "sleep", "filter_warning": true},
		},
		{
			name:  "bit clear",
			model: "AC0950/10",
			raw:   codec.StatusMap{"D03240": int64(4)},
			want:  Status{"filter_warning": false},
		},
		{
			name:  "unknown enum code passes through",
			model: "AC0950/10",
			raw:   codec.StatusMap{"D0310C": int64(42)},
			want:  Status{"mode": "42"},
		},
		{
			name:  "numeric string parses",
			model: "AC2729/10",
			raw:   codec.StatusMap{"pm25": "15", "temp": "21.5"},
			want:  Status{"pm25": int64(15), "temperature": 21.5},
		},
		{
			name:  "identity text fields",
			model: "AC2729/10",
			raw:   codec.StatusMap{"name": "Bedroom", "modelid": "AC2729/10"},
			want:  Status{"name": "Bedroom", "model_id": "AC2729/10"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _, err := Normalize(tt.raw, builtin(t, tt.model))
			if err != nil {
				t.Fatalf("Normalize() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Normalize() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestNormalizeMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  codec.StatusMap
	}{
		{"text in numeric field", codec.StatusMap{"pm25": "lots"}},
		{"bool in numeric field", codec.StatusMap{"speed": true}},
		{"switch value outside on/off", codec.StatusMap{"pwr": int64(5)}},
		{"float in bit field", codec.StatusMap{"errflags": 2.5}},
	}
	p := builtin(t, "AC3033/10")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, dropped, err := Normalize(tt.raw, p)
			if !errors.Is(err, codec.ErrMalformedPayload) {
				t.Fatalf("error = %v, want ErrMalformedPayload", err)
			}
			if got != nil || dropped != nil {
				t.Errorf("partial result returned: %v %v", got, dropped)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		model string
		raw   codec.StatusMap
	}{
		{"AC2729/10", codec.StatusMap{"pwr": int64(1), "mode": "M", "speed": int64(3), "cl": int64(0), "uil": int64(1), "rhset": int64(50)}},
		{"AC3737/10", codec.StatusMap{"D03-02": "OFF", "D03-12": "Manual", "D03-13": int64(2), "D03-03": false, "D03-128": int64(45)}},
		{"AC0950/10", codec.StatusMap{"D03102": int64(1), "D0310C": int64(18), "D0310D": int64(4), "D03103": int64(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			p := builtin(t, tt.model)
			status, _, err := Normalize(tt.raw, p)
			if err != nil {
				t.Fatalf("Normalize() error = %v", err)
			}
			for field, value := range status {
				if !p.HasCapability(field) {
					continue
				}
				key, raw, err := Denormalize(field, value, p)
				if err != nil {
					t.Fatalf("Denormalize(%s) error = %v", field, err)
				}
				orig, ok := tt.raw[key]
				if !ok {
					t.Fatalf("Denormalize(%s) key = %q, not in source map", field, key)
				}
				if profile.Canonical(raw) != profile.Canonical(orig) {
					t.Errorf("%s: raw = %v, want %v", field, raw, orig)
				}
			}
		})
	}
}

func TestDenormalize(t *testing.T) {
	p := builtin(t, "AC3033/10")
	tests := []struct {
		name    string
		field   string
		value   any
		wantKey string
		wantRaw any
		wantErr error
	}{
		{"label", "mode", "turbo", "mode", "T", nil},
		{"raw code", "mode", "AG", "mode", "AG", nil},
		{"float speed from json", "fan_speed", 3.0, "speed", int64(3), nil},
		{"switch bool", "power", false, "pwr", int64(0), nil},
		{"switch word", "child_lock", "on", "cl", int64(1), nil},
		{"switch raw", "display_light", 1, "uil", int64(1), nil},
		{"read-only field", "pm25", 10, "", nil, codec.ErrUnsupportedCapability},
		{"bit field", "filter_warning", true, "", nil, codec.ErrUnsupportedCapability},
		{"unknown field", "ionizer", true, "", nil, codec.ErrUnsupportedCapability},
		{"unknown label", "mode", "allergen", "", nil, ErrInvalidValue},
		{"bool for number", "fan_speed", true, "", nil, ErrInvalidValue},
		{"garbage switch", "power", "maybe", "", nil, ErrInvalidValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, raw, err := Denormalize(tt.field, tt.value, p)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("error = %v", err)
			}
			if key != tt.wantKey || !reflect.DeepEqual(raw, tt.wantRaw) {
				t.Errorf("Denormalize() = %q %#v, want %q %#v", key, raw, tt.wantKey, tt.wantRaw)
			}
		})
	}
}

func TestStatusDiff(t *testing.T) {
	prev := Status{"power": true, "pm25": int64(10), "mode": "auto"}
	next := Status{"power": true, "pm25": int64(12), "fan_speed": int64(2)}

	if got := next.Diff(prev); !reflect.DeepEqual(got, []string{"fan_speed", "mode", "pm25"}) {
		t.Errorf("Diff() = %v", got)
	}
	if got := next.Diff(next.Clone()); len(got) != 0 {
		t.Errorf("Diff(self) = %v, want empty", got)
	}
	if got := next.Diff(nil); !reflect.DeepEqual(got, []string{"fan_speed", "pm25", "power"}) {
		t.Errorf("Diff(nil) = %v", got)
	}
}

func TestFilters(t *testing.T) {
	s := Status{
		"filter_hepa_remaining":   int64(300),
		"filter_hepa_total":       int64(4800),
		"filter_pre_remaining":    int64(700),
		"filter_pre_total":        int64(720),
		"filter_carbon_remaining": int64(48),
		"pm25":                    int64(3),
	}

	levels := Filters(s, DefaultFilterThreshold)
	if len(levels) != 3 {
		t.Fatalf("Filters() returned %d levels, want 3", len(levels))
	}
	byName := make(map[string]FilterLevel)
	for _, l := range levels {
		byName[l.Name] = l
	}
	if l := byName["hepa"]; l.Percent != 6 || !l.Low {
		t.Errorf("hepa = %+v, want 6%% low", l)
	}
	if l := byName["pre"]; l.Percent != 97 || l.Low {
		t.Errorf("pre = %+v, want 97%% ok", l)
	}
	if l := byName["carbon"]; l.Percent != -1 || !l.Low {
		t.Errorf("carbon = %+v, want hours-based low", l)
	}

	if got := LowFilters(s, DefaultFilterThreshold); !reflect.DeepEqual(got, []string{"carbon", "hepa"}) {
		t.Errorf("LowFilters() = %v", got)
	}
}
