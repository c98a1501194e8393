package codec

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/fxamacker/cbor/v2"

	"github.com/nerrad567/purifier-bridge/internal/profile"
)

func set(keys ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		m[k] = struct{}{}
	}
	return m
}

func mustCodec(t *testing.T, gen profile.Generation, opts Options) Codec {
	t.Helper()
	c, err := For(gen, opts)
	if err != nil {
		t.Fatalf("For(%s) error = %v", gen, err)
	}
	return c
}

func TestLegacyDecode(t *testing.T) {
	c := mustCodec(t, profile.GenerationLegacy, Options{Numeric: set("speed", "pm25")})

	tests := []struct {
		name  string
		input string
		want  StatusMap
	}{
		{
			name:  "plain status",
			input: "speed=2;pm25=34",
			want:  StatusMap{"speed": int64(2), "pm25": int64(34)},
		},
		{
			name:  "trailing separator and spaces",
			input: " pwr=1; mode=P; ",
			want:  StatusMap{"pwr": int64(1), "mode": "P"},
		},
		{
			name:  "quoted value with delimiters",
			input: `name="Living; Room=1";temp=21.5`,
			want:  StatusMap{"name": "Living; Room=1", "temp": 21.5},
		},
		{
			name:  "escaped quote",
			input: `name="say \"hi\""`,
			want:  StatusMap{"name": `say "hi"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Decode([]byte(tt.input))
			if err != nil {
				t.Fatalf("Decode(%q) error = %v", tt.input, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Decode(%q) = %#v, want %#v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLegacyDecode_Malformed(t *testing.T) {
	c := mustCodec(t, profile.GenerationLegacy, Options{Numeric: set("speed")})

	inputs := map[string]string{
		"empty":              "",
		"empty entry":        "speed=2;;pm25=1",
		"missing equals":     "speed",
		"empty key":          "=2",
		"unterminated quote": `name="abc`,
		"duplicate key":      "a=1;a=2",
		"non-numeric speed":  "speed=fast",
		"quoted numeric":     `speed="2"`,
		"unbalanced equals":  "a=b=c",
		"empty value":        "a=;b=1",
		"text after quote":   `name="x"y`,
		"quote in key":       `"a"=1`,
		"dangling escape":    `name="x\`,
	}

	for name, input := range inputs {
		t.Run(name, func(t *testing.T) {
			got, err := c.Decode([]byte(input))
			if !errors.Is(err, ErrMalformedPayload) {
				t.Fatalf("Decode(%q) error = %v, want ErrMalformedPayload", input, err)
			}
			if got != nil {
				t.Errorf("Decode(%q) returned partial map %v", input, got)
			}
		})
	}
}

func TestJSONDecode(t *testing.T) {
	c := mustCodec(t, profile.GenerationEncrypted, Options{Numeric: set("D03-33")})

	got, err := c.Decode([]byte(`{"state":{"reported":{"D03-02":"ON","D03-33":8,"D03-03":false,"temp":21.5}}}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	want := StatusMap{"D03-02": "ON", "D03-33": int64(8), "D03-03": false, "temp": 21.5}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Decode() = %#v, want %#v", got, want)
	}
}

func TestJSONDecode_Malformed(t *testing.T) {
	c := mustCodec(t, profile.GenerationEncrypted, Options{Numeric: set("D03-33")})

	inputs := map[string]string{
		"truncated":        `{"state":{"reported":{"a":1}`,
		"missing reported": `{"state":{}}`,
		"missing state":    `{"reported":{}}`,
		"nested object":    `{"state":{"reported":{"a":{"b":1}}}}`,
		"array value":      `{"state":{"reported":{"a":[1,2]}}}`,
		"null value":       `{"state":{"reported":{"a":null}}}`,
		"string numeric":   `{"state":{"reported":{"D03-33":"8"}}}`,
		"trailing data":    `{"state":{"reported":{}}} {}`,
		"not json":         `pwr=1`,
	}

	for name, input := range inputs {
		t.Run(name, func(t *testing.T) {
			got, err := c.Decode([]byte(input))
			if !errors.Is(err, ErrMalformedPayload) {
				t.Fatalf("Decode(%q) error = %v, want ErrMalformedPayload", input, err)
			}
			if got != nil {
				t.Errorf("Decode(%q) returned partial map %v", input, got)
			}
		})
	}
}

func TestCBORDecode(t *testing.T) {
	c := mustCodec(t, profile.GenerationEncryptedV2, Options{Numeric: set("D03102")})

	data, err := cbor.Marshal([]any{
		[]any{"D03102", 1},
		[]any{"D0310C", 18},
		[]any{"D01S03", "Office"},
		[]any{"neg", -4},
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := c.Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	want := StatusMap{"D03102": int64(1), "D0310C": int64(18), "D01S03": "Office", "neg": int64(-4)}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Decode() = %#v, want %#v", got, want)
	}
}

func TestCBORDecode_Malformed(t *testing.T) {
	c := mustCodec(t, profile.GenerationEncryptedV2, Options{Numeric: set("D03102")})

	mustMarshal := func(v any) []byte {
		data, err := cbor.Marshal(v)
		if err != nil {
			t.Fatal(err)
		}
		return data
	}

	inputs := map[string][]byte{
		"empty":          nil,
		"map not list":   mustMarshal(map[string]int{"D03102": 1}),
		"null":           {0xf6},
		"triple":         mustMarshal([]any{[]any{"a", 1, 2}}),
		"integer key":    mustMarshal([]any{[]any{7, 1}}),
		"duplicate key":  mustMarshal([]any{[]any{"a", 1}, []any{"a", 2}}),
		"nested value":   mustMarshal([]any{[]any{"a", []any{1}}}),
		"string numeric": mustMarshal([]any{[]any{"D03102", "1"}}),
		"truncated":      mustMarshal([]any{[]any{"a", 1}})[:3],
	}

	for name, input := range inputs {
		t.Run(name, func(t *testing.T) {
			got, err := c.Decode(input)
			if !errors.Is(err, ErrMalformedPayload) {
				t.Fatalf("Decode(%x) error = %v, want ErrMalformedPayload", input, err)
			}
			if got != nil {
				t.Errorf("Decode(%x) returned partial map %v", input, got)
			}
		})
	}
}

func TestEncode_UnsupportedCapability(t *testing.T) {
	for _, gen := range profile.Generations {
		t.Run(string(gen), func(t *testing.T) {
			c := mustCodec(t, gen, Options{Writable: set("speed")})
			if _, err := c.Encode(StatusMap{"speed": int64(1), "pm25": int64(3)}); !errors.Is(err, ErrUnsupportedCapability) {
				t.Errorf("Encode() error = %v, want ErrUnsupportedCapability", err)
			}
			if _, err := c.Encode(StatusMap{}); !errors.Is(err, ErrUnsupportedCapability) {
				t.Errorf("Encode(empty) error = %v, want ErrUnsupportedCapability", err)
			}
		})
	}
}

func TestLegacyEncode(t *testing.T) {
	c := mustCodec(t, profile.GenerationLegacy, Options{Writable: set("mode", "speed", "name")})

	got, err := c.Encode(StatusMap{"speed": 3, "mode": "M", "name": `a"b`})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	want := `mode="M";name="a\"b";speed=3`
	if string(got) != want {
		t.Errorf("Encode() = %q, want %q", got, want)
	}
}

func TestJSONEncode(t *testing.T) {
	c := mustCodec(t, profile.GenerationEncrypted, Options{Writable: set("D03-02")})

	got, err := c.Encode(StatusMap{"D03-02": "OFF"})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	var doc map[string]map[string]map[string]string
	if err := json.Unmarshal(got, &doc); err != nil {
		t.Fatalf("invalid JSON %s: %v", got, err)
	}
	if doc["state"]["desired"]["D03-02"] != "OFF" {
		t.Errorf("Encode() = %s, want desired D03-02=OFF", got)
	}
}

func TestCBOREncode(t *testing.T) {
	c := mustCodec(t, profile.GenerationEncryptedV2, Options{Writable: set("D03102", "D0310C")})

	got, err := c.Encode(StatusMap{"D0310C": int64(17), "D03102": int64(1)})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	var pairs [][]any
	if err := cbor.Unmarshal(got, &pairs); err != nil {
		t.Fatalf("invalid CBOR: %v", err)
	}
	if len(pairs) != 2 || pairs[0][0] != "D03102" || pairs[1][0] != "D0310C" {
		t.Errorf("Encode() pairs = %v, want sorted by key", pairs)
	}
}

func TestForProfile(t *testing.T) {
	r, err := profile.LoadBuiltin()
	if err != nil {
		t.Fatal(err)
	}
	p, err := r.ProfileFor("AC3033/10")
	if err != nil {
		t.Fatal(err)
	}

	c, err := ForProfile(p)
	if err != nil {
		t.Fatalf("ForProfile() error = %v", err)
	}
	if c.Generation() != profile.GenerationLegacy || c.HandshakeRequired() {
		t.Errorf("legacy codec: generation=%s handshake=%v", c.Generation(), c.HandshakeRequired())
	}
	if _, err := c.Decode([]byte("speed=turbo")); !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("numeric field from profile not enforced: %v", err)
	}
	if _, err := c.Encode(StatusMap{"pm25": int64(1)}); !errors.Is(err, ErrUnsupportedCapability) {
		t.Errorf("read-only field encoded: %v", err)
	}
	if _, err := c.Encode(StatusMap{"speed": int64(2)}); err != nil {
		t.Errorf("Encode(speed) error = %v", err)
	}
}

func TestFor_UnknownGeneration(t *testing.T) {
	if _, err := For("zigbee", Options{}); !errors.Is(err, profile.ErrUnknownGeneration) {
		t.Errorf("For(zigbee) error = %v", err)
	}
}

func TestDeviceSideCodec(t *testing.T) {
	status := StatusMap{"pwr": int64(1), "pm25": int64(9), "name": "Hall"}
	command := StatusMap{"pwr": int64(0)}

	for _, gen := range profile.Generations {
		t.Run(string(gen), func(t *testing.T) {
			c := mustCodec(t, gen, Options{Writable: set("pwr")})

			payload, err := EncodeStatus(status, gen)
			if err != nil {
				t.Fatalf("EncodeStatus() error = %v", err)
			}
			got, err := c.Decode(payload)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if !reflect.DeepEqual(got, status) {
				t.Errorf("client decoded %v, want %v", got, status)
			}

			body, err := c.Encode(command)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			cmd, err := DecodeCommand(body, gen)
			if err != nil {
				t.Fatalf("DecodeCommand() error = %v", err)
			}
			if !reflect.DeepEqual(cmd, command) {
				t.Errorf("device decoded %v, want %v", cmd, command)
			}
		})
	}

	if _, err := DecodeCommand([]byte(`{"state":{"reported":{"pwr":1}}}`), profile.GenerationEncrypted); !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("status document accepted as command: %v", err)
	}
}
