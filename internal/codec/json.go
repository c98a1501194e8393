package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// stateDocument is the JSON envelope used by encrypted-generation devices.
type stateDocument struct {
	State *stateBody `json:"state"`
}

type stateBody struct {
	Reported map[string]any `json:"reported,omitempty"`
	Desired  map[string]any `json:"desired,omitempty"`
}

// jsonCodec handles {"state":{"reported":{...}}} status documents and
// {"state":{"desired":{...}}} control documents.
type jsonCodec struct {
	baseCodec
}

func (c *jsonCodec) Decode(plaintext []byte) (StatusMap, error) {
	return c.decodeDocument(plaintext, false)
}

// decodeDocument parses a state document and returns its reported or,
// for control documents, its desired section.
func (c *jsonCodec) decodeDocument(plaintext []byte, desired bool) (StatusMap, error) {
	dec := json.NewDecoder(bytes.NewReader(plaintext))
	dec.UseNumber()

	var doc stateDocument
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after document", ErrMalformedPayload)
	}

	section, name := map[string]any(nil), "state.reported"
	if doc.State != nil {
		section = doc.State.Reported
		if desired {
			section, name = doc.State.Desired, "state.desired"
		}
	}
	if section == nil {
		return nil, fmt.Errorf("%w: missing %s", ErrMalformedPayload, name)
	}

	out := make(StatusMap, len(section))
	for k, raw := range section {
		v, err := jsonScalar(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: field %q: %w", ErrMalformedPayload, k, err)
		}
		if v, err = c.checkValue(k, v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// jsonScalar converts a decoded JSON value to a StatusMap scalar.
func jsonScalar(v any) (any, error) {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, err
		}
		return f, nil
	case string, bool:
		return x, nil
	case nil:
		return nil, errors.New("null value")
	default:
		return nil, fmt.Errorf("non-scalar value %T", v)
	}
}

func (c *jsonCodec) Encode(fields StatusMap) ([]byte, error) {
	if err := c.checkCommand(fields); err != nil {
		return nil, err
	}
	doc := stateDocument{State: &stateBody{Desired: map[string]any(fields)}}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("codec: encoding state document: %w", err)
	}
	return data, nil
}
