package codec

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// encMode is the CBOR encoder mode for pair-list payloads.
var encMode cbor.EncMode

// decMode is the CBOR decoder mode for pair-list payloads.
var decMode cbor.DecMode

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}

	// Duplicate keys live inside the pair list, not in CBOR maps, so they
	// are checked by hand in Decode.
	decOpts := cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		IndefLength:      cbor.IndefLengthAllowed,
		MaxNestedLevels:  8,
		MaxArrayElements: 4096,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder mode: %v", err))
	}
}

// cborMajorArray is the CBOR major type of an array (RFC 8949 §3.1).
const cborMajorArray = 4

// cborCodec handles encrypted-v2 payloads: a CBOR array of two-element
// [key, value] arrays.
type cborCodec struct {
	baseCodec
}

func (c *cborCodec) Decode(plaintext []byte) (StatusMap, error) {
	if len(plaintext) == 0 || plaintext[0]>>5 != cborMajorArray {
		return nil, fmt.Errorf("%w: payload is not a CBOR array", ErrMalformedPayload)
	}

	var pairs []any
	if err := decMode.Unmarshal(plaintext, &pairs); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}

	out := make(StatusMap, len(pairs))
	for i, item := range pairs {
		pair, ok := item.([]any)
		if !ok || len(pair) != 2 { //nolint:mnd // [key, value]
			return nil, fmt.Errorf("%w: element %d is not a [key, value] pair", ErrMalformedPayload, i)
		}
		key, ok := pair[0].(string)
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: element %d has a non-string key", ErrMalformedPayload, i)
		}
		if _, dup := out[key]; dup {
			return nil, fmt.Errorf("%w: duplicate key %q", ErrMalformedPayload, key)
		}
		v, err := c.checkValue(key, pair[1])
		if err != nil {
			return nil, err
		}
		out[key] = v
	}
	return out, nil
}

func (c *cborCodec) Encode(fields StatusMap) ([]byte, error) {
	if err := c.checkCommand(fields); err != nil {
		return nil, err
	}
	return encodePairs(fields)
}

func encodePairs(fields StatusMap) ([]byte, error) {
	pairs := make([][2]any, 0, len(fields))
	for _, k := range fields.Keys() {
		pairs = append(pairs, [2]any{k, fields[k]})
	}
	data, err := encMode.Marshal(pairs)
	if err != nil {
		return nil, fmt.Errorf("codec: encoding pair list: %w", err)
	}
	return data, nil
}
