package codec

import (
	"encoding/json"
	"fmt"

	"github.com/nerrad567/purifier-bridge/internal/profile"
)

// EncodeStatus serializes a status map the way a device of the given
// generation reports it. The device simulator uses it to answer polls.
func EncodeStatus(m StatusMap, gen profile.Generation) ([]byte, error) {
	switch gen {
	case profile.GenerationLegacy:
		return encodeLegacy(m), nil
	case profile.GenerationEncrypted:
		data, err := json.Marshal(stateDocument{State: &stateBody{Reported: map[string]any(m)}})
		if err != nil {
			return nil, fmt.Errorf("codec: encoding state document: %w", err)
		}
		return data, nil
	case profile.GenerationEncryptedV2:
		return encodePairs(m)
	default:
		return nil, fmt.Errorf("codec: %w: %q", profile.ErrUnknownGeneration, gen)
	}
}

// DecodeCommand parses a control payload the way a device reads it.
func DecodeCommand(plaintext []byte, gen profile.Generation) (StatusMap, error) {
	c, err := For(gen, Options{})
	if err != nil {
		return nil, err
	}
	if jc, ok := c.(*jsonCodec); ok {
		return jc.decodeDocument(plaintext, true)
	}
	return c.Decode(plaintext)
}
