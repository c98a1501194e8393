package cipher

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
)

// obfuscationTable is the XOR keystream legacy firmware applies when
// payload obfuscation is enabled.
var obfuscationTable = [16]byte{
	0x4a, 0x69, 0x61, 0x6e, 0x67, 0x50, 0x61, 0x6e,
	0x5a, 0x31, 0x9c, 0x07, 0xe2, 0x5b, 0x13, 0xa8,
}

// legacyScheme is the identity transform, or the obfuscation table for
// endpoints flagged as obfuscated. Sessions are local and never expire.
type legacyScheme struct {
	obfuscated bool
}

func (l *legacyScheme) handshake(context.Context, Exchanger) (*Session, error) {
	return &Session{}, nil
}

func (l *legacyScheme) seal(_ *Session, plaintext []byte) ([]byte, error) {
	if !l.obfuscated {
		return plaintext, nil
	}
	return []byte(strings.ToUpper(hex.EncodeToString(xorTable(plaintext)))), nil
}

func (l *legacyScheme) open(_ *Session, raw []byte) ([]byte, error) {
	if !l.obfuscated {
		return raw, nil
	}
	data, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("%w: obfuscated payload: %w", ErrDecryptError, err)
	}
	return xorTable(data), nil
}

func xorTable(in []byte) []byte {
	out := make([]byte, len(in))
	for i, b := range in {
		out[i] = b ^ obfuscationTable[i%len(obfuscationTable)]
	}
	return out
}
