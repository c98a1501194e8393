package profile

import (
	"fmt"
	"strings"
)

// Generation identifies a device firmware family sharing one wire encoding
// and handshake behaviour.
type Generation string

// Supported generations.
const (
	// GenerationLegacy devices speak plaintext (optionally obfuscated)
	// key=value status over CoAP with no handshake.
	GenerationLegacy Generation = "legacy"

	// GenerationEncrypted devices exchange counters on /sys/dev/sync and
	// wrap JSON payloads in AES-CBC with a SHA-256 digest.
	GenerationEncrypted Generation = "encrypted"

	// GenerationEncryptedV2 devices perform a nonce/proof handshake and wrap
	// CBOR pair-list payloads in AES-GCM.
	GenerationEncryptedV2 Generation = "encrypted_v2"
)

// Generations lists every supported generation in probe order.
var Generations = []Generation{
	GenerationLegacy,
	GenerationEncrypted,
	GenerationEncryptedV2,
}

// ParseGeneration converts a configuration string to a Generation.
// Matching is case-insensitive and accepts "v2" and "encryptedv2" aliases.
func ParseGeneration(s string) (Generation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "legacy", "plaintext":
		return GenerationLegacy, nil
	case "encrypted", "v1":
		return GenerationEncrypted, nil
	case "encrypted_v2", "encryptedv2", "v2":
		return GenerationEncryptedV2, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownGeneration, s)
	}
}

// Valid reports whether g is one of the supported generations.
func (g Generation) Valid() bool {
	switch g {
	case GenerationLegacy, GenerationEncrypted, GenerationEncryptedV2:
		return true
	default:
		return false
	}
}

// HandshakeRequired reports whether a session must be negotiated before
// any status or control exchange.
func (g Generation) HandshakeRequired() bool {
	return g == GenerationEncrypted || g == GenerationEncryptedV2
}

// String implements fmt.Stringer.
func (g Generation) String() string {
	return string(g)
}

// identityFields are reported by every device of a generation and are
// composed into each profile of that generation.
var identityFields = map[Generation][]Field{
	GenerationLegacy: {
		{Key: "name", Name: FieldName, Kind: KindText},
		{Key: "modelid", Name: FieldModelID, Kind: KindText},
		{Key: "DeviceId", Name: FieldDeviceID, Kind: KindText},
		{Key: "WifiVersion", Name: FieldWifiVersion, Kind: KindText},
	},
	GenerationEncrypted: {
		{Key: "D01-03", Name: FieldName, Kind: KindText},
		{Key: "D01-05", Name: FieldModelID, Kind: KindText},
		{Key: "DeviceId", Name: FieldDeviceID, Kind: KindText},
		{Key: "WifiVersion", Name: FieldWifiVersion, Kind: KindText},
	},
	GenerationEncryptedV2: {
		{Key: "D01S03", Name: FieldName, Kind: KindText},
		{Key: "D01S05", Name: FieldModelID, Kind: KindText},
		{Key: "DeviceId", Name: FieldDeviceID, Kind: KindText},
		{Key: "WifiVersion", Name: FieldWifiVersion, Kind: KindText},
	},
}

// Semantic names of the identity fields.
const (
	FieldName        = "name"
	FieldModelID     = "model_id"
	FieldDeviceID    = "device_id"
	FieldWifiVersion = "wifi_version"
)
