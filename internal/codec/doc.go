// Package codec converts decrypted device payloads to and from StatusMaps.
//
// Each device generation has its own serialization:
//
//   - Legacy: flat text, "pwr=1;mode=\"P\";speed=2"
//   - Encrypted: JSON state documents, {"state":{"reported":{...}}}
//   - EncryptedV2: CBOR array of [key, value] pairs
//
// A Codec for a generation is selected once, when the device's profile is
// resolved, and used for every exchange with that device. Decoding either
// returns a complete StatusMap or ErrMalformedPayload; it never returns a
// partially populated map.
package codec
