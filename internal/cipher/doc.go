// Package cipher implements the per-device session layer for purifier-bridge.
//
// Encrypted-generation devices require a handshake before any status or
// control exchange. A Module owns the single Session for one device
// endpoint and moves through the states:
//
//	NoSession ──EnsureSession──▶ Handshaking ──ok──▶ Established
//	    ▲                             │                   │
//	    └────────── failure ──────────┘      Decrypt error / counter exhausted
//	                                                      ▼
//	                                                   Invalid ──EnsureSession──▶ …
//
// Three schemes exist, one per generation:
//
//   - legacy: identity, or a fixed XOR table with hex armour for
//     obfuscated endpoints. No handshake.
//   - encrypted: counter exchange on /sys/dev/sync, AES-128-CBC keyed from
//     MD5(secret ‖ counter), SHA-256 digest trailer.
//   - encrypted_v2: nonce exchange with HMAC proof, HKDF-SHA256 session keys,
//     AES-256-GCM with per-direction nonce prefixes and replay rejection.
//
// # Thread Safety
//
// Module methods are safe for concurrent use, but a device endpoint is only
// ever driven by one coordinator goroutine so contention does not occur in
// practice.
package cipher
