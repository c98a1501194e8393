// Package simulator runs a purifier on a local UDP socket.
//
// A simulated Device answers handshakes, status polls and control requests
// for any generation using the same session and codec code as the bridge,
// from the device side. Faults can be injected to exercise recovery paths:
// dropped replies (seen as timeouts), corrupted status frames (seen as
// decrypt or payload errors) and reboots that discard the session.
//
// The package backs the integration tests and cmd/purifiersim.
package simulator
