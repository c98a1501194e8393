// Package device talks to one purifier endpoint.
//
// A Client ties together the three per-endpoint layers: the CoAP transport,
// the session module for the endpoint's generation and the payload codec of
// its profile. FetchStatus and SendCommand each run one protocol exchange,
// handshaking first when the generation needs a session and none exists.
//
//	FetchStatus:  EnsureSession → GET /sys/dev/status → Decrypt → Decode
//	SendCommand:  EnsureSession → Encode → Encrypt → POST /sys/dev/control
//
// Clients hold no retry policy; the coordinator decides when to reset the
// session and try again. Probe identifies the generation of a device whose
// model is not known in advance.
package device
