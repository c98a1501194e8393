// Package coap adapts github.com/plgd-dev/go-coap to the purifier
// transport.
//
// # Client
//
// A Client owns one UDP connection to one device endpoint and runs at most
// one exchange at a time. Requests are confirmable and are sent once: the
// acknowledgement timeout equals the exchange deadline and retransmission is
// disabled, so retry policy stays with the caller. go-coap correlates
// replies by message ID and token and drops anything else, such as late
// replies to earlier requests.
//
// Failures are classified into ErrTimeout (no correlating reply before the
// deadline) and ErrUnreachable (ICMP port-unreachable, a CoAP reset, or a
// connection torn down under the exchange). An unreachable endpoint's
// connection is released and re-dialled on the next exchange.
//
// # Server
//
// Server is a small responder used by the device simulator and tests. It
// routes every path to one Handler.
package coap
