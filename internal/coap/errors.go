package coap

import (
	"errors"
	"fmt"

	"github.com/plgd-dev/go-coap/v3/message/codes"
)

// Domain errors for the coap package.
var (
	// ErrTimeout is returned when no correlating response arrives before
	// the exchange deadline.
	ErrTimeout = errors.New("coap: timeout")

	// ErrUnreachable is returned when the endpoint refuses or resets the
	// exchange.
	ErrUnreachable = errors.New("coap: endpoint unreachable")

	// ErrInvalidMessage is returned for requests that cannot be built.
	ErrInvalidMessage = errors.New("coap: invalid message")

	// ErrRequestRejected is returned by Exchange when the device answers
	// with a 4.xx or 5.xx response code.
	ErrRequestRejected = errors.New("coap: request rejected")

	// ErrClosed is returned when using a closed client or server.
	ErrClosed = errors.New("coap: closed")
)

// RejectedError carries the response code of a rejected request. It
// matches ErrRequestRejected with errors.Is.
type RejectedError struct {
	Method string
	Path   string
	Code   codes.Code
}

func (e *RejectedError) Error() string {
	return ErrRequestRejected.Error() + ": " + e.Method + " " + e.Path + ": " + CodeString(e.Code)
}

// Is reports whether target is ErrRequestRejected.
func (e *RejectedError) Is(target error) bool {
	return target == ErrRequestRejected
}

// CodeString returns the dotted form of a code, e.g. "4.04".
func CodeString(c codes.Code) string {
	return fmt.Sprintf("%d.%02d", codeClass(c), uint16(c)&0x1F) //nolint:mnd // 5-bit detail
}

// codeClass returns 0 for requests, 2 for success, 4 and 5 for errors.
func codeClass(c codes.Code) uint16 {
	return uint16(c) >> 5 //nolint:mnd // 3-bit class
}
