package coap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/plgd-dev/go-coap/v3/message/codes"
)

func TestCodeString(t *testing.T) {
	tests := []struct {
		code codes.Code
		want string
	}{
		{codes.Content, "2.05"},
		{codes.NotFound, "4.04"},
		{codes.Unauthorized, "4.01"},
		{codes.InternalServerError, "5.00"},
		{codes.GET, "0.01"},
	}
	for _, tt := range tests {
		if got := CodeString(tt.code); got != tt.want {
			t.Errorf("CodeString(%v) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestClassify(t *testing.T) {
	expired, cancelExpired := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancelExpired()
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	live := context.Background()

	tests := []struct {
		name   string
		ctx    context.Context
		reqCtx context.Context
		err    error
		want   error
	}{
		{"caller cancelled", cancelled, cancelled, context.Canceled, context.Canceled},
		{"deadline", live, expired, errors.New("request timed out"), ErrTimeout},
		{"wrapped deadline", live, live, fmt.Errorf("do: %w", context.DeadlineExceeded), ErrTimeout},
		{"refused", live, live, &net.OpError{Op: "read", Net: "udp", Err: syscall.ECONNREFUSED}, ErrUnreachable},
		{"connection closed", live, live, net.ErrClosed, ErrUnreachable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.ctx, tt.reqCtx, tt.err); !errors.Is(got, tt.want) {
				t.Errorf("classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

// newTestClient returns a client for the server address.
func newTestClient(t *testing.T, addr net.Addr, timeout time.Duration) *Client {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		t.Fatal(err)
	}
	port, _ := strconv.Atoi(portStr)
	c := NewClient(Config{Host: host, Port: port, Timeout: timeout})
	t.Cleanup(func() { c.Close() })
	return c
}

func listen(t *testing.T, h HandlerFunc) *Server {
	t.Helper()
	srv, err := Listen("127.0.0.1:0", h)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { srv.Close() })
	return srv
}

func TestExchangeAgainstServer(t *testing.T) {
	srv := listen(t, func(req *Request) *Response {
		switch {
		case req.Path == "/sys/dev/status" && req.Method == codes.GET:
			return &Response{Code: codes.Content, Payload: []byte("pwr=1;speed=2")}
		case req.Path == "/sys/dev/control" && req.Method == codes.POST:
			return &Response{Code: codes.Changed, Payload: append([]byte("ok:"), req.Payload...)}
		default:
			return &Response{Code: codes.NotFound}
		}
	})

	c := newTestClient(t, srv.Addr(), time.Second)
	ctx := context.Background()

	got, err := c.Exchange(ctx, "GET", "/sys/dev/status", nil)
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	if string(got) != "pwr=1;speed=2" {
		t.Errorf("GET payload = %q", got)
	}

	got, err = c.Exchange(ctx, "post", "/sys/dev/control", []byte("pwr=0"))
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	if string(got) != "ok:pwr=0" {
		t.Errorf("POST payload = %q", got)
	}

	_, err = c.Exchange(ctx, "GET", "/missing", nil)
	if !errors.Is(err, ErrRequestRejected) {
		t.Errorf("missing resource error = %v, want ErrRequestRejected", err)
	}
	var rejected *RejectedError
	if !errors.As(err, &rejected) || rejected.Code != codes.NotFound {
		t.Errorf("rejection = %#v, want code 4.04", rejected)
	}

	if _, err := c.Exchange(ctx, "PATCH", "/sys/dev/status", nil); !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("bad method error = %v, want ErrInvalidMessage", err)
	}

	stats := c.Stats()
	if stats.Requests != 3 || stats.Responses != 3 {
		t.Errorf("Stats = %+v", stats)
	}
}

func TestExchangeTimeout(t *testing.T) {
	srv := listen(t, func(*Request) *Response { return nil })

	c := newTestClient(t, srv.Addr(), 100*time.Millisecond)
	start := time.Now()
	_, err := c.Exchange(context.Background(), "GET", "/sys/dev/status", nil)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout took %v", elapsed)
	}
	if c.Stats().Timeouts != 1 {
		t.Errorf("Timeouts = %d, want 1", c.Stats().Timeouts)
	}
}

func TestExchangeSendsOnce(t *testing.T) {
	seen := make(chan struct{}, 8)
	srv := listen(t, func(*Request) *Response {
		seen <- struct{}{}
		return nil
	})

	c := newTestClient(t, srv.Addr(), 300*time.Millisecond)
	if _, err := c.Exchange(context.Background(), "GET", "/sys/dev/status", nil); !errors.Is(err, ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}
	if n := len(seen); n != 1 {
		t.Errorf("device saw %d requests, want 1", n)
	}
}

func TestExchangeContextCancel(t *testing.T) {
	srv := listen(t, func(*Request) *Response { return nil })

	c := newTestClient(t, srv.Addr(), 10*time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err := c.Exchange(ctx, "GET", "/sys/dev/status", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("cancel took %v", elapsed)
	}
}

func TestClosedClient(t *testing.T) {
	c := NewClient(Config{Host: "127.0.0.1"})
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := c.Exchange(context.Background(), "GET", "/", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("error = %v, want ErrClosed", err)
	}
}

func TestRejectedError(t *testing.T) {
	err := error(&RejectedError{Method: "POST", Path: "/sys/dev/sync", Code: codes.BadRequest})
	if !errors.Is(err, ErrRequestRejected) {
		t.Error("RejectedError should match ErrRequestRejected")
	}
	if want := "coap: request rejected: POST /sys/dev/sync: 4.00"; err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
