package coap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/pool"
	"github.com/plgd-dev/go-coap/v3/options"
	"github.com/plgd-dev/go-coap/v3/udp"
	udpclient "github.com/plgd-dev/go-coap/v3/udp/client"
)

// Default client settings.
const (
	DefaultPort    = 5683
	DefaultTimeout = 5 * time.Second
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Config holds the endpoint address and exchange deadline.
type Config struct {
	Host    string
	Port    int
	Timeout time.Duration
}

// Stats holds transport statistics for one client.
type Stats struct {
	Requests    uint64
	Responses   uint64
	Timeouts    uint64
	Unreachable uint64
}

// dialFunc opens a go-coap UDP connection.
type dialFunc func(addr string, opts ...udp.Option) (*udpclient.Conn, error)

// Client exchanges CoAP messages with a single device endpoint.
//
// Exchanges are serialised; concurrent callers queue on an internal lock.
type Client struct {
	addr    string
	timeout time.Duration
	dial    dialFunc

	mu     sync.Mutex
	conn   *udpclient.Conn
	closed bool

	requests    atomic.Uint64
	responses   atomic.Uint64
	timeouts    atomic.Uint64
	unreachable atomic.Uint64

	loggerMu sync.RWMutex
	logger   Logger
}

// NewClient creates a client for the endpoint. No socket is opened until
// the first exchange.
func NewClient(cfg Config) *Client {
	port := cfg.Port
	if port == 0 {
		port = DefaultPort
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		addr:    net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		timeout: timeout,
		dial:    udp.Dial,
	}
}

// SetLogger sets the logger for this client.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	defer c.loggerMu.Unlock()
	c.logger = logger
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// Addr returns the endpoint address in host:port form.
func (c *Client) Addr() string {
	return c.addr
}

// Exchange sends a confirmable request and returns the response payload.
// It satisfies the session module's Exchanger.
//
// Parameters:
//   - ctx: Cancels the exchange
//   - method: "GET", "POST", "PUT" or "DELETE"
//   - path: Resource path, e.g. "/sys/dev/status"
//   - payload: Request body, may be nil
//
// Returns:
//   - []byte: Response payload
//   - error: ErrTimeout, ErrUnreachable, ErrRequestRejected, or ctx.Err()
func (c *Client) Exchange(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	method = strings.ToUpper(method)
	switch method {
	case "GET", "POST", "PUT", "DELETE":
	default:
		return nil, fmt.Errorf("%w: unsupported method %q", ErrInvalidMessage, method)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conn, err := c.connLocked()
	if err != nil {
		c.unreachable.Add(1)
		return nil, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.requests.Add(1)
	resp, err := send(reqCtx, conn, method, path, payload)
	if err != nil {
		return nil, c.failLocked(ctx, reqCtx, err)
	}
	if resp.Type() == message.Reset {
		c.unreachable.Add(1)
		c.closeConnLocked()
		return nil, fmt.Errorf("%w: reset by peer", ErrUnreachable)
	}
	c.responses.Add(1)

	if codeClass(resp.Code()) != 2 { //nolint:mnd // 2.xx success
		return nil, &RejectedError{Method: method, Path: path, Code: resp.Code()}
	}
	body, err := resp.ReadBody()
	if err != nil {
		return nil, fmt.Errorf("coap: reading response body: %w", err)
	}
	return body, nil
}

// send issues one request on conn.
func send(ctx context.Context, conn *udpclient.Conn, method, path string, payload []byte) (*pool.Message, error) {
	switch method {
	case "GET":
		return conn.Get(ctx, path)
	case "DELETE":
		return conn.Delete(ctx, path)
	case "PUT":
		return conn.Put(ctx, path, message.TextPlain, bytes.NewReader(payload))
	default:
		return conn.Post(ctx, path, message.TextPlain, bytes.NewReader(payload))
	}
}

// Close releases the connection. Further exchanges return ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Stats returns a snapshot of client statistics.
func (c *Client) Stats() Stats {
	return Stats{
		Requests:    c.requests.Load(),
		Responses:   c.responses.Load(),
		Timeouts:    c.timeouts.Load(),
		Unreachable: c.unreachable.Load(),
	}
}

func (c *Client) connLocked() (*udpclient.Conn, error) {
	if c.conn != nil {
		return c.conn, nil
	}
	conn, err := c.dial(c.addr,
		// One transmission per exchange; the deadline is the ack timeout.
		options.WithTransmission(1, c.timeout, 0),
	)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return conn, nil
}

func (c *Client) closeConnLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// failLocked classifies an exchange error.
func (c *Client) failLocked(ctx, reqCtx context.Context, err error) error {
	cls := classify(ctx, reqCtx, err)
	switch {
	case errors.Is(cls, ErrTimeout):
		c.timeouts.Add(1)
	case errors.Is(cls, ErrUnreachable):
		c.unreachable.Add(1)
		c.closeConnLocked()
		if l := c.getLogger(); l != nil {
			l.Debug("coap connection released", "addr", c.addr, "error", err)
		}
	}
	return cls
}

// classify maps a go-coap error onto the package errors. Cancellation of
// the caller's context wins; the exchange deadline is a timeout; anything
// else means the endpoint cannot be reached.
func classify(ctx, reqCtx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(reqCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrUnreachable, err)
}
