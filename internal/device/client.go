package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/nerrad567/purifier-bridge/internal/cipher"
	"github.com/nerrad567/purifier-bridge/internal/coap"
	"github.com/nerrad567/purifier-bridge/internal/codec"
	"github.com/nerrad567/purifier-bridge/internal/profile"
	"github.com/plgd-dev/go-coap/v3/message/codes"
)

// Device resource paths.
const (
	StatusPath  = "/sys/dev/status"
	ControlPath = "/sys/dev/control"

	methodGet  = "GET"
	methodPost = "POST"
)

// Endpoint identifies one purifier on the network.
type Endpoint struct {
	ID         string
	Host       string
	Port       int
	Generation profile.Generation
}

// Validate checks the endpoint is usable.
func (e Endpoint) Validate() error {
	if e.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidEndpoint)
	}
	if e.Port < 0 || e.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidEndpoint, e.Port)
	}
	if !e.Generation.Valid() {
		return fmt.Errorf("%w: %w: %q", ErrInvalidEndpoint, profile.ErrUnknownGeneration, e.Generation)
	}
	return nil
}

// Transport is the exchange channel to the device. *coap.Client
// satisfies it.
type Transport interface {
	cipher.Exchanger
	Close() error
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Stats combines transport and session statistics.
type Stats struct {
	Transport coap.Stats
	Session   cipher.Stats
}

// Client runs protocol exchanges against one endpoint.
type Client struct {
	endpoint  Endpoint
	profile   *profile.DeviceProfile
	transport Transport
	session   *cipher.Module
	codec     codec.Codec

	// mu keeps exchanges strictly sequential.
	mu sync.Mutex
}

// Option configures a Client.
type Option func(*options)

type options struct {
	transport Transport
	timeout   time.Duration
	random    io.Reader
	logger    Logger
}

// WithTransport replaces the CoAP transport.
func WithTransport(t Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithTimeout sets the per-exchange deadline of the default transport.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithRandom sets the session entropy source.
func WithRandom(r io.Reader) Option {
	return func(o *options) { o.random = r }
}

// WithLogger sets the logger for the client's transport and session.
func WithLogger(l Logger) Option {
	return func(o *options) { o.logger = l }
}

// NewClient creates a client for an endpoint.
//
// Parameters:
//   - ep: Endpoint address and generation
//   - p: Profile of the device; its generation must match ep's
//   - creds: Session secrets from configuration
//
// Returns:
//   - *Client: Client with no open socket and no session
//   - error: ErrInvalidEndpoint, cipher.ErrMissingCredentials
func NewClient(ep Endpoint, p *profile.DeviceProfile, creds cipher.Credentials, opts ...Option) (*Client, error) {
	if err := ep.Validate(); err != nil {
		return nil, err
	}
	if p.Generation != ep.Generation {
		return nil, fmt.Errorf("%w: profile %s is %s, endpoint is %s", ErrInvalidEndpoint, p.Name, p.Generation, ep.Generation)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	transport := o.transport
	if transport == nil {
		c := coap.NewClient(coap.Config{Host: ep.Host, Port: ep.Port, Timeout: o.timeout})
		if o.logger != nil {
			c.SetLogger(o.logger)
		}
		transport = c
	}

	cipherOpts := []cipher.Option{}
	if o.random != nil {
		cipherOpts = append(cipherOpts, cipher.WithRandom(o.random))
	}
	if o.logger != nil {
		cipherOpts = append(cipherOpts, cipher.WithLogger(o.logger))
	}
	session, err := cipher.New(ep.Generation, transport, creds, cipherOpts...)
	if err != nil {
		return nil, err
	}

	cd, err := codec.ForProfile(p)
	if err != nil {
		return nil, err
	}

	return &Client{
		endpoint:  ep,
		profile:   p,
		transport: transport,
		session:   session,
		codec:     cd,
	}, nil
}

// Endpoint returns the endpoint the client talks to.
func (c *Client) Endpoint() Endpoint {
	return c.endpoint
}

// Profile returns the device profile.
func (c *Client) Profile() *profile.DeviceProfile {
	return c.profile
}

// FetchStatus polls the device and returns its decoded status map.
func (c *Client) FetchStatus(ctx context.Context) (codec.StatusMap, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.session.EnsureSession(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := c.exchange(ctx, methodGet, StatusPath, nil)
	if err != nil {
		return nil, err
	}

	plain, err := c.session.Decrypt(s, raw)
	if err != nil {
		return nil, err
	}
	return c.codec.Decode(plain)
}

// SendCommand encodes and sends control fields keyed by protocol key.
// It returns after the device acknowledges the command.
func (c *Client) SendCommand(ctx context.Context, fields codec.StatusMap) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	body, err := c.codec.Encode(fields)
	if err != nil {
		return err
	}

	s, err := c.session.EnsureSession(ctx)
	if err != nil {
		return err
	}

	sealed, err := c.session.Encrypt(s, body)
	if err != nil {
		return err
	}

	_, err = c.exchange(ctx, methodPost, ControlPath, sealed)
	return err
}

// ResetSession discards the session so the next exchange handshakes.
func (c *Client) ResetSession() {
	c.session.Reset()
}

// SessionState returns the session lifecycle state.
func (c *Client) SessionState() cipher.State {
	return c.session.State()
}

// Stats returns transport and session statistics.
func (c *Client) Stats() Stats {
	st := Stats{Session: c.session.Stats()}
	if sr, ok := c.transport.(interface{ Stats() coap.Stats }); ok {
		st.Transport = sr.Stats()
	}
	return st
}

// Close releases the transport.
func (c *Client) Close() error {
	c.session.Reset()
	return c.transport.Close()
}

// exchange runs one request. A 4.01 from an encrypted device means it
// could not open our frame or has no session for us, which the session
// layer treats like a local decrypt failure.
func (c *Client) exchange(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	raw, err := c.transport.Exchange(ctx, method, path, payload)
	if err == nil {
		return raw, nil
	}

	var rejected *coap.RejectedError
	if c.endpoint.Generation.HandshakeRequired() && errors.As(err, &rejected) && rejected.Code == codes.Unauthorized {
		c.session.Invalidate()
		return nil, fmt.Errorf("%w: device rejected session: %w", cipher.ErrDecryptError, err)
	}
	return nil, err
}
