package cipher

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/purifier-bridge/internal/coap"
	"github.com/nerrad567/purifier-bridge/internal/profile"
)

// Device paths used during session negotiation.
const (
	// SyncPath is the CoAP resource both encrypted generations handshake on.
	SyncPath = "/sys/dev/sync"

	methodPost = "POST"
)

// State is the lifecycle state of a Module's session.
type State int32

// Session lifecycle states.
const (
	StateNoSession State = iota
	StateHandshaking
	StateEstablished
	StateInvalid
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateNoSession:
		return "no_session"
	case StateHandshaking:
		return "handshaking"
	case StateEstablished:
		return "established"
	case StateInvalid:
		return "invalid"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// postSync sends a handshake frame. A device answering with an error code
// has refused the handshake.
func postSync(ctx context.Context, ex Exchanger, payload []byte) ([]byte, error) {
	resp, err := ex.Exchange(ctx, methodPost, SyncPath, payload)
	if errors.Is(err, coap.ErrRequestRejected) {
		return nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}
	return resp, err
}

// Exchanger performs one request/response exchange with the device.
// The transport client satisfies it.
type Exchanger interface {
	Exchange(ctx context.Context, method, path string, payload []byte) ([]byte, error)
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Credentials carry the per-device secrets supplied by configuration.
type Credentials struct {
	// Secret keys the encrypted generation (used verbatim) and the
	// encrypted_v2 generation (hex-encoded pre-shared key).
	Secret string

	// Obfuscated enables the XOR table on legacy endpoints.
	Obfuscated bool
}

// Session is the cryptographic context negotiated with one device.
type Session struct {
	gen         profile.Generation
	counter     uint32
	limit       uint32
	established time.Time

	// encrypted
	secret []byte

	// encrypted_v2
	gcm *gcmKeys
}

// Generation returns the generation the session was negotiated for.
func (s *Session) Generation() profile.Generation { return s.gen }

// Counter returns the last sequence number used for an outgoing payload.
func (s *Session) Counter() uint32 { return s.counter }

// EstablishedAt returns when the handshake completed.
func (s *Session) EstablishedAt() time.Time { return s.established }

// next advances the outgoing counter.
func (s *Session) next() (uint32, error) {
	if s.counter >= s.limit {
		return 0, ErrSessionExhausted
	}
	s.counter++
	return s.counter, nil
}

// scheme is implemented once per generation.
type scheme interface {
	handshake(ctx context.Context, ex Exchanger) (*Session, error)
	seal(s *Session, plaintext []byte) ([]byte, error)
	open(s *Session, raw []byte) ([]byte, error)
}

// Stats holds session statistics for one module.
type Stats struct {
	Handshakes        uint64
	HandshakeFailures uint64
	DecryptErrors     uint64
	Exhaustions       uint64
	State             State
}

// Module owns the session for one device endpoint.
type Module struct {
	gen    profile.Generation
	scheme scheme
	ex     Exchanger

	mu      sync.Mutex
	state   State
	session *Session

	handshakes        atomic.Uint64
	handshakeFailures atomic.Uint64
	decryptErrors     atomic.Uint64
	exhaustions       atomic.Uint64

	loggerMu sync.RWMutex
	logger   Logger
}

// Option configures a Module.
type Option func(*options)

type options struct {
	random io.Reader
	logger Logger
}

// WithRandom sets the entropy source for handshake nonces and counters.
func WithRandom(r io.Reader) Option {
	return func(o *options) { o.random = r }
}

// WithLogger sets the module logger.
func WithLogger(l Logger) Option {
	return func(o *options) { o.logger = l }
}

// New creates the Module for a generation.
//
// Parameters:
//   - gen: Device generation selecting the scheme
//   - ex: Transport used for handshakes
//   - creds: Secrets from configuration
//
// Returns:
//   - *Module: Module in state NoSession
//   - error: ErrMissingCredentials or profile.ErrUnknownGeneration
func New(gen profile.Generation, ex Exchanger, creds Credentials, opts ...Option) (*Module, error) {
	o := options{random: rand.Reader}
	for _, opt := range opts {
		opt(&o)
	}

	var sc scheme
	switch gen {
	case profile.GenerationLegacy:
		sc = &legacyScheme{obfuscated: creds.Obfuscated}
	case profile.GenerationEncrypted:
		if creds.Secret == "" {
			return nil, fmt.Errorf("%w: encrypted generation needs a secret", ErrMissingCredentials)
		}
		sc = &cbcScheme{secret: []byte(creds.Secret), random: o.random}
	case profile.GenerationEncryptedV2:
		psk, err := parsePSK(creds.Secret)
		if err != nil {
			return nil, err
		}
		sc = &gcmScheme{psk: psk, random: o.random}
	default:
		return nil, fmt.Errorf("cipher: %w: %q", profile.ErrUnknownGeneration, gen)
	}

	return &Module{
		gen:    gen,
		scheme: sc,
		ex:     ex,
		state:  StateNoSession,
		logger: o.logger,
	}, nil
}

// SetLogger sets the logger for this module.
func (m *Module) SetLogger(logger Logger) {
	m.loggerMu.Lock()
	defer m.loggerMu.Unlock()
	m.logger = logger
}

func (m *Module) getLogger() Logger {
	m.loggerMu.RLock()
	defer m.loggerMu.RUnlock()
	return m.logger
}

// HandshakeRequired reports whether the module negotiates a session over
// the network.
func (m *Module) HandshakeRequired() bool {
	return m.gen.HandshakeRequired()
}

// State returns the current lifecycle state.
func (m *Module) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// EnsureSession returns the established session, performing a handshake
// first if there is none. On failure the module is reset to NoSession.
func (m *Module) EnsureSession(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateEstablished && m.session != nil {
		return m.session, nil
	}

	m.state = StateHandshaking
	s, err := m.scheme.handshake(ctx, m.ex)
	if err != nil {
		m.state = StateNoSession
		m.session = nil
		m.handshakeFailures.Add(1)
		if l := m.getLogger(); l != nil {
			l.Warn("session handshake failed", "generation", string(m.gen), "error", err)
		}
		return nil, err
	}

	s.gen = m.gen
	s.established = time.Now()
	m.session = s
	m.state = StateEstablished
	if m.gen.HandshakeRequired() {
		m.handshakes.Add(1)
		if l := m.getLogger(); l != nil {
			l.Debug("session established", "generation", string(m.gen), "counter", s.counter)
		}
	}
	return s, nil
}

// Encrypt seals plaintext under the session, advancing its counter.
// Returns ErrSessionExhausted, invalidating the session, when the counter
// has reached the end of its range.
func (m *Module) Encrypt(s *Session, plaintext []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkSession(s); err != nil {
		return nil, err
	}
	out, err := m.scheme.seal(s, plaintext)
	if err != nil {
		m.invalidateLocked()
		if errors.Is(err, ErrSessionExhausted) {
			m.exhaustions.Add(1)
		}
		return nil, err
	}
	return out, nil
}

// Decrypt opens a device payload. Any failure invalidates the session.
func (m *Module) Decrypt(s *Session, raw []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkSession(s); err != nil {
		return nil, err
	}
	out, err := m.scheme.open(s, raw)
	if err != nil {
		m.invalidateLocked()
		m.decryptErrors.Add(1)
		return nil, err
	}
	return out, nil
}

// Invalidate marks the current session unusable. The next EnsureSession
// performs a fresh handshake.
func (m *Module) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidateLocked()
}

// Reset discards any session and returns to NoSession.
func (m *Module) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	m.state = StateNoSession
}

// Stats returns a snapshot of module statistics.
func (m *Module) Stats() Stats {
	return Stats{
		Handshakes:        m.handshakes.Load(),
		HandshakeFailures: m.handshakeFailures.Load(),
		DecryptErrors:     m.decryptErrors.Load(),
		Exhaustions:       m.exhaustions.Load(),
		State:             m.State(),
	}
}

func (m *Module) invalidateLocked() {
	if m.session != nil {
		m.state = StateInvalid
	}
	m.session = nil
}

func (m *Module) checkSession(s *Session) error {
	if s == nil || m.state != StateEstablished || s != m.session {
		return ErrNoSession
	}
	return nil
}
