package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/purifier-bridge/internal/cipher"
	"github.com/nerrad567/purifier-bridge/internal/device"
	"github.com/nerrad567/purifier-bridge/internal/profile"
)

// probeTimeout bounds generation probing during Start.
const probeTimeout = 10 * time.Second

// EndpointConfig describes one device to poll.
type EndpointConfig struct {
	// ID identifies the endpoint in updates and commands.
	ID string `json:"id" yaml:"id"`

	Host string `json:"host" yaml:"host"`
	Port int    `json:"port,omitempty" yaml:"port"`

	// Model selects the profile. When empty or unknown the device is
	// probed for its model.
	Model string `json:"model,omitempty" yaml:"model"`

	// Generation is used when the model is unknown and probing fails.
	Generation profile.Generation `json:"generation,omitempty" yaml:"generation"`

	Credentials cipher.Credentials `json:"-" yaml:"credentials"`

	// Policy overrides the manager's policy field by field.
	Policy Policy `json:"-" yaml:"-"`
}

// Validate checks the config has an ID and host.
func (c EndpointConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidConfig)
	}
	if c.Host == "" {
		return fmt.Errorf("%w: %s: host is required", ErrInvalidConfig, c.ID)
	}
	if c.Generation != "" && !c.Generation.Valid() {
		return fmt.Errorf("%w: %s: unknown generation %q", ErrInvalidConfig, c.ID, c.Generation)
	}
	return nil
}

// DeviceFactory creates the protocol client for an endpoint.
type DeviceFactory func(ep device.Endpoint, p *profile.DeviceProfile, creds cipher.Credentials) (Device, error)

// ProbeFunc identifies an endpoint's generation and model.
type ProbeFunc func(ctx context.Context, host string, port int, creds cipher.Credentials) (device.ProbeResult, error)

// Manager owns one poller per endpoint.
type Manager struct {
	registry *profile.Registry
	policy   Policy
	logger   Logger
	factory  DeviceFactory
	probe    ProbeFunc
	timeout  time.Duration

	mu      sync.RWMutex
	pollers map[string]*Poller
	global  []func(Update)
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithDeviceFactory replaces the protocol client constructor.
func WithDeviceFactory(f DeviceFactory) ManagerOption {
	return func(m *Manager) { m.factory = f }
}

// WithProber replaces generation probing.
func WithProber(f ProbeFunc) ManagerOption {
	return func(m *Manager) { m.probe = f }
}

// WithLogger sets the logger used by the manager and its pollers.
func WithLogger(l Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithTimeout sets the per-exchange transport timeout.
func WithTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.timeout = d }
}

// NewManager creates a manager. reg may be nil, in which case the built-in
// profiles are used.
func NewManager(reg *profile.Registry, policy Policy, opts ...ManagerOption) (*Manager, error) {
	if reg == nil {
		var err error
		if reg, err = profile.LoadBuiltin(); err != nil {
			return nil, err
		}
	}
	m := &Manager{
		registry: reg,
		policy:   policy.WithDefaults(),
		logger:   noopLogger{},
		pollers:  make(map[string]*Poller),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.factory == nil {
		m.factory = m.newDevice
	}
	if m.probe == nil {
		m.probe = m.probeDevice
	}
	return m, nil
}

func (m *Manager) newDevice(ep device.Endpoint, p *profile.DeviceProfile, creds cipher.Credentials) (Device, error) {
	return device.NewClient(ep, p, creds, device.WithTimeout(m.timeout), device.WithLogger(m.logger))
}

func (m *Manager) probeDevice(ctx context.Context, host string, port int, creds cipher.Credentials) (device.ProbeResult, error) {
	return device.Probe(ctx, host, port, creds, device.WithTimeout(m.timeout), device.WithLogger(m.logger))
}

// Registry returns the profile registry.
func (m *Manager) Registry() *profile.Registry {
	return m.registry
}

// Start resolves the endpoint's profile and begins polling it.
//
// Parameters:
//   - ctx: Bounds profile resolution; polling continues after it returns
//   - cfg: Endpoint to poll
//
// Returns:
//   - *Poller: Handle for status, availability and subscriptions
//   - error: ErrInvalidConfig, ErrAlreadyRunning, or a client construction error
func (m *Manager) Start(ctx context.Context, cfg EndpointConfig) (*Poller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	_, exists := m.pollers[cfg.ID]
	m.mu.RUnlock()
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, cfg.ID)
	}

	p := m.resolveProfile(ctx, cfg)
	ep := device.Endpoint{ID: cfg.ID, Host: cfg.Host, Port: cfg.Port, Generation: p.Generation}
	dev, err := m.factory(ep, p, cfg.Credentials)
	if err != nil {
		return nil, fmt.Errorf("endpoint %s: %w", cfg.ID, err)
	}

	policy := m.policy
	if cfg.Policy != (Policy{}) {
		policy = mergePolicy(m.policy, cfg.Policy)
	}
	poller := NewPoller(cfg.ID, dev, p, policy, m.logger)

	m.mu.Lock()
	if _, exists := m.pollers[cfg.ID]; exists {
		m.mu.Unlock()
		_ = dev.Close()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, cfg.ID)
	}
	for _, fn := range m.global {
		poller.Subscribe(fn)
	}
	m.pollers[cfg.ID] = poller
	poller.Start()
	m.mu.Unlock()

	m.logger.Info("polling endpoint",
		"endpoint", cfg.ID,
		"host", cfg.Host,
		"profile", p.Name,
		"generation", string(p.Generation),
		"interval", policy.Interval.String(),
	)
	return poller, nil
}

// resolveProfile picks the profile for cfg: the configured model, then the
// probed model, then the minimal profile of the probed or configured
// generation. Legacy is assumed when nothing else is known.
func (m *Manager) resolveProfile(ctx context.Context, cfg EndpointConfig) *profile.DeviceProfile {
	if cfg.Model != "" {
		p, err := m.registry.ProfileFor(cfg.Model)
		if err == nil {
			return m.checkGeneration(cfg, p)
		}
		m.logger.Warn("no profile for configured model, probing", "endpoint", cfg.ID, "model", cfg.Model)
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	res, err := m.probe(probeCtx, cfg.Host, cfg.Port, cfg.Credentials)
	if err == nil {
		if p, perr := m.registry.ProfileFor(res.Model); perr == nil && p.Generation == res.Generation {
			m.logger.Info("identified device", "endpoint", cfg.ID, "model", res.Model, "name", res.Name)
			return p
		}
		m.logger.Warn("unknown device model, using minimal profile",
			"endpoint", cfg.ID, "model", res.Model, "generation", string(res.Generation))
		return profile.Minimal(res.Generation)
	}

	gen := cfg.Generation
	if gen == "" {
		gen = profile.GenerationLegacy
	}
	m.logger.Warn("probe failed, assuming generation",
		"endpoint", cfg.ID, "generation", string(gen), "error", err)
	return profile.Minimal(gen)
}

func (m *Manager) checkGeneration(cfg EndpointConfig, p *profile.DeviceProfile) *profile.DeviceProfile {
	if cfg.Generation != "" && cfg.Generation != p.Generation {
		m.logger.Warn("configured generation disagrees with profile, using profile",
			"endpoint", cfg.ID, "configured", string(cfg.Generation), "profile", p.Name)
	}
	return p
}

// StartAll starts every endpoint concurrently. Endpoints that fail to start
// are reported in the joined error; the others keep running.
func (m *Manager) StartAll(ctx context.Context, cfgs []EndpointConfig) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, cfg := range cfgs {
		g.Go(func() error {
			if _, err := m.Start(ctx, cfg); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Stop stops polling an endpoint and releases its connection.
func (m *Manager) Stop(id string) error {
	m.mu.Lock()
	poller, ok := m.pollers[id]
	delete(m.pollers, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return poller.Stop()
}

// StopAll stops every poller.
func (m *Manager) StopAll() error {
	m.mu.Lock()
	pollers := make([]*Poller, 0, len(m.pollers))
	for _, p := range m.pollers {
		pollers = append(pollers, p)
	}
	m.pollers = make(map[string]*Poller)
	m.mu.Unlock()

	var g errgroup.Group
	for _, p := range pollers {
		g.Go(p.Stop)
	}
	return g.Wait()
}

// Get returns the poller for an endpoint.
func (m *Manager) Get(id string) (*Poller, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pollers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return p, nil
}

// List returns all pollers sorted by endpoint ID.
func (m *Manager) List() []*Poller {
	m.mu.RLock()
	out := make([]*Poller, 0, len(m.pollers))
	for _, p := range m.pollers {
		out = append(out, p)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Set writes a semantic field on an endpoint.
func (m *Manager) Set(ctx context.Context, id, field string, value any) error {
	p, err := m.Get(id)
	if err != nil {
		return err
	}
	return p.Set(ctx, field, value)
}

// Subscribe registers fn for one endpoint's updates.
func (m *Manager) Subscribe(id string, fn func(Update)) (unsubscribe func(), err error) {
	p, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return p.Subscribe(fn), nil
}

// SubscribeAll registers fn for updates from every current and future
// endpoint.
func (m *Manager) SubscribeAll(fn func(Update)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.global = append(m.global, fn)
	for _, p := range m.pollers {
		p.Subscribe(fn)
	}
}

// mergePolicy overlays the non-zero fields of override on base.
func mergePolicy(base, override Policy) Policy {
	if override.Interval > 0 {
		base.Interval = override.Interval
	}
	if override.FailureThreshold > 0 {
		base.FailureThreshold = override.FailureThreshold
	}
	if override.BackoffInitial > 0 {
		base.BackoffInitial = override.BackoffInitial
	}
	if override.BackoffMultiplier >= 1 {
		base.BackoffMultiplier = override.BackoffMultiplier
	}
	if override.BackoffMax > 0 {
		base.BackoffMax = override.BackoffMax
	}
	if override.ConfirmDelay > 0 {
		base.ConfirmDelay = override.ConfirmDelay
	}
	return base.WithDefaults()
}
