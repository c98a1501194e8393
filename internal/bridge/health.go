package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/purifier-bridge/internal/coordinator"
)

// HealthPublisher is the interface for publishing health messages.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// Endpoints returns the current health of every polled endpoint.
type Endpoints func() []EndpointHealth

// ManagerEndpoints adapts a coordinator manager to Endpoints.
func ManagerEndpoints(m *coordinator.Manager) Endpoints {
	return func() []EndpointHealth {
		pollers := m.List()
		out := make([]EndpointHealth, 0, len(pollers))
		for _, p := range pollers {
			out = append(out, PollerHealth(p))
		}
		return out
	}
}

// PollerHealth summarises one poller.
func PollerHealth(p *coordinator.Poller) EndpointHealth {
	last := p.Last()
	h := EndpointHealth{
		ID:        p.ID(),
		Profile:   p.Profile().Name,
		Available: p.Available(),
		Stats:     p.Stats(),
	}
	if !last.OK() {
		h.Reason = last.Reason
	}
	if !last.Timestamp.IsZero() {
		ts := last.Timestamp
		h.LastSeen = &ts
	}
	return h
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	Version string

	// Interval is how often to publish health status. Default: 30 seconds.
	Interval time.Duration

	Publisher HealthPublisher
	Topic     string

	// Endpoints and Stats are optional.
	Endpoints Endpoints
	Stats     func() Statistics

	Logger Logger
}

// HealthReporter publishes periodic retained health messages.
type HealthReporter struct {
	cfg       HealthReporterConfig
	startTime time.Time
	logger    Logger

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewHealthReporter creates a new health reporter.
//
// Parameters:
//   - cfg: Configuration for the health reporter
//
// Returns:
//   - *HealthReporter: Ready to start (call Start to begin reporting)
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultHealthInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &HealthReporter{
		cfg:       cfg,
		startTime: time.Now(),
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Start begins periodic reporting until ctx is cancelled or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final "stopping" status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()
		//nolint:errcheck // Best-effort during shutdown
		h.publish(HealthStopping, "bridge stopping")
	})
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publish(HealthStarting, "bridge starting")
}

// PublishNow publishes the current health status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.Determine()
	return h.publish(status, reason)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logger.Warn("failed to publish initial health", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logger.Warn("failed to publish health", "error", err)
			}
		}
	}
}

// Determine evaluates the bridge status: degraded when MQTT is down or any
// endpoint is unavailable.
func (h *HealthReporter) Determine() (HealthStatus, string) {
	if h.cfg.Publisher == nil || !h.cfg.Publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	if h.cfg.Endpoints != nil {
		for _, ep := range h.cfg.Endpoints() {
			if !ep.Available {
				return HealthDegraded, "endpoint unavailable: " + ep.ID
			}
		}
	}
	return HealthHealthy, ""
}

// Message builds the health message for a status.
func (h *HealthReporter) Message(status HealthStatus, reason string) HealthMessage {
	msg := HealthMessage{
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       h.cfg.Version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Reason:        reason,
	}
	if h.cfg.Endpoints != nil {
		msg.Endpoints = h.cfg.Endpoints()
		msg.DevicesManaged = len(msg.Endpoints)
		for _, ep := range msg.Endpoints {
			if ep.Available {
				msg.DevicesAvailable++
			}
		}
	}
	if h.cfg.Stats != nil {
		stats := h.cfg.Stats()
		msg.Statistics = &stats
	}
	return msg
}

func (h *HealthReporter) publish(status HealthStatus, reason string) error {
	if h.cfg.Publisher == nil {
		return nil
	}
	payload, err := json.Marshal(h.Message(status, reason))
	if err != nil {
		return err
	}
	return h.cfg.Publisher.Publish(h.cfg.Topic, payload, 1, true)
}
