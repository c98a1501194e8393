package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/purifier-bridge/internal/audit"
	"github.com/nerrad567/purifier-bridge/internal/coordinator"
	"github.com/nerrad567/purifier-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/purifier-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/purifier-bridge/internal/normalize"
)

const (
	// defaultCommandTimeout bounds one command from MQTT to device ack.
	defaultCommandTimeout = 10 * time.Second

	defaultHealthInterval = 30 * time.Second
)

// MQTTClient is the subset of *mqtt.Client the bridge uses.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
	Topics() mqtt.Topics
	QoS() byte
}

// Controller is the subset of *coordinator.Manager the bridge uses.
type Controller interface {
	Set(ctx context.Context, id, field string, value any) error
	SubscribeAll(fn func(coordinator.Update))
}

// Telemetry receives time-series data. *influxdb.Client satisfies it.
type Telemetry interface {
	WriteStatus(deviceID, profile string, status map[string]any, ts time.Time)
	WriteAvailability(deviceID string, available bool, ts time.Time)
	WriteFilter(deviceID, filter string, percent int, remaining int64, ts time.Time)
	Flush()
}

// AuditLog records executed commands. *audit.SQLiteRepository satisfies it.
type AuditLog interface {
	Create(ctx context.Context, e *audit.Entry) error
}

var (
	_ MQTTClient = (*mqtt.Client)(nil)
	_ Controller = (*coordinator.Manager)(nil)
	_ Telemetry  = (*influxdb.Client)(nil)
	_ AuditLog   = (*audit.SQLiteRepository)(nil)
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options holds the dependencies and settings of a bridge.
type Options struct {
	// MQTT and Controller are required.
	MQTT       MQTTClient
	Controller Controller

	// Endpoints feeds the health report. Optional.
	Endpoints Endpoints

	// Telemetry is optional.
	Telemetry Telemetry

	// Audit records executed commands. Optional.
	Audit AuditLog

	Logger  Logger
	Version string

	// HealthInterval defaults to 30s.
	HealthInterval time.Duration

	// FilterThreshold is the low-filter percentage; 0 means
	// normalize.DefaultFilterThreshold.
	FilterThreshold int

	// CommandTimeout defaults to 10s.
	CommandTimeout time.Duration

	// NewCommandID generates IDs for commands that carry none.
	NewCommandID func() string
}

// endpointState is what the bridge remembers per endpoint between updates.
type endpointState struct {
	available bool

	// hasStatus is set once a successful status established the
	// low-filter baseline.
	hasStatus  bool
	lowFilters map[string]bool
}

// Bridge connects coordinator updates and commands to MQTT.
type Bridge struct {
	mqtt       MQTTClient
	controller Controller
	telemetry  Telemetry
	audit      AuditLog
	topics     mqtt.Topics
	qos        byte
	logger     Logger
	health     *HealthReporter

	threshold      int
	commandTimeout time.Duration
	newID          func() string

	stateMu sync.Mutex
	state   map[string]*endpointState

	statesPublished  atomic.Uint64
	eventsPublished  atomic.Uint64
	commandsReceived atomic.Uint64
	commandsFailed   atomic.Uint64
	publishErrors    atomic.Uint64

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a bridge. Call Start to begin operation.
func New(opts Options) (*Bridge, error) {
	if opts.MQTT == nil {
		return nil, fmt.Errorf("%w: MQTT client", ErrMissingDependency)
	}
	if opts.Controller == nil {
		return nil, fmt.Errorf("%w: controller", ErrMissingDependency)
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		mqtt:           opts.MQTT,
		controller:     opts.Controller,
		telemetry:      opts.Telemetry,
		audit:          opts.Audit,
		topics:         opts.MQTT.Topics(),
		qos:            opts.MQTT.QoS(),
		logger:         opts.Logger,
		threshold:      opts.FilterThreshold,
		commandTimeout: opts.CommandTimeout,
		newID:          opts.NewCommandID,
		state:          make(map[string]*endpointState),
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
	}
	if b.logger == nil {
		b.logger = noopLogger{}
	}
	if b.threshold <= 0 {
		b.threshold = normalize.DefaultFilterThreshold
	}
	if b.commandTimeout <= 0 {
		b.commandTimeout = defaultCommandTimeout
	}
	if b.newID == nil {
		b.newID = NewCommandID
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTT,
		Topic:     b.topics.Health(),
		Endpoints: opts.Endpoints,
		Stats:     b.Statistics,
		Logger:    b.logger,
	})
	return b, nil
}

// Start subscribes to commands and coordinator updates and starts health
// reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logger.Warn("failed to publish starting status", "error", err)
	}

	topic := b.topics.AllDeviceCommands()
	if err := b.mqtt.Subscribe(topic, b.qos, b.handleCommand); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logger.Info("subscribed to commands", "topic", topic)

	b.controller.SubscribeAll(b.HandleUpdate)
	b.health.Start(ctx)

	b.logger.Info("bridge started", "prefix", b.topics.Prefix)
	return nil
}

// Stop aborts in-flight commands, publishes a stopping health status and
// waits for pending work.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.cancel()

		if err := b.mqtt.Unsubscribe(b.topics.AllDeviceCommands()); err != nil {
			b.logger.Debug("unsubscribe on stop failed", "error", err)
		}
		b.health.Stop()
		b.wg.Wait()
		if b.telemetry != nil {
			b.telemetry.Flush()
		}
		b.logger.Info("bridge stopped")
	})
}

func (b *Bridge) stopped() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// Statistics returns the bridge counters.
func (b *Bridge) Statistics() Statistics {
	return Statistics{
		StatesPublished:  b.statesPublished.Load(),
		EventsPublished:  b.eventsPublished.Load(),
		CommandsReceived: b.commandsReceived.Load(),
		CommandsFailed:   b.commandsFailed.Load(),
		PublishErrors:    b.publishErrors.Load(),
	}
}

// HandleUpdate publishes one coordinator update. It is registered with
// the controller by Start.
func (b *Bridge) HandleUpdate(u coordinator.Update) {
	if b.stopped() {
		return
	}

	b.stateMu.Lock()
	st, seen := b.state[u.EndpointID]
	if !seen {
		st = &endpointState{lowFilters: make(map[string]bool)}
		b.state[u.EndpointID] = st
	}
	availabilityChanged := !seen || st.available != u.Available
	firstStatus := u.OK() && !st.hasStatus
	st.available = u.Available

	var newlyLow []normalize.FilterLevel
	var low []string
	if u.OK() {
		levels := normalize.Filters(u.Status, b.threshold)
		current := make(map[string]bool, len(levels))
		for _, lvl := range levels {
			if !lvl.Low {
				continue
			}
			current[lvl.Name] = true
			low = append(low, lvl.Name)
			if st.hasStatus && !st.lowFilters[lvl.Name] {
				newlyLow = append(newlyLow, lvl)
			}
		}
		st.lowFilters = current
		st.hasStatus = true
		b.writeFilterTelemetry(u, levels)
	}
	b.stateMu.Unlock()

	if availabilityChanged {
		b.publishAvailability(u)
		if b.telemetry != nil {
			b.telemetry.WriteAvailability(u.EndpointID, u.Available, u.Timestamp)
		}
	}

	if !u.OK() {
		b.logger.Debug("poll failed", "endpoint", u.EndpointID, "reason", u.Reason, "available", u.Available)
		return
	}

	if firstStatus || availabilityChanged || len(u.Changed) > 0 || u.Source == coordinator.SourceCommand {
		b.publishState(u, low)
	}
	if b.telemetry != nil && u.Source == coordinator.SourcePoll {
		b.telemetry.WriteStatus(u.EndpointID, u.Profile, u.Status, u.Timestamp)
	}
	for _, lvl := range newlyLow {
		b.publishFilterEvent(u, lvl)
	}
}

func (b *Bridge) writeFilterTelemetry(u coordinator.Update, levels []normalize.FilterLevel) {
	if b.telemetry == nil || u.Source != coordinator.SourcePoll {
		return
	}
	for _, lvl := range levels {
		b.telemetry.WriteFilter(u.EndpointID, lvl.Name, lvl.Percent, int64(lvl.Remaining), u.Timestamp)
	}
}

func (b *Bridge) publishState(u coordinator.Update, low []string) {
	msg := StateMessage{
		DeviceID:   u.EndpointID,
		Profile:    u.Profile,
		Timestamp:  u.Timestamp,
		Status:     u.Status,
		Changed:    u.Changed,
		Source:     u.Source,
		LowFilters: low,
	}
	if b.publishJSON(b.topics.DeviceState(u.EndpointID), msg, true) {
		b.statesPublished.Add(1)
	}
}

func (b *Bridge) publishAvailability(u coordinator.Update) {
	msg := AvailabilityMessage{
		DeviceID:  u.EndpointID,
		Available: u.Available,
		Timestamp: u.Timestamp,
	}
	if !u.Available {
		msg.Reason = u.Reason
	}
	b.publishJSON(b.topics.DeviceAvailability(u.EndpointID), msg, true)
}

func (b *Bridge) publishFilterEvent(u coordinator.Update, lvl normalize.FilterLevel) {
	msg := EventMessage{
		DeviceID:  u.EndpointID,
		Event:     EventFilterLow,
		Timestamp: u.Timestamp,
		Filter:    lvl.Name,
		Percent:   lvl.Percent,
		Remaining: lvl.Remaining,
	}
	if b.publishJSON(b.topics.DeviceEvent(u.EndpointID, EventFilterLow), msg, false) {
		b.eventsPublished.Add(1)
		b.logger.Info("filter low", "endpoint", u.EndpointID, "filter", lvl.Name, "percent", lvl.Percent)
	}
}

// publishJSON reports whether the message was handed to the broker.
func (b *Bridge) publishJSON(topic string, v any, retained bool) bool {
	payload, err := json.Marshal(v)
	if err != nil {
		b.publishErrors.Add(1)
		b.logger.Error("encoding message failed", "topic", topic, "error", err)
		return false
	}
	if err := b.mqtt.Publish(topic, payload, b.qos, retained); err != nil {
		b.publishErrors.Add(1)
		b.logger.Warn("publish failed", "topic", topic, "error", err)
		return false
	}
	return true
}
