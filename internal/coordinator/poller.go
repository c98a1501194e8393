package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/purifier-bridge/internal/cipher"
	"github.com/nerrad567/purifier-bridge/internal/coap"
	"github.com/nerrad567/purifier-bridge/internal/codec"
	"github.com/nerrad567/purifier-bridge/internal/normalize"
	"github.com/nerrad567/purifier-bridge/internal/profile"
)

// subscriberQueueSize bounds each subscriber's pending updates.
const subscriberQueueSize = 16

// Update sources.
const (
	SourcePoll    = "poll"
	SourceCommand = "command"
)

// Failure reasons carried by Update.Reason.
const (
	ReasonTimeout               = "timeout"
	ReasonUnreachable           = "unreachable"
	ReasonHandshakeFailed       = "handshake_failed"
	ReasonDecryptError          = "decrypt_error"
	ReasonSessionExhausted      = "session_exhausted"
	ReasonMalformedPayload      = "malformed_payload"
	ReasonUnsupportedCapability = "unsupported_capability"
	ReasonRejected              = "rejected"
	ReasonCanceled              = "canceled"
	ReasonError                 = "error"
)

// Device is the protocol client a poller drives. *device.Client
// satisfies it.
type Device interface {
	FetchStatus(ctx context.Context) (codec.StatusMap, error)
	SendCommand(ctx context.Context, fields codec.StatusMap) error
	ResetSession()
	Close() error
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Update is published once per poll cycle and once per applied command.
type Update struct {
	EndpointID string `json:"endpoint_id"`
	Profile    string `json:"profile"`

	// Status is the full normalized status. After a failed cycle it holds
	// the last known status, which may be nil.
	Status normalize.Status `json:"full_status"`

	// Changed lists the fields that differ from the previous status.
	Changed []string `json:"changed_fields"`

	Timestamp time.Time `json:"timestamp"`
	Available bool      `json:"availability"`
	Source    string    `json:"source"`

	// Err and Reason describe a failed cycle.
	Err    error  `json:"-"`
	Reason string `json:"reason,omitempty"`
}

// OK reports whether the update is a success.
func (u Update) OK() bool {
	return u.Err == nil
}

// Reason classifies an error into one of the Reason constants.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, coap.ErrTimeout):
		return ReasonTimeout
	case errors.Is(err, coap.ErrUnreachable):
		return ReasonUnreachable
	case errors.Is(err, cipher.ErrHandshakeFailed):
		return ReasonHandshakeFailed
	case errors.Is(err, cipher.ErrDecryptError):
		return ReasonDecryptError
	case errors.Is(err, cipher.ErrSessionExhausted):
		return ReasonSessionExhausted
	case errors.Is(err, codec.ErrMalformedPayload):
		return ReasonMalformedPayload
	case errors.Is(err, codec.ErrUnsupportedCapability):
		return ReasonUnsupportedCapability
	case errors.Is(err, coap.ErrRequestRejected):
		return ReasonRejected
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ReasonCanceled
	default:
		return ReasonError
	}
}

// retryable reports whether the cycle may reset the session and try again.
func retryable(err error) bool {
	return errors.Is(err, cipher.ErrDecryptError) || errors.Is(err, cipher.ErrSessionExhausted)
}

// Stats holds poller statistics.
type Stats struct {
	Polls           uint64 `json:"polls"`
	Failures        uint64 `json:"failures"`
	Retries         uint64 `json:"retries"`
	Commands        uint64 `json:"commands"`
	CommandFailures uint64 `json:"command_failures"`
	Dropped         uint64 `json:"dropped_updates"`
}

type command struct {
	ctx    context.Context
	field  string
	key    string
	raw    any
	result chan error
}

type subscriber struct {
	fn    func(Update)
	queue chan Update
	quit  chan struct{}
	once  sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.quit) })
}

// Poller runs the poll loop for one endpoint. It is the handle returned by
// Manager.Start.
type Poller struct {
	id      string
	dev     Device
	profile *profile.DeviceProfile
	policy  Policy
	logger  Logger

	commands chan command

	// Snapshot of the last cycle.
	mu        sync.RWMutex
	status    normalize.Status
	available bool
	failures  int
	last      Update

	subsMu  sync.RWMutex
	subs    map[int]*subscriber
	nextSub int
	subWG   sync.WaitGroup

	polls           atomic.Uint64
	failed          atomic.Uint64
	retries         atomic.Uint64
	cmds            atomic.Uint64
	commandFailures atomic.Uint64
	dropped         atomic.Uint64

	lifeMu   sync.Mutex
	started  bool
	stopped  bool
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// NewPoller creates a poller. Call Start to begin polling.
func NewPoller(id string, dev Device, p *profile.DeviceProfile, policy Policy, logger Logger) *Poller {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Poller{
		id:        id,
		dev:       dev,
		profile:   p,
		policy:    policy.WithDefaults(),
		logger:    logger,
		commands:  make(chan command),
		available: true,
		subs:      make(map[int]*subscriber),
		done:      make(chan struct{}),
	}
}

// ID returns the endpoint ID.
func (p *Poller) ID() string {
	return p.id
}

// Profile returns the device profile in use.
func (p *Poller) Profile() *profile.DeviceProfile {
	return p.profile
}

// Policy returns the effective poll policy.
func (p *Poller) Policy() Policy {
	return p.policy
}

// Status returns a copy of the last known status.
func (p *Poller) Status() normalize.Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.status == nil {
		return nil
	}
	return p.status.Clone()
}

// Available reports the endpoint's availability.
func (p *Poller) Available() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.available
}

// Last returns the most recently published update.
func (p *Poller) Last() Update {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last
}

// Stats returns poller statistics.
func (p *Poller) Stats() Stats {
	return Stats{
		Polls:           p.polls.Load(),
		Failures:        p.failed.Load(),
		Retries:         p.retries.Load(),
		Commands:        p.cmds.Load(),
		CommandFailures: p.commandFailures.Load(),
		Dropped:         p.dropped.Load(),
	}
}

// Start launches the poll loop. The first poll runs immediately. Start is
// a no-op on a poller that is already running or has been stopped.
func (p *Poller) Start() {
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.run(ctx)
}

// Stop aborts any in-flight exchange, waits for the loop to exit, closes
// all subscribers and releases the device connection.
func (p *Poller) Stop() error {
	var err error
	p.stopOnce.Do(func() {
		p.lifeMu.Lock()
		p.stopped = true
		cancel := p.cancel
		p.lifeMu.Unlock()

		if cancel != nil {
			cancel()
			<-p.done
		} else {
			close(p.done)
		}

		p.subsMu.Lock()
		for id, s := range p.subs {
			s.close()
			delete(p.subs, id)
		}
		p.subsMu.Unlock()
		p.subWG.Wait()

		err = p.dev.Close()
		p.logger.Info("poller stopped", "endpoint", p.id)
	})
	return err
}

// Subscribe registers fn for every future update and returns a function
// that removes it. fn runs on its own goroutine.
func (p *Poller) Subscribe(fn func(Update)) (unsubscribe func()) {
	s := &subscriber{
		fn:    fn,
		queue: make(chan Update, subscriberQueueSize),
		quit:  make(chan struct{}),
	}

	p.subsMu.Lock()
	select {
	case <-p.done:
		p.subsMu.Unlock()
		return func() {}
	default:
	}
	id := p.nextSub
	p.nextSub++
	p.subs[id] = s
	p.subWG.Add(1)
	p.subsMu.Unlock()

	go func() {
		defer p.subWG.Done()
		for {
			select {
			case <-s.quit:
				return
			case u := <-s.queue:
				select {
				case <-s.quit:
					return
				default:
				}
				s.fn(u)
			}
		}
	}()

	return func() {
		p.subsMu.Lock()
		delete(p.subs, id)
		p.subsMu.Unlock()
		s.close()
	}
}

// Set writes one semantic field. It runs on the poll goroutine between
// polls and returns once the device has acknowledged the command, or with
// the command's error.
func (p *Poller) Set(ctx context.Context, field string, value any) error {
	key, raw, err := normalize.Denormalize(field, value, p.profile)
	if err != nil {
		return err
	}

	cmd := command{ctx: ctx, field: field, key: key, raw: raw, result: make(chan error, 1)}
	select {
	case p.commands <- cmd:
	case <-p.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.result:
		return err
	case <-p.done:
		return ErrStopped
	}
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)

	timer := time.NewTimer(0)
	defer timer.Stop()
	next := time.Now()

	for {
		select {
		case <-ctx.Done():
			return

		case cmd := <-p.commands:
			err := p.execute(ctx, cmd)
			cmd.result <- err
			if err == nil && time.Until(next) > p.policy.ConfirmDelay {
				next = time.Now().Add(p.policy.ConfirmDelay)
				timer.Reset(p.policy.ConfirmDelay)
			}

		case <-timer.C:
			p.poll(ctx)
			p.mu.RLock()
			delay := p.policy.NextDelay(p.failures)
			p.mu.RUnlock()
			next = time.Now().Add(delay)
			timer.Reset(delay)
		}
	}
}

// poll runs one cycle and publishes its result.
func (p *Poller) poll(ctx context.Context) {
	p.polls.Add(1)

	raw, err := p.dev.FetchStatus(ctx)
	if err != nil && retryable(err) && ctx.Err() == nil {
		p.retries.Add(1)
		p.logger.Debug("session invalid, retrying with new handshake", "endpoint", p.id, "error", err)
		p.dev.ResetSession()
		raw, err = p.dev.FetchStatus(ctx)
	}
	if err != nil {
		p.fail(ctx, err)
		return
	}

	status, dropped, err := normalize.Normalize(raw, p.profile)
	if err != nil {
		p.fail(ctx, err)
		return
	}
	if len(dropped) > 0 {
		p.logger.Debug("dropped unknown status fields", "endpoint", p.id, "profile", p.profile.Name, "keys", dropped)
	}

	p.mu.Lock()
	changed := status.Diff(p.status)
	recovered := !p.available
	p.status = status
	p.failures = 0
	p.available = true
	u := Update{
		EndpointID: p.id,
		Profile:    p.profile.Name,
		Status:     status.Clone(),
		Changed:    changed,
		Timestamp:  time.Now().UTC(),
		Available:  true,
		Source:     SourcePoll,
	}
	p.last = u
	p.mu.Unlock()

	if recovered {
		p.logger.Info("endpoint available again", "endpoint", p.id)
	}
	p.publish(u)
}

func (p *Poller) fail(ctx context.Context, err error) {
	if ctx.Err() != nil {
		// Shutting down; not a device failure.
		return
	}
	p.failed.Add(1)
	reason := Reason(err)

	p.mu.Lock()
	p.failures++
	lost := p.available && p.failures >= p.policy.FailureThreshold
	if lost {
		p.available = false
	}
	u := Update{
		EndpointID: p.id,
		Profile:    p.profile.Name,
		Timestamp:  time.Now().UTC(),
		Available:  p.available,
		Source:     SourcePoll,
		Err:        err,
		Reason:     reason,
	}
	if p.status != nil {
		u.Status = p.status.Clone()
	}
	failures := p.failures
	p.last = u
	p.mu.Unlock()

	if lost {
		p.logger.Warn("endpoint unavailable", "endpoint", p.id, "failures", failures, "reason", reason)
	} else {
		p.logger.Debug("poll failed", "endpoint", p.id, "failures", failures, "reason", reason, "error", err)
	}
	p.publish(u)
}

// execute sends one command, applies it optimistically and publishes.
func (p *Poller) execute(loopCtx context.Context, cmd command) error {
	p.cmds.Add(1)

	ctx, cancel := context.WithCancel(loopCtx)
	defer cancel()
	stop := context.AfterFunc(cmd.ctx, cancel)
	defer stop()

	fields := codec.StatusMap{cmd.key: cmd.raw}
	err := p.dev.SendCommand(ctx, fields)
	if err != nil && retryable(err) && ctx.Err() == nil {
		p.retries.Add(1)
		p.dev.ResetSession()
		err = p.dev.SendCommand(ctx, fields)
	}
	if err != nil {
		p.commandFailures.Add(1)
		p.logger.Warn("command failed", "endpoint", p.id, "field", cmd.field, "reason", Reason(err), "error", err)
		if cmd.ctx.Err() != nil {
			return cmd.ctx.Err()
		}
		return err
	}

	applied, _, err := normalize.Normalize(fields, p.profile)
	if err != nil {
		// Accepted by the device; the confirmation poll reports the truth.
		return nil //nolint:nilerr
	}

	p.mu.Lock()
	next := normalize.Status{}
	if p.status != nil {
		next = p.status.Clone()
	}
	for k, v := range applied {
		next[k] = v
	}
	changed := next.Diff(p.status)
	p.status = next
	u := Update{
		EndpointID: p.id,
		Profile:    p.profile.Name,
		Status:     next.Clone(),
		Changed:    changed,
		Timestamp:  time.Now().UTC(),
		Available:  p.available,
		Source:     SourceCommand,
	}
	p.last = u
	p.mu.Unlock()

	p.logger.Info("command applied", "endpoint", p.id, "field", cmd.field, "key", cmd.key)
	p.publish(u)
	return nil
}

// publish hands u to every subscriber without blocking.
func (p *Poller) publish(u Update) {
	p.subsMu.RLock()
	defer p.subsMu.RUnlock()
	for _, s := range p.subs {
		select {
		case s.queue <- u:
		default:
			p.dropped.Add(1)
		}
	}
}
