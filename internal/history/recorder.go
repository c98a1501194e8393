package history

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/purifier-bridge/internal/coordinator"
)

const (
	defaultPruneInterval = time.Hour
	writeTimeout         = 5 * time.Second
)

// Logger is the logging interface used by the recorder.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Pruner deletes rows older than a retention window.
type Pruner interface {
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Recorder writes coordinator updates to a Repository.
type Recorder struct {
	repo          Repository
	extra         []Pruner
	retention     time.Duration
	pruneInterval time.Duration
	logger        Logger

	mu        sync.Mutex
	available map[string]bool
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithRetention enables pruning of entries older than d. Zero keeps
// everything.
func WithRetention(d time.Duration) RecorderOption {
	return func(r *Recorder) { r.retention = d }
}

// WithPruneInterval sets how often Run prunes.
func WithPruneInterval(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.pruneInterval = d
		}
	}
}

// WithPruners prunes other tables on the same schedule and retention.
func WithPruners(p ...Pruner) RecorderOption {
	return func(r *Recorder) { r.extra = append(r.extra, p...) }
}

// WithRecorderLogger sets the logger.
func WithRecorderLogger(l Logger) RecorderOption {
	return func(r *Recorder) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRecorder creates a recorder writing to repo.
func NewRecorder(repo Repository, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		repo:          repo,
		pruneInterval: defaultPruneInterval,
		logger:        noopLogger{},
		available:     make(map[string]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle records one update. It has the signature of a coordinator
// subscriber.
func (r *Recorder) Handle(u coordinator.Update) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	r.mu.Lock()
	prev, seen := r.available[u.EndpointID]
	r.available[u.EndpointID] = u.Available
	r.mu.Unlock()

	if u.OK() {
		s := DeviceStatus{
			DeviceID:  u.EndpointID,
			Profile:   u.Profile,
			Available: u.Available,
			Status:    u.Status,
			UpdatedAt: u.Timestamp,
		}
		if err := r.repo.SaveStatus(ctx, s); err != nil {
			r.logger.Warn("saving device status failed", "endpoint", u.EndpointID, "error", err)
		}
	}

	if !r.worthKeeping(u, prev, seen) {
		return
	}
	e := Entry{
		DeviceID:  u.EndpointID,
		Source:    u.Source,
		Available: u.Available,
		Reason:    u.Reason,
		Status:    u.Status,
		Changed:   u.Changed,
		CreatedAt: u.Timestamp,
	}
	if err := r.repo.Record(ctx, e); err != nil {
		r.logger.Warn("recording history failed", "endpoint", u.EndpointID, "error", err)
	}
}

// worthKeeping skips successful polls that changed nothing and kept the
// endpoint's availability.
func (r *Recorder) worthKeeping(u coordinator.Update, prevAvailable, seen bool) bool {
	switch {
	case u.Source == coordinator.SourceCommand:
		return true
	case !u.OK():
		return true
	case !seen || prevAvailable != u.Available:
		return true
	default:
		return len(u.Changed) > 0
	}
}

// Run prunes old entries until ctx is done. It returns immediately when
// no retention is configured.
func (r *Recorder) Run(ctx context.Context) {
	if r.retention <= 0 {
		return
	}
	r.prune(ctx)

	ticker := time.NewTicker(r.pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.prune(ctx)
		}
	}
}

func (r *Recorder) prune(ctx context.Context) {
	pruners := append([]Pruner{r.repo}, r.extra...)
	for _, p := range pruners {
		n, err := p.Prune(ctx, r.retention)
		if err != nil {
			r.logger.Warn("pruning history failed", "error", err)
			continue
		}
		if n > 0 {
			r.logger.Debug("pruned history", "rows", n)
		}
	}
}
