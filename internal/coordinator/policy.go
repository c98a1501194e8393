package coordinator

import (
	"math"
	"time"
)

// Default poll policy.
const (
	DefaultInterval          = 15 * time.Second
	DefaultFailureThreshold  = 3
	DefaultBackoffInitial    = 30 * time.Second
	DefaultBackoffMultiplier = 2.0
	DefaultBackoffMax        = 5 * time.Minute
	DefaultConfirmDelay      = 2 * time.Second
)

// Policy holds the scheduling parameters of a poller.
type Policy struct {
	// Interval between polls while the endpoint is healthy.
	Interval time.Duration

	// FailureThreshold is the number of consecutive failed cycles after
	// which the endpoint is unavailable and polls back off.
	FailureThreshold int

	// BackoffInitial is the delay after the threshold is first reached.
	BackoffInitial time.Duration

	// BackoffMultiplier grows the delay for each further failure.
	BackoffMultiplier float64

	// BackoffMax caps the delay.
	BackoffMax time.Duration

	// ConfirmDelay is how soon after a command the status is re-read.
	ConfirmDelay time.Duration
}

// DefaultPolicy returns the default poll policy.
func DefaultPolicy() Policy {
	return Policy{
		Interval:          DefaultInterval,
		FailureThreshold:  DefaultFailureThreshold,
		BackoffInitial:    DefaultBackoffInitial,
		BackoffMultiplier: DefaultBackoffMultiplier,
		BackoffMax:        DefaultBackoffMax,
		ConfirmDelay:      DefaultConfirmDelay,
	}
}

// WithDefaults fills zero fields from DefaultPolicy.
func (p Policy) WithDefaults() Policy {
	d := DefaultPolicy()
	if p.Interval <= 0 {
		p.Interval = d.Interval
	}
	if p.FailureThreshold <= 0 {
		p.FailureThreshold = d.FailureThreshold
	}
	if p.BackoffInitial <= 0 {
		p.BackoffInitial = d.BackoffInitial
	}
	if p.BackoffMultiplier < 1 {
		p.BackoffMultiplier = d.BackoffMultiplier
	}
	if p.BackoffMax <= 0 {
		p.BackoffMax = d.BackoffMax
	}
	if p.BackoffMax < p.BackoffInitial {
		p.BackoffMax = p.BackoffInitial
	}
	if p.ConfirmDelay <= 0 {
		p.ConfirmDelay = d.ConfirmDelay
	}
	return p
}

// NextDelay returns the wait before the next poll given the number of
// consecutive failed cycles.
//
//	failures < threshold:  Interval
//	otherwise:             BackoffInitial × Multiplier^(failures−threshold), ≤ BackoffMax
func (p Policy) NextDelay(failures int) time.Duration {
	if failures < p.FailureThreshold {
		return p.Interval
	}
	exp := float64(failures - p.FailureThreshold)
	d := float64(p.BackoffInitial) * math.Pow(p.BackoffMultiplier, exp)
	if d >= float64(p.BackoffMax) || math.IsInf(d, 0) {
		return p.BackoffMax
	}
	return time.Duration(d)
}
