package upstream

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while a service is cooling down after repeated failures.
var ErrCircuitOpen = errors.New("circuit open")

// BreakerState is the position of a Breaker.
type BreakerState int

const (
	// BreakerClosed lets every call through.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects calls until the cooldown elapses.
	BreakerOpen
	// BreakerHalfOpen lets a single probe through.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker stops calling a service after consecutive failures. A nil *Breaker allows everything.
type Breaker struct {
	mu        sync.Mutex
	service   string
	threshold int
	cooldown  time.Duration
	state     BreakerState
	failures  int
	openedAt  time.Time
	probing   bool
	now       func() time.Time
}

// NewBreaker opens after threshold consecutive failures and probes again after cooldown.
func NewBreaker(service string, threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		service:   service,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Allow returns ErrCircuitOpen when the call must not be attempted.
func (b *Breaker) Allow() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return fmt.Errorf("%s: %w", b.service, ErrCircuitOpen)
		}
		b.state = BreakerHalfOpen
		b.probing = true
		return nil
	case BreakerHalfOpen:
		if b.probing {
			return fmt.Errorf("%s: %w", b.service, ErrCircuitOpen)
		}
		b.probing = true
		return nil
	default:
		return nil
	}
}

// Record feeds the outcome of an allowed call back into the breaker.
// Only service-side failures count; caller mistakes and cancellations do not.
func (b *Breaker) Record(err error) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if err == nil {
		if b.state != BreakerClosed {
			slog.Info("upstream recovered", slog.String("service", b.service))
		}
		b.state = BreakerClosed
		b.failures = 0
		return
	}
	if !tripsBreaker(err) {
		// A probe the caller abandoned proves nothing; the next call probes
		// again. Any other answer means the service is reachable.
		if b.state == BreakerHalfOpen && Class(err) != "canceled" {
			slog.Info("upstream recovered", slog.String("service", b.service), slog.String("probe_result", Class(err)))
			b.state = BreakerClosed
			b.failures = 0
		}
		return
	}
	b.failures++
	if b.state == BreakerHalfOpen || b.failures >= b.threshold {
		if b.state != BreakerOpen {
			slog.Warn("upstream circuit opened",
				slog.String("service", b.service),
				slog.Int("failures", b.failures),
				slog.Duration("cooldown", b.cooldown))
		}
		b.state = BreakerOpen
		b.openedAt = b.now()
	}
}

// State reports the current position.
func (b *Breaker) State() BreakerState {
	if b == nil {
		return BreakerClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func tripsBreaker(err error) bool {
	switch Class(err) {
	case "transport", "timeout", "5xx", "rate_limit":
		return true
	default:
		return false
	}
}
