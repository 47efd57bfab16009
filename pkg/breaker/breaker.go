// Package breaker provides a keyed circuit breaker with a sliding
// per-minute request quota, plus a loop guard bounding workflow iteration.
// State is process-local and resets on restart.
package breaker

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is the per-key circuit state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Protective rejection errors. Callers must back off and retry later.
var (
	ErrCircuitOpen = errors.New("circuit open")
	ErrRateLimited = errors.New("rate limited")
)

// Config holds the breaker thresholds.
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	OpenTimeout      time.Duration
	RequestQuota     int
	QuotaWindow      time.Duration
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
		RequestQuota:     100,
		QuotaWindow:      time.Minute,
	}
}

type circuit struct {
	state        State
	failureCount int
	successCount int
	lastFailure  time.Time
	lastSuccess  time.Time
	requestCount int
	windowStart  time.Time
}

// Breaker tracks one circuit per key under a single lock. Keys are handler
// names or external call classes; they are created on first use.
type Breaker struct {
	mu       sync.Mutex
	circuits map[string]*circuit
	config   Config
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock substitutes the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		b.now = now
	}
}

// NewBreaker creates a breaker with the given thresholds.
func NewBreaker(config Config, logger *slog.Logger, opts ...Option) *Breaker {
	breaker := &Breaker{
		circuits: make(map[string]*circuit),
		config:   config,
		logger:   logger.With("module", "breaker"),
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(breaker)
	}

	return breaker
}

// CanExecute reports whether a call for key may proceed right now. The
// request quota is checked before the state machine, so a hot key is rate
// limited even while its circuit is closed.
func (b *Breaker) CanExecute(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(key)
	now := b.now()

	if now.Sub(c.windowStart) >= b.config.QuotaWindow {
		c.windowStart = now
		c.requestCount = 0
	}

	if c.requestCount >= b.config.RequestQuota {
		return fmt.Errorf("key %s: %w", key, ErrRateLimited)
	}

	switch c.state {
	case StateOpen:
		if now.Sub(c.lastFailure) < b.config.OpenTimeout {
			return fmt.Errorf("key %s: %w", key, ErrCircuitOpen)
		}

		c.state = StateHalfOpen
		c.successCount = 0

		b.logger.Info("Circuit half-open, probing", "key", key)
	case StateClosed, StateHalfOpen:
	}

	c.requestCount++

	return nil
}

// RecordSuccess notes a successful call. Enough successes in HalfOpen close
// the circuit; in Closed the failure count decays by one.
func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(key)
	c.lastSuccess = b.now()

	switch c.state {
	case StateHalfOpen:
		c.successCount++

		if c.successCount >= b.config.SuccessThreshold {
			c.state = StateClosed
			c.failureCount = 0

			b.logger.Info("Circuit closed", "key", key)
		}
	case StateClosed:
		if c.failureCount > 0 {
			c.failureCount--
		}
	case StateOpen:
	}
}

// RecordFailure notes a failed call. Enough failures in Closed open the
// circuit; any failure in HalfOpen reopens it immediately.
func (b *Breaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(key)
	c.lastFailure = b.now()

	switch c.state {
	case StateClosed:
		c.failureCount++

		if c.failureCount >= b.config.FailureThreshold {
			c.state = StateOpen

			b.logger.Warn("Circuit opened", "key", key, "failures", c.failureCount)
		}
	case StateHalfOpen:
		c.state = StateOpen

		b.logger.Warn("Circuit reopened after failed probe", "key", key)
	case StateOpen:
	}
}

// Execute runs fn under the breaker, recording the outcome. Any inner
// failure is reported as ErrCircuitOpen; the breaker does not inspect the
// underlying error beyond attaching it.
func (b *Breaker) Execute(key string, fn func() error) error {
	err := b.CanExecute(key)
	if err != nil {
		return err
	}

	err = fn()
	if err != nil {
		b.RecordFailure(key)

		return fmt.Errorf("key %s: %w: %s", key, ErrCircuitOpen, err)
	}

	b.RecordSuccess(key)

	return nil
}

// State returns the current circuit state for key.
func (b *Breaker) State(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.circuit(key).state
}

func (b *Breaker) circuit(key string) *circuit {
	c, ok := b.circuits[key]
	if !ok {
		c = &circuit{windowStart: b.now()}
		b.circuits[key] = c
	}

	return c
}
