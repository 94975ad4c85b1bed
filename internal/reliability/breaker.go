// Package reliability protects the gateway from unreliable tool servers:
// per-target circuit breakers, bounded concurrency gates, TTL+LRU result
// caches, and a retry/timeout wrapper. Each named resource has its own lock;
// there is no global lock across targets.
package reliability

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrCircuitOpen is returned when a breaker short-circuits a call. It never
// reaches the executor and never consumes retry budget.
var ErrCircuitOpen = errors.New("circuit open")

type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half_open"
)

type BreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	Cooldown         time.Duration
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Cooldown:         30 * time.Second,
	}
}

// CircuitBreaker is a per-target failure-isolation state machine. Legal
// transitions: CLOSED→OPEN, OPEN→HALF_OPEN, HALF_OPEN→CLOSED, HALF_OPEN→OPEN.
type CircuitBreaker struct {
	mu   sync.Mutex
	name string
	cfg  BreakerConfig

	state           BreakerState
	failureCount    int
	successCount    int
	lastFailureTime time.Time
	nextAttemptTime time.Time
	trialInFlight   bool

	now func() time.Time
}

func newCircuitBreaker(name string, cfg BreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		name:  name,
		cfg:   cfg,
		state: StateClosed,
		now:   time.Now,
	}
}

// Allow reports whether a call may proceed. While OPEN it fails fast until
// the cooldown elapses, then admits exactly one trial call in HALF_OPEN.
func (b *CircuitBreaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		if b.now().Before(b.nextAttemptTime) {
			return ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.trialInFlight = true
		log.Info().Str("target", b.name).Msg("circuit breaker half-open, admitting trial call")
		return nil

	default: // HALF_OPEN
		if b.trialInFlight {
			return ErrCircuitOpen
		}
		b.trialInFlight = true
		return nil
	}
}

// ReportSuccess records a successful call.
func (b *CircuitBreaker) ReportSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.trialInFlight = false
		b.successCount++
		if b.successCount >= b.cfg.SuccessThreshold {
			b.state = StateClosed
			b.failureCount = 0
			b.successCount = 0
			log.Info().Str("target", b.name).Msg("circuit breaker closed")
		}
	case StateClosed:
		b.failureCount = 0
	}
}

// ReportFailure records a failed call. Reaching the failure threshold in
// CLOSED opens the breaker; any HALF_OPEN failure reopens it immediately.
func (b *CircuitBreaker) ReportFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()

	switch b.state {
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.cfg.FailureThreshold {
			b.open(now)
		}
	case StateHalfOpen:
		b.trialInFlight = false
		b.successCount = 0
		b.failureCount++
		b.open(now)
	}
}

func (b *CircuitBreaker) open(now time.Time) {
	b.state = StateOpen
	b.lastFailureTime = now
	b.nextAttemptTime = now.Add(b.cfg.Cooldown)
	log.Warn().
		Str("target", b.name).
		Int("failures", b.failureCount).
		Time("next_attempt", b.nextAttemptTime).
		Msg("circuit breaker open")
}

// Reset forces CLOSED and zeroes all counters.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.failureCount = 0
	b.successCount = 0
	b.trialInFlight = false
	b.lastFailureTime = time.Time{}
	b.nextAttemptTime = time.Time{}
}

// RetryAfter returns how long until the next trial is admitted; zero when the
// breaker is not open.
func (b *CircuitBreaker) RetryAfter() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return 0
	}
	remaining := b.nextAttemptTime.Sub(b.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// BreakerStats is a read-only snapshot of one breaker.
type BreakerStats struct {
	Name            string       `json:"name"`
	State           BreakerState `json:"state"`
	FailureCount    int          `json:"failureCount"`
	SuccessCount    int          `json:"successCount"`
	LastFailureTime *time.Time   `json:"lastFailureTime,omitempty"`
	NextAttemptTime *time.Time   `json:"nextAttemptTime,omitempty"`
}

func (b *CircuitBreaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := BreakerStats{
		Name:         b.name,
		State:        b.state,
		FailureCount: b.failureCount,
		SuccessCount: b.successCount,
	}
	if !b.lastFailureTime.IsZero() {
		t := b.lastFailureTime
		stats.LastFailureTime = &t
	}
	if !b.nextAttemptTime.IsZero() {
		t := b.nextAttemptTime
		stats.NextAttemptTime = &t
	}
	return stats
}

// BreakerRegistry holds one breaker per target, created lazily on first use.
type BreakerRegistry struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	breakers map[string]*CircuitBreaker
}

func NewBreakerRegistry(cfg BreakerConfig) *BreakerRegistry {
	return &BreakerRegistry{
		cfg:      cfg,
		breakers: make(map[string]*CircuitBreaker),
	}
}

func (r *BreakerRegistry) Get(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := newCircuitBreaker(name, r.cfg)
	r.breakers[name] = b
	return b
}

// Reset resets one breaker, or all when name is empty.
func (r *BreakerRegistry) Reset(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name != "" {
		if b, ok := r.breakers[name]; ok {
			b.Reset()
		}
		return
	}
	for _, b := range r.breakers {
		b.Reset()
	}
}

func (r *BreakerRegistry) Stats() map[string]BreakerStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := make(map[string]BreakerStats, len(r.breakers))
	for name, b := range r.breakers {
		stats[name] = b.Stats()
	}
	return stats
}
