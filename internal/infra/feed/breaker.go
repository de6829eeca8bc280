package feed

import (
	"log/slog"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Failing, reject requests
	StateHalfOpen              // Testing recovery
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// BreakerConfig configures one endpoint's breaker.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening
	SuccessThreshold int           // half-open successes before closing
	Cooldown         time.Duration // open time before a half-open trial
}

// DefaultBreakerConfig trips after five failed fetches and retries after 30s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, SuccessThreshold: 1, Cooldown: 30 * time.Second}
}

// Breaker isolates a failing feed endpoint. Safe for concurrent use.
type Breaker struct {
	name string
	cfg  BreakerConfig
	now  func() time.Time

	// onChange is called without the lock held.
	onChange func(name string, s State)
	logger   *slog.Logger

	mu           sync.Mutex
	state        State
	failureCount int
	successCount int
	openedAt     time.Time
}

func newBreaker(name string, cfg BreakerConfig, logger *slog.Logger, onChange func(string, State)) *Breaker {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	return &Breaker{name: name, cfg: cfg, now: time.Now, logger: logger, onChange: onChange}
}

// Allow reports whether a request may proceed. An open breaker lets one
// trial through once the cooldown has passed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	changed := false
	allowed := true
	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
			b.state = StateHalfOpen
			b.successCount = 0
			changed = true
		} else {
			allowed = false
		}
	}
	b.mu.Unlock()

	if changed {
		b.notify(StateHalfOpen, "Circuit breaker HALF_OPEN")
	}
	return allowed
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	closed := false
	switch b.state {
	case StateClosed:
		b.failureCount = 0
	case StateHalfOpen:
		b.successCount++
		if b.successCount >= b.cfg.SuccessThreshold {
			b.state = StateClosed
			b.failureCount = 0
			b.successCount = 0
			closed = true
		}
	}
	b.mu.Unlock()

	if closed {
		b.notify(StateClosed, "Circuit breaker CLOSED (recovered)")
	}
}

func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	opened := false
	switch b.state {
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.cfg.FailureThreshold {
			b.state = StateOpen
			b.openedAt = b.now()
			opened = true
		}
	case StateHalfOpen:
		// a failed trial reopens immediately
		b.state = StateOpen
		b.openedAt = b.now()
		b.successCount = 0
		opened = true
	}
	b.mu.Unlock()

	if opened {
		b.notify(StateOpen, "Circuit breaker OPEN")
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) notify(s State, msg string) {
	if s == StateOpen {
		b.logger.Warn(msg, slog.String("feed", b.name))
	} else {
		b.logger.Info(msg, slog.String("feed", b.name))
	}
	if b.onChange != nil {
		b.onChange(b.name, s)
	}
}
