package feed

import "time"

const (
	defaultBackoffBase = 250 * time.Millisecond
	defaultBackoffMax  = 5 * time.Second
)

// Backoff computes exponential retry delays: Base * 2^retry, capped at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the wait before retry number retry (0-based).
// A negative retry count returns Base.
func (b Backoff) Delay(retry int) time.Duration {
	base, max := b.Base, b.Max
	if base <= 0 {
		base = defaultBackoffBase
	}
	if max <= 0 {
		max = defaultBackoffMax
	}
	if retry < 0 {
		return base
	}
	// 2^30 * base already exceeds any sane cap
	if retry > 30 {
		return max
	}
	d := base * time.Duration(1<<retry)
	if d > max || d <= 0 {
		return max
	}
	return d
}
