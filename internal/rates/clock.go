package rates

import (
	"sync"
	"time"
)

// Ticker is the part of time.Ticker the coordinator needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Clock creates tickers.
type Clock interface {
	NewTicker(d time.Duration) Ticker
}

// SystemClock is backed by time.NewTicker.
type SystemClock struct{}

func (SystemClock) NewTicker(d time.Duration) Ticker {
	return &systemTicker{t: time.NewTicker(d)}
}

type systemTicker struct {
	t *time.Ticker
}

func (s *systemTicker) C() <-chan time.Time { return s.t.C }
func (s *systemTicker) Stop()               { s.t.Stop() }

// ManualClock hands out tickers that fire only when Tick is called.
type ManualClock struct {
	mu      sync.Mutex
	tickers map[time.Duration][]*ManualTicker
}

func NewManualClock() *ManualClock {
	return &ManualClock{tickers: make(map[time.Duration][]*ManualTicker)}
}

func (c *ManualClock) NewTicker(d time.Duration) Ticker {
	t := &ManualTicker{ch: make(chan time.Time, 1), clock: c, d: d}
	c.mu.Lock()
	c.tickers[d] = append(c.tickers[d], t)
	c.mu.Unlock()
	return t
}

// Tick fires every live ticker created with interval d and reports how many fired.
func (c *ManualClock) Tick(d time.Duration) int {
	c.mu.Lock()
	ts := append([]*ManualTicker(nil), c.tickers[d]...)
	c.mu.Unlock()

	fired := 0
	for _, t := range ts {
		if t.fire(time.Now()) {
			fired++
		}
	}
	return fired
}

func (c *ManualClock) remove(d time.Duration, t *ManualTicker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := c.tickers[d]
	for i, x := range ts {
		if x == t {
			ts = append(ts[:i:i], ts[i+1:]...)
			break
		}
	}
	if len(ts) == 0 {
		delete(c.tickers, d)
		return
	}
	c.tickers[d] = ts
}

// ManualTicker is a Ticker driven by ManualClock.
type ManualTicker struct {
	mu      sync.Mutex
	ch      chan time.Time
	stopped bool

	clock *ManualClock
	d     time.Duration
}

func (t *ManualTicker) C() <-chan time.Time { return t.ch }

// Stop detaches the ticker from its clock. Stopping twice is a no-op.
func (t *ManualTicker) Stop() {
	t.mu.Lock()
	already := t.stopped
	t.stopped = true
	t.mu.Unlock()
	if !already && t.clock != nil {
		t.clock.remove(t.d, t)
	}
}

// fire drops the tick when one is already pending, like time.Ticker.
func (t *ManualTicker) fire(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return false
	}
	select {
	case t.ch <- now:
		return true
	default:
		return false
	}
}
