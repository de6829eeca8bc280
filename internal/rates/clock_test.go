package rates

import (
	"testing"
	"time"
)

func TestManualClock_StopDetachesTicker(t *testing.T) {
	c := NewManualClock()
	a := c.NewTicker(time.Second)
	b := c.NewTicker(time.Second)
	other := c.NewTicker(time.Minute)

	if n := c.Tick(time.Second); n != 2 {
		t.Fatalf("fired %d tickers, want 2", n)
	}
	<-a.C()
	<-b.C()

	a.Stop()
	if n := len(c.tickers[time.Second]); n != 1 {
		t.Errorf("%d tickers left after Stop, want 1", n)
	}
	if n := c.Tick(time.Second); n != 1 {
		t.Errorf("fired %d tickers after Stop, want 1", n)
	}

	b.Stop()
	b.Stop()
	if _, ok := c.tickers[time.Second]; ok {
		t.Error("empty interval should be removed")
	}
	if n := c.Tick(time.Second); n != 0 {
		t.Errorf("fired %d stopped tickers", n)
	}
	if n := c.Tick(time.Minute); n != 1 {
		t.Errorf("unrelated ticker fired %d, want 1", n)
	}
	other.Stop()
	if len(c.tickers) != 0 {
		t.Errorf("tickers leaked: %v", c.tickers)
	}
}

func TestManualClock_PauseResumeDoesNotAccumulate(t *testing.T) {
	c := NewManualClock()
	for i := 0; i < 10; i++ {
		c.NewTicker(time.Second).Stop()
	}
	live := c.NewTicker(time.Second)
	if n := len(c.tickers[time.Second]); n != 1 {
		t.Errorf("%d tickers registered, want only the live one", n)
	}
	if n := c.Tick(time.Second); n != 1 {
		t.Errorf("fired %d, want 1", n)
	}
	live.Stop()
}
