package rates

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"swap_rates/internal/domain"
)

// fakeFeed serves fixed responses. When trackerGate is set, tracker
// fetches block until it is closed.
type fakeFeed struct {
	eth, usd, prod []domain.Rate
	tracker        []domain.TrackerRate

	sourceAmount domain.SourceAmountQuote
	sourceArgs   []string

	ethErr, usdErr, prodErr, trackerErr, sourceErr error
	trackerGate                                    chan struct{}

	ethCalls, trackerCalls atomic.Int32
}

func (f *fakeFeed) FetchETHRates(ctx context.Context) ([]domain.Rate, error) {
	f.ethCalls.Add(1)
	return f.eth, f.ethErr
}

func (f *fakeFeed) FetchUSDRates(ctx context.Context) ([]domain.Rate, error) {
	return f.usd, f.usdErr
}

func (f *fakeFeed) FetchProductionRates(ctx context.Context) ([]domain.Rate, error) {
	return f.prod, f.prodErr
}

func (f *fakeFeed) FetchTrackerRates(ctx context.Context) ([]domain.TrackerRate, error) {
	f.trackerCalls.Add(1)
	if f.trackerGate != nil {
		select {
		case <-f.trackerGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.tracker, f.trackerErr
}

func (f *fakeFeed) FetchCachedSourceAmount(ctx context.Context, source, dest, destAmount string) (domain.SourceAmountQuote, error) {
	f.sourceArgs = []string{source, dest, destAmount}
	return f.sourceAmount, f.sourceErr
}

type countingRecorder struct {
	skipped atomic.Int32
	fetches atomic.Int32
}

func (r *countingRecorder) ObserveFetch(string, error, time.Duration) { r.fetches.Add(1) }
func (r *countingRecorder) SetCacheEntries(string, int)               {}
func (r *countingRecorder) IncSkippedTick(string)                     { r.skipped.Add(1) }

type eventLog struct {
	mu    sync.Mutex
	kinds []EventKind
}

func (l *eventLog) handle(ev Event) {
	l.mu.Lock()
	l.kinds = append(l.kinds, ev.Kind)
	l.mu.Unlock()
}

func (l *eventLog) count(kind EventKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, k := range l.kinds {
		if k == kind {
			n++
		}
	}
	return n
}

func (l *eventLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.kinds)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startCoordinator(t *testing.T, feed *fakeFeed, rec Recorder) (*Coordinator, *ManualClock, *eventLog) {
	t.Helper()
	clk := NewManualClock()
	c := NewCoordinator(feed, NewStore(), NewTrackerStore(), Config{Clock: clk, Metrics: rec})
	log := &eventLog{}
	c.Subscribe(log.handle)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(c.Stop)
	return c, clk, log
}

func TestCoordinator_ResumeFillsCaches(t *testing.T) {
	feed := &fakeFeed{
		eth: []domain.Rate{
			domain.NewRate("KNC", "ETH", e(2, 15), 18),
			domain.NewRate("KNC", "USD", e(5, 17), 18), // wrong dest for this feed
		},
		usd:     []domain.Rate{domain.NewRate("KNC", "USD", e(6, 17), 18)},
		prod:    []domain.Rate{domain.NewRate("KNC", "DAI", e(3, 17), 18)},
		tracker: []domain.TrackerRate{{Symbol: "KNC", RateETHNow: 0.001, RateUSDNow: 0.1}},
	}
	c, _, log := startCoordinator(t, feed, nil)
	c.Resume()

	waitFor(t, "production load", func() bool { return log.count(EventProdCacheLoadSucceeded) == 1 })
	waitFor(t, "tracker overlay", func() bool {
		tr, ok := c.TrackerRate("KNC")
		return ok && tr.RateETHNow == 0.002 && tr.RateUSDNow == 0.6
	})

	if n := c.store.Len(TableETH); n != 1 {
		t.Errorf("ETH table has %d entries, want 1", n)
	}
	if r, ok := c.GetCacheRate("KNC", "DAI"); !ok || r.Value.Cmp(e(3, 17)) != 0 {
		t.Errorf("prod KNC_DAI = %v (ok=%v)", r.Value, ok)
	}
	if log.count(EventRateCacheUpdated) < 3 {
		t.Errorf("expected at least 3 cache-updated events, got %d", log.count(EventRateCacheUpdated))
	}
}

func TestCoordinator_FailuresAreIsolated(t *testing.T) {
	boom := errors.New("boom")
	feed := &fakeFeed{ethErr: boom, usdErr: boom, prodErr: boom, trackerErr: boom}
	c, _, log := startCoordinator(t, feed, nil)
	c.Resume()

	waitFor(t, "production failure", func() bool { return log.count(EventProdCacheLoadFailed) == 1 })
	time.Sleep(50 * time.Millisecond)

	if log.len() != 1 {
		t.Errorf("expected only the production failure event, got %d events", log.len())
	}
	if c.store.Len(TableETH) != 0 || c.store.Len(TableProd) != 0 {
		t.Error("failed fetches must not touch the caches")
	}
}

func TestCoordinator_FastLoopTicks(t *testing.T) {
	feed := &fakeFeed{}
	c, clk, _ := startCoordinator(t, feed, nil)
	c.Resume()

	waitFor(t, "initial fetch", func() bool { return feed.ethCalls.Load() == 1 })
	waitFor(t, "fast ticker", func() bool { return clk.Tick(DefaultFastInterval) == 1 })
	waitFor(t, "ticked fetch", func() bool { return feed.ethCalls.Load() >= 2 })
}

func TestCoordinator_SlowLoopSkipsWhileInFlight(t *testing.T) {
	gate := make(chan struct{})
	feed := &fakeFeed{
		tracker:     []domain.TrackerRate{{Symbol: "KNC", RateETHNow: 0.002}},
		trackerGate: gate,
	}
	rec := &countingRecorder{}
	c, clk, _ := startCoordinator(t, feed, rec)
	c.Resume()

	waitFor(t, "first tracker fetch", func() bool { return feed.trackerCalls.Load() == 1 })
	clk.Tick(DefaultSlowInterval)
	waitFor(t, "skipped tick", func() bool { return rec.skipped.Load() >= 1 })
	clk.Tick(DefaultSlowInterval)

	if n := feed.trackerCalls.Load(); n != 1 {
		t.Fatalf("tracker fetched %d times while in flight, want 1", n)
	}

	close(gate)
	waitFor(t, "tracker store filled", func() bool {
		_, ok := c.TrackerRate("KNC")
		return ok
	})
	waitFor(t, "next tick fetches", func() bool {
		clk.Tick(DefaultSlowInterval)
		return feed.trackerCalls.Load() >= 2
	})
}

func TestCoordinator_PauseResume(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	feed := &fakeFeed{trackerGate: gate}
	c, clk, _ := startCoordinator(t, feed, nil)

	c.Pause() // before any Resume
	c.Resume()
	waitFor(t, "first tracker fetch", func() bool { return feed.trackerCalls.Load() == 1 })

	c.Pause()
	c.Pause()
	if n := clk.Tick(DefaultFastInterval); n != 0 {
		t.Errorf("paused coordinator still has %d live fast tickers", n)
	}

	// Pause cleared the in-flight flag, so the next Resume fetches again.
	c.Resume()
	waitFor(t, "second tracker fetch", func() bool { return feed.trackerCalls.Load() == 2 })
	waitFor(t, "second fast fetch", func() bool { return feed.ethCalls.Load() == 2 })
}

func TestCoordinator_ResumeBeforeStart(t *testing.T) {
	feed := &fakeFeed{}
	c := NewCoordinator(feed, NewStore(), NewTrackerStore(), Config{Clock: NewManualClock()})
	c.Resume()
	c.Stop()

	if feed.ethCalls.Load() != 0 {
		t.Error("Resume before Start must not fetch")
	}
}

func TestCoordinator_CachedSourceAmount(t *testing.T) {
	usc := domain.Token{Symbol: "USC", Decimals: 6}

	tests := []struct {
		name   string
		quote  domain.SourceAmountQuote
		err    error
		want   string
		ok     bool
		hasErr bool
	}{
		{"quoted", domain.SourceAmountQuote{Success: true, Value: "12.5"}, nil, "12500000000000000000", true, false},
		{"service has no quote", domain.SourceAmountQuote{Success: false, Value: "12.5"}, nil, "", false, false},
		{"unparsable value", domain.SourceAmountQuote{Success: true, Value: "n/a"}, nil, "", false, false},
		{"feed error", domain.SourceAmountQuote{}, errors.New("boom"), "", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			feed := &fakeFeed{sourceAmount: tt.quote, sourceErr: tt.err}
			c := NewCoordinator(feed, NewStore(), NewTrackerStore(), Config{})

			v, ok, err := c.CachedSourceAmount(context.Background(), tokKNC, usc, big.NewInt(2500000))
			if (err != nil) != tt.hasErr {
				t.Fatalf("err = %v", err)
			}
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && v.String() != tt.want {
				t.Errorf("amount = %s, want %s", v, tt.want)
			}
			if got := feed.sourceArgs; len(got) != 3 || got[0] != "KNC" || got[1] != "USC" || got[2] != "2.5" {
				t.Errorf("feed called with %v", got)
			}
		})
	}
}
