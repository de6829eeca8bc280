package rates

import (
	"context"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"swap_rates/internal/domain"
	"swap_rates/internal/format"
)

const (
	// DefaultFastInterval paces the ETH/USD/production cache refresh.
	DefaultFastInterval = 10 * time.Second
	// DefaultSlowInterval paces the bulk tracker-rate refresh.
	DefaultSlowInterval = 60 * time.Second

	inboxSize = 64
)

// Recorder receives refresh metrics. infra.Metrics implements it.
type Recorder interface {
	ObserveFetch(feed string, err error, elapsed time.Duration)
	SetCacheEntries(table string, n int)
	IncSkippedTick(loop string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveFetch(string, error, time.Duration) {}
func (nopRecorder) SetCacheEntries(string, int)               {}
func (nopRecorder) IncSkippedTick(string)                     {}

// Config tunes a Coordinator. Zero values fall back to defaults.
type Config struct {
	FastInterval time.Duration
	SlowInterval time.Duration
	Clock        Clock
	Metrics      Recorder
	Logger       *slog.Logger
}

// Coordinator keeps the rate caches fresh and answers rate queries.
//
// All cache mutation runs on a single main goroutine started by Start.
// Fetches run on their own goroutines and hand their results to the main
// goroutine through the inbox, one closure per completed request.
type Coordinator struct {
	feed    domain.RateFeed
	store   *Store
	tracker domain.TrackerRateStore
	bus     *Bus

	clock        Clock
	metrics      Recorder
	logger       *slog.Logger
	fastInterval time.Duration
	slowInterval time.Duration

	inbox   chan func()
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup // main goroutine
	fetchWG sync.WaitGroup

	mu      sync.Mutex // guards stop and loopsWG
	stop    chan struct{}
	loopsWG sync.WaitGroup

	trackerInFlight atomic.Bool
}

// NewCoordinator wires a coordinator; call Start, then Resume.
func NewCoordinator(feed domain.RateFeed, store *Store, tracker domain.TrackerRateStore, cfg Config) *Coordinator {
	c := &Coordinator{
		feed:         feed,
		store:        store,
		tracker:      tracker,
		bus:          NewBus(),
		clock:        cfg.Clock,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		fastInterval: cfg.FastInterval,
		slowInterval: cfg.SlowInterval,
		inbox:        make(chan func(), inboxSize),
	}
	if c.clock == nil {
		c.clock = SystemClock{}
	}
	if c.metrics == nil {
		c.metrics = nopRecorder{}
	}
	if c.logger == nil {
		c.logger = slog.Default().With("module", "rate_coordinator")
	}
	if c.fastInterval <= 0 {
		c.fastInterval = DefaultFastInterval
	}
	if c.slowInterval <= 0 {
		c.slowInterval = DefaultSlowInterval
	}
	return c
}

// Start runs the main goroutine until ctx is done or Stop is called.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx != nil {
		return nil
	}
	c.ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go c.run(c.ctx)
	return nil
}

func (c *Coordinator) run(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Rate coordinator stopped")
			return
		case fn := <-c.inbox:
			fn()
		}
	}
}

// Stop pauses refreshing, ends the main goroutine and waits for fetches to drain.
func (c *Coordinator) Stop() {
	c.Pause()
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	c.wg.Wait()
	c.fetchWG.Wait()
}

// Resume fetches everything immediately and arms both refresh loops.
// Calling it again restarts the loops.
func (c *Coordinator) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx == nil {
		c.logger.Warn("Resume called before Start")
		return
	}
	c.stopLoopsLocked()

	stop := make(chan struct{})
	c.stop = stop

	c.refreshCaches()
	c.startLoop(stop, c.clock.NewTicker(c.fastInterval), c.refreshCaches)

	c.refreshTracker()
	c.startLoop(stop, c.clock.NewTicker(c.slowInterval), c.refreshTracker)

	c.logger.Info("Rate refresh resumed",
		slog.Duration("fast_interval", c.fastInterval),
		slog.Duration("slow_interval", c.slowInterval))
}

// Pause disarms both loops and clears the tracker in-flight flag.
// Requests already dispatched still complete and land in the caches.
func (c *Coordinator) Pause() {
	c.mu.Lock()
	stopped := c.stopLoopsLocked()
	c.mu.Unlock()

	c.trackerInFlight.Store(false)
	if stopped {
		c.logger.Info("Rate refresh paused")
	}
}

func (c *Coordinator) stopLoopsLocked() bool {
	if c.stop == nil {
		return false
	}
	close(c.stop)
	c.stop = nil
	c.loopsWG.Wait()
	return true
}

func (c *Coordinator) startLoop(stop <-chan struct{}, t Ticker, tick func()) {
	c.loopsWG.Add(1)
	go func() {
		defer c.loopsWG.Done()
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-c.ctx.Done():
				return
			case <-t.C():
				tick()
			}
		}
	}()
}

// Subscribe registers an event handler. Handlers run on the main goroutine.
func (c *Coordinator) Subscribe(h Handler) (unsubscribe func()) {
	return c.bus.Subscribe(h)
}

// post hands fn to the main goroutine, dropping it once the coordinator is stopped.
func (c *Coordinator) post(fn func()) {
	select {
	case c.inbox <- fn:
	case <-c.ctx.Done():
	}
}

// dispatch runs fetch off the main goroutine and posts done with its result.
func dispatch[T any](c *Coordinator, feed string, fetch func(context.Context) (T, error), done func(T, error)) {
	ctx := c.ctx
	c.fetchWG.Add(1)
	go func() {
		defer c.fetchWG.Done()
		start := time.Now()
		v, err := fetch(ctx)
		c.metrics.ObserveFetch(feed, err, time.Since(start))
		c.post(func() { done(v, err) })
	}()
}

// refreshCaches is the fast loop: three independent fetches, no overlap guard.
func (c *Coordinator) refreshCaches() {
	dispatch(c, "eth_rates", c.feed.FetchETHRates, c.onETHRates)
	dispatch(c, "usd_rates", c.feed.FetchUSDRates, c.onUSDRates)
	dispatch(c, "prod_rates", c.feed.FetchProductionRates, c.onProdRates)
}

// refreshTracker is the slow loop; a tick is dropped while a fetch is in flight.
func (c *Coordinator) refreshTracker() {
	if !c.trackerInFlight.CompareAndSwap(false, true) {
		c.metrics.IncSkippedTick("tracker")
		c.logger.Debug("Tracker refresh still in flight, tick skipped")
		return
	}
	dispatch(c, "tracker_rates", c.feed.FetchTrackerRates, c.onTrackerRates)
}

func (c *Coordinator) onETHRates(rates []domain.Rate, err error) {
	if err != nil {
		c.logger.Warn("ETH rate fetch failed", slog.Any("error", err))
		return
	}
	c.mergeView(TableETH, domain.SymbolETH, rates)
}

func (c *Coordinator) onUSDRates(rates []domain.Rate, err error) {
	if err != nil {
		c.logger.Warn("USD rate fetch failed", slog.Any("error", err))
		return
	}
	c.mergeView(TableUSD, domain.SymbolUSD, rates)
}

// mergeView stores rates quoted in dest and overlays the view onto the tracker store.
func (c *Coordinator) mergeView(t Table, dest string, rates []domain.Rate) {
	view := make([]domain.Rate, 0, len(rates))
	for _, r := range rates {
		if r.Dest == dest {
			view = append(view, r)
		}
	}
	c.store.BulkPut(t, view)
	c.metrics.SetCacheEntries(t.String(), c.store.Len(t))
	c.applyView(t)
}

func (c *Coordinator) applyView(t Table) {
	c.tracker.ApplyCachedRates(c.store.Snapshot(t))
	c.bus.Publish(EventRateCacheUpdated)
}

func (c *Coordinator) onProdRates(rates []domain.Rate, err error) {
	if err != nil {
		c.logger.Warn("Production rate fetch failed", slog.Any("error", err))
		c.bus.Publish(EventProdCacheLoadFailed)
		return
	}
	c.store.BulkPut(TableProd, rates)
	c.metrics.SetCacheEntries(TableProd.String(), c.store.Len(TableProd))
	c.bus.Publish(EventRateCacheUpdated)
	c.bus.Publish(EventProdCacheLoadSucceeded)
}

func (c *Coordinator) onTrackerRates(rates []domain.TrackerRate, err error) {
	c.trackerInFlight.Store(false)
	if err != nil {
		c.logger.Warn("Tracker rate fetch failed", slog.Any("error", err))
		return
	}
	c.tracker.Replace(rates)
	// cached rates are fresher than the tracker snapshot
	c.applyView(TableUSD)
	c.applyView(TableETH)
	c.logger.Debug("Tracker rates replaced", slog.Int("symbols", len(rates)))
}

// GetRate returns the tracker-derived rate of from in to.
// from and to must differ.
func (c *Coordinator) GetRate(from, to domain.Token) (domain.Rate, bool) {
	r, _, ok := firstRate(c.rateChain(), from, to)
	return r, ok
}

// GetCachedProdRate returns the production rate of from in to, bridging
// through ETH and finally falling back to GetRate.
func (c *Coordinator) GetCachedProdRate(from, to domain.Token) (*big.Int, bool) {
	v, _, ok := firstValue(c.prodChain(), from, to)
	return v, ok
}

// GetCacheRate is a plain cache read: "ETH" and "USD" select their tables,
// anything else is looked up as a production pair.
func (c *Coordinator) GetCacheRate(fromSymbol, to string) (domain.Rate, bool) {
	switch to {
	case domain.SymbolETH:
		return c.store.Get(TableETH, fromSymbol)
	case domain.SymbolUSD:
		return c.store.Get(TableUSD, fromSymbol)
	default:
		return c.store.Get(TableProd, PairKey(fromSymbol, to))
	}
}

// USDRate returns the cached USD rate of token, else the tracker USD rate.
func (c *Coordinator) USDRate(token domain.Token) (domain.Rate, bool) {
	if r, ok := c.store.Get(TableUSD, token.Symbol); ok {
		return r, true
	}
	if tr, ok := c.tracker.Get(token.Symbol); ok {
		return domain.NewRateFromFloat(token.Symbol, domain.SymbolUSD, tr.RateUSDNow, trackerDecimals)
	}
	return domain.Rate{}, false
}

// ETHRate returns the cached ETH rate of token, else the tracker ETH rate.
func (c *Coordinator) ETHRate(token domain.Token) (domain.Rate, bool) {
	if r, ok := c.GetCacheRate(token.Symbol, domain.SymbolETH); ok {
		return r, true
	}
	if tr, ok := c.tracker.Get(token.Symbol); ok {
		return domain.NewRateFromFloat(token.Symbol, domain.SymbolETH, tr.RateETHNow, trackerDecimals)
	}
	return domain.Rate{}, false
}

// TrackerRate exposes the tracker entry of symbol to read-only consumers.
func (c *Coordinator) TrackerRate(symbol string) (domain.TrackerRate, bool) {
	return c.tracker.Get(symbol)
}

// CachedSourceAmount asks the cached-quote service how much of from, in base
// units, buys destAmount base units of to. ok is false when the service has
// no quote or answers with an unparsable value. It blocks until ctx is done
// or the feed answers, and touches no cache state.
func (c *Coordinator) CachedSourceAmount(ctx context.Context, from, to domain.Token, destAmount *big.Int) (*big.Int, bool, error) {
	amount := decimal.Zero
	if destAmount != nil {
		amount = decimal.NewFromBigInt(destAmount, -int32(to.Decimals))
	}

	start := time.Now()
	q, err := c.feed.FetchCachedSourceAmount(ctx, from.Symbol, to.Symbol, amount.String())
	c.metrics.ObserveFetch("source_amount", err, time.Since(start))
	if err != nil {
		return nil, false, err
	}
	if !q.Success {
		return nil, false, nil
	}
	v, ok := format.ParseAmount(q.Value, from.Decimals)
	if !ok {
		c.logger.Debug("Unparsable cached source amount",
			slog.String("pair", PairKey(from.Symbol, to.Symbol)),
			slog.String("value", q.Value))
		return nil, false, nil
	}
	return v, true, nil
}
