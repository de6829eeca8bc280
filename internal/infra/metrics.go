package infra

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors on a private registry.
// It satisfies rates.Recorder.
type Metrics struct {
	reg *prometheus.Registry

	fetchTotal      *prometheus.CounterVec
	fetchLatency    *prometheus.HistogramVec
	cacheEntries    *prometheus.GaugeVec
	skippedTicks    *prometheus.CounterVec
	circuitOpen     *prometheus.GaugeVec
	eventsPublished *prometheus.CounterVec
	wsClients       prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		fetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rates_feed_fetch_total",
			Help: "Upstream feed fetches by result",
		}, []string{"feed", "result"}),
		fetchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rates_feed_fetch_seconds",
			Help:    "Upstream feed fetch latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"feed"}),
		cacheEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rates_cache_entries",
			Help: "Entries per rate cache table",
		}, []string{"table"}),
		skippedTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rates_refresh_skipped_ticks_total",
			Help: "Refresh ticks dropped because a fetch was still in flight",
		}, []string{"loop"}),
		circuitOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rates_feed_circuit_open",
			Help: "1 while the feed circuit breaker is open",
		}, []string{"feed"}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rates_events_published_total",
			Help: "Coordinator events forwarded to external sinks",
		}, []string{"sink", "event"}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rates_ws_clients",
			Help: "Connected websocket subscribers",
		}),
	}

	m.reg.MustRegister(
		m.fetchTotal,
		m.fetchLatency,
		m.cacheEntries,
		m.skippedTicks,
		m.circuitOpen,
		m.eventsPublished,
		m.wsClients,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry exposes the private registry for handlers and tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// ObserveFetch records one upstream fetch.
func (m *Metrics) ObserveFetch(feed string, err error, elapsed time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.fetchTotal.WithLabelValues(feed, result).Inc()
	m.fetchLatency.WithLabelValues(feed).Observe(elapsed.Seconds())
}

func (m *Metrics) SetCacheEntries(table string, n int) {
	m.cacheEntries.WithLabelValues(table).Set(float64(n))
}

func (m *Metrics) IncSkippedTick(loop string) {
	m.skippedTicks.WithLabelValues(loop).Inc()
}

// SetCircuitState sets the circuit breaker state (true = open).
func (m *Metrics) SetCircuitState(feed string, open bool) {
	v := 0.0
	if open {
		v = 1
	}
	m.circuitOpen.WithLabelValues(feed).Set(v)
}

func (m *Metrics) IncEventPublished(sink, event string) {
	m.eventsPublished.WithLabelValues(sink, event).Inc()
}

func (m *Metrics) IncrementConnections() { m.wsClients.Inc() }
func (m *Metrics) DecrementConnections() { m.wsClients.Dec() }

// Handler serves /healthz and /metrics.
func (m *Metrics) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	return mux
}

// Serve runs the metrics server until ctx is done. An empty addr disables it.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) {
	if addr == "" {
		logger.Info("Metrics server disabled")
		return
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           m.Handler(),
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("Metrics server starting", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server error", slog.Any("error", err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Metrics server shutdown error", slog.Any("error", err))
			return
		}
		logger.Info("Metrics server stopped")
	}()
}
