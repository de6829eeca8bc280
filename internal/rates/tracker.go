package rates

import (
	"sync"

	"swap_rates/internal/domain"
)

// TrackerStore is the in-memory tracker-rate store.
type TrackerStore struct {
	mu    sync.RWMutex
	rates map[string]domain.TrackerRate
}

func NewTrackerStore() *TrackerStore {
	return &TrackerStore{rates: make(map[string]domain.TrackerRate)}
}

// Replace swaps the whole snapshot.
func (s *TrackerStore) Replace(rates []domain.TrackerRate) {
	next := make(map[string]domain.TrackerRate, len(rates))
	for _, r := range rates {
		next[r.Symbol] = r
	}

	s.mu.Lock()
	s.rates = next
	s.mu.Unlock()
}

// Get returns the tracker rate of symbol.
func (s *TrackerStore) Get(symbol string) (domain.TrackerRate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rates[symbol]
	return r, ok
}

// ApplyCachedRates overlays cached ETH/USD rates onto tracker entries.
// Rates with any other dest, or for unknown symbols, are ignored.
func (s *TrackerStore) ApplyCachedRates(rates []domain.Rate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range rates {
		tr, ok := s.rates[r.Source]
		if !ok {
			continue
		}
		switch r.Dest {
		case domain.SymbolETH:
			tr.RateETHNow = r.Float64()
		case domain.SymbolUSD:
			tr.RateUSDNow = r.Float64()
		default:
			continue
		}
		s.rates[r.Source] = tr
	}
}

// Len returns the number of tracked symbols.
func (s *TrackerStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rates)
}
