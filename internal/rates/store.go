package rates

import (
	"sort"
	"sync"

	"swap_rates/internal/domain"
)

// Table selects one of the three rate maps held by a Store.
type Table int

const (
	TableETH  Table = iota // token -> ETH, keyed by source symbol
	TableUSD               // token -> USD, keyed by source symbol
	TableProd              // production pair rates, keyed by PairKey
)

func (t Table) String() string {
	switch t {
	case TableETH:
		return "eth"
	case TableUSD:
		return "usd"
	case TableProd:
		return "prod"
	default:
		return "unknown"
	}
}

// PairKey builds the production table key of a pair, e.g. "KNC_ETH".
func PairKey(source, dest string) string {
	return source + "_" + dest
}

// KeyOf returns the key a rate is stored under in table t.
func KeyOf(t Table, r domain.Rate) string {
	if t == TableProd {
		return PairKey(r.Source, r.Dest)
	}
	return r.Source
}

// Store holds the latest rate per key for each table. Last write wins.
// Writes come from the coordinator only; reads are safe from any goroutine.
type Store struct {
	mu     sync.RWMutex
	tables [3]map[string]domain.Rate
}

func NewStore() *Store {
	s := &Store{}
	for i := range s.tables {
		s.tables[i] = make(map[string]domain.Rate)
	}
	return s
}

// Get returns the rate stored under key, if any.
func (s *Store) Get(t Table, key string) (domain.Rate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.tables[t][key]
	return r, ok
}

// Put overwrites the rate under key.
func (s *Store) Put(t Table, key string, r domain.Rate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tables[t][key] = r
}

// BulkPut stores every rate under KeyOf(t, rate).
func (s *Store) BulkPut(t Table, rates []domain.Rate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range rates {
		s.tables[t][KeyOf(t, r)] = r
	}
}

// Snapshot returns the rates of a table sorted by key.
func (s *Store) Snapshot(t Table) []domain.Rate {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.tables[t]))
	for k := range s.tables[t] {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]domain.Rate, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.tables[t][k])
	}
	return out
}

// Len returns the number of entries in a table.
func (s *Store) Len(t Table) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tables[t])
}
