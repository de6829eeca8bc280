package rates

import (
	"math"
	"math/big"
	"testing"

	"swap_rates/internal/domain"
)

var (
	tokETH = domain.Token{Symbol: "ETH", Decimals: 18}
	tokKNC = domain.Token{Symbol: "KNC", Decimals: 18}
	tokDAI = domain.Token{Symbol: "DAI", Decimals: 18}
	tokOMG = domain.Token{Symbol: "OMG", Decimals: 18}
	tokUSC = domain.Token{Symbol: "USC", Decimals: 6}
)

// e returns m * 10^exp.
func e(m, exp int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(m), new(big.Int).Exp(big.NewInt(10), big.NewInt(exp), nil))
}

func newTestCoordinator() (*Coordinator, *Store, *TrackerStore) {
	store := NewStore()
	tracker := NewTrackerStore()
	return NewCoordinator(&fakeFeed{}, store, tracker, Config{}), store, tracker
}

func TestGetRate(t *testing.T) {
	c, store, tracker := newTestCoordinator()
	tracker.Replace([]domain.TrackerRate{
		{Symbol: "KNC", RateETHNow: 0.25, RateUSDNow: 0.5},
		{Symbol: "DAI", RateETHNow: 0.005, RateUSDNow: 1},
		{Symbol: "ZRO", RateETHNow: 0, RateUSDNow: 0},
		{Symbol: "USC", RateUSDNow: 1},
	})
	store.Put(TableETH, "OMG", domain.NewRate("OMG", "ETH", e(3, 16), 18))

	tests := []struct {
		name     string
		from, to domain.Token
		want     *big.Int
		decimals int
		ok       bool
	}{
		{"eth to token inverts tracker", tokETH, tokKNC, e(4, 18), 18, true},
		{"eth to token with zero tracker rate", tokETH, domain.Token{Symbol: "ZRO", Decimals: 18}, big.NewInt(0), 18, true},
		{"eth to unknown token", tokETH, domain.Token{Symbol: "NOPE", Decimals: 18}, nil, 0, false},
		{"token to eth from cache", tokOMG, tokETH, e(3, 16), 18, true},
		{"token to eth from tracker", tokKNC, tokETH, e(25, 16), 18, true},
		{"usd cross", tokKNC, tokDAI, e(5, 17), 18, true},
		{"usd cross uses dest decimals", tokKNC, tokUSC, big.NewInt(500000), 6, true},
		{"usd cross with zero dest usd", tokKNC, domain.Token{Symbol: "ZRO", Decimals: 18}, nil, 0, false},
		{"unknown source", domain.Token{Symbol: "NOPE"}, tokDAI, nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, ok := c.GetRate(tt.from, tt.to)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if r.Value.Cmp(tt.want) != 0 {
				t.Errorf("value = %s, want %s", r.Value, tt.want)
			}
			if r.Decimals != tt.decimals {
				t.Errorf("decimals = %d, want %d", r.Decimals, tt.decimals)
			}
		})
	}
}

func TestGetRate_USDCrossMatchesRatio(t *testing.T) {
	c, _, tracker := newTestCoordinator()
	tracker.Replace([]domain.TrackerRate{
		{Symbol: "KNC", RateUSDNow: 0.731},
		{Symbol: "DAI", RateUSDNow: 1.002},
	})

	r, ok := c.GetRate(tokKNC, tokDAI)
	if !ok {
		t.Fatal("expected a cross rate")
	}
	if got, want := r.Float64(), 0.731/1.002; math.Abs(got-want) > 1e-12 {
		t.Errorf("cross = %v, want %v", got, want)
	}
}

func TestGetRate_OverflowingTrackerValuesAreAbsent(t *testing.T) {
	c, _, tracker := newTestCoordinator()
	tracker.Replace([]domain.TrackerRate{
		{Symbol: "KNC", RateETHNow: 5e-324, RateUSDNow: 1e10},
		{Symbol: "DAI", RateUSDNow: 1e-300},
	})

	if r, ok := c.GetRate(tokETH, tokKNC); ok {
		t.Errorf("GetRate(ETH, KNC) = %v, want absent when 1/rate overflows", r.Value)
	}
	if r, ok := c.GetRate(tokKNC, tokDAI); ok {
		t.Errorf("GetRate(KNC, DAI) = %v, want absent when the USD cross overflows", r.Value)
	}
	if v, ok := c.GetCachedProdRate(tokKNC, tokDAI); ok {
		t.Errorf("GetCachedProdRate(KNC, DAI) = %v, want absent", v)
	}
	if _, ok := c.GetRate(tokKNC, tokETH); !ok {
		t.Error("GetRate(KNC, ETH) is finite and should resolve")
	}
	if _, ok := c.USDRate(tokKNC); !ok {
		t.Error("USDRate(KNC) is finite and should resolve")
	}
}

func TestGetRate_ETHRoundTrip(t *testing.T) {
	c, _, tracker := newTestCoordinator()
	tracker.Replace([]domain.TrackerRate{{Symbol: "KNC", RateETHNow: 0.0016}})

	there, ok1 := c.GetRate(tokETH, tokKNC)
	back, ok2 := c.GetRate(tokKNC, tokETH)
	if !ok1 || !ok2 {
		t.Fatal("expected both directions to resolve")
	}
	if p := there.Float64() * back.Float64(); math.Abs(p-1) > 1e-9 {
		t.Errorf("round trip product = %v, want 1", p)
	}
}

func TestGetCachedProdRate(t *testing.T) {
	t.Run("direct pair", func(t *testing.T) {
		c, store, _ := newTestCoordinator()
		store.Put(TableProd, "KNC_DAI", domain.NewRate("KNC", "DAI", e(31, 16), 18))

		v, ok := c.GetCachedProdRate(tokKNC, tokDAI)
		if !ok || v.Cmp(e(31, 16)) != 0 {
			t.Fatalf("got %v (ok=%v)", v, ok)
		}
		v.SetInt64(0)
		if r, _ := store.Get(TableProd, "KNC_DAI"); r.Value.Cmp(e(31, 16)) != 0 {
			t.Error("caller mutation leaked into the store")
		}
	})

	t.Run("bridged through eth", func(t *testing.T) {
		c, store, _ := newTestCoordinator()
		store.Put(TableProd, "KNC_ETH", domain.NewRate("KNC", "ETH", e(2, 15), 18))
		store.Put(TableProd, "ETH_DAI", domain.NewRate("ETH", "DAI", e(150, 18), 18))

		v, ok := c.GetCachedProdRate(tokKNC, tokDAI)
		if !ok {
			t.Fatal("expected bridged rate")
		}
		if v.Cmp(e(3, 17)) != 0 {
			t.Errorf("bridged = %s, want %s", v, e(3, 17))
		}
	})

	t.Run("half a bridge falls back to tracker", func(t *testing.T) {
		c, store, tracker := newTestCoordinator()
		store.Put(TableProd, "KNC_ETH", domain.NewRate("KNC", "ETH", e(2, 15), 18))
		tracker.Replace([]domain.TrackerRate{{Symbol: "KNC", RateUSDNow: 0.5}, {Symbol: "DAI", RateUSDNow: 1}})

		v, ok := c.GetCachedProdRate(tokKNC, tokDAI)
		if !ok || v.Cmp(e(5, 17)) != 0 {
			t.Errorf("got %v (ok=%v), want tracker cross 5e17", v, ok)
		}
	})

	t.Run("nothing known", func(t *testing.T) {
		c, _, _ := newTestCoordinator()
		if _, ok := c.GetCachedProdRate(tokKNC, tokDAI); ok {
			t.Error("expected no rate")
		}
	})
}

func TestGetCacheRate(t *testing.T) {
	c, store, _ := newTestCoordinator()
	store.Put(TableETH, "KNC", domain.NewRate("KNC", "ETH", big.NewInt(1), 18))
	store.Put(TableUSD, "KNC", domain.NewRate("KNC", "USD", big.NewInt(2), 18))
	store.Put(TableProd, "KNC_DAI", domain.NewRate("KNC", "DAI", big.NewInt(3), 18))

	for to, want := range map[string]int64{"ETH": 1, "USD": 2, "DAI": 3} {
		r, ok := c.GetCacheRate("KNC", to)
		if !ok || r.Value.Int64() != want {
			t.Errorf("GetCacheRate(KNC, %s) = %v (ok=%v), want %d", to, r.Value, ok, want)
		}
	}
	if _, ok := c.GetCacheRate("KNC", "OMG"); ok {
		t.Error("unexpected prod hit for KNC_OMG")
	}
}

func TestUSDAndETHRate(t *testing.T) {
	c, store, tracker := newTestCoordinator()
	tracker.Replace([]domain.TrackerRate{{Symbol: "OMG", RateETHNow: 0.5, RateUSDNow: 2}})
	store.Put(TableUSD, "KNC", domain.NewRate("KNC", "USD", e(7, 17), 18))

	if r, ok := c.USDRate(tokKNC); !ok || r.Value.Cmp(e(7, 17)) != 0 {
		t.Errorf("USDRate(KNC) = %v (ok=%v)", r.Value, ok)
	}
	if r, ok := c.USDRate(tokOMG); !ok || r.Value.Cmp(e(2, 18)) != 0 {
		t.Errorf("USDRate(OMG) tracker fallback = %v (ok=%v)", r.Value, ok)
	}
	if r, ok := c.ETHRate(tokOMG); !ok || r.Value.Cmp(e(5, 17)) != 0 {
		t.Errorf("ETHRate(OMG) tracker fallback = %v (ok=%v)", r.Value, ok)
	}
	if _, ok := c.ETHRate(tokDAI); ok {
		t.Error("ETHRate(DAI) should miss")
	}
}
