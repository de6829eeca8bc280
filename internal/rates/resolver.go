package rates

import (
	"math/big"

	"swap_rates/internal/domain"
)

// BridgeScale is the fixed-point unit of production-feed rates (18 decimals).
// Two-hop ETH bridging divides by it; it is tied to the feed encoding.
var BridgeScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// trackerDecimals is the precision of rates derived from tracker floats
// when no token decimals apply.
const trackerDecimals = 18

// rateResolver is one step of a fallback chain.
type rateResolver struct {
	name    string
	resolve func(from, to domain.Token) (domain.Rate, bool)
}

// firstRate tries resolvers in order and returns the first hit.
func firstRate(chain []rateResolver, from, to domain.Token) (domain.Rate, string, bool) {
	for _, r := range chain {
		if rate, ok := r.resolve(from, to); ok {
			return rate, r.name, true
		}
	}
	return domain.Rate{}, "", false
}

// valueResolver is one step of the production-rate chain.
type valueResolver struct {
	name    string
	resolve func(from, to domain.Token) (*big.Int, bool)
}

func firstValue(chain []valueResolver, from, to domain.Token) (*big.Int, string, bool) {
	for _, r := range chain {
		if v, ok := r.resolve(from, to); ok {
			return v, r.name, true
		}
	}
	return nil, "", false
}

// rateChain is the resolution order of GetRate.
func (c *Coordinator) rateChain() []rateResolver {
	return []rateResolver{
		{name: "eth_source_tracker", resolve: c.resolveFromETH},
		{name: "eth_dest_cache", resolve: c.resolveToETHCached},
		{name: "eth_dest_tracker", resolve: c.resolveToETHTracker},
		{name: "usd_cross", resolve: c.resolveCrossUSD},
	}
}

// prodChain is the resolution order of GetCachedProdRate.
func (c *Coordinator) prodChain() []valueResolver {
	return []valueResolver{
		{name: "prod_direct", resolve: c.resolveProdDirect},
		{name: "prod_eth_bridge", resolve: c.resolveProdBridge},
		{name: "tracker", resolve: func(from, to domain.Token) (*big.Int, bool) {
			r, ok := c.GetRate(from, to)
			if !ok {
				return nil, false
			}
			return r.Value, true
		}},
	}
}

// 1 ETH = 1/rateETHNow(to) units of to; zero when the tracker reports 0.
func (c *Coordinator) resolveFromETH(from, to domain.Token) (domain.Rate, bool) {
	if !from.IsETH() {
		return domain.Rate{}, false
	}
	tr, ok := c.tracker.Get(to.Symbol)
	if !ok {
		return domain.Rate{}, false
	}
	if tr.RateETHNow == 0 {
		return domain.NewRate(from.Symbol, to.Symbol, nil, to.Decimals), true
	}
	// a subnormal rate overflows the inverse; treat it as unknown
	return domain.NewRateFromFloat(from.Symbol, to.Symbol, 1/tr.RateETHNow, to.Decimals)
}

func (c *Coordinator) resolveToETHCached(from, to domain.Token) (domain.Rate, bool) {
	if !to.IsETH() {
		return domain.Rate{}, false
	}
	return c.store.Get(TableETH, from.Symbol)
}

func (c *Coordinator) resolveToETHTracker(from, to domain.Token) (domain.Rate, bool) {
	if !to.IsETH() {
		return domain.Rate{}, false
	}
	tr, ok := c.tracker.Get(from.Symbol)
	if !ok {
		return domain.Rate{}, false
	}
	return domain.NewRateFromFloat(from.Symbol, domain.SymbolETH, tr.RateETHNow, trackerDecimals)
}

// resolveCrossUSD uses USD as the common denominator.
func (c *Coordinator) resolveCrossUSD(from, to domain.Token) (domain.Rate, bool) {
	rf, ok := c.tracker.Get(from.Symbol)
	if !ok {
		return domain.Rate{}, false
	}
	rt, ok := c.tracker.Get(to.Symbol)
	if !ok || rt.RateUSDNow == 0 {
		return domain.Rate{}, false
	}
	return domain.NewRateFromFloat(from.Symbol, to.Symbol, rf.RateUSDNow/rt.RateUSDNow, to.Decimals)
}

func (c *Coordinator) resolveProdDirect(from, to domain.Token) (*big.Int, bool) {
	r, ok := c.store.Get(TableProd, PairKey(from.Symbol, to.Symbol))
	if !ok || r.Value == nil {
		return nil, false
	}
	return new(big.Int).Set(r.Value), true
}

// resolveProdBridge composes from->ETH and ETH->to production rates.
func (c *Coordinator) resolveProdBridge(from, to domain.Token) (*big.Int, bool) {
	toETH, ok := c.store.Get(TableProd, PairKey(from.Symbol, domain.SymbolETH))
	if !ok {
		return nil, false
	}
	fromETH, ok := c.store.Get(TableProd, PairKey(domain.SymbolETH, to.Symbol))
	if !ok || toETH.Value == nil || fromETH.Value == nil {
		return nil, false
	}
	v := new(big.Int).Mul(toETH.Value, fromETH.Value)
	return v.Quo(v, BridgeScale), true
}
