package domain

import (
	"math"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// Rate means "1 Source is worth Value / 10^Decimals Dest".
// A Rate is never mutated after construction; replace it instead.
type Rate struct {
	Source   string
	Dest     string
	Value    *big.Int
	Decimals int
}

// NewRate copies value so the caller can keep using its big.Int.
func NewRate(source, dest string, value *big.Int, decimals int) Rate {
	v := new(big.Int)
	if value != nil {
		v.Set(value)
	}
	return Rate{Source: source, Dest: dest, Value: v, Decimals: decimals}
}

// NewRateFromFloat encodes f with the given number of fractional digits.
// ok is false when f is NaN or infinite.
func NewRateFromFloat(source, dest string, f float64, decimals int) (Rate, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Rate{}, false
	}
	v := decimal.NewFromFloat(f).Shift(int32(decimals)).BigInt()
	return Rate{Source: source, Dest: dest, Value: v, Decimals: decimals}, true
}

// Decimal returns the rate as a decimal number of dest units.
func (r Rate) Decimal() decimal.Decimal {
	if r.Value == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(r.Value, -int32(r.Decimals))
}

// Float64 is a lossy view of the rate, used only for display math.
func (r Rate) Float64() float64 {
	f, _ := r.Decimal().Float64()
	return f
}

func (r Rate) IsZero() bool {
	return r.Value == nil || r.Value.Sign() == 0
}

// SourceAmountQuote is the cached-quote service answer. Value is a decimal
// string in source units and is only meaningful when Success is set.
type SourceAmountQuote struct {
	Success bool   `json:"success"`
	Value   string `json:"value"`
}

// TrackerRate is the third-party market rate of a token.
type TrackerRate struct {
	Symbol     string    `json:"symbol"`
	RateETHNow float64   `json:"rate_eth_now"`
	RateUSDNow float64   `json:"rate_usd_now"`
	FetchedAt  time.Time `json:"fetched_at"`
}
