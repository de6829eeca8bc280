// Package format renders fixed-point amounts and rates for display.
package format

import (
	"math"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// significantDigits is the fractional budget counted from the first non-zero digit.
	significantDigits = 4
	separator         = '.'
)

// DisplayRate renders raw (with decimals implied fractional digits) keeping at most
// four fractional digits after any leading fractional zeros.
//
//	DisplayRate(12345e9, 18)  == "0.00001234"
//	DisplayRate(15e17, 18)    == "1.5000"
//	DisplayRate(0, 18)        == "0.0000"
func DisplayRate(raw *big.Int, decimals int) string {
	if decimals < 0 {
		decimals = 0
	}
	if raw == nil || raw.Sign() == 0 {
		return decimal.Zero.StringFixed(int32(min(decimals, significantDigits)))
	}
	full := decimal.NewFromBigInt(raw, -int32(decimals)).StringFixed(int32(decimals))
	return DisplayRateString(full)
}

// DisplayRateString applies the DisplayRate truncation to an already rendered number.
func DisplayRateString(s string) string {
	sep := strings.IndexByte(s, separator)
	if sep < 0 {
		return s
	}
	padded := s + strings.Repeat("0", significantDigits)

	counted := 0
	for i := sep + 1; i < len(padded); i++ {
		if counted > 0 || padded[i] != '0' {
			counted++
		}
		if counted == significantDigits {
			return padded[:i+1]
		}
	}
	// all-zero fraction
	return padded[:sep+1+significantDigits]
}

// Amount renders raw with at most maxFrac fractional digits (truncated, trailing zeros dropped).
func Amount(raw *big.Int, decimals, maxFrac int) string {
	if raw == nil {
		return "0"
	}
	d := decimal.NewFromBigInt(raw, -int32(decimals)).Truncate(int32(min(decimals, maxFrac)))
	return d.String()
}

// Percentage renders a percentage with two fractional digits. NaN and
// infinities render as "0.00".
func Percentage(p float64) string {
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return decimal.Zero.StringFixed(2)
	}
	return decimal.NewFromFloat(p).StringFixed(2)
}

// ParseAmount reads a user-entered amount ("1,234.5") into base units of a
// token with the given decimals. Extra precision is truncated. Empty,
// malformed and negative input report false.
func ParseAmount(s string, decimals int) (*big.Int, bool) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return nil, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() {
		return nil, false
	}
	return d.Shift(int32(decimals)).BigInt(), true
}
