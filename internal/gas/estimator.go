// Package gas estimates default gas limits for transfers and two-leg swaps.
package gas

import (
	"math/big"
	"strings"

	"swap_rates/internal/domain"
)

// Default gas limits.
const (
	TransferETHLimit      uint64 = 21_000
	TransferTokenLimit    uint64 = 80_000
	ExchangeETHTokenLimit uint64 = 380_000
	ExchangeTokensLimit   uint64 = 760_000
	ApproveTokenLimit     uint64 = 120_000
	DigixLimit            uint64 = 770_000
	DAILimit              uint64 = 450_000
	MakerLimit            uint64 = 400_000
	PropyLimit            uint64 = 500_000
	PromotionTokenLimit   uint64 = 380_000
	TrueUSDLimit          uint64 = 500_000
)

// Table maps token symbols with bespoke costs to their default limit.
// The same limit is used for a transfer and for one swap leg.
type Table struct {
	Named            map[string]uint64
	TransferETH      uint64
	TransferToken    uint64
	ExchangeTokenLeg uint64
	// ExchangeTokens prices a token to token swap when neither side has a
	// bespoke leg cost.
	ExchangeTokens uint64
	Approve        uint64
}

// DefaultTable returns the built-in gas table.
func DefaultTable() Table {
	return Table{
		Named: map[string]uint64{
			"DGX":  DigixLimit,
			"DAI":  DAILimit,
			"MKR":  MakerLimit,
			"PRO":  PropyLimit,
			"PT":   PromotionTokenLimit,
			"TUSD": TrueUSDLimit,
		},
		TransferETH:      TransferETHLimit,
		TransferToken:    TransferTokenLimit,
		ExchangeTokenLeg: ExchangeETHTokenLimit,
		ExchangeTokens:   ExchangeTokensLimit,
		Approve:          ApproveTokenLimit,
	}
}

// WithOverrides returns a copy of t with extra named entries (symbol -> limit).
func (t Table) WithOverrides(overrides map[string]uint64) Table {
	named := make(map[string]uint64, len(t.Named)+len(overrides))
	for k, v := range t.Named {
		named[k] = v
	}
	for k, v := range overrides {
		if v > 0 {
			named[strings.ToUpper(k)] = v
		}
	}
	t.Named = named
	return t
}

// Estimator computes gas limits from a Table. It is immutable and safe for concurrent use.
type Estimator struct {
	table Table
}

func NewEstimator(table Table) *Estimator {
	return &Estimator{table: table}
}

func (e *Estimator) named(token domain.Token) (uint64, bool) {
	limit, ok := e.table.Named[strings.ToUpper(token.Symbol)]
	return limit, ok
}

// TransferGas returns the default gas limit for sending token.
func (e *Estimator) TransferGas(token domain.Token) uint64 {
	if token.GasLimitDefault > 0 {
		return token.GasLimitDefault
	}
	if token.IsETH() {
		return e.table.TransferETH
	}
	if limit, ok := e.named(token); ok {
		return limit
	}
	return e.table.TransferToken
}

// SwapGas returns the default gas limit for swapping from into to.
// Swaps are always priced as two legs through ETH.
func (e *Estimator) SwapGas(from, to domain.Token) uint64 {
	if from.SameAs(to) {
		return e.TransferGas(from)
	}
	if e.table.ExchangeTokens > 0 && e.plain(from) && e.plain(to) {
		return e.table.ExchangeTokens
	}
	return e.legCost(from) + e.legCost(to)
}

// plain reports whether token is an ERC20 priced at the generic leg cost.
func (e *Estimator) plain(token domain.Token) bool {
	if token.GasLimitDefault > 0 || token.IsETH() {
		return false
	}
	_, ok := e.named(token)
	return !ok
}

// ApproveGas returns the allowance approval limit spent before token can be
// sold. ETH needs no approval.
func (e *Estimator) ApproveGas(token domain.Token) uint64 {
	if token.IsETH() {
		return 0
	}
	return e.table.Approve
}

// legCost is the cost of converting token to or from ETH.
func (e *Estimator) legCost(token domain.Token) uint64 {
	if token.GasLimitDefault > 0 {
		return token.GasLimitDefault
	}
	if token.IsETH() {
		return 0
	}
	if limit, ok := e.named(token); ok {
		return limit
	}
	return e.table.ExchangeTokenLeg
}

// Gas price bounds in wei.
var (
	PriceDefault   = gwei(10)
	PriceMin       = gwei(5)
	PriceMax       = gwei(100)
	PromoWalletTip = gwei(2)
)

func gwei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000))
}

// ClampPrice keeps price within [PriceMin, PriceMax]; nil yields PriceDefault.
func ClampPrice(price *big.Int) *big.Int {
	switch {
	case price == nil:
		return new(big.Int).Set(PriceDefault)
	case price.Cmp(PriceMin) < 0:
		return new(big.Int).Set(PriceMin)
	case price.Cmp(PriceMax) > 0:
		return new(big.Int).Set(PriceMax)
	}
	return new(big.Int).Set(price)
}

// PromoPrice is the clamped price plus PromoWalletTip, paid by promo wallets
// so their swaps are mined ahead of the default price.
func PromoPrice(price *big.Int) *big.Int {
	p := ClampPrice(price)
	return p.Add(p, PromoWalletTip)
}

// Fee returns limit * price in wei.
func Fee(limit uint64, price *big.Int) *big.Int {
	if price == nil {
		return new(big.Int)
	}
	return new(big.Int).Mul(new(big.Int).SetUint64(limit), price)
}
