package domain

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Well-known symbols the core treats specially.
const (
	SymbolETH  = "ETH"
	SymbolWETH = "WETH"
	SymbolKNC  = "KNC"
	SymbolPT   = "PT"
	SymbolUSD  = "USD"
)

// Token describes a supported token.
// GasLimitDefault of 0 means no per-token override.
type Token struct {
	Symbol          string
	Name            string
	Address         common.Address
	Decimals        int
	GasLimitDefault uint64
}

func (t Token) IsETH() bool  { return t.Symbol == SymbolETH }
func (t Token) IsWETH() bool { return t.Symbol == SymbolWETH }

// Is reports whether t has the given symbol (case-insensitive).
func (t Token) Is(symbol string) bool {
	return strings.EqualFold(t.Symbol, symbol)
}

// SameAs compares tokens by contract address, falling back to symbol
// when either address is unset.
func (t Token) SameAs(o Token) bool {
	if t.Address == (common.Address{}) || o.Address == (common.Address{}) {
		return t.Symbol == o.Symbol
	}
	return t.Address == o.Address
}
