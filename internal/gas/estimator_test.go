package gas

import (
	"math/big"
	"testing"

	"swap_rates/internal/domain"
)

var (
	eth   = domain.Token{Symbol: "ETH", Decimals: 18}
	knc   = domain.Token{Symbol: "KNC", Decimals: 18}
	dai   = domain.Token{Symbol: "DAI", Decimals: 18}
	dgx   = domain.Token{Symbol: "DGX", Decimals: 9}
	omg   = domain.Token{Symbol: "OMG", Decimals: 18}
	tuned = domain.Token{Symbol: "SNT", Decimals: 18, GasLimitDefault: 250_000}
)

func TestTransferGas(t *testing.T) {
	e := NewEstimator(DefaultTable())

	tests := []struct {
		token domain.Token
		want  uint64
	}{
		{eth, TransferETHLimit},
		{knc, TransferTokenLimit},
		{dai, DAILimit},
		{dgx, DigixLimit},
		{tuned, 250_000},
	}
	for _, tt := range tests {
		t.Run(tt.token.Symbol, func(t *testing.T) {
			if got := e.TransferGas(tt.token); got != tt.want {
				t.Errorf("TransferGas(%s) = %d, want %d", tt.token.Symbol, got, tt.want)
			}
		})
	}
}

func TestSwapGas(t *testing.T) {
	e := NewEstimator(DefaultTable())

	tests := []struct {
		name     string
		from, to domain.Token
		want     uint64
	}{
		{"eth to token", eth, knc, ExchangeETHTokenLimit},
		{"token to eth", knc, eth, ExchangeETHTokenLimit},
		{"token to token", knc, omg, ExchangeTokensLimit},
		{"named legs", dai, dgx, DAILimit + DigixLimit},
		{"override leg", tuned, eth, 250_000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.SwapGas(tt.from, tt.to); got != tt.want {
				t.Errorf("SwapGas = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSwapGas_ExchangeTokensLimit(t *testing.T) {
	table := DefaultTable()
	table.ExchangeTokens = 700_000
	e := NewEstimator(table)

	if got := e.SwapGas(knc, omg); got != 700_000 {
		t.Errorf("plain token pair = %d, want 700000", got)
	}
	// a bespoke leg falls back to the per-leg sum
	if got := e.SwapGas(knc, dai); got != ExchangeETHTokenLimit+DAILimit {
		t.Errorf("named leg pair = %d", got)
	}
	if got := e.SwapGas(knc, tuned); got != ExchangeETHTokenLimit+250_000 {
		t.Errorf("tuned leg pair = %d", got)
	}

	table.ExchangeTokens = 0
	if got := NewEstimator(table).SwapGas(knc, omg); got != 2*ExchangeETHTokenLimit {
		t.Errorf("unset ExchangeTokens = %d", got)
	}
}

func TestApproveGas(t *testing.T) {
	e := NewEstimator(DefaultTable())
	if got := e.ApproveGas(eth); got != 0 {
		t.Errorf("ETH approve = %d", got)
	}
	for _, tok := range []domain.Token{knc, dai, tuned} {
		if got := e.ApproveGas(tok); got != ApproveTokenLimit {
			t.Errorf("%s approve = %d, want %d", tok.Symbol, got, ApproveTokenLimit)
		}
	}
}

func TestSwapGas_SameTokenIsTransfer(t *testing.T) {
	e := NewEstimator(DefaultTable())
	for _, tok := range []domain.Token{eth, knc, dai, dgx, omg, tuned} {
		if got, want := e.SwapGas(tok, tok), e.TransferGas(tok); got != want {
			t.Errorf("%s: SwapGas(t,t) = %d, TransferGas = %d", tok.Symbol, got, want)
		}
	}
}

func TestTable_WithOverrides(t *testing.T) {
	base := DefaultTable()
	table := base.WithOverrides(map[string]uint64{"omg": 300_000, "zero": 0})
	e := NewEstimator(table)

	if got := e.TransferGas(omg); got != 300_000 {
		t.Errorf("override not applied: %d", got)
	}
	if _, ok := table.Named["ZERO"]; ok {
		t.Error("zero override should be ignored")
	}
	if _, ok := base.Named["OMG"]; ok {
		t.Error("WithOverrides must not mutate the base table")
	}
}

func TestClampPrice(t *testing.T) {
	if got := ClampPrice(nil); got.Cmp(PriceDefault) != 0 {
		t.Errorf("nil price = %v", got)
	}
	if got := ClampPrice(big.NewInt(1)); got.Cmp(PriceMin) != 0 {
		t.Errorf("low price = %v", got)
	}
	if got := ClampPrice(gwei(500)); got.Cmp(PriceMax) != 0 {
		t.Errorf("high price = %v", got)
	}
	if got := ClampPrice(gwei(20)); got.Cmp(gwei(20)) != 0 {
		t.Errorf("in-range price = %v", got)
	}
}

func TestPromoPrice(t *testing.T) {
	tests := []struct {
		name  string
		price *big.Int
		want  *big.Int
	}{
		{"default", nil, gwei(12)},
		{"clamped low", big.NewInt(1), gwei(7)},
		{"clamped high", gwei(500), gwei(102)},
		{"in range", gwei(20), gwei(22)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PromoPrice(tt.price); got.Cmp(tt.want) != 0 {
				t.Errorf("PromoPrice = %v, want %v", got, tt.want)
			}
		})
	}
	if PriceDefault.Cmp(gwei(10)) != 0 {
		t.Error("PromoPrice mutated PriceDefault")
	}
}

func TestFee(t *testing.T) {
	got := Fee(TransferETHLimit, gwei(10))
	want := new(big.Int).Mul(big.NewInt(21_000), gwei(10))
	if got.Cmp(want) != 0 {
		t.Errorf("Fee = %v, want %v", got, want)
	}
}
