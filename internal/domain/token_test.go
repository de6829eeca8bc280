package domain

import (
	"math"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func TestToken_SameAs(t *testing.T) {
	knc := Token{Symbol: "KNC", Address: common.HexToAddress("0xdd974d5c2e2928dea5f71b9825b8b646686bd200")}
	kncRenamed := Token{Symbol: "KNCL", Address: knc.Address}
	bare := Token{Symbol: "KNC"}

	if !knc.SameAs(kncRenamed) {
		t.Error("tokens with the same address should match")
	}
	if !knc.SameAs(bare) {
		t.Error("symbol fallback should apply when an address is unset")
	}
	if knc.SameAs(Token{Symbol: "OMG", Address: common.HexToAddress("0x01")}) {
		t.Error("different tokens should not match")
	}
	if !knc.Is("knc") {
		t.Error("Is should ignore case")
	}
}

func TestRate_Conversions(t *testing.T) {
	r, ok := NewRateFromFloat("KNC", "ETH", 0.002, 18)
	if !ok {
		t.Fatal("finite rate rejected")
	}
	want := new(big.Int).Mul(big.NewInt(2), new(big.Int).Exp(big.NewInt(10), big.NewInt(15), nil))
	if r.Value.Cmp(want) != 0 {
		t.Errorf("Value = %s, want %s", r.Value, want)
	}
	if r.Float64() != 0.002 {
		t.Errorf("Float64 = %v, want 0.002", r.Float64())
	}

	for _, f := range []float64{math.Inf(1), math.Inf(-1), math.NaN()} {
		if _, ok := NewRateFromFloat("KNC", "ETH", f, 18); ok {
			t.Errorf("NewRateFromFloat(%v) should be rejected", f)
		}
	}

	src := big.NewInt(5)
	copied := NewRate("KNC", "ETH", src, 0)
	src.SetInt64(9)
	if copied.Value.Int64() != 5 {
		t.Error("NewRate must copy its value")
	}

	if !NewRate("KNC", "ETH", nil, 18).IsZero() {
		t.Error("nil value should be a zero rate")
	}
	if (Rate{}).Decimal().Sign() != 0 {
		t.Error("empty rate should read as zero")
	}
}

func TestOrder_IsActive(t *testing.T) {
	states := map[OrderState]bool{
		OrderStateOpen:        true,
		OrderStateInProgress:  true,
		OrderStateFilled:      false,
		OrderStateCancelled:   false,
		OrderStateInvalidated: false,
	}
	for state, want := range states {
		o := Order{State: state, CreatedAt: time.Now()}
		if got := o.IsActive(); got != want {
			t.Errorf("%s: IsActive = %v, want %v", state, got, want)
		}
	}
}
