// Package quote computes limit-order quotes for one trading screen.
package quote

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"swap_rates/internal/domain"
	"swap_rates/internal/format"
)

const (
	// FeePercentage is the order fee in units of FeeBase.
	FeePercentage = 10
	FeeBase       = 10000

	// sampleDecimalsOffset marks the 0.001 amount used to sample a market rate
	// before the user has entered anything.
	sampleDecimalsOffset = 3

	rateDiffThreshold = 0.1
)

var (
	oneETH = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	// MaxOrderETH and MinOrderETH bound the ETH-equivalent order value.
	MaxOrderETH = new(big.Int).Mul(big.NewInt(10), oneETH)
	MinOrderETH = new(big.Int).Div(oneETH, big.NewInt(2))
)

// RateSource is what the engine reads from the rate coordinator.
type RateSource interface {
	GetCachedProdRate(from, to domain.Token) (*big.Int, bool)
	TrackerRate(symbol string) (domain.TrackerRate, bool)
}

// Tokens are the well-known tokens the engine special-cases.
type Tokens struct {
	ETH  domain.Token
	WETH domain.Token
	KNC  domain.Token
	PT   domain.Token // zero disables promo wallets
}

// Options wires the engine's optional collaborators.
type Options struct {
	Balances domain.BalanceProvider
	Orders   domain.OrderProvider
	Promo    domain.PromoProvider
	Logger   *slog.Logger
}

// DefaultPair is the pair a wallet starts on: PT into its promo destination
// (ETH when that token is unsupported) for promo wallets, KNC -> ETH otherwise.
func DefaultPair(tokens Tokens, promo domain.PromoProvider, wallet common.Address) (from, to domain.Token) {
	if promo != nil && tokens.PT.Symbol != "" {
		if dest, ok := promo.PromoDestination(wallet); ok {
			if dest.Symbol == "" {
				dest = tokens.ETH
			}
			return tokens.PT, dest
		}
	}
	return tokens.KNC, tokens.ETH
}

// Engine holds the state of one limit-order screen. It is created when the
// screen opens and discarded when it closes. Not safe for concurrent use.
type Engine struct {
	rates    RateSource
	balances domain.BalanceProvider
	orders   domain.OrderProvider
	promo    domain.PromoProvider
	tokens   Tokens
	logger   *slog.Logger

	wallet common.Address
	from   domain.Token
	to     domain.Token

	nonce    uint64
	hasNonce bool

	balanceOf map[common.Address]*big.Int

	amountFrom string
	amountTo   string
	targetRate string

	rateFromNode   *big.Int
	cachedProdRate *big.Int

	relatedOrders []domain.Order
	cancelSuggest []domain.Order
}

// NewEngine opens a quote context for wallet trading from -> to.
func NewEngine(rates RateSource, tokens Tokens, wallet common.Address, from, to domain.Token, opts Options) *Engine {
	e := &Engine{
		rates:     rates,
		balances:  opts.Balances,
		orders:    opts.Orders,
		promo:     opts.Promo,
		tokens:    tokens,
		logger:    opts.Logger,
		wallet:    wallet,
		from:      from,
		to:        to,
		balanceOf: make(map[common.Address]*big.Int),
	}
	if e.logger == nil {
		e.logger = slog.Default().With("module", "quote")
	}
	e.refreshProdRate()
	return e
}

func (e *Engine) Wallet() common.Address { return e.wallet }
func (e *Engine) From() domain.Token     { return e.from }
func (e *Engine) To() domain.Token       { return e.to }

// Nonce returns the order nonce fetched for the current pair, if any.
func (e *Engine) Nonce() (uint64, bool) { return e.nonce, e.hasNonce }

// CachedProdRate is the production rate captured at the last pair or wallet change.
func (e *Engine) CachedProdRate() (*big.Int, bool) {
	if e.cachedProdRate == nil {
		return nil, false
	}
	return new(big.Int).Set(e.cachedProdRate), true
}

// RelatedOrders are the wallet's active orders, newest first.
func (e *Engine) RelatedOrders() []domain.Order {
	return append([]domain.Order(nil), e.relatedOrders...)
}

// CancelSuggestions are the related orders priced above the entered target.
func (e *Engine) CancelSuggestions() []domain.Order {
	return append([]domain.Order(nil), e.cancelSuggest...)
}

func (e *Engine) refreshProdRate() {
	v, ok := e.rates.GetCachedProdRate(e.from, e.to)
	if !ok {
		e.cachedProdRate = nil
		return
	}
	e.cachedProdRate = v
}

func parseOrZero(s string, decimals int) *big.Int {
	v, ok := format.ParseAmount(s, decimals)
	if !ok {
		return new(big.Int)
	}
	return v
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// AmountFrom is the entered source amount in base units, 0 when unparsable.
func (e *Engine) AmountFrom() *big.Int { return parseOrZero(e.amountFrom, e.from.Decimals) }

// AmountTo is the entered destination amount in base units, 0 when unparsable.
func (e *Engine) AmountTo() *big.Int { return parseOrZero(e.amountTo, e.to.Decimals) }

// AmountFromWithPercentage returns percentage% of the available balance.
func (e *Engine) AmountFromWithPercentage(percentage int) *big.Int {
	v := new(big.Int).Mul(e.AvailableBalance(), big.NewInt(int64(percentage)))
	return v.Quo(v, big.NewInt(100))
}

// EstimateAmountFrom derives the source amount from the entered destination
// amount at the target rate.
func (e *Engine) EstimateAmountFrom() *big.Int {
	rate := e.TargetRate()
	if rate.Sign() == 0 {
		return new(big.Int)
	}
	v := new(big.Int).Mul(e.AmountTo(), pow10(e.from.Decimals))
	return v.Quo(v, rate)
}

// EstimateAmountTo derives the destination amount from the entered source
// amount at the target rate.
func (e *Engine) EstimateAmountTo() *big.Int {
	rate := e.TargetRate()
	if rate.Sign() == 0 {
		return new(big.Int)
	}
	v := new(big.Int).Mul(e.AmountFrom(), rate)
	return v.Quo(v, pow10(e.from.Decimals))
}

func (e *Engine) rawBalance(addr common.Address) *big.Int {
	if b, ok := e.balanceOf[addr]; ok && b != nil {
		return b
	}
	return new(big.Int)
}

// AvailableBalance is the spendable source balance: the raw balance (plus the
// ETH balance when the source is WETH) minus every open order selling the
// source token, clamped at zero.
func (e *Engine) AvailableBalance() *big.Int {
	bal := new(big.Int).Set(e.rawBalance(e.from.Address))
	if e.from.IsWETH() {
		bal.Add(bal, e.rawBalance(e.tokens.ETH.Address))
	}

	exp := -int32(e.from.Decimals)
	available := decimal.NewFromBigInt(bal, exp)
	for _, o := range e.relatedOrders {
		if o.State != domain.OrderStateOpen || o.SourceToken != e.from.Address {
			continue
		}
		switch {
		case math.IsInf(o.SourceAmount, 1):
			return new(big.Int)
		case math.IsNaN(o.SourceAmount) || math.IsInf(o.SourceAmount, -1):
			continue
		}
		available = available.Sub(decimal.NewFromFloat(o.SourceAmount))
	}
	if available.IsNegative() {
		return new(big.Int)
	}
	return available.Shift(-exp).BigInt()
}

// BalanceText renders the available balance for display.
func (e *Engine) BalanceText() string {
	s := format.Amount(e.AvailableBalance(), e.from.Decimals, 6)
	if len(s) > 12 {
		s = s[:12]
	}
	return s
}

func (e *Engine) IsBalanceEnough() bool {
	return e.AmountFrom().Cmp(e.AvailableBalance()) <= 0
}

// IsConvertingETHToWETHNeeded reports whether a WETH order needs ETH wrapped first.
func (e *Engine) IsConvertingETHToWETHNeeded() bool {
	if !e.from.IsWETH() {
		return false
	}
	return e.rawBalance(e.from.Address).Cmp(e.AmountFrom()) < 0
}

// MinAmountToConvert is the ETH that must be wrapped to cover a WETH order.
func (e *Engine) MinAmountToConvert() *big.Int {
	if !e.IsConvertingETHToWETHNeeded() {
		return new(big.Int)
	}
	return new(big.Int).Sub(e.AmountFrom(), e.rawBalance(e.from.Address))
}

// EquivalentETHAmount values the entered source amount in wei.
func (e *Engine) EquivalentETHAmount() *big.Int {
	amount := e.AmountFrom()
	if amount.Sign() <= 0 {
		return new(big.Int)
	}
	if e.from.IsETH() {
		return amount
	}
	if e.to.IsETH() {
		return e.AmountTo()
	}
	tr, ok := e.rates.TrackerRate(e.from.Symbol)
	if !ok {
		return new(big.Int)
	}
	ethRate, ok := domain.NewRateFromFloat(e.from.Symbol, domain.SymbolETH, tr.RateETHNow, 18)
	if !ok {
		return new(big.Int)
	}
	v := new(big.Int).Mul(ethRate.Value, amount)
	return v.Quo(v, pow10(e.from.Decimals))
}

// IsAmountTooBig rejects amounts above the balance or worth more than MaxOrderETH.
func (e *Engine) IsAmountTooBig() bool {
	if !e.IsBalanceEnough() {
		return true
	}
	return e.EquivalentETHAmount().Cmp(MaxOrderETH) > 0
}

// IsAmountTooSmall rejects amounts worth less than MinOrderETH.
func (e *Engine) IsAmountTooSmall() bool {
	return e.EquivalentETHAmount().Cmp(MinOrderETH) < 0
}

// TargetRate is the entered target rate in destination base units.
func (e *Engine) TargetRate() *big.Int { return parseOrZero(e.targetRate, e.to.Decimals) }

func (e *Engine) targetRateFloat() float64 {
	f, _ := decimal.NewFromBigInt(e.TargetRate(), -int32(e.to.Decimals)).Float64()
	return f
}

// EstimateTargetRate is the rate implied by both entered amounts.
func (e *Engine) EstimateTargetRate() *big.Int {
	from := e.AmountFrom()
	if from.Sign() == 0 {
		return new(big.Int)
	}
	v := new(big.Int).Mul(e.AmountTo(), pow10(e.from.Decimals))
	return v.Quo(v, from)
}

// MarketRate is the latest node rate as a float, 0 when unknown.
func (e *Engine) MarketRate() float64 {
	if e.rateFromNode == nil {
		return 0
	}
	f, _ := decimal.NewFromBigInt(e.rateFromNode, -int32(e.to.Decimals)).Float64()
	return f
}

// ExchangeRateText renders "1 FROM = x TO", or "---" before a node rate arrives.
func (e *Engine) ExchangeRateText() string {
	if e.rateFromNode == nil {
		return "---"
	}
	return fmt.Sprintf("1 %s = %s %s", e.from.Symbol, format.DisplayRate(e.rateFromNode, e.to.Decimals), e.to.Symbol)
}

// PercentageRateDiff is (target - market) / market * 100, 0 when either is unknown.
func (e *Engine) PercentageRateDiff() float64 {
	target, ok := format.ParseAmount(e.targetRate, e.to.Decimals)
	if !ok {
		return 0
	}
	market := e.MarketRate()
	if market == 0 {
		return 0
	}
	t, _ := decimal.NewFromBigInt(target, -int32(e.to.Decimals)).Float64()
	diff := (t - market) / market * 100
	if math.IsInf(diff, 0) || math.IsNaN(diff) {
		return 0
	}
	return diff
}

// RateComparisonText explains how the target compares to the market rate.
// Differences under 0.1% render as an empty string.
func (e *Engine) RateComparisonText() string {
	diff := e.PercentageRateDiff()
	if math.Abs(diff) < rateDiffThreshold {
		return ""
	}
	dir := "lower"
	if diff > 0 {
		dir = "higher"
	}
	return fmt.Sprintf("Your target price is %s%% %s than current Market rate", format.Percentage(math.Abs(diff)), dir)
}

// Fee is the order fee in source base units.
func (e *Engine) Fee() *big.Int {
	v := new(big.Int).Mul(e.AmountFrom(), big.NewInt(FeePercentage))
	return v.Quo(v, big.NewInt(FeeBase))
}

func (e *Engine) DisplayFee() string {
	amount := "0"
	if e.AmountFrom().Sign() != 0 {
		amount = e.amountFrom
		if len(amount) > 12 {
			amount = amount[:12]
		}
	}
	pct := decimal.NewFromInt(FeePercentage).Div(decimal.NewFromInt(100))
	return fmt.Sprintf("Fee: %s %s (%s%% of %s %s)",
		format.DisplayRate(e.Fee(), e.from.Decimals), e.from.Symbol, pct.String(), amount, e.from.Symbol)
}

func (e *Engine) resetEntry() {
	e.amountFrom = ""
	e.amountTo = ""
	e.targetRate = ""
	e.hasNonce = false
	e.nonce = 0
	e.rateFromNode = nil
}

// UpdateWallet switches to another wallet and resets the pair to its DefaultPair.
func (e *Engine) UpdateWallet(wallet common.Address) {
	e.wallet = wallet
	e.from, e.to = DefaultPair(e.tokens, e.promo, wallet)
	e.resetEntry()
	e.balanceOf = make(map[common.Address]*big.Int)
	e.relatedOrders = nil
	e.cancelSuggest = nil
	e.refreshProdRate()
}

// SwapTokens flips the pair. ETH is replaced by WETH as source because the
// order book only sells wrapped ETH.
func (e *Engine) SwapTokens() {
	e.from, e.to = e.to, e.from
	if e.from.IsETH() {
		e.from = e.tokens.WETH
	}
	e.resetEntry()
	e.refreshProdRate()
}

func (e *Engine) UpdateAmount(amount string, isSource bool) {
	if isSource {
		e.amountFrom = amount
	} else {
		e.amountTo = amount
	}
}

// UpdateTargetRate stores the entered rate and recomputes cancel suggestions.
func (e *Engine) UpdateTargetRate(rate string) {
	e.targetRate = rate
	e.updateCancelSuggestions()
}

// UpdateSelectedToken replaces one side of the pair.
func (e *Engine) UpdateSelectedToken(token domain.Token, isSource bool) {
	if isSource {
		e.from = token
	} else {
		e.to = token
	}
	e.hasNonce = false
	e.nonce = 0
	e.rateFromNode = nil
	e.refreshProdRate()
}

// UpdateBalances merges balances keyed by token address.
func (e *Engine) UpdateBalances(balances map[common.Address]*big.Int) {
	for addr, v := range balances {
		if v == nil {
			continue
		}
		e.balanceOf[addr] = new(big.Int).Set(v)
	}
}

// UpdateExchangeRate records a node rate if it was quoted for the current pair
// and amount. A quote for the 0.001 sample amount counts while nothing is entered.
func (e *Engine) UpdateExchangeRate(from, to domain.Token, amount, rate *big.Int) bool {
	if !from.SameAs(e.from) || !to.SameAs(e.to) || amount == nil || rate == nil {
		return false
	}
	current := e.AmountFrom()
	if current.Cmp(amount) != 0 {
		sample := new(big.Int)
		if e.from.Decimals >= sampleDecimalsOffset {
			sample = pow10(e.from.Decimals - sampleDecimalsOffset)
		}
		if current.Sign() != 0 || amount.Cmp(sample) != 0 {
			return false
		}
	}
	e.rateFromNode = new(big.Int).Set(rate)
	return true
}

// UpdateRelatedOrders keeps the active orders, newest first.
func (e *Engine) UpdateRelatedOrders(orders []domain.Order) {
	related := make([]domain.Order, 0, len(orders))
	for _, o := range orders {
		if o.IsActive() {
			related = append(related, o)
		}
	}
	sort.SliceStable(related, func(i, j int) bool {
		return related[i].CreatedAt.After(related[j].CreatedAt)
	})
	e.relatedOrders = related
	e.updateCancelSuggestions()
}

func (e *Engine) updateCancelSuggestions() {
	target := e.targetRateFloat()
	e.cancelSuggest = e.cancelSuggest[:0]
	for _, o := range e.relatedOrders {
		if o.TargetPrice > target {
			e.cancelSuggest = append(e.cancelSuggest, o)
		}
	}
}

// UpdateNonce stores nonce if it belongs to the current wallet and pair.
func (e *Engine) UpdateNonce(wallet, src, dest common.Address, nonce uint64) {
	if wallet == e.wallet && src == e.from.Address && dest == e.to.Address {
		e.nonce = nonce
		e.hasNonce = true
	}
}

// RefreshBalances pulls balances of the pair (and ETH/WETH) from the provider.
func (e *Engine) RefreshBalances(ctx context.Context) error {
	if e.balances == nil {
		return nil
	}
	tokens := []domain.Token{e.from, e.to, e.tokens.ETH, e.tokens.WETH}
	got, err := e.balances.Balances(ctx, e.wallet, tokens)
	if err != nil {
		return fmt.Errorf("refresh balances: %w", err)
	}
	e.UpdateBalances(got)
	e.logger.Debug("Balances refreshed", slog.String("wallet", e.wallet.Hex()), slog.Int("tokens", len(got)))
	return nil
}

// RefreshOrders pulls the wallet's order snapshot from the provider.
func (e *Engine) RefreshOrders(ctx context.Context) error {
	if e.orders == nil {
		return nil
	}
	orders, err := e.orders.Orders(ctx, e.wallet)
	if err != nil {
		return fmt.Errorf("refresh orders: %w", err)
	}
	e.UpdateRelatedOrders(orders)
	return nil
}
