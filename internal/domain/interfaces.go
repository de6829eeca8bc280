package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// RateFeed is the upstream fetch collaborator of the rate coordinator.
type RateFeed interface {
	FetchETHRates(ctx context.Context) ([]Rate, error)
	FetchUSDRates(ctx context.Context) ([]Rate, error)
	FetchProductionRates(ctx context.Context) ([]Rate, error)
	FetchTrackerRates(ctx context.Context) ([]TrackerRate, error)
	// FetchCachedSourceAmount quotes the source amount needed to receive
	// destAmount (a decimal string in dest units) of dest.
	FetchCachedSourceAmount(ctx context.Context, source, dest, destAmount string) (SourceAmountQuote, error)
}

// TrackerRateStore holds the third-party market rates.
type TrackerRateStore interface {
	Replace(rates []TrackerRate)
	Get(symbol string) (TrackerRate, bool)
	ApplyCachedRates(rates []Rate)
}

// BalanceProvider returns wallet balances keyed by token contract address.
type BalanceProvider interface {
	Balances(ctx context.Context, wallet common.Address, tokens []Token) (map[common.Address]*big.Int, error)
}

// PromoProvider looks up promo wallets. A promo wallet trades PT into its
// assigned destination; a zero Token means the destination is not supported.
type PromoProvider interface {
	PromoDestination(wallet common.Address) (Token, bool)
}

// OrderProvider returns the order snapshot of a wallet.
type OrderProvider interface {
	Orders(ctx context.Context, wallet common.Address) ([]Order, error)
}
