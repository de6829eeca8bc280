package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"swap_rates/internal/domain"
	"swap_rates/internal/format"
	"swap_rates/internal/gas"
	"swap_rates/internal/infra"
	"swap_rates/internal/infra/chain"
	"swap_rates/internal/infra/feed"
	"swap_rates/internal/infra/notify"
	"swap_rates/internal/infra/storage"
	"swap_rates/internal/infra/wsfeed"
	"swap_rates/internal/quote"
	"swap_rates/internal/rates"
)

// DefaultTokens seeds an empty registry. Rows already stored are kept.
var DefaultTokens = []domain.Token{
	{Symbol: "ETH", Name: "Ethereum", Address: common.HexToAddress("0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee"), Decimals: 18},
	{Symbol: "WETH", Name: "Wrapped Ether", Address: common.HexToAddress("0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"), Decimals: 18},
	{Symbol: "KNC", Name: "Kyber Network", Address: common.HexToAddress("0xdd974d5c2e2928dea5f71b9825b8b646686bd200"), Decimals: 18},
	{Symbol: "DAI", Name: "Dai", Address: common.HexToAddress("0x6b175474e89094c44da98b954eedeac495271d0f"), Decimals: 18},
	{Symbol: "OMG", Name: "OmiseGO", Address: common.HexToAddress("0xd26114cd6ee289accf82350c8d8487fedb8a0c07"), Decimals: 18},
	{Symbol: "MKR", Name: "Maker", Address: common.HexToAddress("0x9f8f72aa9304c8b593d555f12ef6589cc3a579a2"), Decimals: 18},
	{Symbol: "DGX", Name: "Digix Gold", Address: common.HexToAddress("0x4f3afec4e5a3f2a6a1a411def7d7dfe50ee057bf"), Decimals: 9},
	{Symbol: "USDC", Name: "USD Coin", Address: common.HexToAddress("0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"), Decimals: 6},
}

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	ConfigPath string

	Config      *infra.Config
	Logger      *slog.Logger
	Metrics     *infra.Metrics
	Storage     *storage.Storage
	Downloader  *infra.IconDownloader
	Gas         *gas.Estimator
	Feed        *feed.Client
	Coordinator *rates.Coordinator
	Hub         *wsfeed.Hub
	Publisher   *notify.Publisher
	Balances    *chain.BalanceProvider

	unsubscribe []func()
	wg          sync.WaitGroup
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap(configPath string) *Bootstrap {
	return &Bootstrap{ConfigPath: configPath}
}

// Initialize loads config and builds every component without starting any.
func (b *Bootstrap) Initialize(ctx context.Context) error {
	cfg, err := infra.LoadConfig(b.ConfigPath)
	if err != nil {
		return err
	}
	b.Config = cfg

	b.Logger = infra.NewLogger(cfg)
	slog.SetDefault(b.Logger)
	b.Logger.Info("Bootstrapping", slog.String("app", cfg.App.Name), slog.String("version", cfg.App.Version))

	b.Metrics = infra.NewMetrics()

	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return err
	}
	b.Storage = store
	if err := store.SeedTokens(DefaultTokens); err != nil {
		return fmt.Errorf("seed tokens: %w", err)
	}
	b.Logger.Info("Database initialized", slog.String("path", cfg.Storage.Path))

	overrides, err := store.GasOverrides()
	if err != nil {
		return fmt.Errorf("load gas overrides: %w", err)
	}
	for sym, limit := range cfg.Gas.Overrides {
		overrides[sym] = limit
	}
	b.Gas = gas.NewEstimator(gas.DefaultTable().WithOverrides(overrides))

	b.Feed = feed.NewClient(feed.Endpoints{
		ETHRates:     cfg.Feeds.ETHRatesURL,
		USDRates:     cfg.Feeds.USDRatesURL,
		ProdRates:    cfg.Feeds.ProdRatesURL,
		Tracker:      cfg.Feeds.TrackerURL,
		SourceAmount: cfg.Feeds.SourceAmountURL,
	}, feed.Options{
		Timeout:         cfg.FeedTimeout(),
		MaxRetries:      cfg.Feeds.MaxRetries,
		UserAgent:       infra.DefaultUserAgent,
		Logger:          b.Logger.With("module", "feed"),
		OnCircuitChange: b.Metrics.SetCircuitState,
	})

	b.Coordinator = rates.NewCoordinator(b.Feed, rates.NewStore(), rates.NewTrackerStore(), rates.Config{
		FastInterval: cfg.FastInterval(),
		SlowInterval: cfg.SlowInterval(),
		Metrics:      b.Metrics,
		Logger:       b.Logger.With("module", "rates"),
	})

	b.Hub = wsfeed.NewHub(b.Metrics, b.Logger.With("module", "wsfeed"))

	if cfg.Redis.Addr != "" {
		b.Publisher = notify.NewPublisher(notify.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Channel:  cfg.Redis.Channel,
		}, b.Metrics, b.Logger.With("module", "notify"))
		if err := b.Publisher.Ping(ctx); err != nil {
			b.Logger.Warn("Redis unreachable at startup", slog.Any("error", err))
		}
	}

	if cfg.Chain.RPCURL != "" {
		bp, err := chain.Dial(ctx, cfg.Chain.RPCURL, b.Logger.With("module", "chain"))
		if err != nil {
			b.Logger.Warn("RPC unavailable, balances disabled", slog.Any("error", err))
		} else {
			b.Balances = bp
		}
	}

	if cfg.Icons.URLTemplate != "" {
		downloader, err := infra.NewIconDownloader(cfg.Icons.Dir, cfg.Icons.URLTemplate, b.Logger.With("module", "icons"))
		if err != nil {
			return err
		}
		b.Downloader = downloader
	}

	return nil
}

// Start runs the servers and sinks, then resumes the refresh loops.
func (b *Bootstrap) Start(ctx context.Context) error {
	b.Metrics.Serve(ctx, b.Config.Server.MetricsAddr, b.Logger)

	b.goRun(func() { b.Hub.Run(ctx) })
	b.Hub.Serve(ctx, b.Config.Server.WSAddr)
	b.unsubscribe = append(b.unsubscribe, b.Coordinator.Subscribe(b.Hub.Handle))

	if b.Publisher != nil {
		b.goRun(func() { b.Publisher.Run(ctx) })
		b.unsubscribe = append(b.unsubscribe, b.Coordinator.Subscribe(b.Publisher.Handle))
	}

	b.unsubscribe = append(b.unsubscribe, b.Coordinator.Subscribe(func(ev rates.Event) {
		if ev.Kind == rates.EventProdCacheLoadFailed {
			b.Logger.Warn("Production rates unavailable")
		}
	}))

	if err := b.Coordinator.Start(ctx); err != nil {
		return err
	}
	b.Coordinator.Resume()
	b.Logger.Info("Rate coordinator started",
		slog.Duration("fast", b.Config.FastInterval()),
		slog.Duration("slow", b.Config.SlowInterval()))
	return nil
}

func (b *Bootstrap) goRun(fn func()) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn()
	}()
}

// SyncAssets downloads missing token icons in the background.
func (b *Bootstrap) SyncAssets(ctx context.Context) {
	if b.Downloader == nil {
		return
	}
	tokens, err := b.Storage.AllTokens()
	if err != nil {
		b.Logger.Error("Failed to list tokens", slog.Any("error", err))
		return
	}
	n := b.Downloader.Sync(ctx, tokens)
	b.Logger.Info("Asset synchronization completed", slog.Int("icons", n), slog.Int("tokens", len(tokens)))
}

// NewQuoteEngine opens a KNC -> ETH quote context for wallet.
func (b *Bootstrap) NewQuoteEngine(wallet common.Address) (*quote.Engine, error) {
	var tokens quote.Tokens
	for sym, dst := range map[string]*domain.Token{
		domain.SymbolETH:  &tokens.ETH,
		domain.SymbolWETH: &tokens.WETH,
		domain.SymbolKNC:  &tokens.KNC,
	} {
		t, err := b.Storage.RequireToken(sym)
		if err != nil {
			return nil, err
		}
		*dst = t
	}

	opts := quote.Options{Orders: b.Storage, Logger: b.Logger.With("module", "quote")}
	if b.Balances != nil {
		opts.Balances = b.Balances
	}
	pt, err := b.Storage.GetToken(domain.SymbolPT)
	if err != nil {
		return nil, err
	}
	if pt != nil {
		tokens.PT = *pt
		opts.Promo = b.Storage
	}
	from, to := quote.DefaultPair(tokens, opts.Promo, wallet)
	return quote.NewEngine(b.Coordinator, tokens, wallet, from, to, opts), nil
}

// LogQuote logs a one-off quote summary for wallet on its default pair.
func (b *Bootstrap) LogQuote(ctx context.Context, wallet common.Address, amount string) {
	eng, err := b.NewQuoteEngine(wallet)
	if err != nil {
		b.Logger.Error("Quote unavailable", slog.Any("error", err))
		return
	}
	if _, ok := format.ParseAmount(amount, eng.From().Decimals); !ok {
		b.Logger.Error("Quote unavailable", slog.String("amount", amount), slog.Any("error", domain.ErrInvalidAmount))
		return
	}
	if err := eng.RefreshBalances(ctx); err != nil {
		b.Logger.Warn("Balance refresh failed", slog.Any("error", err))
	}
	if err := eng.RefreshOrders(ctx); err != nil {
		b.Logger.Warn("Order refresh failed", slog.Any("error", err))
	}
	eng.UpdateAmount(amount, true)

	swapGas := b.Gas.SwapGas(eng.From(), eng.To())
	// priced as if the allowance is not granted yet
	approveGas := b.Gas.ApproveGas(eng.From())
	price := gas.ClampPrice(nil)
	if eng.From().Is(domain.SymbolPT) {
		price = gas.PromoPrice(nil)
	}
	gasFee := gas.Fee(swapGas+approveGas, price)

	attrs := []any{
		slog.String("wallet", wallet.Hex()),
		slog.String("rate", eng.ExchangeRateText()),
		slog.String("balance", eng.BalanceText()),
		slog.Bool("balance_enough", eng.IsBalanceEnough()),
		slog.Bool("too_small", eng.IsAmountTooSmall()),
		slog.Bool("too_big", eng.IsAmountTooBig()),
		slog.String("fee", eng.DisplayFee()),
		slog.Uint64("swap_gas", swapGas),
		slog.Uint64("approve_gas", approveGas),
		slog.String("gas_price_gwei", format.Amount(price, 9, 2)),
		slog.String("gas_fee_eth", format.Amount(gasFee, 18, 6)),
	}
	if usd, ok := b.Coordinator.USDRate(eng.From()); ok {
		attrs = append(attrs, slog.String("usd_rate", format.DisplayRate(usd.Value, usd.Decimals)))
	}
	if n := len(eng.CancelSuggestions()); n > 0 {
		attrs = append(attrs, slog.Int("cancel_suggestions", n))
	}
	b.Logger.Info("Quote", attrs...)
}

// Close stops the coordinator and releases resources in reverse start order.
func (b *Bootstrap) Close() {
	for _, unsub := range b.unsubscribe {
		unsub()
	}
	if b.Coordinator != nil {
		b.Coordinator.Stop()
	}
	b.wg.Wait()
	if b.Balances != nil {
		b.Balances.Close()
	}
	if b.Storage != nil {
		if err := b.Storage.Close(); err != nil {
			b.Logger.Warn("Storage close failed", slog.Any("error", err))
		}
	}
}
