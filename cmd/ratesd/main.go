package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"swap_rates/internal/app"
	"swap_rates/internal/rates"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML config")
	wallet := flag.String("wallet", "", "log a default-pair quote for this wallet once production rates load")
	amount := flag.String("amount", "100", "source amount for the -wallet quote")
	flag.Parse()

	if *wallet != "" && !common.IsHexAddress(*wallet) {
		slog.Error("Invalid wallet address", slog.String("wallet", *wallet))
		os.Exit(2)
	}

	if err := run(*configPath, *wallet, *amount); err != nil {
		slog.Error("Service failed", slog.Any("error", err))
		os.Exit(1)
	}
}

// run owns every deferred cleanup so a failed start still closes what
// Initialize opened.
func run(configPath, wallet, amount string) error {
	// Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bootstrap := app.NewBootstrap(configPath)
	defer bootstrap.Close()
	if err := bootstrap.Initialize(ctx); err != nil {
		return fmt.Errorf("bootstrapping failed: %w", err)
	}

	go bootstrap.SyncAssets(ctx)

	if wallet != "" {
		addr := common.HexToAddress(wallet)
		var once sync.Once
		unsub := bootstrap.Coordinator.Subscribe(func(ev rates.Event) {
			if ev.Kind != rates.EventProdCacheLoadSucceeded {
				return
			}
			// handlers run on the coordinator goroutine
			once.Do(func() { go bootstrap.LogQuote(ctx, addr, amount) })
		})
		defer unsub()
	}

	if err := bootstrap.Start(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}

	<-ctx.Done()
	slog.Info("Shutting down")
	return nil
}
