package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/vitos/strategy_bot/internal/config"
	"github.com/vitos/strategy_bot/internal/infrastructure/logger"
	"github.com/vitos/strategy_bot/internal/infrastructure/marketdata"
	"github.com/vitos/strategy_bot/internal/infrastructure/storage"
	"github.com/vitos/strategy_bot/internal/usecase"
	"go.uber.org/zap"
)

// Usage: backtest [SYMBOL]
// Replays the backtest section of the config and prints the report as JSON.
func main() {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = config.DefaultPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	store, err := storage.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	provider := marketdata.NewCachedProvider(marketdata.NewAlpacaProvider(marketdata.AlpacaConfig{
		APIKey:    cfg.Alpaca.APIKey,
		APISecret: cfg.Alpaca.APISecret,
	}, log), store, log)

	bt := cfg.Backtest
	if len(os.Args) > 1 {
		bt.Symbol = strings.ToUpper(os.Args[1])
	}

	report, err := usecase.NewBacktester(provider, log).Run(context.Background(), bt)
	if err != nil {
		log.Error("Backtest failed", zap.String("symbol", bt.Symbol), zap.Error(err))
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		log.Error("Failed to write report", zap.Error(err))
		os.Exit(1)
	}
}
