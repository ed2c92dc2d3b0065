package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vitos/strategy_bot/internal/config"
	"github.com/vitos/strategy_bot/internal/domain"
	"github.com/vitos/strategy_bot/internal/infrastructure/broker"
	"github.com/vitos/strategy_bot/internal/infrastructure/logger"
	"github.com/vitos/strategy_bot/internal/infrastructure/marketdata"
	"github.com/vitos/strategy_bot/internal/infrastructure/storage"
	"github.com/vitos/strategy_bot/internal/usecase"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return config.DefaultPath
}

func main() {
	// 1. Load Config
	cfg, err := config.Load(configPath())
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	log, err := logger.New(logger.Options{
		Level:       cfg.Logging.Level,
		Encoding:    cfg.Logging.Encoding,
		OutputPaths: cfg.Logging.OutputPaths,
	})
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// 3. Init Storage
	store, err := storage.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	// 4. Market data (bar cache in sqlite) and broker
	alpacaProvider := marketdata.NewAlpacaProvider(marketdata.AlpacaConfig{
		APIKey:    cfg.Alpaca.APIKey,
		APISecret: cfg.Alpaca.APISecret,
		Feed:      cfg.Alpaca.Feed,
		StreamURL: cfg.Alpaca.StreamURL,
	}, log)
	provider := marketdata.WithBarCache(alpacaProvider, store, log)
	orders := broker.NewAlpacaBroker(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.TradingURL, log)

	// 5. Session manager
	manager := usecase.NewManager(usecase.Deps{
		Provider:    provider,
		Store:       store,
		Broker:      orders,
		Logger:      log,
		Environment: cfg.Env,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 6. Resume sessions left ACTIVE by a previous run
	n, err := manager.RecoverSessions(ctx, cfg.Bot)
	if err != nil {
		log.Error("Failed to recover sessions", zap.Error(err))
	} else if n > 0 {
		log.Info("Sessions recovered", zap.Int("count", n))
	}

	// 7. Start the configured session
	if cfg.AutoStart {
		if _, err := manager.StartSession(ctx, cfg.Bot); err != nil {
			log.Error("Failed to start session", zap.String("user_id", cfg.Bot.UserID), zap.Error(err))
		}
	}

	bots := manager.Bots()
	if len(bots) == 0 {
		log.Info("No sessions running, exiting")
		return
	}
	for _, bot := range bots {
		go logEvents(log, bot)
	}

	// 8. Wait for Shutdown
	<-ctx.Done()
	log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := manager.StopAll(shutdownCtx); err != nil {
		log.Error("Failed to stop sessions", zap.Error(err))
	}
}

// logEvents drains a bot's events until its session ends.
func logEvents(log *zap.Logger, bot *usecase.Bot) {
	for ev := range bot.Events() {
		switch e := ev.(type) {
		case domain.TradeExecuted:
			log.Info("Trade",
				zap.String("session_id", e.SessionID()),
				zap.String("symbol", e.Trade.Symbol),
				zap.String("action", string(e.Trade.Action)),
				zap.Float64("qty", e.Trade.Quantity),
				zap.Float64("price", e.Trade.Price))
		case domain.PortfolioUpdated:
			log.Debug("Portfolio",
				zap.String("session_id", e.SessionID()),
				zap.Float64("cash", e.Snapshot.Cash),
				zap.Float64("total_value", e.Snapshot.TotalValue))
		case domain.ErrorEvent:
			log.Warn("Session error", zap.String("session_id", e.SessionID()), zap.String("symbol", e.Symbol), zap.Error(e.Err))
		case domain.SessionEnded:
			log.Info("Session ended",
				zap.String("session_id", e.SessionID()),
				zap.String("status", string(e.Session.Status)),
				zap.Float64("total_pnl", e.Session.TotalPnL))
		}
	}
}
