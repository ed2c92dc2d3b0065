package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/strategy_bot/internal/domain"
	"github.com/vitos/strategy_bot/internal/strategy"
	"github.com/vitos/strategy_bot/internal/usecase"
)

func startBot(t *testing.T, cfg usecase.BotConfig, deps usecase.Deps) *usecase.Bot {
	t.Helper()
	if deps.Clock == nil {
		deps.Clock = fixedClock
	}
	bot := usecase.NewBot(cfg, deps)
	require.NoError(t, bot.Start(context.Background()))
	t.Cleanup(func() { _ = bot.Stop(context.Background()) })
	return bot
}

func TestBotCrossoverRoundTrip(t *testing.T) {
	store := NewMockStore()
	stream := NewMockStream(map[string]float64{"AAPL": 100})
	bot := startBot(t, crossoverConfig("u1"), usecase.Deps{Provider: stream, Store: store})
	stream.WaitConnected(t)

	stream.Push("AAPL", flatPrices...)
	stream.Push("AAPL", risingPrices...)
	stream.Push("AAPL", fallingPrices...)

	buy, seen := nextTrade(t, bot.Events())
	assert.Equal(t, domain.ActionBuy, buy.Action)
	assert.Equal(t, 101.0, buy.Price)
	assert.Equal(t, 1.0, buy.Quantity)
	assert.Nil(t, buy.PnL)
	assert.Equal(t, "sma-5-10", buy.StrategyName)
	_, ok := seen[0].(domain.SessionStarted)
	assert.True(t, ok, "first event is SessionStarted")

	sell, _ := nextTrade(t, bot.Events())
	assert.Equal(t, domain.ActionSell, sell.Action)
	assert.Equal(t, 100.0, sell.Price)
	require.NotNil(t, sell.PnL)
	assert.InDelta(t, (100.0-101.0)*1, *sell.PnL, 1e-9)

	require.NoError(t, bot.Stop(context.Background()))

	events := drain(t, bot.Events())
	require.NotEmpty(t, events)
	ended, ok := events[len(events)-1].(domain.SessionEnded)
	require.True(t, ok, "last event is SessionEnded")
	assert.Equal(t, domain.SessionCompleted, ended.Session.Status)

	for _, e := range events {
		_, isTrade := e.(domain.TradeExecuted)
		assert.False(t, isTrade, "no further trades")
	}

	s := store.Session(bot.SessionID())
	assert.Equal(t, domain.SessionCompleted, s.Status)
	assert.Equal(t, 2, s.TotalTrades)
	assert.Equal(t, 0, s.WinningTrades)
	assert.InDelta(t, -1, s.TotalPnL, 1e-9)
	require.NotNil(t, s.FinalCash)
	assert.InDelta(t, 9999, *s.FinalCash, 1e-9)
	require.NotNil(t, s.EndedAt)
	assert.Equal(t, 2, store.TradeCount())
	assert.Len(t, store.Snapshots, 2)
}

func TestBotStopIsIdempotent(t *testing.T) {
	store := NewMockStore()
	stream := NewMockStream(map[string]float64{"AAPL": 100})

	idle := usecase.NewBot(crossoverConfig("u1"), usecase.Deps{Provider: stream, Store: store})
	assert.ErrorIs(t, idle.Stop(context.Background()), domain.ErrBotStopped)

	bot := startBot(t, crossoverConfig("u1"), usecase.Deps{Provider: stream, Store: store})
	stream.WaitConnected(t)

	require.NoError(t, bot.Stop(context.Background()))
	require.NoError(t, bot.Stop(context.Background()))

	ended := 0
	for _, e := range drain(t, bot.Events()) {
		if _, ok := e.(domain.SessionEnded); ok {
			ended++
		}
	}
	assert.Equal(t, 1, ended)

	assert.ErrorIs(t, bot.Pause(context.Background()), domain.ErrBotStopped)
	assert.ErrorIs(t, bot.Resume(context.Background()), domain.ErrBotStopped)
	assert.False(t, bot.Status().Running)
}

func TestBotStopWhileStarting(t *testing.T) {
	for i := 0; i < 50; i++ {
		store := NewMockStore()
		stream := NewMockStream(map[string]float64{"AAPL": 100})
		bot := usecase.NewBot(crossoverConfig("u1"), usecase.Deps{Provider: stream, Store: store, Clock: fixedClock})

		started := make(chan error, 1)
		go func() { started <- bot.Start(context.Background()) }()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := bot.Stop(ctx)
		for errors.Is(err, domain.ErrBotStopped) && ctx.Err() == nil {
			err = bot.Stop(ctx)
		}
		cancel()

		require.NoError(t, err)
		require.NoError(t, <-started)
		assert.Equal(t, domain.SessionCompleted, store.Session(bot.SessionID()).Status)
		assert.False(t, bot.Status().Running)
	}
}

func TestBotConfigError(t *testing.T) {
	store := NewMockStore()
	cfg := crossoverConfig("u1")
	cfg.Symbols = nil
	cfg.Strategies = append(cfg.Strategies, strategy.Config{Name: "mystery", Kind: "martingale"})

	bot := usecase.NewBot(cfg, usecase.Deps{Provider: NewMockStream(nil), Store: store, Clock: fixedClock})
	err := bot.Start(context.Background())

	var cfgErr *domain.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.GreaterOrEqual(t, len(cfgErr.Problems), 2)
	assert.Empty(t, store.Sessions, "no session is created")
}

func TestBotLiveModeOutsideProduction(t *testing.T) {
	tests := []struct {
		name        string
		environment string
		wantMode    domain.TradingMode
		wantPrice   float64
		brokerBuys  int
	}{
		{"development forces paper", "development", domain.ModePaper, 101, 0},
		{"production routes to broker", "production", domain.ModeLive, 101.5, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMockStore()
			stream := NewMockStream(map[string]float64{"AAPL": 100})
			broker := &MockBroker{Price: 101.5}
			cfg := crossoverConfig("u1")
			cfg.Mode = domain.ModeLive

			bot := startBot(t, cfg, usecase.Deps{Provider: stream, Store: store, Broker: broker, Environment: tt.environment})
			stream.WaitConnected(t)
			assert.Equal(t, tt.wantMode, bot.Status().Session.Mode)

			stream.Push("AAPL", flatPrices...)
			stream.Push("AAPL", risingPrices[0])

			buy, _ := nextTrade(t, bot.Events())
			assert.Equal(t, tt.wantPrice, buy.Price)
			buys, _ := broker.calls()
			assert.Equal(t, tt.brokerBuys, buys)
			if tt.brokerBuys > 0 {
				assert.Equal(t, "ord-buy", buy.BrokerOrderID)
			}
		})
	}
}

func TestBotWarmup(t *testing.T) {
	bars := make([]domain.PriceBar, 11)
	for i := range bars {
		bars[i] = domain.PriceBar{Date: wednesdayNoon.AddDate(0, 0, i-11), Open: 100, High: 100, Low: 100, Close: 100, Volume: 1000}
	}

	t.Run("history primes the window", func(t *testing.T) {
		stream := NewMockStream(map[string]float64{})
		stream.Bars = bars
		cfg := crossoverConfig("u1")
		cfg.Warmup = usecase.WarmupConfig{Enabled: true, BufferDays: 5}

		bot := startBot(t, cfg, usecase.Deps{Provider: stream, Store: NewMockStore()})
		stream.WaitConnected(t)

		// crossing lookback is slow period + 1
		assert.Equal(t, wednesdayNoon.AddDate(0, 0, -(11+5)), stream.HistoryFrom)

		stream.Push("AAPL", 101)
		buy, _ := nextTrade(t, bot.Events())
		assert.Equal(t, domain.ActionBuy, buy.Action)
		assert.Equal(t, 101.0, buy.Price)
	})

	t.Run("failure is fatal only when asked", func(t *testing.T) {
		stream := NewMockStream(map[string]float64{"AAPL": 100})
		stream.HistoryErr = errors.New("rate limited")
		cfg := crossoverConfig("u1")
		cfg.Warmup = usecase.WarmupConfig{Enabled: true, FailOnError: true}

		store := NewMockStore()
		err := usecase.NewBot(cfg, usecase.Deps{Provider: stream, Store: store, Clock: fixedClock}).Start(context.Background())
		var werr *domain.WarmupError
		require.ErrorAs(t, err, &werr)
		assert.Equal(t, "AAPL", werr.Symbol)
		assert.Empty(t, store.Sessions)

		cfg.Warmup.FailOnError = false
		startBot(t, cfg, usecase.Deps{Provider: stream, Store: store})
		assert.Len(t, store.Sessions, 1)
	})
}

func TestBotDailyLossStopsSession(t *testing.T) {
	store := NewMockStore()
	stream := NewMockStream(map[string]float64{"AAPL": 100})
	cfg := crossoverConfig("u1")
	// buying one share at 101 moves 1.01% of the 10k out of cash
	cfg.Risk.MaxDailyLossPct = 1

	bot := startBot(t, cfg, usecase.Deps{Provider: stream, Store: store})
	stream.WaitConnected(t)

	stream.Push("AAPL", flatPrices...)
	stream.Push("AAPL", risingPrices...)
	stream.Push("AAPL", fallingPrices...)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, bot.Wait(ctx))

	s := store.Session(bot.SessionID())
	assert.Equal(t, domain.SessionStopped, s.Status)
	assert.Contains(t, s.ErrorMessage, "Daily loss")
	assert.Equal(t, 1, s.TotalTrades, "no sell after the stop")
	require.NotNil(t, s.FinalCash)
	assert.InDelta(t, 9899, *s.FinalCash, 1e-9)
	assert.False(t, bot.Status().Running)
}

func TestBotPausedSessionKeepsWindowsWithoutTrading(t *testing.T) {
	store := NewMockStore()
	stream := NewMockStream(map[string]float64{"AAPL": 100})
	bot := startBot(t, crossoverConfig("u1"), usecase.Deps{Provider: stream, Store: store})
	stream.WaitConnected(t)

	require.NoError(t, bot.Pause(context.Background()))
	assert.Equal(t, domain.SessionPaused, store.Session(bot.SessionID()).Status)

	// the crossing at 101 happens while paused
	stream.Push("AAPL", flatPrices...)
	stream.Push("AAPL", risingPrices...)

	stream.Sync()
	assert.True(t, bot.Status().Paused)
	assert.Zero(t, store.TradeCount())
	require.NoError(t, bot.Stop(context.Background()))
}

func TestBotResumeTradesOnNextCrossing(t *testing.T) {
	store := NewMockStore()
	stream := NewMockStream(map[string]float64{"AAPL": 100})
	bot := startBot(t, crossoverConfig("u1"), usecase.Deps{Provider: stream, Store: store})
	stream.WaitConnected(t)

	require.NoError(t, bot.Pause(context.Background()))
	stream.Push("AAPL", flatPrices...)
	stream.Push("AAPL", risingPrices...)
	stream.Push("AAPL", fallingPrices...)
	stream.Sync()
	require.NoError(t, bot.Resume(context.Background()))
	assert.Equal(t, domain.SessionActive, store.Session(bot.SessionID()).Status)

	// dip then recover; SMA(5) crosses back above SMA(10) at 109
	stream.Push("AAPL", 99, 98, 100, 103, 106, 109)

	buy, _ := nextTrade(t, bot.Events())
	assert.Equal(t, domain.ActionBuy, buy.Action)
	assert.Equal(t, 109.0, buy.Price)
}

func TestBotPersistenceFailureIsReported(t *testing.T) {
	store := NewMockStore()
	store.SaveTradeErr = errors.New("disk full")
	stream := NewMockStream(map[string]float64{"AAPL": 100})
	bot := startBot(t, crossoverConfig("u1"), usecase.Deps{Provider: stream, Store: store})
	stream.WaitConnected(t)

	stream.Push("AAPL", flatPrices...)
	stream.Push("AAPL", risingPrices[0])

	buy, seen := nextTrade(t, bot.Events())
	assert.Equal(t, domain.ActionBuy, buy.Action)

	var reported bool
	for _, e := range seen {
		if ee, ok := e.(domain.ErrorEvent); ok && errors.Is(ee.Err, store.SaveTradeErr) {
			reported = true
		}
	}
	assert.True(t, reported, "save failure surfaces as an error event")
	assert.Equal(t, 1, bot.Status().Session.TotalTrades, "the fill is not rolled back")
}

func TestBotStreamReconnects(t *testing.T) {
	stream := NewMockStream(map[string]float64{"AAPL": 100})
	stream.failNext = 1
	bot := startBot(t, crossoverConfig("u1"), usecase.Deps{Provider: stream, Store: NewMockStore()})

	stream.WaitConnected(t)
	stream.WaitConnected(t)
	assert.GreaterOrEqual(t, stream.Connects(), 2)

	require.NoError(t, bot.Stop(context.Background()))
	var disconnects int
	for _, e := range drain(t, bot.Events()) {
		if _, ok := e.(domain.ErrorEvent); ok {
			disconnects++
		}
	}
	assert.Equal(t, 1, disconnects)
}

func TestBotPollingFeed(t *testing.T) {
	provider := &MockProvider{Quotes: map[string]float64{"AAPL": 100}}
	cfg := crossoverConfig("u1")
	cfg.Feed = usecase.FeedConfig{Mode: usecase.FeedPolling, PollInterval: 5 * time.Millisecond}

	bot := startBot(t, cfg, usecase.Deps{Provider: provider, Store: NewMockStore()})
	require.Eventually(t, func() bool { return provider.quoteCalls() >= 4 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, bot.Stop(context.Background()))

	calls := provider.quoteCalls()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, provider.quoteCalls(), "polling stops with the session")
}

func TestBotStreamingRequiresCapableProvider(t *testing.T) {
	cfg := crossoverConfig("u1")
	err := usecase.NewBot(cfg, usecase.Deps{Provider: &MockProvider{}, Store: NewMockStore(), Clock: fixedClock}).Start(context.Background())
	var cfgErr *domain.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}
