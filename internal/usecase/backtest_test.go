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

func minuteBars(prices ...float64) []domain.PriceBar {
	start := time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC)
	bars := make([]domain.PriceBar, len(prices))
	for i, p := range prices {
		bars[i] = domain.PriceBar{Date: start.Add(time.Duration(i) * time.Minute), Open: p, High: p, Low: p, Close: p, Volume: 1000}
	}
	return bars
}

func crossoverBacktest() usecase.BacktestConfig {
	return usecase.BacktestConfig{
		Symbol:      "AAPL",
		Interval:    "1Min",
		InitialCash: 10000,
		Risk:        domain.DefaultRiskSettings(),
		Strategy: strategy.Config{
			Name:   "sma-5-10",
			Kind:   strategy.KindSMACrossover,
			Params: map[string]float64{"fast": 5, "slow": 10},
		},
	}
}

func TestBacktestRoundTrip(t *testing.T) {
	var prices []float64
	prices = append(prices, flatPrices...)
	prices = append(prices, risingPrices...)
	prices = append(prices, fallingPrices...)

	bt := usecase.NewBacktester(nil, nil)
	report, err := bt.RunBars(crossoverBacktest(), minuteBars(prices...))
	require.NoError(t, err)

	require.Len(t, report.Trades, 2)
	assert.Equal(t, domain.ActionBuy, report.Trades[0].Action)
	assert.Equal(t, 101.0, report.Trades[0].Price)
	assert.Equal(t, domain.ActionSell, report.Trades[1].Action)
	assert.Equal(t, 100.0, report.Trades[1].Price)
	require.NotNil(t, report.Trades[1].PnL)
	assert.InDelta(t, -1, *report.Trades[1].PnL, 1e-9)

	assert.Equal(t, "sma-5-10", report.Strategy)
	assert.Equal(t, len(prices), report.Bars)
	assert.Equal(t, 2, report.TotalTrades)
	assert.Equal(t, 0, report.WinningTrades)
	assert.Equal(t, 0.0, report.WinRate)
	assert.Equal(t, 9999.0, report.FinalCash)
	assert.Equal(t, 9999.0, report.FinalValue)
	assert.Equal(t, -0.01, report.ReturnPct)
	// peak 10004 at 105, trough 9999
	assert.Equal(t, 0.05, report.MaxDrawdownPct)
	assert.Empty(t, report.StopReason)
}

func TestBacktestStopLossExit(t *testing.T) {
	var prices []float64
	prices = append(prices, flatPrices...)
	prices = append(prices, 101, 95)

	report, err := usecase.NewBacktester(nil, nil).RunBars(crossoverBacktest(), minuteBars(prices...))
	require.NoError(t, err)

	require.Len(t, report.Trades, 2)
	assert.Equal(t, "stop_loss", report.Trades[1].Reason)
	assert.Equal(t, 95.0, report.Trades[1].Price)
}

func TestBacktestDailyLossEndsRun(t *testing.T) {
	var prices []float64
	prices = append(prices, flatPrices...)
	prices = append(prices, risingPrices...)
	prices = append(prices, fallingPrices...)
	prices = append(prices, 99, 98, 100, 103, 106, 109)

	tests := []struct {
		name       string
		qty        float64
		maxLossPct float64
		wantTrades int
		wantStop   bool
		wantCash   float64
	}{
		{name: "cash spent on a buy counts", qty: 60, maxLossPct: 5, wantTrades: 1, wantStop: true, wantCash: 3940},
		{name: "small buy stays under the limit", qty: 1, maxLossPct: 5, wantTrades: 3, wantStop: false, wantCash: 9890},
		{name: "tight limit", qty: 1, maxLossPct: 1, wantTrades: 1, wantStop: true, wantCash: 9899},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := crossoverBacktest()
			cfg.OrderQuantity = tt.qty
			cfg.Risk.MaxPositionSizePct = 100
			cfg.Risk.MaxDailyLossPct = tt.maxLossPct

			report, err := usecase.NewBacktester(nil, nil).RunBars(cfg, minuteBars(prices...))
			require.NoError(t, err)
			assert.Len(t, report.Trades, tt.wantTrades)
			assert.Equal(t, tt.wantCash, report.FinalCash)
			if tt.wantStop {
				assert.Contains(t, report.StopReason, "Daily loss")
			} else {
				assert.Empty(t, report.StopReason)
			}
		})
	}
}

func TestBacktestRun(t *testing.T) {
	provider := &MockProvider{Bars: minuteBars(flatPrices...)}
	report, err := usecase.NewBacktester(provider, nil).Run(context.Background(), crossoverBacktest())
	require.NoError(t, err)
	assert.Empty(t, report.Trades)
	assert.Equal(t, 10000.0, report.FinalValue)

	provider.HistoryErr = errors.New("unauthorized")
	_, err = usecase.NewBacktester(provider, nil).Run(context.Background(), crossoverBacktest())
	assert.ErrorIs(t, err, provider.HistoryErr)
}

func TestBacktestRejectsBadConfig(t *testing.T) {
	bt := usecase.NewBacktester(nil, nil)

	tests := []struct {
		name   string
		mutate func(*usecase.BacktestConfig)
	}{
		{"no symbol", func(c *usecase.BacktestConfig) { c.Symbol = "" }},
		{"no cash", func(c *usecase.BacktestConfig) { c.InitialCash = 0 }},
		{"unknown kind", func(c *usecase.BacktestConfig) { c.Strategy.Kind = "martingale" }},
		{"bad risk", func(c *usecase.BacktestConfig) { c.Risk.StopLossPct = 150 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := crossoverBacktest()
			tt.mutate(&cfg)
			_, err := bt.RunBars(cfg, minuteBars(100))
			assert.Error(t, err)
		})
	}
}
