package usecase

import (
	"fmt"
	"time"

	"github.com/vitos/strategy_bot/internal/domain"
	"github.com/vitos/strategy_bot/internal/execution"
	"github.com/vitos/strategy_bot/internal/risk"
)

// desk is the bookkeeping shared by live bots and backtests: prices, the
// portfolio, the simulator and the counters the risk rules read. It is owned
// by one goroutine.
type desk struct {
	settings    domain.RiskSettings
	sim         *execution.Simulator
	portfolio   *domain.Portfolio
	initialCash float64
	orderQty    float64
	useSizing   bool

	prices  map[string]float64
	volumes map[string]float64

	peak float64

	totalTrades   int
	winningTrades int
	totalPnL      float64
}

func newDesk(settings domain.RiskSettings, cash float64, mode domain.TradingMode, orderQty float64, useSizing bool) *desk {
	if orderQty <= 0 {
		orderQty = 1
	}
	return &desk{
		settings:    settings,
		sim:         execution.NewSimulator(execution.ConfigFromSettings(settings)),
		portfolio:   domain.NewPortfolio(cash, mode),
		initialCash: cash,
		orderQty:    orderQty,
		useSizing:   useSizing,
		prices:      make(map[string]float64),
		volumes:     make(map[string]float64),
		peak:        cash,
	}
}

// observe records a new price and the portfolio's high-water mark.
func (d *desk) observe(symbol string, price, volume float64) {
	if price <= 0 {
		return
	}
	d.prices[symbol] = price
	d.volumes[symbol] = volume
	d.portfolio.MarkHigh(symbol, price)
	if v := d.portfolio.Value(d.prices); v > d.peak {
		d.peak = v
	}
}

// exit returns the full position size and reason when an open position hit
// its stop-loss, take-profit or trailing stop.
func (d *desk) exit(symbol string) (float64, risk.ExitReason) {
	pos := d.portfolio.Position(symbol)
	if pos == nil {
		return 0, risk.ExitNone
	}
	reason := risk.CheckExit(d.settings, *pos, d.prices[symbol])
	if reason == risk.ExitNone {
		return 0, reason
	}
	return pos.Shares, reason
}

// quantity is the order size for a signal. Sells never exceed the held
// shares; a sell without a position is zero.
func (d *desk) quantity(action domain.Action, symbol string) float64 {
	price := d.prices[symbol]
	switch action {
	case domain.ActionBuy:
		if d.useSizing {
			return risk.Shares(risk.PositionSize(d.settings, d.portfolio.Value(d.prices)), price)
		}
		return d.orderQty
	case domain.ActionSell:
		pos := d.portfolio.Position(symbol)
		if pos == nil {
			return 0
		}
		return min(d.orderQty, pos.Shares)
	}
	return 0
}

func (d *desk) gate(action domain.Action, symbol string, qty float64, now time.Time) risk.Decision {
	price := d.prices[symbol]
	return risk.Gate(d.settings, risk.AccountState{
		Now:            now,
		InitialCash:    d.initialCash,
		PortfolioValue: d.portfolio.Value(d.prices),
		PeakValue:      d.peak,
		DailyPnL:       d.dailyPnL(),
		OpenPositions:  d.portfolio.OpenPositions(),
		PositionValue:  d.portfolio.PositionValue(symbol, price),
	}, risk.Intent{Action: action, Symbol: symbol, Value: qty * price})
}

// fill simulates the order. Exits always go out as market orders.
func (d *desk) fill(action domain.Action, symbol string, qty float64, exit bool) execution.Result {
	price := d.prices[symbol]
	orderType := d.settings.OrderType
	if exit {
		orderType = domain.OrderMarket
	}
	return d.sim.Execute(execution.OrderRequest{
		Symbol:          symbol,
		Side:            action,
		Type:            orderType,
		TimeInForce:     d.settings.TimeInForce,
		Quantity:        qty,
		CurrentPrice:    price,
		LimitPrice:      price,
		StopPrice:       price,
		AvailableVolume: d.volumes[symbol],
	})
}

// book applies a fill to the portfolio and counters and returns the realized
// P&L for sells.
func (d *desk) book(action domain.Action, symbol string, qty, price, commission float64, at time.Time) (*float64, error) {
	switch action {
	case domain.ActionBuy:
		if err := d.portfolio.Buy(symbol, qty, price, commission, at); err != nil {
			return nil, fmt.Errorf("buy %s: %w", symbol, err)
		}
		d.totalTrades++
		return nil, nil
	case domain.ActionSell:
		pnl, err := d.portfolio.Sell(symbol, qty, price, commission)
		if err != nil {
			return nil, fmt.Errorf("sell %s: %w", symbol, err)
		}
		d.totalTrades++
		d.totalPnL += pnl
		if pnl > 0 {
			d.winningTrades++
		}
		return &pnl, nil
	}
	return nil, fmt.Errorf("unknown action %q", action)
}

// dailyPnL is current cash against the cash the session started with, so
// money tied up in open positions counts as a loss until it is sold back.
func (d *desk) dailyPnL() float64 { return d.portfolio.Cash - d.initialCash }

func (d *desk) dailyLoss() risk.Decision {
	return risk.CheckDailyLoss(d.settings, d.initialCash, d.dailyPnL())
}

func (d *desk) value() float64 { return d.portfolio.Value(d.prices) }
