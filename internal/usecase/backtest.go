package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vitos/strategy_bot/internal/domain"
	"github.com/vitos/strategy_bot/internal/risk"
	"github.com/vitos/strategy_bot/internal/strategy"
	"go.uber.org/zap"
)

type BacktestConfig struct {
	Symbol        string              `yaml:"symbol"`
	Strategy      strategy.Config     `yaml:"strategy"`
	Interval      string              `yaml:"interval"`
	Start         time.Time           `yaml:"start"`
	End           time.Time           `yaml:"end"`
	InitialCash   float64             `yaml:"initial_cash"`
	Risk          domain.RiskSettings `yaml:"risk"`
	OrderQuantity float64             `yaml:"order_quantity"`
	UseSizing     bool                `yaml:"use_sizing"`
	WindowSize    int                 `yaml:"window_size"`
}

type BacktestReport struct {
	Symbol         string         `json:"symbol"`
	Strategy       string         `json:"strategy"`
	Bars           int            `json:"bars"`
	Trades         []domain.Trade `json:"trades"`
	InitialCash    float64        `json:"initial_cash"`
	FinalCash      float64        `json:"final_cash"`
	FinalValue     float64        `json:"final_value"`
	ReturnPct      float64        `json:"return_pct"`
	TotalTrades    int            `json:"total_trades"`
	WinningTrades  int            `json:"winning_trades"`
	WinRate        float64        `json:"win_rate"`
	MaxDrawdownPct float64        `json:"max_drawdown_pct"`
	StopReason     string         `json:"stop_reason,omitempty"`
}

// Backtester replays historical bars through the same instance, risk gate,
// simulator and portfolio code the live bot uses.
type Backtester struct {
	provider domain.MarketDataProvider
	logger   *zap.Logger
}

func NewBacktester(provider domain.MarketDataProvider, logger *zap.Logger) *Backtester {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backtester{provider: provider, logger: logger}
}

func (bt *Backtester) Run(ctx context.Context, cfg BacktestConfig) (*BacktestReport, error) {
	if cfg.Interval == "" {
		cfg.Interval = defaultInterval
	}
	bars, err := bt.provider.GetHistorical(ctx, cfg.Symbol, cfg.Interval, cfg.Start, cfg.End)
	if err != nil {
		return nil, fmt.Errorf("fetch bars for %s: %w", cfg.Symbol, err)
	}
	bt.logger.Info("Backtest data loaded",
		zap.String("symbol", cfg.Symbol),
		zap.String("interval", cfg.Interval),
		zap.Int("bars", len(bars)))
	return bt.RunBars(cfg, bars)
}

// RunBars evaluates the strategy after every bar. Orders fill at the bar's
// close, limited by the bar's volume.
func (bt *Backtester) RunBars(cfg BacktestConfig, bars []domain.PriceBar) (*BacktestReport, error) {
	if cfg.Symbol == "" {
		return nil, errors.New("backtest symbol is required")
	}
	if cfg.InitialCash <= 0 {
		return nil, errors.New("backtest initial cash must be positive")
	}
	if problems := cfg.Risk.Validate(); len(problems) > 0 {
		return nil, &domain.ConfigError{Problems: problems}
	}
	def, err := strategy.Build(cfg.Strategy)
	if err != nil {
		return nil, err
	}

	inst := strategy.NewInstance(cfg.Symbol, def, cfg.WindowSize)
	d := newDesk(cfg.Risk, cfg.InitialCash, domain.ModeBacktest, cfg.OrderQuantity, cfg.UseSizing)
	report := &BacktestReport{
		Symbol:      cfg.Symbol,
		Strategy:    def.Name,
		Bars:        len(bars),
		InitialCash: cfg.InitialCash,
	}

	peak, maxDD := cfg.InitialCash, 0.0
	for _, bar := range bars {
		d.observe(cfg.Symbol, bar.Close, bar.Volume)
		inst.Append(bar)

		action, qty, reason, exit := bt.decide(d, inst)
		if action != domain.ActionNone {
			if !exit {
				dec := d.gate(action, cfg.Symbol, qty, bar.Date)
				if dec.ShouldStop {
					report.StopReason = dec.Reason
					break
				}
				if !dec.Allowed {
					action = domain.ActionNone
				}
			}
		}
		if action != domain.ActionNone {
			if t, ok := bt.trade(d, cfg.Symbol, inst.Name(), action, qty, reason, exit, bar.Date); ok {
				report.Trades = append(report.Trades, t)
			}
			if dec := d.dailyLoss(); dec.ShouldStop {
				report.StopReason = dec.Reason
				break
			}
		}

		v := d.value()
		peak = max(peak, v)
		if peak > 0 {
			maxDD = max(maxDD, (peak-v)/peak*100)
		}
	}

	sells := 0
	for _, t := range report.Trades {
		if t.Action == domain.ActionSell {
			sells++
		}
	}
	report.FinalCash = round2(d.portfolio.Cash)
	report.FinalValue = round2(d.value())
	report.ReturnPct = round2((d.value() - cfg.InitialCash) / cfg.InitialCash * 100)
	report.TotalTrades = d.totalTrades
	report.WinningTrades = d.winningTrades
	if sells > 0 {
		report.WinRate = round2(float64(d.winningTrades) / float64(sells) * 100)
	}
	report.MaxDrawdownPct = round2(maxDD)

	bt.logger.Info("Backtest finished",
		zap.String("symbol", cfg.Symbol),
		zap.String("strategy", def.Name),
		zap.Int("trades", report.TotalTrades),
		zap.Float64("return_pct", report.ReturnPct),
		zap.Float64("max_drawdown_pct", report.MaxDrawdownPct))
	return report, nil
}

func (bt *Backtester) decide(d *desk, inst *strategy.Instance) (domain.Action, float64, string, bool) {
	if qty, reason := d.exit(inst.Symbol); reason != risk.ExitNone {
		return domain.ActionSell, qty, string(reason), true
	}
	action := inst.Signal()
	if action == domain.ActionNone {
		return action, 0, "", false
	}
	qty := d.quantity(action, inst.Symbol)
	if qty <= 0 {
		return domain.ActionNone, 0, "", false
	}
	return action, qty, "signal", false
}

func (bt *Backtester) trade(d *desk, symbol, name string, action domain.Action, qty float64, reason string, exit bool, at time.Time) (domain.Trade, bool) {
	res := d.fill(action, symbol, qty, exit)
	if !res.Executed {
		bt.logger.Debug("Backtest order not filled", zap.String("reason", res.Reason), zap.Time("at", at))
		return domain.Trade{}, false
	}
	pnl, err := d.book(action, symbol, res.ExecutedQuantity, res.ExecutedPrice, res.Commission, at)
	if err != nil {
		bt.logger.Debug("Backtest trade not booked", zap.Error(err), zap.Time("at", at))
		return domain.Trade{}, false
	}
	return domain.Trade{
		ID:           uuid.NewString(),
		Symbol:       symbol,
		Action:       action,
		Quantity:     res.ExecutedQuantity,
		Price:        res.ExecutedPrice,
		Commission:   res.Commission,
		Timestamp:    at,
		StrategyName: name,
		PnL:          pnl,
		Reason:       reason,
	}, true
}

func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
