// Package risk holds the stateless risk rules a signal has to pass before it
// becomes an order. Rejections are ordinary Decision values, not errors.
package risk

import (
	"fmt"
	"time"

	"github.com/vitos/strategy_bot/internal/domain"
)

type Decision struct {
	Allowed bool
	// ShouldStop asks the caller to end the whole session, not just skip
	// the trade.
	ShouldStop bool
	Reason     string
}

var allow = Decision{Allowed: true}

func reject(format string, args ...any) Decision {
	return Decision{Reason: fmt.Sprintf(format, args...)}
}

func stop(format string, args ...any) Decision {
	return Decision{ShouldStop: true, Reason: fmt.Sprintf(format, args...)}
}

// CheckPositionSize rejects an order that would push the symbol's position
// above MaxPositionSizePct of the portfolio.
func CheckPositionSize(s domain.RiskSettings, currentValue, newValue, portfolioValue float64) Decision {
	if s.MaxPositionSizePct <= 0 {
		return allow
	}
	limit := portfolioValue * s.MaxPositionSizePct / 100
	if currentValue+newValue > limit {
		return reject("Position size %.2f exceeds %.2f%% of portfolio (%.2f)", currentValue+newValue, s.MaxPositionSizePct, limit)
	}
	return allow
}

func CheckMaxOpenPositions(s domain.RiskSettings, open int) Decision {
	if s.MaxOpenPositions <= 0 {
		return allow
	}
	if open >= s.MaxOpenPositions {
		return reject("Maximum open positions reached (%d)", s.MaxOpenPositions)
	}
	return allow
}

// CheckDailyLoss stops the session once the day's loss reaches either the
// percentage or the absolute limit.
func CheckDailyLoss(s domain.RiskSettings, initialCash, dailyPnL float64) Decision {
	loss := -dailyPnL
	if loss <= 0 {
		return allow
	}
	if s.MaxDailyLossPct > 0 && initialCash > 0 {
		if pct := loss / initialCash * 100; pct >= s.MaxDailyLossPct {
			return stop("Daily loss limit reached: %.2f%% >= %.2f%%", pct, s.MaxDailyLossPct)
		}
	}
	if s.MaxDailyLoss > 0 && loss >= s.MaxDailyLoss {
		return stop("Daily loss limit reached: %.2f >= %.2f", loss, s.MaxDailyLoss)
	}
	return allow
}

// CheckDrawdown stops the session when the portfolio has fallen
// MaxDrawdownPct from its peak.
func CheckDrawdown(s domain.RiskSettings, peakValue, currentValue float64) Decision {
	if s.MaxDrawdownPct <= 0 || peakValue <= 0 {
		return allow
	}
	if dd := (peakValue - currentValue) / peakValue * 100; dd >= s.MaxDrawdownPct {
		return stop("Max drawdown reached: %.2f%% >= %.2f%%", dd, s.MaxDrawdownPct)
	}
	return allow
}

type ExitReason string

const (
	ExitNone         ExitReason = ""
	ExitStopLoss     ExitReason = "stop_loss"
	ExitTakeProfit   ExitReason = "take_profit"
	ExitTrailingStop ExitReason = "trailing_stop"
)

// CheckExit reports whether an open position has to be closed at price.
// The trailing stop is measured from the position's high-water mark.
func CheckExit(s domain.RiskSettings, pos domain.Position, price float64) ExitReason {
	if pos.Shares <= 0 || pos.AvgPrice <= 0 {
		return ExitNone
	}
	pnlPct := (price - pos.AvgPrice) / pos.AvgPrice * 100
	switch {
	case s.StopLossPct > 0 && pnlPct <= -s.StopLossPct:
		return ExitStopLoss
	case s.TakeProfitPct > 0 && pnlPct >= s.TakeProfitPct:
		return ExitTakeProfit
	case s.TrailingStopPct > 0 && pos.HighPrice > 0 && price <= pos.HighPrice*(1-s.TrailingStopPct/100):
		return ExitTrailingStop
	}
	return ExitNone
}

// CheckTradingWindow compares the UTC weekday against TradingDays and the UTC
// clock against the inclusive HH:mm window.
func CheckTradingWindow(s domain.RiskSettings, now time.Time) Decision {
	now = now.UTC()
	if len(s.TradingDays) > 0 {
		allowed := false
		for _, d := range s.TradingDays {
			if wd, ok := domain.ParseWeekday(d); ok && wd == now.Weekday() {
				allowed = true
				break
			}
		}
		if !allowed {
			return reject("Trading not allowed on %s", now.Weekday())
		}
	}

	start, end := s.TradingHoursStart, s.TradingHoursEnd
	if start == "" {
		start = "00:00"
	}
	if end == "" {
		end = "23:59"
	}
	clock := now.Format("15:04")
	if clock < start || clock > end {
		return reject("Outside trading hours %s-%s UTC", start, end)
	}
	return allow
}

// AccountState is what the gate needs to know about the session at the
// moment of a signal.
type AccountState struct {
	Now            time.Time
	InitialCash    float64
	PortfolioValue float64
	PeakValue      float64
	DailyPnL       float64
	OpenPositions  int
	// PositionValue is the current value held in the intent's symbol.
	PositionValue float64
}

type Intent struct {
	Action domain.Action
	Symbol string
	Value  float64 // notional of the order
}

// Gate runs the checks that apply to intent: trading window, daily loss,
// drawdown, then open positions and position size for buys.
func Gate(s domain.RiskSettings, acct AccountState, intent Intent) Decision {
	if d := CheckTradingWindow(s, acct.Now); !d.Allowed {
		return d
	}
	if d := CheckDailyLoss(s, acct.InitialCash, acct.DailyPnL); !d.Allowed {
		return d
	}
	if d := CheckDrawdown(s, acct.PeakValue, acct.PortfolioValue); !d.Allowed {
		return d
	}
	if intent.Action != domain.ActionBuy {
		return allow
	}
	if acct.PositionValue <= 0 {
		if d := CheckMaxOpenPositions(s, acct.OpenPositions); !d.Allowed {
			return d
		}
	}
	return CheckPositionSize(s, acct.PositionValue, intent.Value, acct.PortfolioValue)
}
