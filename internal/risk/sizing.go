package risk

import (
	"math"

	"github.com/vitos/strategy_bot/internal/domain"
)

// PositionSize returns the notional to commit to a new position.
//
// Kelly sizing has no win/loss estimator yet and uses the percentage formula.
func PositionSize(s domain.RiskSettings, portfolioValue float64) float64 {
	switch s.PositionSizing {
	case domain.SizingPercentage, domain.SizingKelly:
		return portfolioValue * s.PositionSizeValue / 100
	case domain.SizingEqualWeight:
		if s.MaxOpenPositions <= 0 {
			return portfolioValue
		}
		return portfolioValue / float64(s.MaxOpenPositions)
	default:
		return s.PositionSizeValue
	}
}

// Shares converts a notional into whole shares at price.
func Shares(notional, price float64) float64 {
	if notional <= 0 || price <= 0 {
		return 0
	}
	return math.Floor(notional / price)
}
