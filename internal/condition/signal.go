package condition

import "github.com/vitos/strategy_bot/internal/domain"

// SignalGenerator evaluates a buy tree and a sell tree. Buy is checked first
// and wins when both are true.
type SignalGenerator struct {
	Buy  Condition
	Sell Condition
}

func NewSignalGenerator(buy, sell Condition) *SignalGenerator {
	return &SignalGenerator{Buy: buy, Sell: sell}
}

func (g *SignalGenerator) Generate(bars []domain.PriceBar) domain.Action {
	if g.Buy != nil && g.Buy.Evaluate(bars) {
		return domain.ActionBuy
	}
	if g.Sell != nil && g.Sell.Evaluate(bars) {
		return domain.ActionSell
	}
	return domain.ActionNone
}

// Lookback is the longest history either tree needs.
func (g *SignalGenerator) Lookback() int {
	n := 0
	if g.Buy != nil {
		n = g.Buy.Lookback()
	}
	if g.Sell != nil {
		n = max(n, g.Sell.Lookback())
	}
	return n
}
