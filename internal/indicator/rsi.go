package indicator

import (
	"fmt"

	"github.com/vitos/strategy_bot/internal/domain"
)

// RSI is the relative strength index over the last Period+1 observations:
// Wilder's seed averages of the last Period changes. Older bars in the window
// do not affect the value.
type RSI struct {
	Period int
	Source Source
}

func NewRSI(period int) *RSI { return &RSI{Period: period, Source: SourceClose} }

func (r *RSI) Name() string    { return fmt.Sprintf("RSI(%d%s)", r.Period, sourceSuffix(r.Source)) }
func (r *RSI) MinPeriods() int { return r.Period + 1 }

func (r *RSI) Calculate(bars []domain.PriceBar) (float64, bool) {
	if r.Period < 1 || len(bars) < r.Period+1 {
		return 0, false
	}
	prices := r.Source.values(bars, r.Period+1)

	var gains, losses float64
	for i := 1; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			gains += change
		} else {
			losses -= change
		}
	}
	period := float64(r.Period)
	avgGain := gains / period
	avgLoss := losses / period

	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}
