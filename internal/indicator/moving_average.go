package indicator

import (
	"fmt"

	"github.com/vitos/strategy_bot/internal/domain"
	"gonum.org/v1/gonum/stat"
)

// SMA is the mean of the last Period source values.
type SMA struct {
	Period int
	Source Source
}

func NewSMA(period int) *SMA { return &SMA{Period: period, Source: SourceClose} }

func (s *SMA) Name() string    { return fmt.Sprintf("SMA(%d%s)", s.Period, sourceSuffix(s.Source)) }
func (s *SMA) MinPeriods() int { return s.Period }

func (s *SMA) Calculate(bars []domain.PriceBar) (float64, bool) {
	if s.Period < 1 || len(bars) < s.Period {
		return 0, false
	}
	return stat.Mean(s.Source.values(bars, s.Period), nil), true
}

// EMA uses multiplier 2/(period+1) over the last Period values.
//
// The average is seeded with the first of those values, not with an SMA of
// an earlier window. Strategy thresholds were tuned against this behaviour,
// so keep it.
type EMA struct {
	Period int
	Source Source
}

func NewEMA(period int) *EMA { return &EMA{Period: period, Source: SourceClose} }

func (e *EMA) Name() string    { return fmt.Sprintf("EMA(%d%s)", e.Period, sourceSuffix(e.Source)) }
func (e *EMA) MinPeriods() int { return e.Period }

func (e *EMA) Calculate(bars []domain.PriceBar) (float64, bool) {
	if e.Period < 1 || len(bars) < e.Period {
		return 0, false
	}
	return emaOf(e.Source.values(bars, e.Period), e.Period)
}

// emaOf applies the EMA recurrence to the last period values of series.
func emaOf(series []float64, period int) (float64, bool) {
	if period < 1 || len(series) < period {
		return 0, false
	}
	window := series[len(series)-period:]
	m := 2.0 / float64(period+1)
	ema := window[0]
	for _, p := range window[1:] {
		ema = p*m + ema*(1-m)
	}
	return ema, true
}
