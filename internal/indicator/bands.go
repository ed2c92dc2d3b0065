package indicator

import (
	"fmt"
	"math"

	"github.com/vitos/strategy_bot/internal/domain"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

type Band string

const (
	BandUpper  Band = "upper"
	BandMiddle Band = "middle"
	BandLower  Band = "lower"
)

type BandsValue struct {
	Upper  float64 `json:"upper"`
	Middle float64 `json:"middle"`
	Lower  float64 `json:"lower"`
}

// Bollinger bands: SMA middle, population standard deviation width.
type Bollinger struct {
	Period     int
	Multiplier float64
	Source     Source
	Band       Band // scalar returned by Calculate
}

func NewBollinger(period int, multiplier float64) *Bollinger {
	return &Bollinger{Period: period, Multiplier: multiplier, Source: SourceClose, Band: BandMiddle}
}

func (b *Bollinger) Name() string {
	return fmt.Sprintf("BB(%d,%g%s).%s", b.Period, b.Multiplier, sourceSuffix(b.Source), b.band())
}

func (b *Bollinger) MinPeriods() int { return b.Period }

func (b *Bollinger) band() Band {
	if b.Band == "" {
		return BandMiddle
	}
	return b.Band
}

func (b *Bollinger) Compute(bars []domain.PriceBar) (BandsValue, bool) {
	if b.Period < 1 || len(bars) < b.Period {
		return BandsValue{}, false
	}
	window := b.Source.values(bars, b.Period)
	middle := stat.Mean(window, nil)
	width := math.Sqrt(stat.PopVariance(window, nil)) * b.Multiplier
	return BandsValue{Upper: middle + width, Middle: middle, Lower: middle - width}, true
}

func (b *Bollinger) Calculate(bars []domain.PriceBar) (float64, bool) {
	v, ok := b.Compute(bars)
	if !ok {
		return 0, false
	}
	switch b.band() {
	case BandUpper:
		return v.Upper, true
	case BandLower:
		return v.Lower, true
	default:
		return v.Middle, true
	}
}

// VWAP is the volume-weighted typical price over the last Period bars, or
// the whole window when Period is 0.
type VWAP struct {
	Period int
}

func NewVWAP(period int) *VWAP { return &VWAP{Period: period} }

func (v *VWAP) Name() string {
	if v.Period <= 0 {
		return "VWAP"
	}
	return fmt.Sprintf("VWAP(%d)", v.Period)
}

func (v *VWAP) MinPeriods() int {
	if v.Period <= 0 {
		return 1
	}
	return v.Period
}

func (v *VWAP) Calculate(bars []domain.PriceBar) (float64, bool) {
	if len(bars) == 0 || (v.Period > 0 && len(bars) < v.Period) {
		return 0, false
	}
	typical := SourceHLC3.values(bars, v.Period)
	volume := SourceVolume.values(bars, v.Period)
	if floats.Sum(volume) <= 0 {
		return 0, false
	}
	return stat.Mean(typical, volume), true
}

// Price is the latest source value of the window.
type Price struct {
	Source Source
}

func (p Price) Name() string    { return "PRICE" + sourceSuffix(p.Source) }
func (p Price) MinPeriods() int { return 1 }

func (p Price) Calculate(bars []domain.PriceBar) (float64, bool) {
	if len(bars) == 0 {
		return 0, false
	}
	return p.Source.of(bars[len(bars)-1]), true
}

// Constant lets a fixed level sit where an indicator is expected.
type Constant float64

func (c Constant) Name() string    { return fmt.Sprintf("%g", float64(c)) }
func (c Constant) MinPeriods() int { return 0 }

func (c Constant) Calculate([]domain.PriceBar) (float64, bool) {
	return float64(c), true
}
