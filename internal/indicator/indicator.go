// Package indicator computes technical indicators over a price window.
//
// Every indicator is a pure function of the bars it is given. A false ok
// result means the window is shorter than the indicator needs; callers treat
// it as "not ready yet" rather than an error.
package indicator

import (
	"fmt"

	"github.com/vitos/strategy_bot/internal/domain"
)

// Indicator produces one scalar per window.
type Indicator interface {
	Name() string
	MinPeriods() int
	Calculate(bars []domain.PriceBar) (float64, bool)
}

// Source selects which bar field feeds an indicator.
type Source string

const (
	SourceClose  Source = "close"
	SourceOpen   Source = "open"
	SourceHigh   Source = "high"
	SourceLow    Source = "low"
	SourceVolume Source = "volume"
	SourceHL2    Source = "hl2"
	SourceHLC3   Source = "hlc3" // typical price
)

// ParseSource maps a config string to a Source; empty means close.
func ParseSource(s string) (Source, error) {
	switch src := Source(s); src {
	case "":
		return SourceClose, nil
	case SourceClose, SourceOpen, SourceHigh, SourceLow, SourceVolume, SourceHL2, SourceHLC3:
		return src, nil
	}
	return "", fmt.Errorf("unknown price source %q", s)
}

func (s Source) of(b domain.PriceBar) float64 {
	switch s {
	case SourceOpen:
		return b.Open
	case SourceHigh:
		return b.High
	case SourceLow:
		return b.Low
	case SourceVolume:
		return b.Volume
	case SourceHL2:
		return (b.High + b.Low) / 2
	case SourceHLC3:
		return (b.High + b.Low + b.Close) / 3
	default:
		return b.Close
	}
}

// values extracts the source series of the last n bars (all bars if n <= 0).
func (s Source) values(bars []domain.PriceBar, n int) []float64 {
	if n > 0 && n < len(bars) {
		bars = bars[len(bars)-n:]
	}
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = s.of(b)
	}
	return out
}

func sourceSuffix(s Source) string {
	if s == "" || s == SourceClose {
		return ""
	}
	return "," + string(s)
}
