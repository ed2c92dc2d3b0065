package indicator

import (
	"fmt"

	"github.com/vitos/strategy_bot/internal/domain"
)

type MACDOutput string

const (
	MACDLine      MACDOutput = "macd"
	MACDSignal    MACDOutput = "signal"
	MACDHistogram MACDOutput = "histogram"
)

type MACDValue struct {
	MACD      float64 `json:"macd"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}

// MACD is EMA(fast) - EMA(slow) with an EMA signal line over the MACD
// history. The history is rebuilt on every call.
type MACD struct {
	Fast   int
	Slow   int
	Signal int
	Source Source
	Output MACDOutput // scalar returned by Calculate
}

func NewMACD(fast, slow, signal int) *MACD {
	return &MACD{Fast: fast, Slow: slow, Signal: signal, Source: SourceClose, Output: MACDLine}
}

func (m *MACD) Name() string {
	name := fmt.Sprintf("MACD(%d,%d,%d%s)", m.Fast, m.Slow, m.Signal, sourceSuffix(m.Source))
	if m.Output != "" && m.Output != MACDLine {
		name += "." + string(m.Output)
	}
	return name
}

func (m *MACD) MinPeriods() int { return m.Slow + m.Signal }

func (m *MACD) Compute(bars []domain.PriceBar) (MACDValue, bool) {
	if m.Fast < 1 || m.Slow < 1 || m.Signal < 1 || len(bars) < m.Slow+m.Signal {
		return MACDValue{}, false
	}
	prices := m.Source.values(bars, 0)

	history := make([]float64, 0, len(prices)-m.Slow+1)
	for end := m.Slow; end <= len(prices); end++ {
		fast, _ := emaOf(prices[:end], m.Fast)
		slow, _ := emaOf(prices[:end], m.Slow)
		history = append(history, fast-slow)
	}

	signal, ok := emaOf(history, m.Signal)
	if !ok {
		return MACDValue{}, false
	}
	line := history[len(history)-1]
	return MACDValue{MACD: line, Signal: signal, Histogram: line - signal}, true
}

func (m *MACD) Calculate(bars []domain.PriceBar) (float64, bool) {
	v, ok := m.Compute(bars)
	if !ok {
		return 0, false
	}
	switch m.Output {
	case MACDSignal:
		return v.Signal, true
	case MACDHistogram:
		return v.Histogram, true
	default:
		return v.MACD, true
	}
}
