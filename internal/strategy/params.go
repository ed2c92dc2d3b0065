package strategy

import (
	"fmt"
	"strings"

	"github.com/vitos/strategy_bot/internal/indicator"
)

// Indicator types accepted in condition trees.
const (
	IndicatorSMA       = "sma"
	IndicatorEMA       = "ema"
	IndicatorRSI       = "rsi"
	IndicatorMACD      = "macd"
	IndicatorBollinger = "bollinger"
	IndicatorVWAP      = "vwap"
	IndicatorPrice     = "price"
)

// Leaf conditions.
const (
	CondAbove           = "above"
	CondBelow           = "below"
	CondCrossesAbove    = "crosses_above"
	CondCrossesBelow    = "crosses_below"
	CondAboveIndicator  = "above_indicator"
	CondBelowIndicator  = "below_indicator"
	CondOverbought      = "overbought"
	CondOversold        = "oversold"
	CondPriceAboveUpper = "price_above_upper"
	CondPriceBelowLower = "price_below_lower"
)

const (
	defaultOverbought = 70
	defaultOversold   = 30
)

func normalizeIndicator(t string) string {
	switch t = strings.ToLower(strings.TrimSpace(t)); t {
	case "bb", "bbands", "bollinger_bands":
		return IndicatorBollinger
	}
	return t
}

func normalize(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// param returns the first key present in p, or def.
func param(p map[string]float64, def float64, keys ...string) float64 {
	for _, k := range keys {
		if v, ok := p[k]; ok {
			return v
		}
	}
	return def
}

func periodParam(p map[string]float64, def int) int {
	return int(param(p, float64(def), "period", "length"))
}

type macdParams struct{ fast, slow, signal int }

func macdParamsOf(p map[string]float64) macdParams {
	return macdParams{
		fast:   int(param(p, 12, "fast", "fastPeriod", "fast_period")),
		slow:   int(param(p, 26, "slow", "slowPeriod", "slow_period")),
		signal: int(param(p, 9, "signal", "signalPeriod", "signal_period")),
	}
}

func bollingerParamsOf(p map[string]float64) (int, float64) {
	return periodParam(p, 20), param(p, 2, "multiplier", "stdDev", "std_dev")
}

func defaultPeriod(typ string) int {
	switch typ {
	case IndicatorRSI:
		return 14
	case IndicatorVWAP:
		return 0
	}
	return 20
}

// buildIndicator constructs the indicator a spec or ref describes. It
// assumes the parameters already passed validation.
func buildIndicator(typ string, params map[string]float64, source, output string) (indicator.Indicator, error) {
	src, err := indicator.ParseSource(source)
	if err != nil {
		return nil, err
	}
	typ = normalizeIndicator(typ)
	switch typ {
	case IndicatorSMA:
		return &indicator.SMA{Period: periodParam(params, defaultPeriod(typ)), Source: src}, nil
	case IndicatorEMA:
		return &indicator.EMA{Period: periodParam(params, defaultPeriod(typ)), Source: src}, nil
	case IndicatorRSI:
		return &indicator.RSI{Period: periodParam(params, defaultPeriod(typ)), Source: src}, nil
	case IndicatorMACD:
		mp := macdParamsOf(params)
		m := &indicator.MACD{Fast: mp.fast, Slow: mp.slow, Signal: mp.signal, Source: src, Output: indicator.MACDLine}
		if output != "" {
			m.Output = indicator.MACDOutput(normalize(output))
		}
		return m, nil
	case IndicatorBollinger:
		period, mult := bollingerParamsOf(params)
		b := &indicator.Bollinger{Period: period, Multiplier: mult, Source: src, Band: indicator.BandMiddle}
		if output != "" {
			b.Band = indicator.Band(normalize(output))
		}
		return b, nil
	case IndicatorVWAP:
		return &indicator.VWAP{Period: periodParam(params, defaultPeriod(typ))}, nil
	case IndicatorPrice:
		return indicator.Price{Source: src}, nil
	}
	return nil, fmt.Errorf("unknown indicator type %q", typ)
}
