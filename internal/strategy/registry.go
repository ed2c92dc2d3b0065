package strategy

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/vitos/strategy_bot/internal/condition"
	"github.com/vitos/strategy_bot/internal/indicator"
)

// Kind selects how a strategy's buy and sell trees are built.
type Kind string

const (
	KindSMACrossover       Kind = "sma_crossover"
	KindEMACrossover       Kind = "ema_crossover"
	KindRSIReversion       Kind = "rsi_reversion"
	KindMACDCrossover      Kind = "macd_crossover"
	KindBollingerReversion Kind = "bollinger_reversion"
	KindCustom             Kind = "custom"
)

// Config describes one strategy as it appears in bot configuration.
type Config struct {
	Name    string             `yaml:"name" json:"name"`
	Kind    Kind               `yaml:"kind" json:"kind"`
	Enabled *bool              `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Params  map[string]float64 `yaml:"params,omitempty" json:"params,omitempty"`
	Buy     Conditions         `yaml:"buy,omitempty" json:"buy,omitempty"`
	Sell    Conditions         `yaml:"sell,omitempty" json:"sell,omitempty"`
}

// IsEnabled treats a missing flag as enabled.
func (c Config) IsEnabled() bool { return c.Enabled == nil || *c.Enabled }

// Definition is a built strategy: a name and its two condition trees.
type Definition struct {
	Name string
	Kind Kind
	Buy  condition.Condition
	Sell condition.Condition
}

func (d *Definition) Generator() *condition.SignalGenerator {
	return condition.NewSignalGenerator(d.Buy, d.Sell)
}

// InvalidStrategyError carries the validation result of a rejected custom
// strategy.
type InvalidStrategyError struct {
	Name   string
	Result ValidationResult
}

func (e *InvalidStrategyError) Error() string {
	return fmt.Sprintf("strategy %q is invalid: %s", e.Name, strings.Join(e.Result.Errors, "; "))
}

type constructor func(cfg Config) (*Definition, error)

var registry = map[Kind]constructor{
	KindSMACrossover:       smaCrossover,
	KindEMACrossover:       emaCrossover,
	KindRSIReversion:       rsiReversion,
	KindMACDCrossover:      macdCrossover,
	KindBollingerReversion: bollingerReversion,
	KindCustom:             custom,
}

// Kinds lists the registered strategy kinds in name order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Build constructs the strategy described by cfg.
func Build(cfg Config) (*Definition, error) {
	ctor, ok := registry[Kind(normalize(string(cfg.Kind)))]
	if !ok {
		return nil, fmt.Errorf("unknown strategy kind %q", cfg.Kind)
	}
	if cfg.Name == "" {
		cfg.Name = string(cfg.Kind)
	}
	def, err := ctor(cfg)
	if err != nil {
		return nil, err
	}
	def.Name = cfg.Name
	def.Kind = Kind(normalize(string(cfg.Kind)))
	return def, nil
}

func smaCrossover(cfg Config) (*Definition, error) {
	fast := int(param(cfg.Params, 10, "fast", "fast_period", "short"))
	slow := int(param(cfg.Params, 30, "slow", "slow_period", "long"))
	if err := checkCrossoverPeriods(fast, slow); err != nil {
		return nil, err
	}
	f, s := indicator.NewSMA(fast), indicator.NewSMA(slow)
	return &Definition{Buy: condition.CrossesAbove(f, s), Sell: condition.CrossesBelow(f, s)}, nil
}

func emaCrossover(cfg Config) (*Definition, error) {
	fast := int(param(cfg.Params, 12, "fast", "fast_period", "short"))
	slow := int(param(cfg.Params, 26, "slow", "slow_period", "long"))
	if err := checkCrossoverPeriods(fast, slow); err != nil {
		return nil, err
	}
	f, s := indicator.NewEMA(fast), indicator.NewEMA(slow)
	return &Definition{Buy: condition.CrossesAbove(f, s), Sell: condition.CrossesBelow(f, s)}, nil
}

func checkCrossoverPeriods(fast, slow int) error {
	if fast < 1 || slow < 1 {
		return fmt.Errorf("crossover periods must be at least 1, got %d and %d", fast, slow)
	}
	if fast >= slow {
		return fmt.Errorf("fast period %d must be less than slow period %d", fast, slow)
	}
	return nil
}

func rsiReversion(cfg Config) (*Definition, error) {
	period := periodParam(cfg.Params, 14)
	oversold := param(cfg.Params, defaultOversold, "oversold")
	overbought := param(cfg.Params, defaultOverbought, "overbought")
	if period < 1 {
		return nil, fmt.Errorf("RSI period must be at least 1, got %d", period)
	}
	if oversold >= overbought {
		return nil, fmt.Errorf("oversold level %g must be below overbought level %g", oversold, overbought)
	}
	rsi := indicator.NewRSI(period)
	return &Definition{Buy: condition.Below(rsi, oversold), Sell: condition.Above(rsi, overbought)}, nil
}

func macdCrossover(cfg Config) (*Definition, error) {
	mp := macdParamsOf(cfg.Params)
	if mp.fast < 1 || mp.signal < 1 {
		return nil, errors.New("MACD periods must be at least 1")
	}
	if mp.fast >= mp.slow {
		return nil, errors.New("MACD fast period must be less than slow period")
	}
	line := &indicator.MACD{Fast: mp.fast, Slow: mp.slow, Signal: mp.signal, Output: indicator.MACDLine}
	signal := &indicator.MACD{Fast: mp.fast, Slow: mp.slow, Signal: mp.signal, Output: indicator.MACDSignal}
	return &Definition{Buy: condition.CrossesAbove(line, signal), Sell: condition.CrossesBelow(line, signal)}, nil
}

func bollingerReversion(cfg Config) (*Definition, error) {
	period, mult := bollingerParamsOf(cfg.Params)
	if period < 1 || mult <= 0 {
		return nil, errors.New("bollinger period and multiplier must be positive")
	}
	lower := &indicator.Bollinger{Period: period, Multiplier: mult, Band: indicator.BandLower}
	upper := &indicator.Bollinger{Period: period, Multiplier: mult, Band: indicator.BandUpper}
	price := indicator.Price{}
	return &Definition{Buy: condition.BelowIndicator(price, lower), Sell: condition.AboveIndicator(price, upper)}, nil
}

func custom(cfg Config) (*Definition, error) {
	result := Validate(cfg.Buy, cfg.Sell)
	if !result.Valid {
		return nil, &InvalidStrategyError{Name: cfg.Name, Result: result}
	}
	buy, err := CompileConditions(cfg.Buy)
	if err != nil {
		return nil, fmt.Errorf("compile buy conditions: %w", err)
	}
	sell, err := CompileConditions(cfg.Sell)
	if err != nil {
		return nil, fmt.Errorf("compile sell conditions: %w", err)
	}
	return &Definition{Buy: buy, Sell: sell}, nil
}
