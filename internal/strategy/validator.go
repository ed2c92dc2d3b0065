package strategy

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/vitos/strategy_bot/internal/indicator"
)

// ValidationResult lists every problem found in a buy/sell pair. Errors make
// the strategy unusable; warnings do not.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

type validator struct {
	errors   []string
	warnings []string
}

func (v *validator) errorf(format string, args ...any) {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
}

func (v *validator) warnf(format string, args ...any) {
	v.warnings = append(v.warnings, fmt.Sprintf(format, args...))
}

// Validate checks the structure and parameters of a buy and a sell tree.
func Validate(buy, sell Conditions) ValidationResult {
	v := &validator{}
	buyRoot, sellRoot := buy.Root(), sell.Root()

	if buyRoot == nil {
		v.errorf("Buy conditions are required")
	} else {
		v.tree("buy", *buyRoot)
	}
	if sellRoot == nil {
		v.errorf("Sell conditions are required")
	} else {
		v.tree("sell", *sellRoot)
	}

	if buyRoot != nil && sellRoot != nil {
		if sameTree(*buyRoot, *sellRoot) {
			v.errorf("Buy and sell conditions cannot be identical")
		}
		v.pairings(*buyRoot, *sellRoot)
	}

	return ValidationResult{
		Valid:    len(v.errors) == 0,
		Errors:   v.errors,
		Warnings: v.warnings,
	}
}

func (v *validator) tree(path string, root ConditionNode) {
	v.node(path, root)
	if len(leaves(root)) == 0 {
		v.errorf("%s: conditions must contain at least one indicator condition", path)
	}
}

func (v *validator) node(path string, n ConditionNode) {
	switch t := normalize(n.Type); t {
	case NodeIndicator:
		if n.Indicator == nil {
			v.errorf("%s: indicator node is missing its indicator definition", path)
			return
		}
		v.leaf(path+".indicator", *n.Indicator)
	case NodeAnd, NodeOr:
		if len(n.Children) < 2 {
			v.errorf("%s: %s node must have at least 2 children", path, strings.ToUpper(t))
		}
		v.children(path, n.Children)
	case NodeNot:
		if len(n.Children) != 1 {
			v.errorf("%s: NOT node must have exactly 1 child", path)
		}
		v.children(path, n.Children)
	case "":
		v.errorf("%s: node type is required", path)
	default:
		v.errorf("%s: unknown node type %q", path, n.Type)
	}
}

func (v *validator) children(path string, children []ConditionNode) {
	for i, c := range children {
		v.node(fmt.Sprintf("%s.children[%d]", path, i), c)
	}
}

func (v *validator) leaf(path string, spec IndicatorSpec) {
	typ := normalizeIndicator(spec.Type)
	cond := normalize(spec.Condition)

	if typ == "" {
		v.errorf("%s: indicator type is required", path)
	} else {
		v.indicator(path, typ, spec.Params, spec.Source, spec.Output)
	}
	if cond == "" {
		v.errorf("%s: condition is required", path)
		return
	}

	switch cond {
	case CondAbove, CondBelow, CondCrossesAbove, CondCrossesBelow:
		if spec.Value == nil && spec.RefIndicator == nil {
			v.errorf("%s: condition %q requires a value or a reference indicator", path, spec.Condition)
		}
	case CondAboveIndicator, CondBelowIndicator:
		if spec.RefIndicator == nil {
			v.errorf("%s: condition %q requires a reference indicator", path, spec.Condition)
		}
	case CondOverbought, CondOversold:
		if typ != "" && typ != IndicatorRSI {
			v.errorf("%s: condition %q only applies to RSI", path, spec.Condition)
		}
	case CondPriceAboveUpper, CondPriceBelowLower:
		if typ != "" && typ != IndicatorBollinger {
			v.errorf("%s: condition %q only applies to Bollinger bands", path, spec.Condition)
		}
	default:
		v.errorf("%s: unknown condition %q", path, spec.Condition)
	}

	if ref := spec.RefIndicator; ref != nil {
		refPath := path + ".refIndicator"
		if refType := normalizeIndicator(ref.Type); refType == "" {
			v.errorf("%s: indicator type is required", refPath)
		} else {
			v.indicator(refPath, refType, ref.Params, ref.Source, ref.Output)
		}
	}
}

func (v *validator) indicator(path, typ string, params map[string]float64, source, output string) {
	if _, err := indicator.ParseSource(source); err != nil {
		v.errorf("%s: %v", path, err)
	}
	name := strings.ToUpper(typ)

	switch typ {
	case IndicatorSMA, IndicatorEMA:
		period := periodParam(params, defaultPeriod(typ))
		if period < 1 {
			v.errorf("%s: %s period must be at least 1", path, name)
		} else if period >= 500 {
			v.warnf("%s: %s period %d is very large", path, name, period)
		}
	case IndicatorRSI:
		period := periodParam(params, defaultPeriod(typ))
		if period < 1 {
			v.errorf("%s: RSI period must be at least 1", path)
		} else if period < 2 || period > 100 {
			v.warnf("%s: RSI period %d is outside the typical range 2-100", path, period)
		}
	case IndicatorMACD:
		mp := macdParamsOf(params)
		if mp.fast < 1 || mp.slow < 1 || mp.signal < 1 {
			v.errorf("%s: MACD periods must be at least 1", path)
		}
		if mp.fast >= mp.slow {
			v.errorf("%s: MACD fast period must be less than slow period", path)
		}
		switch indicator.MACDOutput(normalize(output)) {
		case "", indicator.MACDLine, indicator.MACDSignal, indicator.MACDHistogram:
		default:
			v.errorf("%s: unknown MACD output %q", path, output)
		}
	case IndicatorBollinger:
		period, mult := bollingerParamsOf(params)
		if period < 1 {
			v.errorf("%s: Bollinger period must be at least 1", path)
		}
		if mult <= 0 {
			v.errorf("%s: Bollinger multiplier must be positive", path)
		} else if mult < 0.5 || mult > 4 {
			v.warnf("%s: Bollinger multiplier %g is outside the typical range 0.5-4", path, mult)
		}
		switch indicator.Band(normalize(output)) {
		case "", indicator.BandUpper, indicator.BandMiddle, indicator.BandLower:
		default:
			v.errorf("%s: unknown Bollinger band %q", path, output)
		}
	case IndicatorVWAP:
		if periodParam(params, defaultPeriod(typ)) < 0 {
			v.errorf("%s: VWAP period must not be negative", path)
		}
	case IndicatorPrice:
	default:
		v.errorf("%s: unknown indicator type %q", path, typ)
	}
}

func (v *validator) pairings(buy, sell ConditionNode) {
	buyLeaves, sellLeaves := leaves(buy), leaves(sell)

	if hasLeaf(buyLeaves, IndicatorRSI, CondOverbought) && hasLeaf(sellLeaves, IndicatorRSI, CondOversold) {
		v.warnf("Buying on RSI overbought while selling on RSI oversold is reversed logic")
	}
	if hasLeaf(buyLeaves, IndicatorBollinger, CondPriceAboveUpper) && hasLeaf(sellLeaves, IndicatorBollinger, CondPriceBelowLower) {
		v.warnf("Buying above the upper Bollinger band while selling below the lower band is reversed logic")
	}

	buyTypes, sellTypes := indicatorTypes(buyLeaves), indicatorTypes(sellLeaves)
	if len(buyTypes) == 1 && len(sellTypes) == 1 && buyTypes[0] == sellTypes[0] {
		v.warnf("Buy and sell both rely only on %s; combining indicators improves signal reliability", strings.ToUpper(buyTypes[0]))
	}
}

// leaves collects the indicator payloads of a tree in depth-first order.
func leaves(n ConditionNode) []IndicatorSpec {
	var out []IndicatorSpec
	var walk func(ConditionNode)
	walk = func(n ConditionNode) {
		if normalize(n.Type) == NodeIndicator && n.Indicator != nil {
			out = append(out, *n.Indicator)
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(n)
	return out
}

func hasLeaf(specs []IndicatorSpec, typ, cond string) bool {
	for _, s := range specs {
		if normalizeIndicator(s.Type) == typ && normalize(s.Condition) == cond {
			return true
		}
	}
	return false
}

func indicatorTypes(specs []IndicatorSpec) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range specs {
		t := normalizeIndicator(s.Type)
		if t != "" && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

// sameTree compares two trees by content. Encoding through JSON makes nil and
// empty params or children compare equal.
func sameTree(a, b ConditionNode) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(ja) == string(jb)
}
