package strategy

import (
	"errors"
	"fmt"

	"github.com/vitos/strategy_bot/internal/condition"
	"github.com/vitos/strategy_bot/internal/indicator"
)

var errNoConditions = errors.New("no conditions")

// Compile turns a condition tree into an evaluable condition. Run Validate
// first; Compile only reports what stops it from building the tree.
func Compile(n ConditionNode) (condition.Condition, error) {
	switch normalize(n.Type) {
	case NodeIndicator:
		if n.Indicator == nil {
			return nil, errors.New("indicator node without indicator definition")
		}
		return compileLeaf(*n.Indicator)
	case NodeAnd, NodeOr:
		children, err := compileChildren(n.Children)
		if err != nil {
			return nil, err
		}
		if normalize(n.Type) == NodeAnd {
			return condition.And(children...), nil
		}
		return condition.Or(children...), nil
	case NodeNot:
		if len(n.Children) != 1 {
			return nil, fmt.Errorf("not node with %d children", len(n.Children))
		}
		inner, err := Compile(n.Children[0])
		if err != nil {
			return nil, err
		}
		return condition.Not(inner), nil
	}
	return nil, fmt.Errorf("unknown node type %q", n.Type)
}

// CompileConditions compiles the implicit AND of c.
func CompileConditions(c Conditions) (condition.Condition, error) {
	root := c.Root()
	if root == nil {
		return nil, errNoConditions
	}
	return Compile(*root)
}

func compileChildren(nodes []ConditionNode) ([]condition.Condition, error) {
	out := make([]condition.Condition, 0, len(nodes))
	for i, n := range nodes {
		c, err := Compile(n)
		if err != nil {
			return nil, fmt.Errorf("child %d: %w", i, err)
		}
		out = append(out, c)
	}
	return out, nil
}

func compileLeaf(spec IndicatorSpec) (condition.Condition, error) {
	ind, err := buildIndicator(spec.Type, spec.Params, spec.Source, spec.Output)
	if err != nil {
		return nil, err
	}

	var ref indicator.Indicator
	if spec.RefIndicator != nil {
		r := spec.RefIndicator
		if ref, err = buildIndicator(r.Type, r.Params, r.Source, r.Output); err != nil {
			return nil, fmt.Errorf("reference indicator: %w", err)
		}
	}

	// other is the right-hand operand: the reference indicator when given,
	// otherwise the fixed value.
	other := func() (indicator.Indicator, error) {
		if ref != nil {
			return ref, nil
		}
		if spec.Value != nil {
			return indicator.Constant(*spec.Value), nil
		}
		return nil, fmt.Errorf("condition %q needs a value or a reference indicator", spec.Condition)
	}

	switch cond := normalize(spec.Condition); cond {
	case CondAbove, CondBelow, CondAboveIndicator, CondBelowIndicator:
		if ref == nil && (cond == CondAboveIndicator || cond == CondBelowIndicator) {
			return nil, fmt.Errorf("condition %q needs a reference indicator", spec.Condition)
		}
		if ref == nil {
			if spec.Value == nil {
				return nil, fmt.Errorf("condition %q needs a value or a reference indicator", spec.Condition)
			}
			if cond == CondAbove {
				return condition.Above(ind, *spec.Value), nil
			}
			return condition.Below(ind, *spec.Value), nil
		}
		if cond == CondAbove || cond == CondAboveIndicator {
			return condition.AboveIndicator(ind, ref), nil
		}
		return condition.BelowIndicator(ind, ref), nil
	case CondCrossesAbove, CondCrossesBelow:
		o, err := other()
		if err != nil {
			return nil, err
		}
		if cond == CondCrossesAbove {
			return condition.CrossesAbove(ind, o), nil
		}
		return condition.CrossesBelow(ind, o), nil
	case CondOverbought:
		return condition.Above(ind, valueOr(spec.Value, defaultOverbought)), nil
	case CondOversold:
		return condition.Below(ind, valueOr(spec.Value, defaultOversold)), nil
	case CondPriceAboveUpper, CondPriceBelowLower:
		bb, ok := ind.(*indicator.Bollinger)
		if !ok {
			return nil, fmt.Errorf("condition %q needs a Bollinger indicator", spec.Condition)
		}
		band := *bb
		price := indicator.Price{Source: bb.Source}
		if cond == CondPriceAboveUpper {
			band.Band = indicator.BandUpper
			return condition.AboveIndicator(price, &band), nil
		}
		band.Band = indicator.BandLower
		return condition.BelowIndicator(price, &band), nil
	}
	return nil, fmt.Errorf("unknown condition %q", spec.Condition)
}

func valueOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}
