// Package condition turns indicators into boolean predicates over a price
// window and combines them with and/or/not.
//
// Conditions hold no state between calls. Every Evaluate recomputes the
// indicators it references against the window it is given, and an indicator
// that is not ready makes the predicate false.
package condition

import (
	"fmt"
	"strings"

	"github.com/vitos/strategy_bot/internal/domain"
	"github.com/vitos/strategy_bot/internal/indicator"
)

type Condition interface {
	Evaluate(bars []domain.PriceBar) bool
	// Lookback is the number of bars the condition needs before it can be true.
	Lookback() int
	String() string
}

type Op string

const (
	OpAbove Op = ">"
	OpBelow Op = "<"
)

func (o Op) holds(a, b float64) bool {
	switch o {
	case OpAbove:
		return a > b
	case OpBelow:
		return a < b
	}
	return false
}

// Threshold compares an indicator against a fixed level.
type Threshold struct {
	Indicator indicator.Indicator
	Op        Op
	Value     float64
}

func Above(ind indicator.Indicator, value float64) Threshold {
	return Threshold{Indicator: ind, Op: OpAbove, Value: value}
}

func Below(ind indicator.Indicator, value float64) Threshold {
	return Threshold{Indicator: ind, Op: OpBelow, Value: value}
}

func (t Threshold) Evaluate(bars []domain.PriceBar) bool {
	v, ok := t.Indicator.Calculate(bars)
	return ok && t.Op.holds(v, t.Value)
}

func (t Threshold) Lookback() int { return t.Indicator.MinPeriods() }

func (t Threshold) String() string {
	return fmt.Sprintf("%s %s %g", t.Indicator.Name(), t.Op, t.Value)
}

// Compare compares two indicators on the same window.
type Compare struct {
	Left  indicator.Indicator
	Op    Op
	Right indicator.Indicator
}

func AboveIndicator(a, b indicator.Indicator) Compare {
	return Compare{Left: a, Op: OpAbove, Right: b}
}

func BelowIndicator(a, b indicator.Indicator) Compare {
	return Compare{Left: a, Op: OpBelow, Right: b}
}

func (c Compare) Evaluate(bars []domain.PriceBar) bool {
	l, ok := c.Left.Calculate(bars)
	if !ok {
		return false
	}
	r, ok := c.Right.Calculate(bars)
	return ok && c.Op.holds(l, r)
}

func (c Compare) Lookback() int { return max(c.Left.MinPeriods(), c.Right.MinPeriods()) }

func (c Compare) String() string {
	return fmt.Sprintf("%s %s %s", c.Left.Name(), c.Op, c.Right.Name())
}

type Direction string

const (
	CrossUp   Direction = "crosses_above"
	CrossDown Direction = "crosses_below"
)

// Crossing is true on the bar where Indicator moves through Other. The
// previous values come from the window without its last bar.
type Crossing struct {
	Indicator indicator.Indicator
	Other     indicator.Indicator
	Direction Direction
}

func CrossesAbove(ind, other indicator.Indicator) Crossing {
	return Crossing{Indicator: ind, Other: other, Direction: CrossUp}
}

func CrossesBelow(ind, other indicator.Indicator) Crossing {
	return Crossing{Indicator: ind, Other: other, Direction: CrossDown}
}

func (c Crossing) Evaluate(bars []domain.PriceBar) bool {
	if len(bars) < 2 {
		return false
	}
	prevBars := bars[:len(bars)-1]

	curr, ok1 := c.Indicator.Calculate(bars)
	currOther, ok2 := c.Other.Calculate(bars)
	prev, ok3 := c.Indicator.Calculate(prevBars)
	prevOther, ok4 := c.Other.Calculate(prevBars)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return false
	}

	if c.Direction == CrossDown {
		return prev >= prevOther && curr < currOther
	}
	return prev <= prevOther && curr > currOther
}

func (c Crossing) Lookback() int {
	return max(c.Indicator.MinPeriods(), c.Other.MinPeriods(), 1) + 1
}

func (c Crossing) String() string {
	return fmt.Sprintf("%s %s %s", c.Indicator.Name(), c.Direction, c.Other.Name())
}

// AllOf is true when every child is true. All children are evaluated.
type AllOf []Condition

func And(conds ...Condition) AllOf { return AllOf(conds) }

func (a AllOf) Evaluate(bars []domain.PriceBar) bool {
	if len(a) == 0 {
		return false
	}
	result := true
	for _, c := range a {
		if !c.Evaluate(bars) {
			result = false
		}
	}
	return result
}

func (a AllOf) Lookback() int { return lookback(a) }
func (a AllOf) String() string { return join(a, " AND ") }

// AnyOf is true when at least one child is true. All children are evaluated.
type AnyOf []Condition

func Or(conds ...Condition) AnyOf { return AnyOf(conds) }

func (a AnyOf) Evaluate(bars []domain.PriceBar) bool {
	result := false
	for _, c := range a {
		if c.Evaluate(bars) {
			result = true
		}
	}
	return result
}

func (a AnyOf) Lookback() int { return lookback(a) }
func (a AnyOf) String() string { return join(a, " OR ") }

type Negation struct {
	Inner Condition
}

func Not(c Condition) Negation { return Negation{Inner: c} }

func (n Negation) Evaluate(bars []domain.PriceBar) bool { return !n.Inner.Evaluate(bars) }
func (n Negation) Lookback() int                        { return n.Inner.Lookback() }
func (n Negation) String() string                       { return "NOT (" + n.Inner.String() + ")" }

func lookback(conds []Condition) int {
	n := 0
	for _, c := range conds {
		n = max(n, c.Lookback())
	}
	return n
}

func join(conds []Condition, sep string) string {
	parts := make([]string, len(conds))
	for i, c := range conds {
		parts[i] = "(" + c.String() + ")"
	}
	return strings.Join(parts, sep)
}
