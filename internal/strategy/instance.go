package strategy

import (
	"github.com/vitos/strategy_bot/internal/condition"
	"github.com/vitos/strategy_bot/internal/domain"
)

// DefaultWindow is the number of bars an Instance keeps when no capacity is
// given.
const DefaultWindow = 500

// Instance runs one strategy on one symbol. It owns a bounded rolling window
// of bars and is not safe for concurrent use.
type Instance struct {
	Symbol   string
	Strategy *Definition

	gen      *condition.SignalGenerator
	window   []domain.PriceBar
	capacity int
}

// NewInstance creates an instance whose window holds capacity bars, grown if
// needed to fit the strategy's lookback plus one.
func NewInstance(symbol string, def *Definition, capacity int) *Instance {
	gen := def.Generator()
	if capacity <= 0 {
		capacity = DefaultWindow
	}
	capacity = max(capacity, gen.Lookback()+1)
	return &Instance{
		Symbol:   symbol,
		Strategy: def,
		gen:      gen,
		window:   make([]domain.PriceBar, 0, capacity),
		capacity: capacity,
	}
}

func (i *Instance) Name() string { return i.Strategy.Name }

// Lookback is the number of bars the strategy needs before it can signal.
func (i *Instance) Lookback() int { return i.gen.Lookback() }

// Seed appends historical bars in order.
func (i *Instance) Seed(bars []domain.PriceBar) {
	for _, b := range bars {
		i.Append(b)
	}
}

// Update appends a live tick as a flat bar.
func (i *Instance) Update(t domain.Tick) {
	i.Append(domain.BarFromTick(t))
}

func (i *Instance) Append(b domain.PriceBar) {
	if len(i.window) == i.capacity {
		n := copy(i.window, i.window[1:])
		i.window = i.window[:n]
	}
	i.window = append(i.window, b)
}

// Signal evaluates the strategy against the current window.
func (i *Instance) Signal() domain.Action {
	return i.gen.Generate(i.window)
}

// Len is the number of bars in the window.
func (i *Instance) Len() int { return len(i.window) }

// Last returns the most recent bar.
func (i *Instance) Last() (domain.PriceBar, bool) {
	if len(i.window) == 0 {
		return domain.PriceBar{}, false
	}
	return i.window[len(i.window)-1], true
}
