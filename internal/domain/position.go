package domain

import (
	"sort"
	"time"
)

type TradingMode string

const (
	ModePaper    TradingMode = "paper"
	ModeLive     TradingMode = "live"
	ModeBacktest TradingMode = "backtest"
)

// Position represents shares held in one symbol.
type Position struct {
	Symbol    string    `json:"symbol"`
	Shares    float64   `json:"shares"`
	AvgPrice  float64   `json:"avg_price"`
	HighPrice float64   `json:"high_price"` // high-water mark since entry, for trailing stops
	OpenedAt  time.Time `json:"opened_at"`
}

// Portfolio is cash plus positions. It has a single writer: the bot or
// backtest that owns it.
type Portfolio struct {
	Cash      float64
	Positions map[string]*Position
	Mode      TradingMode
}

func NewPortfolio(cash float64, mode TradingMode) *Portfolio {
	return &Portfolio{
		Cash:      cash,
		Positions: make(map[string]*Position),
		Mode:      mode,
	}
}

// Position returns the open position for symbol or nil.
func (p *Portfolio) Position(symbol string) *Position {
	pos, ok := p.Positions[symbol]
	if !ok || pos.Shares <= 0 {
		return nil
	}
	return pos
}

func (p *Portfolio) OpenPositions() int {
	n := 0
	for _, pos := range p.Positions {
		if pos.Shares > 0 {
			n++
		}
	}
	return n
}

// PositionValue values one symbol at price, zero when flat.
func (p *Portfolio) PositionValue(symbol string, price float64) float64 {
	pos := p.Position(symbol)
	if pos == nil {
		return 0
	}
	return pos.Shares * price
}

// Value returns cash plus positions marked at prices. Positions without a
// price are marked at their average cost.
func (p *Portfolio) Value(prices map[string]float64) float64 {
	total := p.Cash
	for symbol, pos := range p.Positions {
		if pos.Shares <= 0 {
			continue
		}
		price, ok := prices[symbol]
		if !ok || price <= 0 {
			price = pos.AvgPrice
		}
		total += pos.Shares * price
	}
	return total
}

// Buy debits cash and averages the new shares into the position.
func (p *Portfolio) Buy(symbol string, qty, price, commission float64, at time.Time) error {
	cost := qty*price + commission
	if cost > p.Cash {
		return ErrInsufficientFunds
	}
	p.Cash -= cost

	pos, ok := p.Positions[symbol]
	if !ok || pos.Shares <= 0 {
		p.Positions[symbol] = &Position{
			Symbol:    symbol,
			Shares:    qty,
			AvgPrice:  price,
			HighPrice: price,
			OpenedAt:  at,
		}
		return nil
	}
	pos.AvgPrice = (pos.AvgPrice*pos.Shares + price*qty) / (pos.Shares + qty)
	pos.Shares += qty
	if price > pos.HighPrice {
		pos.HighPrice = price
	}
	return nil
}

// Sell credits cash and returns the realized P&L against the average cost.
func (p *Portfolio) Sell(symbol string, qty, price, commission float64) (float64, error) {
	pos := p.Position(symbol)
	if pos == nil || qty > pos.Shares {
		return 0, ErrNoPosition
	}
	pnl := (price - pos.AvgPrice) * qty
	p.Cash += qty*price - commission
	pos.Shares -= qty
	if pos.Shares <= 0 {
		delete(p.Positions, symbol)
	}
	return pnl, nil
}

// MarkHigh raises the trailing high-water mark of an open position.
func (p *Portfolio) MarkHigh(symbol string, price float64) {
	if pos := p.Position(symbol); pos != nil && price > pos.HighPrice {
		pos.HighPrice = price
	}
}

// Snapshot copies the portfolio state at prices.
func (p *Portfolio) Snapshot(sessionID string, prices map[string]float64, at time.Time) PortfolioSnapshot {
	snap := PortfolioSnapshot{
		SessionID: sessionID,
		Cash:      p.Cash,
		Timestamp: at,
	}
	for _, pos := range p.Positions {
		if pos.Shares <= 0 {
			continue
		}
		snap.Positions = append(snap.Positions, *pos)
	}
	sort.Slice(snap.Positions, func(i, j int) bool {
		return snap.Positions[i].Symbol < snap.Positions[j].Symbol
	})
	snap.TotalValue = p.Value(prices)
	snap.PositionsValue = snap.TotalValue - snap.Cash
	return snap
}

type PortfolioSnapshot struct {
	SessionID      string     `json:"session_id"`
	Cash           float64    `json:"cash"`
	PositionsValue float64    `json:"positions_value"`
	TotalValue     float64    `json:"total_value"`
	Positions      []Position `json:"positions"`
	Timestamp      time.Time  `json:"timestamp"`
}

// Trade is the immutable record of one executed fill.
type Trade struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"session_id"`
	UserID        string    `json:"user_id"`
	Symbol        string    `json:"symbol"`
	Action        Action    `json:"action"`
	Quantity      float64   `json:"quantity"`
	Price         float64   `json:"price"`
	Commission    float64   `json:"commission"`
	Timestamp     time.Time `json:"timestamp"`
	StrategyName  string    `json:"strategy_name"`
	PnL           *float64  `json:"pnl,omitempty"`
	BrokerOrderID string    `json:"broker_order_id,omitempty"`
	Reason        string    `json:"reason,omitempty"`
}
