package domain

import (
	"context"
	"time"
)

// MarketDataProvider supplies quotes and historical bars.
type MarketDataProvider interface {
	GetQuote(ctx context.Context, symbol string) (*Quote, error)
	GetHistorical(ctx context.Context, symbol, interval string, start, end time.Time) ([]PriceBar, error)
}

// StreamingProvider is a provider that can push trade ticks.
type StreamingProvider interface {
	MarketDataProvider
	ConnectStream(ctx context.Context, symbols []string, onTicks func([]Tick)) (StreamHandle, error)
}

// StreamHandle is an open stream. Done receives exactly one value when the
// stream ends: nil after Close, the read error otherwise.
type StreamHandle interface {
	Close() error
	Done() <-chan error
}

type BrokerOrderResult struct {
	Success     bool    `json:"success"`
	OrderID     string  `json:"order_id,omitempty"`
	FilledPrice float64 `json:"filled_price,omitempty"`
	FilledQty   float64 `json:"filled_qty,omitempty"`
	Status      string  `json:"status,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// Broker routes market orders to a live account.
type Broker interface {
	MarketBuy(ctx context.Context, symbol string, qty float64) (*BrokerOrderResult, error)
	MarketSell(ctx context.Context, symbol string, qty float64) (*BrokerOrderResult, error)
}

// TradeRepository defines storage operations for trades.
type TradeRepository interface {
	SaveTrade(ctx context.Context, trade *Trade) error
	ListTrades(ctx context.Context, sessionID string, limit int) ([]*Trade, error)
}

// SessionRepository defines storage operations for trading sessions.
type SessionRepository interface {
	CreateSession(ctx context.Context, session *TradingSession) error
	UpdateSession(ctx context.Context, session *TradingSession) error
	GetActiveSession(ctx context.Context, userID string) (*TradingSession, error)
	ListActiveSessions(ctx context.Context) ([]*TradingSession, error)
}

type SnapshotRepository interface {
	SavePortfolioSnapshot(ctx context.Context, snap *PortfolioSnapshot) error
}

// Store bundles the persistence a bot writes to.
type Store interface {
	TradeRepository
	SessionRepository
	SnapshotRepository
}

// BarCacheKey identifies a cached historical range. Start and End are
// truncated to dates by the cache.
type BarCacheKey struct {
	Symbol   string
	Interval string
	Start    time.Time
	End      time.Time
}

// BarCache stores historical bars by key. A miss returns ok=false.
type BarCache interface {
	GetBars(ctx context.Context, key BarCacheKey) ([]PriceBar, bool, error)
	PutBars(ctx context.Context, key BarCacheKey, bars []PriceBar) error
}
