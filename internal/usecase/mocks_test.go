package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vitos/strategy_bot/internal/domain"
	"github.com/vitos/strategy_bot/internal/strategy"
	"github.com/vitos/strategy_bot/internal/usecase"
)

// 2024-01-03 is a Wednesday, inside the default trading window.
var wednesdayNoon = time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return wednesdayNoon }

// MockStore keeps everything in memory.
type MockStore struct {
	mu        sync.Mutex
	Sessions  map[string]*domain.TradingSession
	Trades    []*domain.Trade
	Snapshots []*domain.PortfolioSnapshot

	SaveTradeErr error
}

func NewMockStore() *MockStore {
	return &MockStore{Sessions: make(map[string]*domain.TradingSession)}
}

func (m *MockStore) SaveTrade(ctx context.Context, trade *domain.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveTradeErr != nil {
		return m.SaveTradeErr
	}
	t := *trade
	m.Trades = append(m.Trades, &t)
	return nil
}

func (m *MockStore) ListTrades(ctx context.Context, sessionID string, limit int) ([]*domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Trade
	for _, t := range m.Trades {
		if t.SessionID == sessionID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *MockStore) CreateSession(ctx context.Context, s *domain.TradingSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *s
	m.Sessions[s.ID] = &c
	return nil
}

func (m *MockStore) UpdateSession(ctx context.Context, s *domain.TradingSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Sessions[s.ID]; !ok {
		return domain.ErrNotFound
	}
	c := *s
	m.Sessions[s.ID] = &c
	return nil
}

func (m *MockStore) GetActiveSession(ctx context.Context, userID string) (*domain.TradingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.Sessions {
		if s.UserID == userID && !s.Status.Terminal() {
			c := *s
			return &c, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockStore) ListActiveSessions(ctx context.Context) ([]*domain.TradingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.TradingSession
	for _, s := range m.Sessions {
		if s.Status == domain.SessionActive {
			c := *s
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *MockStore) SavePortfolioSnapshot(ctx context.Context, snap *domain.PortfolioSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := *snap
	m.Snapshots = append(m.Snapshots, &s)
	return nil
}

func (m *MockStore) Session(id string) domain.TradingSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.Sessions[id]
}

func (m *MockStore) TradeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Trades)
}

// MockProvider serves fixed quotes and bars.
type MockProvider struct {
	mu          sync.Mutex
	Quotes      map[string]float64
	Bars        []domain.PriceBar
	HistoryErr  error
	QuoteCalls  int
	HistoryFrom time.Time
}

func (m *MockProvider) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.QuoteCalls++
	p, ok := m.Quotes[symbol]
	if !ok {
		return nil, errors.New("no quote")
	}
	return &domain.Quote{Symbol: symbol, Price: p}, nil
}

func (m *MockProvider) GetHistorical(ctx context.Context, symbol, interval string, start, end time.Time) ([]domain.PriceBar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.HistoryFrom = start
	if m.HistoryErr != nil {
		return nil, m.HistoryErr
	}
	return m.Bars, nil
}

func (m *MockProvider) quoteCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.QuoteCalls
}

// MockStream lets a test push ticks into a connected bot.
type MockStream struct {
	MockProvider

	mu        sync.Mutex
	onTicks   func([]domain.Tick)
	connects  int
	failNext  int
	connected chan struct{}
}

func NewMockStream(quotes map[string]float64) *MockStream {
	return &MockStream{
		MockProvider: MockProvider{Quotes: quotes},
		connected:    make(chan struct{}, 16),
	}
}

type mockHandle struct {
	once sync.Once
	done chan error
}

func (h *mockHandle) Close() error {
	h.once.Do(func() {
		select {
		case h.done <- nil:
		default:
		}
	})
	return nil
}

func (h *mockHandle) Done() <-chan error { return h.done }

func (m *MockStream) ConnectStream(ctx context.Context, symbols []string, onTicks func([]domain.Tick)) (domain.StreamHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connects++
	m.onTicks = onTicks
	h := &mockHandle{done: make(chan error, 1)}
	if m.failNext > 0 {
		m.failNext--
		h.done <- errors.New("connection reset by peer")
	}
	m.connected <- struct{}{}
	return h, nil
}

func (m *MockStream) Connects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects
}

func (m *MockStream) Push(symbol string, prices ...float64) {
	m.mu.Lock()
	fn := m.onTicks
	m.mu.Unlock()
	for _, p := range prices {
		fn([]domain.Tick{{Symbol: symbol, Price: p, Timestamp: wednesdayNoon}})
	}
}

// Sync returns once every batch pushed before it has been processed. The
// bot's tick channel is unbuffered, so the loop has finished the previous
// batches when it accepts this one.
func (m *MockStream) Sync() {
	m.mu.Lock()
	fn := m.onTicks
	m.mu.Unlock()
	fn([]domain.Tick{{Symbol: "SYNC", Price: 1, Timestamp: wednesdayNoon}})
}

func (m *MockStream) WaitConnected(t *testing.T) {
	t.Helper()
	select {
	case <-m.connected:
	case <-time.After(2 * time.Second):
		t.Fatal("stream never connected")
	}
}

type MockBroker struct {
	mu    sync.Mutex
	Buys  int
	Sells int
	Price float64
}

func (m *MockBroker) MarketBuy(ctx context.Context, symbol string, qty float64) (*domain.BrokerOrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Buys++
	return &domain.BrokerOrderResult{Success: true, OrderID: "ord-buy", FilledPrice: m.Price, FilledQty: qty, Status: "filled"}, nil
}

func (m *MockBroker) MarketSell(ctx context.Context, symbol string, qty float64) (*domain.BrokerOrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sells++
	return &domain.BrokerOrderResult{Success: true, OrderID: "ord-sell", FilledPrice: m.Price, FilledQty: qty, Status: "filled"}, nil
}

func (m *MockBroker) calls() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Buys, m.Sells
}

// crossoverConfig trades SMA(5)/SMA(10) on one symbol with 10k cash.
func crossoverConfig(userID string) usecase.BotConfig {
	return usecase.BotConfig{
		UserID:      userID,
		Symbols:     []string{"AAPL"},
		InitialCash: 10000,
		Risk:        domain.DefaultRiskSettings(),
		Strategies: []strategy.Config{{
			Name:   "sma-5-10",
			Kind:   strategy.KindSMACrossover,
			Params: map[string]float64{"fast": 5, "slow": 10},
		}},
		Feed: usecase.FeedConfig{Mode: usecase.FeedStreaming, ReconnectDelay: 10 * time.Millisecond},
	}
}

// Ten flat prices, a rise that crosses SMA(5) above SMA(10) at 101 and a
// fall that crosses back below at 100.
var (
	flatPrices    = []float64{100, 100, 100, 100, 100, 100, 100, 100, 100, 100}
	risingPrices  = []float64{101, 102, 103, 104, 105}
	fallingPrices = []float64{104, 103, 102, 101, 100}
)

func nextTrade(t *testing.T, events <-chan domain.Event) (domain.Trade, []domain.Event) {
	t.Helper()
	var seen []domain.Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e, ok := <-events:
			require.True(t, ok, "events closed before a trade")
			seen = append(seen, e)
			if te, ok := e.(domain.TradeExecuted); ok {
				return te.Trade, seen
			}
		case <-timeout:
			t.Fatal("timed out waiting for a trade")
		}
	}
}

func drain(t *testing.T, events <-chan domain.Event) []domain.Event {
	t.Helper()
	var all []domain.Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return all
			}
			all = append(all, e)
		case <-timeout:
			t.Fatal("events channel never closed")
		}
	}
}
