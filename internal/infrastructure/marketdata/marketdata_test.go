package marketdata_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/strategy_bot/internal/domain"
	md "github.com/vitos/strategy_bot/internal/infrastructure/marketdata"
)

type MockDataClient struct {
	Trade   *marketdata.Trade
	Bars    []marketdata.Bar
	Err     error
	BarReqs []marketdata.GetBarsRequest
}

func (m *MockDataClient) GetLatestTrade(symbol string, req marketdata.GetLatestTradeRequest) (*marketdata.Trade, error) {
	return m.Trade, m.Err
}

func (m *MockDataClient) GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error) {
	m.BarReqs = append(m.BarReqs, req)
	return m.Bars, m.Err
}

var jan2 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func TestAlpacaProviderQuote(t *testing.T) {
	client := &MockDataClient{Trade: &marketdata.Trade{Price: 187.25, Timestamp: jan2}}
	p := md.NewProviderWithClient(client, nil, nil)

	q, err := p.GetQuote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", q.Symbol)
	assert.Equal(t, 187.25, q.Price)
	assert.Equal(t, jan2, q.Timestamp)

	client.Err = errors.New("forbidden")
	_, err = p.GetQuote(context.Background(), "AAPL")
	assert.ErrorIs(t, err, client.Err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.GetQuote(ctx, "AAPL")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAlpacaProviderHistorical(t *testing.T) {
	client := &MockDataClient{Bars: []marketdata.Bar{
		{Timestamp: jan2, Open: 1, High: 3, Low: 0.5, Close: 2, Volume: 1200},
	}}
	p := md.NewProviderWithClient(client, nil, nil)

	bars, err := p.GetHistorical(context.Background(), "AAPL", "1Hour", jan2, jan2.AddDate(0, 0, 5))
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, domain.PriceBar{Date: jan2, Open: 1, High: 3, Low: 0.5, Close: 2, Volume: 1200}, bars[0])
	require.Len(t, client.BarReqs, 1)
	assert.Equal(t, marketdata.OneHour, client.BarReqs[0].TimeFrame)

	_, err = p.GetHistorical(context.Background(), "AAPL", "7Weeks", jan2, jan2)
	assert.ErrorContains(t, err, "unsupported interval")

	_, err = p.ConnectStream(context.Background(), []string{"AAPL"}, func([]domain.Tick) {})
	assert.Error(t, err, "no stream configured")
}

func TestParseTimeFrame(t *testing.T) {
	tests := []struct {
		in   string
		want marketdata.TimeFrame
	}{
		{"1Min", marketdata.OneMin},
		{"5Min", marketdata.NewTimeFrame(5, marketdata.Min)},
		{"1H", marketdata.OneHour},
		{"1Day", marketdata.OneDay},
		{"", marketdata.OneDay},
	}
	for _, tt := range tests {
		got, err := md.ParseTimeFrame(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

// alpacaServer speaks enough of the stream protocol for the client.
type alpacaServer struct {
	t          *testing.T
	rejectAuth bool
	mu         sync.Mutex
	conn       *websocket.Conn
	subs       []string
	ready      chan struct{}
}

func newAlpacaServer(t *testing.T) (*alpacaServer, *httptest.Server) {
	s := &alpacaServer{t: t, ready: make(chan struct{})}
	srv := httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(srv.Close)
	return s, srv
}

func (s *alpacaServer) handle(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	_ = conn.WriteJSON([]map[string]any{{"T": "success", "msg": "connected"}})

	var auth map[string]string
	if err := conn.ReadJSON(&auth); err != nil {
		return
	}
	if s.rejectAuth || auth["key"] != "key" {
		_ = conn.WriteJSON([]map[string]any{{"T": "error", "code": 402, "msg": "auth failed"}})
		conn.Close()
		return
	}
	_ = conn.WriteJSON([]map[string]any{{"T": "success", "msg": "authenticated"}})

	var sub struct {
		Action string   `json:"action"`
		Trades []string `json:"trades"`
	}
	if err := conn.ReadJSON(&sub); err != nil {
		return
	}
	_ = conn.WriteJSON([]map[string]any{{"T": "subscription", "trades": sub.Trades}})

	s.mu.Lock()
	s.conn = conn
	s.subs = sub.Trades
	s.mu.Unlock()
	close(s.ready)

	// keep reading so close frames are answered
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *alpacaServer) send(v any) {
	<-s.ready
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NoError(s.t, s.conn.WriteJSON(v))
}

func (s *alpacaServer) drop() {
	<-s.ready
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.Close()
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestTradeStream(t *testing.T) {
	server, srv := newAlpacaServer(t)
	stream := md.NewTradeStream(md.StreamConfig{URL: wsURL(srv), Feed: "iex", APIKey: "key", APISecret: "secret"}, nil)

	got := make(chan []domain.Tick, 4)
	h, err := stream.Connect(context.Background(), []string{"AAPL", "MSFT"}, func(ticks []domain.Tick) { got <- ticks })
	require.NoError(t, err)

	server.send([]map[string]any{
		{"T": "t", "S": "AAPL", "p": 187.5, "s": 100, "t": "2024-01-03T15:30:00Z"},
		{"T": "q", "S": "AAPL", "bp": 187.4},
		{"T": "t", "S": "MSFT", "p": 370.1, "s": 5, "t": "2024-01-03T15:30:01Z"},
	})

	select {
	case ticks := <-got:
		require.Len(t, ticks, 2)
		assert.Equal(t, domain.Tick{Symbol: "AAPL", Price: 187.5, Size: 100, Timestamp: time.Date(2024, 1, 3, 15, 30, 0, 0, time.UTC)}, ticks[0])
		assert.Equal(t, "MSFT", ticks[1].Symbol)
	case <-time.After(2 * time.Second):
		t.Fatal("no ticks received")
	}
	assert.Equal(t, []string{"AAPL", "MSFT"}, server.subs)

	require.NoError(t, h.Close())
	select {
	case err := <-h.Done():
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not finish after Close")
	}
}

func TestTradeStreamServerDrop(t *testing.T) {
	server, srv := newAlpacaServer(t)
	stream := md.NewTradeStream(md.StreamConfig{URL: wsURL(srv), APIKey: "key"}, nil)

	h, err := stream.Connect(context.Background(), []string{"AAPL"}, func([]domain.Tick) {})
	require.NoError(t, err)

	server.drop()
	select {
	case err := <-h.Done():
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("drop not reported")
	}
}

func TestTradeStreamAuthFailure(t *testing.T) {
	server, srv := newAlpacaServer(t)
	server.rejectAuth = true
	stream := md.NewTradeStream(md.StreamConfig{URL: wsURL(srv), APIKey: "key"}, nil)

	_, err := stream.Connect(context.Background(), []string{"AAPL"}, func([]domain.Tick) {})
	assert.ErrorContains(t, err, "auth failed")
}

type MockBarCache struct {
	Bars map[domain.BarCacheKey][]domain.PriceBar
	Puts int
}

func (m *MockBarCache) GetBars(ctx context.Context, key domain.BarCacheKey) ([]domain.PriceBar, bool, error) {
	b, ok := m.Bars[key]
	return b, ok, nil
}

func (m *MockBarCache) PutBars(ctx context.Context, key domain.BarCacheKey, bars []domain.PriceBar) error {
	m.Puts++
	m.Bars[key] = bars
	return nil
}

type countingProvider struct {
	calls int
}

func (c *countingProvider) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	return &domain.Quote{Symbol: symbol, Price: 1}, nil
}

func (c *countingProvider) GetHistorical(ctx context.Context, symbol, interval string, start, end time.Time) ([]domain.PriceBar, error) {
	c.calls++
	return []domain.PriceBar{{Date: start, Close: 10}}, nil
}

func TestCachedProvider(t *testing.T) {
	inner := &countingProvider{}
	cache := &MockBarCache{Bars: map[domain.BarCacheKey][]domain.PriceBar{}}
	p := md.WithBarCache(inner, cache, nil)

	_, streams := p.(domain.StreamingProvider)
	assert.False(t, streams, "a polling provider stays polling")

	ctx := context.Background()
	for range 3 {
		bars, err := p.GetHistorical(ctx, "AAPL", "1Day", jan2, jan2.AddDate(0, 1, 0))
		require.NoError(t, err)
		require.Len(t, bars, 1)
	}
	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, 1, cache.Puts)

	// a range ending today is never cached
	today := time.Now()
	for range 2 {
		_, err := p.GetHistorical(ctx, "AAPL", "1Day", today.AddDate(0, 0, -5), today)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, inner.calls)

	q, err := p.GetQuote(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 1.0, q.Price)

	streaming := md.WithBarCache(md.NewProviderWithClient(&MockDataClient{}, nil, nil), cache, nil)
	_, streams = streaming.(domain.StreamingProvider)
	assert.True(t, streams)
}
