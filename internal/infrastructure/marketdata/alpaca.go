// Package marketdata adapts Alpaca's market data API to the bot's provider
// interfaces.
package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/vitos/strategy_bot/internal/domain"
	"go.uber.org/zap"
)

// DataClient is the part of marketdata.Client the provider uses.
type DataClient interface {
	GetLatestTrade(symbol string, req marketdata.GetLatestTradeRequest) (*marketdata.Trade, error)
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
}

type AlpacaProvider struct {
	client DataClient
	stream *TradeStream
	logger *zap.Logger
}

type AlpacaConfig struct {
	APIKey    string
	APISecret string
	// Feed is the stream feed, iex or sip.
	Feed      string
	StreamURL string
}

// NewAlpacaProvider builds a REST provider with a trade stream on the
// configured feed.
func NewAlpacaProvider(cfg AlpacaConfig, logger *zap.Logger) *AlpacaProvider {
	client := marketdata.NewClient(marketdata.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
	})
	return &AlpacaProvider{
		client: client,
		stream: NewTradeStream(StreamConfig{URL: cfg.StreamURL, Feed: cfg.Feed, APIKey: cfg.APIKey, APISecret: cfg.APISecret}, logger),
		logger: logger,
	}
}

// NewProviderWithClient wraps an existing client. stream may be nil.
func NewProviderWithClient(client DataClient, stream *TradeStream, logger *zap.Logger) *AlpacaProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AlpacaProvider{client: client, stream: stream, logger: logger}
}

// GetQuote returns the latest trade price. The SDK calls are not
// context-aware, so ctx is only checked before the request.
func (p *AlpacaProvider) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	trade, err := p.client.GetLatestTrade(symbol, marketdata.GetLatestTradeRequest{})
	if err != nil {
		return nil, fmt.Errorf("latest trade for %s: %w", symbol, err)
	}
	if trade == nil {
		return nil, fmt.Errorf("latest trade for %s: empty response", symbol)
	}
	return &domain.Quote{Symbol: symbol, Price: trade.Price, Timestamp: trade.Timestamp}, nil
}

func (p *AlpacaProvider) GetHistorical(ctx context.Context, symbol, interval string, start, end time.Time) ([]domain.PriceBar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tf, err := ParseTimeFrame(interval)
	if err != nil {
		return nil, err
	}

	bars, err := p.client.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame: tf,
		Start:     start,
		End:       end,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch historical data for %s: %w", symbol, err)
	}

	out := make([]domain.PriceBar, len(bars))
	for i, b := range bars {
		out[i] = domain.PriceBar{
			Date:   b.Timestamp,
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: float64(b.Volume),
		}
	}
	p.logger.Debug("Fetched historical bars",
		zap.String("symbol", symbol),
		zap.String("interval", interval),
		zap.Int("bars", len(out)))
	return out, nil
}

// ConnectStream opens the trade stream. Providers built without one report
// an error, which the bot treats like any failed connect.
func (p *AlpacaProvider) ConnectStream(ctx context.Context, symbols []string, onTicks func([]domain.Tick)) (domain.StreamHandle, error) {
	if p.stream == nil {
		return nil, fmt.Errorf("trade stream not configured")
	}
	return p.stream.Connect(ctx, symbols, onTicks)
}

// ParseTimeFrame converts an interval name such as 1Min or 1Day to an Alpaca
// time frame.
func ParseTimeFrame(interval string) (marketdata.TimeFrame, error) {
	switch interval {
	case "1Min", "1m":
		return marketdata.OneMin, nil
	case "5Min", "5m":
		return marketdata.NewTimeFrame(5, marketdata.Min), nil
	case "15Min", "15m":
		return marketdata.NewTimeFrame(15, marketdata.Min), nil
	case "1Hour", "1H", "1h":
		return marketdata.OneHour, nil
	case "1Day", "1D", "1d", "":
		return marketdata.OneDay, nil
	}
	return marketdata.TimeFrame{}, fmt.Errorf("unsupported interval %q", interval)
}
