package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/vitos/strategy_bot/internal/domain"
	"go.uber.org/zap"
)

// CachedProvider serves historical bars from a BarCache before asking the
// wrapped provider. Only ranges that ended before today are cached, since
// today's bars are still forming.
type CachedProvider struct {
	domain.MarketDataProvider
	cache  domain.BarCache
	logger *zap.Logger
}

type cachedStreamingProvider struct {
	*CachedProvider
	stream domain.StreamingProvider
}

func (p *cachedStreamingProvider) ConnectStream(ctx context.Context, symbols []string, onTicks func([]domain.Tick)) (domain.StreamHandle, error) {
	return p.stream.ConnectStream(ctx, symbols, onTicks)
}

// WithBarCache wraps p. The result still streams if p does.
func WithBarCache(p domain.MarketDataProvider, cache domain.BarCache, logger *zap.Logger) domain.MarketDataProvider {
	cp := NewCachedProvider(p, cache, logger)
	if sp, ok := p.(domain.StreamingProvider); ok {
		return &cachedStreamingProvider{CachedProvider: cp, stream: sp}
	}
	return cp
}

func NewCachedProvider(p domain.MarketDataProvider, cache domain.BarCache, logger *zap.Logger) *CachedProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedProvider{MarketDataProvider: p, cache: cache, logger: logger}
}

func (p *CachedProvider) GetHistorical(ctx context.Context, symbol, interval string, start, end time.Time) ([]domain.PriceBar, error) {
	key := domain.BarCacheKey{Symbol: symbol, Interval: interval, Start: start, End: end}
	cacheable := end.UTC().Truncate(24 * time.Hour).Before(time.Now().UTC().Truncate(24 * time.Hour))

	if cacheable {
		bars, ok, err := p.cache.GetBars(ctx, key)
		switch {
		case err != nil:
			p.logger.Warn("Bar cache read failed", zap.String("symbol", symbol), zap.Error(err))
		case ok:
			p.logger.Debug("Bar cache hit", zap.String("symbol", symbol), zap.String("interval", interval))
			return bars, nil
		}
	}

	bars, err := p.MarketDataProvider.GetHistorical(ctx, symbol, interval, start, end)
	if err != nil {
		return nil, fmt.Errorf("cached provider: %w", err)
	}
	if cacheable && len(bars) > 0 {
		if err := p.cache.PutBars(ctx, key, bars); err != nil {
			p.logger.Warn("Bar cache write failed", zap.String("symbol", symbol), zap.Error(err))
		}
	}
	return bars, nil
}
