package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vitos/strategy_bot/internal/domain"
	"go.uber.org/zap"
)

// deliver hands a batch to the loop. Batches arriving after the bot stopped
// are dropped.
func (b *Bot) deliver(ctx context.Context, ticks []domain.Tick) {
	if len(ticks) == 0 || !b.running.Load() {
		return
	}
	select {
	case b.ticks <- ticks:
	case <-ctx.Done():
	}
}

func (b *Bot) runPolling(ctx context.Context) {
	defer close(b.feedDone)

	ticker := time.NewTicker(b.cfg.Feed.PollInterval)
	defer ticker.Stop()

	b.logger.Info("Polling feed started", zap.Duration("interval", b.cfg.Feed.PollInterval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.poll(ctx)
		}
	}
}

func (b *Bot) poll(ctx context.Context) {
	ticks := make([]domain.Tick, 0, len(b.cfg.Symbols))
	for _, symbol := range b.cfg.Symbols {
		q, err := b.deps.Provider.GetQuote(ctx, symbol)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Warn("Quote fetch failed", zap.String("symbol", symbol), zap.Error(err))
			b.emitError(symbol, fmt.Errorf("quote: %w", err))
			continue
		}
		at := q.Timestamp
		if at.IsZero() {
			at = b.deps.now()
		}
		ticks = append(ticks, domain.Tick{Symbol: symbol, Price: q.Price, Timestamp: at})
	}
	b.deliver(ctx, ticks)
}

// runStreaming keeps a stream open until ctx is cancelled, reconnecting after
// a fixed delay whenever it drops or fails to connect.
func (b *Bot) runStreaming(ctx context.Context, sp domain.StreamingProvider) {
	defer close(b.feedDone)

	onTicks := func(ticks []domain.Tick) { b.deliver(ctx, ticks) }
	for {
		h, err := sp.ConnectStream(ctx, b.cfg.Symbols, onTicks)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Warn("Stream connect failed", zap.Error(err))
			b.emitError("", fmt.Errorf("stream connect: %w", err))
		} else {
			b.logger.Info("Stream connected", zap.Strings("symbols", b.cfg.Symbols))
			select {
			case <-ctx.Done():
				if err := h.Close(); err != nil {
					b.logger.Debug("Stream close", zap.Error(err))
				}
				<-h.Done()
				return
			case err := <-h.Done():
				if ctx.Err() != nil {
					return
				}
				if err == nil {
					err = errors.New("closed by server")
				}
				b.logger.Warn("Stream disconnected", zap.Error(err))
				b.emitError("", fmt.Errorf("stream disconnected: %w", err))
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(b.cfg.Feed.ReconnectDelay):
		}
	}
}
