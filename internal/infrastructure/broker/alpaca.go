// Package broker routes live orders to Alpaca.
package broker

import (
	"context"
	"fmt"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"
	"github.com/vitos/strategy_bot/internal/domain"
	"go.uber.org/zap"
)

const (
	PaperURL = "https://paper-api.alpaca.markets"
	LiveURL  = "https://api.alpaca.markets"

	// Alpaca accepts fractional quantities to nine decimal places.
	qtyPlaces = 9
)

// OrderClient is the part of alpaca.Client the broker uses.
type OrderClient interface {
	PlaceOrder(req alpaca.PlaceOrderRequest) (*alpaca.Order, error)
}

type AlpacaBroker struct {
	client OrderClient
	logger *zap.Logger
}

func NewAlpacaBroker(apiKey, apiSecret, baseURL string, logger *zap.Logger) *AlpacaBroker {
	client := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	})
	return NewBrokerWithClient(client, logger)
}

func NewBrokerWithClient(client OrderClient, logger *zap.Logger) *AlpacaBroker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AlpacaBroker{client: client, logger: logger}
}

func (b *AlpacaBroker) MarketBuy(ctx context.Context, symbol string, qty float64) (*domain.BrokerOrderResult, error) {
	return b.place(ctx, symbol, qty, alpaca.Buy)
}

func (b *AlpacaBroker) MarketSell(ctx context.Context, symbol string, qty float64) (*domain.BrokerOrderResult, error) {
	return b.place(ctx, symbol, qty, alpaca.Sell)
}

// place submits a day market order. API rejections come back as an
// unsuccessful result, not an error.
func (b *AlpacaBroker) place(ctx context.Context, symbol string, qty float64, side alpaca.Side) (*domain.BrokerOrderResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q := decimal.NewFromFloat(qty).Round(qtyPlaces)
	if !q.IsPositive() {
		return nil, fmt.Errorf("invalid order quantity %v", qty)
	}

	order, err := b.client.PlaceOrder(alpaca.PlaceOrderRequest{
		Symbol:      symbol,
		Qty:         &q,
		Side:        side,
		Type:        alpaca.Market,
		TimeInForce: alpaca.Day,
	})
	if err != nil {
		b.logger.Error("Order rejected",
			zap.String("symbol", symbol),
			zap.String("side", string(side)),
			zap.String("qty", q.String()),
			zap.Error(err))
		return &domain.BrokerOrderResult{Success: false, Error: err.Error()}, nil
	}

	res := &domain.BrokerOrderResult{
		Success:   true,
		OrderID:   order.ID,
		Status:    order.Status,
		FilledQty: order.FilledQty.InexactFloat64(),
	}
	if order.FilledAvgPrice != nil {
		res.FilledPrice = order.FilledAvgPrice.InexactFloat64()
	}
	b.logger.Info("Order placed",
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
		zap.String("order_id", order.ID),
		zap.String("status", order.Status),
		zap.Float64("filled_price", res.FilledPrice))
	return res, nil
}
