// Package execution simulates order fills for paper trading and backtests.
package execution

import (
	"math"

	"github.com/vitos/strategy_bot/internal/domain"
)

// Rejection reasons.
const (
	ReasonLimitNotReached  = "Limit price not reached"
	ReasonStopNotTriggered = "Stop price not triggered"
	ReasonFOKInsufficient  = "Insufficient volume for fill-or-kill order"
	ReasonInsufficientVol  = "Insufficient volume"
	ReasonInvalidQuantity  = "Invalid quantity"
	ReasonInvalidPrice     = "Invalid price"
	ReasonUnsupportedType  = "Unsupported order type"
)

const (
	iocVolumeShare         = 0.8
	maxProportionalFactor  = 2.0
	defaultReferenceVolume = 1000.0
)

// Config holds the fill parameters of a session.
type Config struct {
	SlippageModel     domain.SlippageModel
	SlippagePct       float64 // percent, 0.1 means 0.1%
	CommissionRate    float64 // percent of notional
	AllowPartialFills bool
}

func ConfigFromSettings(s domain.RiskSettings) Config {
	return Config{
		SlippageModel:     s.SlippageModel,
		SlippagePct:       s.SlippagePct,
		CommissionRate:    s.CommissionRate,
		AllowPartialFills: s.AllowPartialFills,
	}
}

type OrderRequest struct {
	Symbol       string
	Side         domain.Action
	Type         domain.OrderType
	TimeInForce  domain.TimeInForce
	Quantity     float64
	CurrentPrice float64
	LimitPrice   float64
	StopPrice    float64
	// AvailableVolume of zero or less means the volume is unknown and the
	// order is not volume constrained.
	AvailableVolume float64
}

type Result struct {
	Executed         bool
	ExecutedPrice    float64
	ExecutedQuantity float64
	Commission       float64
	Slippage         float64 // per-share price difference caused by slippage
	Reason           string
}

type Simulator struct {
	Config Config
}

func NewSimulator(cfg Config) *Simulator {
	return &Simulator{Config: cfg}
}

func rejected(reason string) Result {
	return Result{Reason: reason}
}

// Execute decides whether req fills and at what price and quantity.
func (s *Simulator) Execute(req OrderRequest) Result {
	if req.Quantity <= 0 || math.IsNaN(req.Quantity) {
		return rejected(ReasonInvalidQuantity)
	}
	if req.CurrentPrice <= 0 || math.IsNaN(req.CurrentPrice) {
		return rejected(ReasonInvalidPrice)
	}
	buy := req.Side == domain.ActionBuy

	var base float64
	switch req.Type {
	case "", domain.OrderMarket, domain.OrderTrailingStop:
		base = req.CurrentPrice
	case domain.OrderLimit:
		if req.LimitPrice <= 0 {
			return rejected(ReasonInvalidPrice)
		}
		if !limitReached(buy, req.CurrentPrice, req.LimitPrice) {
			return rejected(ReasonLimitNotReached)
		}
		base = req.LimitPrice
	case domain.OrderStop:
		if req.StopPrice <= 0 {
			return rejected(ReasonInvalidPrice)
		}
		if !stopTriggered(buy, req.CurrentPrice, req.StopPrice) {
			return rejected(ReasonStopNotTriggered)
		}
		base = req.CurrentPrice
	case domain.OrderStopLimit:
		if req.StopPrice <= 0 || req.LimitPrice <= 0 {
			return rejected(ReasonInvalidPrice)
		}
		if !stopTriggered(buy, req.CurrentPrice, req.StopPrice) {
			return rejected(ReasonStopNotTriggered)
		}
		if !limitReached(buy, req.CurrentPrice, req.LimitPrice) {
			return rejected(ReasonLimitNotReached)
		}
		base = req.LimitPrice
	default:
		return rejected(ReasonUnsupportedType)
	}

	qty, reason := s.fillQuantity(req)
	if qty <= 0 {
		return rejected(reason)
	}

	price := s.slip(base, buy, qty, req.AvailableVolume)
	return Result{
		Executed:         true,
		ExecutedPrice:    price,
		ExecutedQuantity: qty,
		Commission:       price * qty * s.Config.CommissionRate / 100,
		Slippage:         math.Abs(price - base),
	}
}

func limitReached(buy bool, current, limit float64) bool {
	if buy {
		return current <= limit
	}
	return current >= limit
}

func stopTriggered(buy bool, current, stop float64) bool {
	if buy {
		return current >= stop
	}
	return current <= stop
}

func (s *Simulator) fillQuantity(req OrderRequest) (float64, string) {
	vol := req.AvailableVolume
	if vol <= 0 {
		return req.Quantity, ""
	}
	switch req.TimeInForce {
	case domain.TIFFOK:
		if req.Quantity > vol {
			return 0, ReasonFOKInsufficient
		}
		return req.Quantity, ""
	case domain.TIFIOC:
		// the volume cap is whole shares; an order under the cap fills as sized
		fill := math.Min(req.Quantity, math.Floor(vol*iocVolumeShare))
		if fill <= 0 {
			return 0, ReasonInsufficientVol
		}
		return fill, ""
	}
	if req.Quantity <= vol {
		return req.Quantity, ""
	}
	if s.Config.AllowPartialFills {
		return vol, ""
	}
	return 0, ReasonInsufficientVol
}

// slip moves the price against the trader. The proportional model scales the
// base rate with order size relative to volume, capped at twice the base.
func (s *Simulator) slip(price float64, buy bool, qty, volume float64) float64 {
	rate := s.Config.SlippagePct / 100
	switch s.Config.SlippageModel {
	case domain.SlippageFixed:
	case domain.SlippageProportional:
		ref := volume
		if ref <= 0 {
			ref = defaultReferenceVolume
		}
		rate *= math.Min(1+qty/ref, maxProportionalFactor)
	default:
		return price
	}
	if buy {
		return price * (1 + rate)
	}
	return price * (1 - rate)
}
