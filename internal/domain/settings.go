package domain

import (
	"fmt"
	"strings"
	"time"
)

type SizingMethod string

const (
	SizingFixed       SizingMethod = "fixed"
	SizingPercentage  SizingMethod = "percentage"
	SizingEqualWeight SizingMethod = "equal_weight"
	SizingKelly       SizingMethod = "kelly"
)

type SlippageModel string

const (
	SlippageNone         SlippageModel = "none"
	SlippageFixed        SlippageModel = "fixed"
	SlippageProportional SlippageModel = "proportional"
)

type OrderType string

const (
	OrderMarket       OrderType = "market"
	OrderLimit        OrderType = "limit"
	OrderStop         OrderType = "stop"
	OrderStopLimit    OrderType = "stop_limit"
	OrderTrailingStop OrderType = "trailing_stop"
)

type TimeInForce string

const (
	TIFDay TimeInForce = "day"
	TIFGTC TimeInForce = "gtc"
	TIFIOC TimeInForce = "ioc"
	TIFFOK TimeInForce = "fok"
	TIFOPG TimeInForce = "opg"
	TIFCLS TimeInForce = "cls"
)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseWeekday accepts full lowercase or capitalized day names.
func ParseWeekday(s string) (time.Weekday, bool) {
	d, ok := weekdays[strings.ToLower(strings.TrimSpace(s))]
	return d, ok
}

// RiskSettings is the per-session risk configuration. Percentages are in
// percent units (5 means 5%). Zero limits are disabled.
type RiskSettings struct {
	StopLossPct        float64       `yaml:"stop_loss_pct" json:"stop_loss_pct"`
	TakeProfitPct      float64       `yaml:"take_profit_pct" json:"take_profit_pct"`
	TrailingStopPct    float64       `yaml:"trailing_stop_pct" json:"trailing_stop_pct"`
	MaxPositionSizePct float64       `yaml:"max_position_size_pct" json:"max_position_size_pct"`
	MaxDailyLossPct    float64       `yaml:"max_daily_loss_pct" json:"max_daily_loss_pct"`
	MaxDailyLoss       float64       `yaml:"max_daily_loss" json:"max_daily_loss"`
	MaxDrawdownPct     float64       `yaml:"max_drawdown_pct" json:"max_drawdown_pct"`
	MaxOpenPositions   int           `yaml:"max_open_positions" json:"max_open_positions"`
	PositionSizing     SizingMethod  `yaml:"position_sizing" json:"position_sizing"`
	PositionSizeValue  float64       `yaml:"position_size_value" json:"position_size_value"`
	TradingHoursStart  string        `yaml:"trading_hours_start" json:"trading_hours_start"` // HH:mm UTC
	TradingHoursEnd    string        `yaml:"trading_hours_end" json:"trading_hours_end"`
	TradingDays        []string      `yaml:"trading_days" json:"trading_days"`
	SlippageModel      SlippageModel `yaml:"slippage_model" json:"slippage_model"`
	SlippagePct        float64       `yaml:"slippage_pct" json:"slippage_pct"`
	CommissionRate     float64       `yaml:"commission_rate" json:"commission_rate"`
	OrderType          OrderType     `yaml:"order_type" json:"order_type"`
	TimeInForce        TimeInForce   `yaml:"time_in_force" json:"time_in_force"`
	AllowPartialFills  bool          `yaml:"allow_partial_fills" json:"allow_partial_fills"`
}

// DefaultRiskSettings mirrors the defaults a new session gets.
func DefaultRiskSettings() RiskSettings {
	return RiskSettings{
		StopLossPct:        5,
		TakeProfitPct:      10,
		MaxPositionSizePct: 20,
		MaxDailyLossPct:    5,
		MaxOpenPositions:   5,
		PositionSizing:     SizingFixed,
		PositionSizeValue:  1000,
		TradingHoursStart:  "00:00",
		TradingHoursEnd:    "23:59",
		TradingDays:        []string{"monday", "tuesday", "wednesday", "thursday", "friday"},
		SlippageModel:      SlippageNone,
		OrderType:          OrderMarket,
		TimeInForce:        TIFDay,
	}
}

// WithUpdate returns a new snapshot with fn applied; the receiver is untouched.
func (s RiskSettings) WithUpdate(fn func(*RiskSettings)) RiskSettings {
	next := s
	next.TradingDays = append([]string(nil), s.TradingDays...)
	fn(&next)
	return next
}

// Validate lists every problem with the settings.
func (s RiskSettings) Validate() []string {
	var problems []string
	pct := func(name string, v float64) {
		if v < 0 || v > 100 {
			problems = append(problems, fmt.Sprintf("%s must be between 0 and 100", name))
		}
	}
	pct("stop_loss_pct", s.StopLossPct)
	pct("max_position_size_pct", s.MaxPositionSizePct)
	pct("max_daily_loss_pct", s.MaxDailyLossPct)
	pct("max_drawdown_pct", s.MaxDrawdownPct)
	pct("trailing_stop_pct", s.TrailingStopPct)
	if s.TakeProfitPct < 0 {
		problems = append(problems, "take_profit_pct must not be negative")
	}
	if s.MaxDailyLoss < 0 {
		problems = append(problems, "max_daily_loss must not be negative")
	}
	if s.MaxOpenPositions < 0 {
		problems = append(problems, "max_open_positions must not be negative")
	}
	switch s.PositionSizing {
	case "", SizingFixed, SizingPercentage, SizingEqualWeight, SizingKelly:
	default:
		problems = append(problems, fmt.Sprintf("unknown position_sizing %q", s.PositionSizing))
	}
	switch s.SlippageModel {
	case "", SlippageNone, SlippageFixed, SlippageProportional:
	default:
		problems = append(problems, fmt.Sprintf("unknown slippage_model %q", s.SlippageModel))
	}
	switch s.OrderType {
	case "", OrderMarket, OrderLimit, OrderStop, OrderStopLimit, OrderTrailingStop:
	default:
		problems = append(problems, fmt.Sprintf("unknown order_type %q", s.OrderType))
	}
	switch s.TimeInForce {
	case "", TIFDay, TIFGTC, TIFIOC, TIFFOK, TIFOPG, TIFCLS:
	default:
		problems = append(problems, fmt.Sprintf("unknown time_in_force %q", s.TimeInForce))
	}
	if s.TradingHoursStart != "" && !validClock(s.TradingHoursStart) {
		problems = append(problems, fmt.Sprintf("trading_hours_start %q is not HH:mm", s.TradingHoursStart))
	}
	if s.TradingHoursEnd != "" && !validClock(s.TradingHoursEnd) {
		problems = append(problems, fmt.Sprintf("trading_hours_end %q is not HH:mm", s.TradingHoursEnd))
	}
	for _, d := range s.TradingDays {
		if _, ok := ParseWeekday(d); !ok {
			problems = append(problems, fmt.Sprintf("unknown trading day %q", d))
		}
	}
	if s.SlippagePct < 0 || s.CommissionRate < 0 {
		problems = append(problems, "slippage_pct and commission_rate must not be negative")
	}
	return problems
}

func validClock(s string) bool {
	_, err := time.Parse("15:04", s)
	return err == nil && len(s) == 5
}
