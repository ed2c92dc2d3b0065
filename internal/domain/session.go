package domain

import "time"

type SessionStatus string

const (
	SessionActive    SessionStatus = "ACTIVE"
	SessionPaused    SessionStatus = "PAUSED"
	SessionCompleted SessionStatus = "COMPLETED"
	SessionStopped   SessionStatus = "STOPPED"
)

// Terminal reports whether no further transitions are allowed.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionStopped
}

// TradingSession is one run of a bot for one user.
type TradingSession struct {
	ID            string        `json:"id"`
	UserID        string        `json:"user_id"`
	Mode          TradingMode   `json:"mode"`
	InitialCash   float64       `json:"initial_cash"`
	FinalCash     *float64      `json:"final_cash,omitempty"`
	Status        SessionStatus `json:"status"`
	StartedAt     time.Time     `json:"started_at"`
	EndedAt       *time.Time    `json:"ended_at,omitempty"`
	TotalTrades   int           `json:"total_trades"`
	WinningTrades int           `json:"winning_trades"`
	TotalPnL      float64       `json:"total_pnl"`
	ErrorMessage  string        `json:"error_message,omitempty"`
}
