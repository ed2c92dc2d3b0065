package domain

import "time"

type EventType string

const (
	EventTrade           EventType = "trade"
	EventPortfolioUpdate EventType = "portfolio-update"
	EventError           EventType = "error"
	EventSessionStarted  EventType = "session-started"
	EventSessionEnded    EventType = "session-ended"
)

// Event is one of TradeExecuted, PortfolioUpdated, ErrorEvent,
// SessionStarted or SessionEnded. Consumers type-switch on it.
type Event interface {
	Type() EventType
	SessionID() string
	At() time.Time
}

type eventHeader struct {
	Session string
	Time    time.Time
}

func (h eventHeader) SessionID() string { return h.Session }
func (h eventHeader) At() time.Time     { return h.Time }

func header(sessionID string, at time.Time) eventHeader {
	return eventHeader{Session: sessionID, Time: at}
}

type TradeExecuted struct {
	eventHeader
	Trade Trade
}

func (TradeExecuted) Type() EventType { return EventTrade }

type PortfolioUpdated struct {
	eventHeader
	Snapshot PortfolioSnapshot
}

func (PortfolioUpdated) Type() EventType { return EventPortfolioUpdate }

type ErrorEvent struct {
	eventHeader
	Symbol string
	Err    error
}

func (ErrorEvent) Type() EventType { return EventError }

type SessionStarted struct {
	eventHeader
	Session TradingSession
}

func (SessionStarted) Type() EventType { return EventSessionStarted }

type SessionEnded struct {
	eventHeader
	Session TradingSession
}

func (SessionEnded) Type() EventType { return EventSessionEnded }

func NewTradeExecuted(t Trade) TradeExecuted {
	return TradeExecuted{eventHeader: header(t.SessionID, t.Timestamp), Trade: t}
}

func NewPortfolioUpdated(s PortfolioSnapshot) PortfolioUpdated {
	return PortfolioUpdated{eventHeader: header(s.SessionID, s.Timestamp), Snapshot: s}
}

func NewErrorEvent(sessionID, symbol string, err error, at time.Time) ErrorEvent {
	return ErrorEvent{eventHeader: header(sessionID, at), Symbol: symbol, Err: err}
}

func NewSessionStarted(s TradingSession, at time.Time) SessionStarted {
	return SessionStarted{eventHeader: header(s.ID, at), Session: s}
}

func NewSessionEnded(s TradingSession, at time.Time) SessionEnded {
	return SessionEnded{eventHeader: header(s.ID, at), Session: s}
}
