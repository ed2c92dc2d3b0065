package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrSessionActive     = errors.New("user already has an active session")
	ErrNoSession         = errors.New("no active session")
	ErrBotStopped        = errors.New("bot is stopped")
	ErrInsufficientFunds = errors.New("insufficient cash")
	ErrNoPosition        = errors.New("no position to sell")
	ErrNotFound          = errors.New("not found")
)

// ConfigError is returned by Start when the bot configuration is unusable.
// The session never becomes active.
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	return "invalid bot configuration: " + strings.Join(e.Problems, "; ")
}

// WarmupError reports a failed history fetch for one symbol.
type WarmupError struct {
	Symbol string
	Err    error
}

func (e *WarmupError) Error() string {
	return fmt.Sprintf("warmup failed for %s: %v", e.Symbol, e.Err)
}

func (e *WarmupError) Unwrap() error { return e.Err }
