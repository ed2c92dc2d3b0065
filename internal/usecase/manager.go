package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vitos/strategy_bot/internal/domain"
	"go.uber.org/zap"
)

// Manager keeps at most one running bot per user.
type Manager struct {
	deps   Deps
	logger *zap.Logger

	mu   sync.Mutex
	bots map[string]*Bot
}

func NewManager(deps Deps) *Manager {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Manager{
		deps:   deps,
		logger: deps.Logger,
		bots:   make(map[string]*Bot),
	}
}

// StartSession starts a bot for cfg.UserID. A user with a running bot gets
// ErrSessionActive; a bot that already ended is replaced.
func (m *Manager) StartSession(ctx context.Context, cfg BotConfig) (*Bot, error) {
	m.mu.Lock()
	if existing, ok := m.bots[cfg.UserID]; ok && !existing.finished() {
		m.mu.Unlock()
		return nil, domain.ErrSessionActive
	}
	bot := NewBot(cfg, m.deps)
	m.bots[cfg.UserID] = bot
	m.mu.Unlock()

	if err := bot.Start(ctx); err != nil {
		m.mu.Lock()
		if m.bots[cfg.UserID] == bot {
			delete(m.bots, cfg.UserID)
		}
		m.mu.Unlock()
		return nil, err
	}
	return bot, nil
}

// finished reports whether the bot's session has ended, or never opened.
func (b *Bot) finished() bool {
	select {
	case <-b.finalized:
		return true
	default:
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.started && b.session.ID != "" && b.session.Status.Terminal()
}

func (m *Manager) Get(userID string) (*Bot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bot, ok := m.bots[userID]
	if !ok {
		return nil, domain.ErrNoSession
	}
	return bot, nil
}

// Bots returns the registered bots keyed by user.
func (m *Manager) Bots() map[string]*Bot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*Bot, len(m.bots))
	for id, b := range m.bots {
		out[id] = b
	}
	return out
}

func (m *Manager) StopSession(ctx context.Context, userID string) error {
	bot, err := m.Get(userID)
	if err != nil {
		return err
	}
	if err := bot.Stop(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	if m.bots[userID] == bot {
		delete(m.bots, userID)
	}
	m.mu.Unlock()
	return nil
}

func (m *Manager) PauseSession(ctx context.Context, userID string) error {
	bot, err := m.Get(userID)
	if err != nil {
		return err
	}
	return bot.Pause(ctx)
}

func (m *Manager) ResumeSession(ctx context.Context, userID string) error {
	bot, err := m.Get(userID)
	if err != nil {
		return err
	}
	return bot.Resume(ctx)
}

// StopAll stops every bot. Used on process shutdown.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	bots := make(map[string]*Bot, len(m.bots))
	for id, b := range m.bots {
		bots[id] = b
	}
	m.bots = make(map[string]*Bot)
	m.mu.Unlock()

	var errs []error
	for id, b := range bots {
		if err := b.Stop(ctx); err != nil && !errors.Is(err, domain.ErrBotStopped) {
			errs = append(errs, fmt.Errorf("stop %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// RecoverSessions resumes every session the store still lists as ACTIVE,
// typically after a restart. defaults supplies symbols, strategies and risk
// settings; cash continues from the session's realized P&L. Sessions that
// fail to resume are marked STOPPED.
func (m *Manager) RecoverSessions(ctx context.Context, defaults BotConfig) (int, error) {
	sessions, err := m.deps.Store.ListActiveSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active sessions: %w", err)
	}

	recovered := 0
	for _, s := range sessions {
		cfg := defaults
		cfg.UserID = s.UserID
		cfg.Mode = s.Mode
		cfg.InitialCash = s.InitialCash
		cfg.Resume = s

		if _, err := m.StartSession(ctx, cfg); err != nil {
			m.logger.Error("Failed to recover session",
				zap.String("session_id", s.ID),
				zap.String("user_id", s.UserID),
				zap.Error(err))
			m.markStopped(ctx, s, err)
			continue
		}
		recovered++
		m.logger.Info("Recovered session", zap.String("session_id", s.ID), zap.String("user_id", s.UserID))
	}
	return recovered, nil
}

func (m *Manager) markStopped(ctx context.Context, s *domain.TradingSession, cause error) {
	now := m.deps.now()
	s.Status = domain.SessionStopped
	s.EndedAt = &now
	s.ErrorMessage = "recovery failed: " + cause.Error()
	if err := m.deps.Store.UpdateSession(ctx, s); err != nil {
		m.logger.Error("Failed to mark session stopped", zap.String("session_id", s.ID), zap.Error(err))
	}
}

// Wait blocks until the bot's session has been finalized or ctx is done.
func (b *Bot) Wait(ctx context.Context) error {
	select {
	case <-b.finalized:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

