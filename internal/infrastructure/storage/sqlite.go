package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vitos/strategy_bot/internal/domain"
)

const dateLayout = "2006-01-02"

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	// sqlite allows one writer; session goroutines share this handle.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			mode TEXT NOT NULL,
			initial_cash REAL NOT NULL,
			final_cash REAL,
			status TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			ended_at DATETIME,
			total_trades INTEGER NOT NULL DEFAULT 0,
			winning_trades INTEGER NOT NULL DEFAULT 0,
			total_pnl REAL NOT NULL DEFAULT 0,
			error_message TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user_status ON sessions(user_id, status);`,
		`CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			action TEXT NOT NULL,
			quantity REAL NOT NULL,
			price REAL NOT NULL,
			commission REAL NOT NULL DEFAULT 0,
			strategy_name TEXT NOT NULL,
			pnl REAL,
			broker_order_id TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_session ON trades(session_id);`,
		`CREATE TABLE IF NOT EXISTS portfolio_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			cash REAL NOT NULL,
			positions_value REAL NOT NULL,
			total_value REAL NOT NULL,
			positions TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS bar_cache (
			symbol TEXT NOT NULL,
			interval TEXT NOT NULL,
			start_date TEXT NOT NULL,
			end_date TEXT NOT NULL,
			bars TEXT NOT NULL,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (symbol, interval, start_date, end_date)
		);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

// SessionRepository Implementation

const sessionColumns = `id, user_id, mode, initial_cash, final_cash, status, started_at, ended_at, total_trades, winning_trades, total_pnl, error_message`

func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.TradingSession) error {
	query := `INSERT INTO sessions (` + sessionColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		session.ID, session.UserID, session.Mode, session.InitialCash, session.FinalCash, session.Status,
		session.StartedAt.UTC(), utcOrNil(session.EndedAt), session.TotalTrades, session.WinningTrades,
		session.TotalPnL, session.ErrorMessage)
	return err
}

func (s *SQLiteStore) UpdateSession(ctx context.Context, session *domain.TradingSession) error {
	query := `UPDATE sessions SET mode = ?, final_cash = ?, status = ?, ended_at = ?, total_trades = ?,
			  winning_trades = ?, total_pnl = ?, error_message = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, query,
		session.Mode, session.FinalCash, session.Status, utcOrNil(session.EndedAt), session.TotalTrades,
		session.WinningTrades, session.TotalPnL, session.ErrorMessage, session.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("session %s: %w", session.ID, domain.ErrNotFound)
	}
	return nil
}

// GetActiveSession returns the user's most recent session that has not ended.
func (s *SQLiteStore) GetActiveSession(ctx context.Context, userID string) (*domain.TradingSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE user_id = ? AND status IN (?, ?) ORDER BY started_at DESC LIMIT 1`
	row := s.db.QueryRowContext(ctx, query, userID, domain.SessionActive, domain.SessionPaused)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return session, err
}

func (s *SQLiteStore) ListActiveSessions(ctx context.Context) ([]*domain.TradingSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE status = ? ORDER BY started_at`
	rows, err := s.db.QueryContext(ctx, query, domain.SessionActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*domain.TradingSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*domain.TradingSession, error) {
	var (
		t         domain.TradingSession
		finalCash sql.NullFloat64
		endedAt   sql.NullTime
	)
	err := row.Scan(&t.ID, &t.UserID, &t.Mode, &t.InitialCash, &finalCash, &t.Status, &t.StartedAt, &endedAt,
		&t.TotalTrades, &t.WinningTrades, &t.TotalPnL, &t.ErrorMessage)
	if err != nil {
		return nil, err
	}
	if finalCash.Valid {
		t.FinalCash = &finalCash.Float64
	}
	if endedAt.Valid {
		t.EndedAt = &endedAt.Time
	}
	return &t, nil
}

// TradeRepository Implementation

func (s *SQLiteStore) SaveTrade(ctx context.Context, trade *domain.Trade) error {
	query := `INSERT INTO trades (id, session_id, user_id, symbol, action, quantity, price, commission, strategy_name, pnl, broker_order_id, reason, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		trade.ID, trade.SessionID, trade.UserID, trade.Symbol, trade.Action, trade.Quantity, trade.Price,
		trade.Commission, trade.StrategyName, trade.PnL, trade.BrokerOrderID, trade.Reason, trade.Timestamp.UTC())
	return err
}

// ListTrades returns a session's trades oldest first. A limit of zero or less
// returns all of them.
func (s *SQLiteStore) ListTrades(ctx context.Context, sessionID string, limit int) ([]*domain.Trade, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `SELECT id, session_id, user_id, symbol, action, quantity, price, commission, strategy_name, pnl, broker_order_id, reason, created_at
			  FROM trades WHERE session_id = ? ORDER BY created_at, rowid LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*domain.Trade
	for rows.Next() {
		var (
			t   domain.Trade
			pnl sql.NullFloat64
		)
		if err := rows.Scan(&t.ID, &t.SessionID, &t.UserID, &t.Symbol, &t.Action, &t.Quantity, &t.Price,
			&t.Commission, &t.StrategyName, &pnl, &t.BrokerOrderID, &t.Reason, &t.Timestamp); err != nil {
			return nil, err
		}
		if pnl.Valid {
			t.PnL = &pnl.Float64
		}
		trades = append(trades, &t)
	}
	return trades, rows.Err()
}

// SnapshotRepository Implementation

func (s *SQLiteStore) SavePortfolioSnapshot(ctx context.Context, snap *domain.PortfolioSnapshot) error {
	positions, err := json.Marshal(snap.Positions)
	if err != nil {
		return fmt.Errorf("encode positions: %w", err)
	}
	query := `INSERT INTO portfolio_snapshots (session_id, cash, positions_value, total_value, positions, created_at)
			  VALUES (?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		snap.SessionID, snap.Cash, snap.PositionsValue, snap.TotalValue, string(positions), snap.Timestamp.UTC())
	return err
}

// LatestSnapshot returns the most recent snapshot of a session.
func (s *SQLiteStore) LatestSnapshot(ctx context.Context, sessionID string) (*domain.PortfolioSnapshot, error) {
	query := `SELECT session_id, cash, positions_value, total_value, positions, created_at
			  FROM portfolio_snapshots WHERE session_id = ? ORDER BY id DESC LIMIT 1`
	var (
		snap      domain.PortfolioSnapshot
		positions string
	)
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(
		&snap.SessionID, &snap.Cash, &snap.PositionsValue, &snap.TotalValue, &positions, &snap.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(positions), &snap.Positions); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}
	return &snap, nil
}

// BarCache Implementation

func (s *SQLiteStore) GetBars(ctx context.Context, key domain.BarCacheKey) ([]domain.PriceBar, bool, error) {
	query := `SELECT bars FROM bar_cache WHERE symbol = ? AND interval = ? AND start_date = ? AND end_date = ?`
	var raw string
	err := s.db.QueryRowContext(ctx, query, key.Symbol, key.Interval, dateKey(key.Start), dateKey(key.End)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var bars []domain.PriceBar
	if err := json.Unmarshal([]byte(raw), &bars); err != nil {
		return nil, false, fmt.Errorf("decode cached bars: %w", err)
	}
	return bars, true, nil
}

func (s *SQLiteStore) PutBars(ctx context.Context, key domain.BarCacheKey, bars []domain.PriceBar) error {
	raw, err := json.Marshal(bars)
	if err != nil {
		return fmt.Errorf("encode bars: %w", err)
	}
	query := `INSERT INTO bar_cache (symbol, interval, start_date, end_date, bars, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?)
			  ON CONFLICT(symbol, interval, start_date, end_date) DO UPDATE SET
			  bars=excluded.bars,
			  updated_at=excluded.updated_at`
	_, err = s.db.ExecContext(ctx, query,
		key.Symbol, key.Interval, dateKey(key.Start), dateKey(key.End), string(raw), time.Now().UTC())
	return err
}

func dateKey(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

func utcOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
