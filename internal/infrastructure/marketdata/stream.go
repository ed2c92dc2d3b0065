package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vitos/strategy_bot/internal/domain"
	"go.uber.org/zap"
)

const (
	defaultStreamURL = "wss://stream.data.alpaca.markets/v2"
	defaultFeed      = "iex"
	handshakeTimeout = 10 * time.Second
)

type StreamConfig struct {
	URL       string // base URL, the feed is appended
	Feed      string
	APIKey    string
	APISecret string
}

// TradeStream subscribes to trade prints over Alpaca's websocket protocol:
// welcome, auth, subscribe, then batches of messages tagged by "T".
type TradeStream struct {
	cfg    StreamConfig
	dialer *websocket.Dialer
	logger *zap.Logger
}

func NewTradeStream(cfg StreamConfig, logger *zap.Logger) *TradeStream {
	if cfg.URL == "" {
		cfg.URL = defaultStreamURL
	}
	if cfg.Feed == "" {
		cfg.Feed = defaultFeed
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TradeStream{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		logger: logger,
	}
}

type streamMessage struct {
	Type      string    `json:"T"`
	Symbol    string    `json:"S"`
	Price     float64   `json:"p"`
	Size      float64   `json:"s"`
	Timestamp time.Time `json:"t"`
	Msg       string    `json:"msg"`
	Code      int       `json:"code"`
}

func (s *TradeStream) url() string {
	return strings.TrimRight(s.cfg.URL, "/") + "/" + s.cfg.Feed
}

// Connect dials, authenticates and subscribes to trades for symbols. onTicks
// is called from the read goroutine, once per received message batch.
func (s *TradeStream) Connect(ctx context.Context, symbols []string, onTicks func([]domain.Tick)) (domain.StreamHandle, error) {
	conn, _, err := s.dialer.DialContext(ctx, s.url(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", s.url(), err)
	}

	if err := s.handshake(conn, symbols); err != nil {
		conn.Close()
		return nil, err
	}

	h := &streamHandle{conn: conn, done: make(chan error, 1)}
	go s.readLoop(h, onTicks)
	return h, nil
}

func (s *TradeStream) handshake(conn *websocket.Conn, symbols []string) error {
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})

	if err := expect(conn, "connected"); err != nil {
		return err
	}
	auth := map[string]string{"action": "auth", "key": s.cfg.APIKey, "secret": s.cfg.APISecret}
	if err := conn.WriteJSON(auth); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}
	if err := expect(conn, "authenticated"); err != nil {
		return err
	}
	sub := map[string]any{"action": "subscribe", "trades": symbols}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("send subscribe: %w", err)
	}
	return nil
}

// expect reads one control batch and fails unless it carries a success
// message with the wanted text.
func expect(conn *websocket.Conn, want string) error {
	var msgs []streamMessage
	if err := conn.ReadJSON(&msgs); err != nil {
		return fmt.Errorf("waiting for %s: %w", want, err)
	}
	for _, m := range msgs {
		switch m.Type {
		case "success":
			if m.Msg == want {
				return nil
			}
		case "error":
			return fmt.Errorf("stream error %d: %s", m.Code, m.Msg)
		}
	}
	return fmt.Errorf("waiting for %s: unexpected reply", want)
}

func (s *TradeStream) readLoop(h *streamHandle, onTicks func([]domain.Tick)) {
	for {
		_, message, err := h.conn.ReadMessage()
		if err != nil {
			if h.closing.Load() {
				err = nil
			}
			h.finish(err)
			return
		}

		var msgs []streamMessage
		if err := json.Unmarshal(message, &msgs); err != nil {
			s.logger.Warn("Stream unmarshal error", zap.Error(err))
			continue
		}

		var ticks []domain.Tick
		for _, m := range msgs {
			switch m.Type {
			case "t":
				if m.Price <= 0 {
					continue
				}
				ticks = append(ticks, domain.Tick{Symbol: m.Symbol, Price: m.Price, Size: m.Size, Timestamp: m.Timestamp})
			case "error":
				h.conn.Close()
				h.finish(fmt.Errorf("stream error %d: %s", m.Code, m.Msg))
				return
			case "subscription":
				s.logger.Info("Stream subscription confirmed")
			}
		}
		if len(ticks) > 0 {
			onTicks(ticks)
		}
	}
}

type streamHandle struct {
	conn    *websocket.Conn
	done    chan error
	closing atomic.Bool
	once    sync.Once
}

func (h *streamHandle) finish(err error) {
	h.once.Do(func() {
		h.done <- err
	})
}

// Close ends the stream. Done then receives nil.
func (h *streamHandle) Close() error {
	if !h.closing.CompareAndSwap(false, true) {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	werr := h.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	cerr := h.conn.Close()
	if werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
		return errors.Join(werr, cerr)
	}
	return cerr
}

func (h *streamHandle) Done() <-chan error { return h.done }
