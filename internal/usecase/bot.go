package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/vitos/strategy_bot/internal/domain"
	"github.com/vitos/strategy_bot/internal/risk"
	"github.com/vitos/strategy_bot/internal/strategy"
	"go.uber.org/zap"
)

const (
	FeedAuto      = ""
	FeedPolling   = "polling"
	FeedStreaming = "streaming"

	defaultPollInterval   = 5 * time.Second
	defaultReconnectDelay = 5 * time.Second
	defaultBufferDays     = 5
	defaultInterval       = "1Day"
	defaultEventBuffer    = 256
	persistTimeout        = 10 * time.Second
)

type WarmupConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BufferDays  int    `yaml:"buffer_days"`
	Interval    string `yaml:"interval"`
	FailOnError bool   `yaml:"fail_on_error"`
}

type FeedConfig struct {
	Mode           string        `yaml:"mode"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

// BotConfig is everything one trading session needs.
type BotConfig struct {
	UserID        string              `yaml:"user_id"`
	Symbols       []string            `yaml:"symbols"`
	Strategies    []strategy.Config   `yaml:"strategies"`
	Mode          domain.TradingMode  `yaml:"mode"`
	InitialCash   float64             `yaml:"initial_cash"`
	Risk          domain.RiskSettings `yaml:"risk"`
	OrderQuantity float64             `yaml:"order_quantity"`
	UseSizing     bool                `yaml:"use_sizing"`
	WindowSize    int                 `yaml:"window_size"`
	Warmup        WarmupConfig        `yaml:"warmup"`
	Feed          FeedConfig          `yaml:"feed"`
	EventBuffer   int                 `yaml:"event_buffer"`

	// Resume continues an existing session instead of creating one.
	Resume *domain.TradingSession `yaml:"-"`
}

// Validate lists every problem with the configuration.
func (c BotConfig) Validate() []string {
	var problems []string
	if c.UserID == "" {
		problems = append(problems, "user id is required")
	}
	if len(c.Symbols) == 0 {
		problems = append(problems, "at least one symbol is required")
	}
	for _, s := range c.Symbols {
		if s == "" {
			problems = append(problems, "symbols must not be empty")
			break
		}
	}
	if c.InitialCash <= 0 {
		problems = append(problems, "initial cash must be positive")
	}
	switch c.Mode {
	case "", domain.ModePaper, domain.ModeLive:
	default:
		problems = append(problems, fmt.Sprintf("unsupported mode %q", c.Mode))
	}
	switch c.Feed.Mode {
	case FeedAuto, FeedPolling, FeedStreaming:
	default:
		problems = append(problems, fmt.Sprintf("unknown feed mode %q", c.Feed.Mode))
	}
	if c.OrderQuantity < 0 {
		problems = append(problems, "order quantity must not be negative")
	}
	enabled := 0
	for _, s := range c.Strategies {
		if s.IsEnabled() {
			enabled++
		}
	}
	if enabled == 0 {
		problems = append(problems, "at least one enabled strategy is required")
	}
	return append(problems, c.Risk.Validate()...)
}

func (c *BotConfig) applyDefaults() {
	if c.Mode == "" {
		c.Mode = domain.ModePaper
	}
	if c.OrderQuantity == 0 {
		c.OrderQuantity = 1
	}
	if c.Warmup.BufferDays <= 0 {
		c.Warmup.BufferDays = defaultBufferDays
	}
	if c.Warmup.Interval == "" {
		c.Warmup.Interval = defaultInterval
	}
	if c.Feed.PollInterval <= 0 {
		c.Feed.PollInterval = defaultPollInterval
	}
	if c.Feed.ReconnectDelay <= 0 {
		c.Feed.ReconnectDelay = defaultReconnectDelay
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = defaultEventBuffer
	}
}

// Deps are the collaborators a bot talks to. Broker is only used in live
// mode and may be nil.
type Deps struct {
	Provider    domain.MarketDataProvider
	Store       domain.Store
	Broker      domain.Broker
	Logger      *zap.Logger
	Environment string
	Clock       func() time.Time
}

func (d Deps) now() time.Time {
	if d.Clock != nil {
		return d.Clock()
	}
	return time.Now()
}

type BotStatus struct {
	Session domain.TradingSession `json:"session"`
	Running bool                  `json:"running"`
	Paused  bool                  `json:"paused"`
}

// Bot runs one trading session. All portfolio, strategy and counter state is
// owned by the loop goroutine; other goroutines only read the session copy
// under mu.
type Bot struct {
	cfg    BotConfig
	deps   Deps
	logger *zap.Logger

	instances map[string][]*strategy.Instance
	desk      *desk

	mu      sync.Mutex
	session domain.TradingSession
	started bool

	running atomic.Bool
	paused  atomic.Bool

	ticks    chan []domain.Tick
	cancel   context.CancelFunc
	loopDone chan struct{}
	feedDone chan struct{}

	eventsMu     sync.Mutex
	events       chan domain.Event
	eventsClosed bool

	stopOnce  sync.Once
	finalized chan struct{}
}

func NewBot(cfg BotConfig, deps Deps) *Bot {
	cfg.applyDefaults()
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Bot{
		cfg:       cfg,
		deps:      deps,
		logger:    deps.Logger.With(zap.String("user_id", cfg.UserID)),
		instances: make(map[string][]*strategy.Instance),
		ticks:     make(chan []domain.Tick),
		loopDone:  make(chan struct{}),
		feedDone:  make(chan struct{}),
		events:    make(chan domain.Event, cfg.EventBuffer),
		finalized: make(chan struct{}),
	}
}

// Events delivers the session's events. The channel is closed after
// SessionEnded.
func (b *Bot) Events() <-chan domain.Event { return b.events }

func (b *Bot) Status() BotStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BotStatus{Session: b.session, Running: b.running.Load(), Paused: b.paused.Load()}
}

func (b *Bot) SessionID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session.ID
}

// Start validates the configuration, builds the strategy instances, warms
// them up, opens the session and starts the feed. ctx bounds the start-up
// I/O only; the session keeps running after it is done.
func (b *Bot) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return errors.New("bot already started")
	}
	b.started = true
	b.mu.Unlock()

	defs, err := b.buildStrategies()
	if err != nil {
		return err
	}

	mode := b.cfg.Mode
	if mode == domain.ModeLive && b.deps.Environment != "production" {
		b.logger.Warn("Live mode requested outside production, using paper", zap.String("environment", b.deps.Environment))
		mode = domain.ModePaper
	}

	streaming, err := b.pickFeed()
	if err != nil {
		return err
	}

	for _, symbol := range b.cfg.Symbols {
		for _, def := range defs {
			b.instances[symbol] = append(b.instances[symbol], strategy.NewInstance(symbol, def, b.cfg.WindowSize))
		}
	}

	cash := b.cfg.InitialCash
	if r := b.cfg.Resume; r != nil {
		cash = r.InitialCash + r.TotalPnL
	}
	b.desk = newDesk(b.cfg.Risk, cash, mode, b.cfg.OrderQuantity, b.cfg.UseSizing)
	if r := b.cfg.Resume; r != nil {
		b.desk.initialCash = r.InitialCash
		b.desk.totalTrades = r.TotalTrades
		b.desk.winningTrades = r.WinningTrades
		b.desk.totalPnL = r.TotalPnL
	}

	if b.cfg.Warmup.Enabled {
		if err := b.warmup(ctx); err != nil {
			return err
		}
	}

	now := b.deps.now()
	for _, symbol := range b.cfg.Symbols {
		q, err := b.deps.Provider.GetQuote(ctx, symbol)
		if err != nil {
			b.logger.Warn("Initial quote failed", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		b.desk.observe(symbol, q.Price, 0)
	}

	session, err := b.openSession(ctx, mode, now)
	if err != nil {
		return err
	}

	// Stop only acts once the session is published, so cancel must be set
	// before that.
	loopCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.running.Store(true)
	b.logger = b.logger.With(zap.String("session_id", session.ID))
	b.mu.Lock()
	b.session = session
	b.mu.Unlock()

	b.emit(domain.NewSessionStarted(b.Status().Session, now))

	go b.loop(loopCtx)
	if sp, ok := b.deps.Provider.(domain.StreamingProvider); ok && streaming {
		go b.runStreaming(loopCtx, sp)
	} else {
		go b.runPolling(loopCtx)
	}

	b.logger.Info("Trading session started",
		zap.String("mode", string(mode)),
		zap.Strings("symbols", b.cfg.Symbols),
		zap.Int("strategies", len(defs)))
	return nil
}

func (b *Bot) buildStrategies() ([]*strategy.Definition, error) {
	problems := b.cfg.Validate()
	var defs []*strategy.Definition
	for _, sc := range b.cfg.Strategies {
		if !sc.IsEnabled() {
			continue
		}
		def, err := strategy.Build(sc)
		if err != nil {
			problems = append(problems, err.Error())
			continue
		}
		defs = append(defs, def)
	}
	if len(problems) > 0 {
		return nil, &domain.ConfigError{Problems: problems}
	}
	return defs, nil
}

func (b *Bot) pickFeed() (bool, error) {
	_, canStream := b.deps.Provider.(domain.StreamingProvider)
	switch b.cfg.Feed.Mode {
	case FeedStreaming:
		if !canStream {
			return false, &domain.ConfigError{Problems: []string{"market data provider does not support streaming"}}
		}
		return true, nil
	case FeedPolling:
		return false, nil
	}
	return canStream, nil
}

// warmup replays history into every instance so strategies can act on the
// first live tick. The last bar only seeds the latest price.
func (b *Bot) warmup(ctx context.Context) error {
	lookback := 0
	for _, insts := range b.instances {
		for _, inst := range insts {
			lookback = max(lookback, inst.Lookback())
		}
	}
	end := b.deps.now()
	start := end.AddDate(0, 0, -(lookback + b.cfg.Warmup.BufferDays))

	for _, symbol := range b.cfg.Symbols {
		bars, err := b.deps.Provider.GetHistorical(ctx, symbol, b.cfg.Warmup.Interval, start, end)
		if err == nil && len(bars) == 0 {
			err = errors.New("no historical bars")
		}
		if err != nil {
			werr := &domain.WarmupError{Symbol: symbol, Err: err}
			if b.cfg.Warmup.FailOnError {
				return werr
			}
			b.logger.Warn("Warmup skipped", zap.String("symbol", symbol), zap.Error(err))
			continue
		}

		for _, inst := range b.instances[symbol] {
			inst.Seed(bars[:len(bars)-1])
		}
		last := bars[len(bars)-1]
		b.desk.observe(symbol, last.Close, 0)
		b.logger.Info("Warmup complete", zap.String("symbol", symbol), zap.Int("bars", len(bars)-1))
	}
	return nil
}

func (b *Bot) openSession(ctx context.Context, mode domain.TradingMode, now time.Time) (domain.TradingSession, error) {
	var s domain.TradingSession
	if r := b.cfg.Resume; r != nil {
		s = *r
		s.Status = domain.SessionActive
		s.Mode = mode
		if err := b.deps.Store.UpdateSession(ctx, &s); err != nil {
			return s, fmt.Errorf("resume session: %w", err)
		}
	} else {
		s = domain.TradingSession{
			ID:          uuid.NewString(),
			UserID:      b.cfg.UserID,
			Mode:        mode,
			InitialCash: b.cfg.InitialCash,
			Status:      domain.SessionActive,
			StartedAt:   now,
		}
		if err := b.deps.Store.CreateSession(ctx, &s); err != nil {
			return s, fmt.Errorf("create session: %w", err)
		}
	}

	return s, nil
}

// Stop ends the session as COMPLETED. It waits for the feed and the loop to
// exit and is safe to call more than once.
func (b *Bot) Stop(ctx context.Context) error {
	b.mu.Lock()
	started := b.started && b.session.ID != ""
	b.mu.Unlock()
	if !started {
		return domain.ErrBotStopped
	}

	go b.shutdown(domain.SessionCompleted, "")
	select {
	case <-b.finalized:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bot) shutdown(status domain.SessionStatus, reason string) {
	b.stopOnce.Do(func() {
		b.running.Store(false)
		b.cancel()
		<-b.feedDone
		<-b.loopDone
		b.finalize(status, reason)
		close(b.finalized)
	})
}

// stopWithError ends the session as STOPPED from inside the loop.
func (b *Bot) stopWithError(reason string) {
	b.logger.Warn("Stopping session", zap.String("reason", reason))
	b.running.Store(false)
	go b.shutdown(domain.SessionStopped, reason)
}

func (b *Bot) finalize(status domain.SessionStatus, reason string) {
	now := b.deps.now()
	cash := b.desk.portfolio.Cash

	b.mu.Lock()
	b.session.Status = status
	b.session.EndedAt = &now
	b.session.FinalCash = &cash
	b.session.ErrorMessage = reason
	b.session.TotalTrades = b.desk.totalTrades
	b.session.WinningTrades = b.desk.winningTrades
	b.session.TotalPnL = b.desk.totalPnL
	final := b.session
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := b.deps.Store.UpdateSession(ctx, &final); err != nil {
		b.logger.Error("Failed to persist final session", zap.Error(err))
		b.emit(domain.NewErrorEvent(final.ID, "", fmt.Errorf("persist session: %w", err), now))
	}

	b.emit(domain.NewSessionEnded(final, now))
	b.closeEvents()

	b.logger.Info("Trading session ended",
		zap.String("status", string(status)),
		zap.Int("trades", final.TotalTrades),
		zap.Float64("pnl", final.TotalPnL),
		zap.Float64("final_cash", cash))
}

func (b *Bot) Pause(ctx context.Context) error {
	return b.setStatus(ctx, domain.SessionPaused)
}

func (b *Bot) Resume(ctx context.Context) error {
	return b.setStatus(ctx, domain.SessionActive)
}

func (b *Bot) setStatus(ctx context.Context, status domain.SessionStatus) error {
	b.mu.Lock()
	if !b.running.Load() || b.session.Status.Terminal() {
		b.mu.Unlock()
		return domain.ErrBotStopped
	}
	b.session.Status = status
	b.paused.Store(status == domain.SessionPaused)
	s := b.session
	b.mu.Unlock()

	if err := b.deps.Store.UpdateSession(ctx, &s); err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	b.logger.Info("Session status changed", zap.String("status", string(status)))
	return nil
}

// emit never blocks the session. A full buffer drops the event.
func (b *Bot) emit(e domain.Event) {
	b.eventsMu.Lock()
	defer b.eventsMu.Unlock()
	if b.eventsClosed {
		return
	}
	select {
	case b.events <- e:
	default:
		b.logger.Warn("Event buffer full, dropping event", zap.String("type", string(e.Type())))
	}
}

func (b *Bot) closeEvents() {
	b.eventsMu.Lock()
	defer b.eventsMu.Unlock()
	if !b.eventsClosed {
		b.eventsClosed = true
		close(b.events)
	}
}

func (b *Bot) emitError(symbol string, err error) {
	b.emit(domain.NewErrorEvent(b.SessionID(), symbol, err, b.deps.now()))
}

// loop is the only writer of the desk and the instances.
func (b *Bot) loop(ctx context.Context) {
	defer close(b.loopDone)
	for {
		select {
		case <-ctx.Done():
			return
		case batch := <-b.ticks:
			b.processBatch(ctx, batch)
		}
	}
}

func (b *Bot) processBatch(ctx context.Context, batch []domain.Tick) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("tick processing panic: %v", r)
			b.logger.Error("Recovered from panic", zap.Error(err))
			b.emitError("", err)
		}
	}()

	for _, t := range batch {
		if !b.running.Load() {
			return
		}
		insts, ok := b.instances[t.Symbol]
		if !ok || t.Price <= 0 {
			continue
		}
		// a trade print says nothing about available liquidity
		b.desk.observe(t.Symbol, t.Price, 0)
		for _, inst := range insts {
			inst.Update(t)
		}

		if b.paused.Load() {
			continue
		}
		b.evaluate(ctx, t.Symbol, insts)
	}
}

// evaluate runs exits first, then the first strategy with a signal.
func (b *Bot) evaluate(ctx context.Context, symbol string, insts []*strategy.Instance) {
	if qty, reason := b.desk.exit(symbol); reason != risk.ExitNone {
		b.executeTrade(ctx, "risk", symbol, domain.ActionSell, qty, string(reason), true)
		return
	}

	for _, inst := range insts {
		action := inst.Signal()
		if action == domain.ActionNone {
			continue
		}
		qty := b.desk.quantity(action, symbol)
		if qty <= 0 {
			continue
		}
		decision := b.desk.gate(action, symbol, qty, b.deps.now())
		if !decision.Allowed {
			b.logger.Info("Signal rejected by risk gate",
				zap.String("symbol", symbol),
				zap.String("action", string(action)),
				zap.String("reason", decision.Reason))
			if decision.ShouldStop {
				b.stopWithError(decision.Reason)
			}
			return
		}
		b.executeTrade(ctx, inst.Name(), symbol, action, qty, "signal", false)
		return
	}
}

// executeTrade fills the order, books it and reports it. Broker and
// persistence failures are reported as events and never undo the booking.
func (b *Bot) executeTrade(ctx context.Context, strategyName, symbol string, action domain.Action, qty float64, reason string, exit bool) {
	if action == domain.ActionNone || qty <= 0 {
		return
	}
	sessionID := b.SessionID()
	log := b.logger.With(zap.String("symbol", symbol), zap.String("action", string(action)))

	res := b.desk.fill(action, symbol, qty, exit)
	if !res.Executed {
		log.Info("Order not filled", zap.String("reason", res.Reason))
		b.emitError(symbol, fmt.Errorf("%s %s not filled: %s", action, symbol, res.Reason))
		return
	}
	price, filled := res.ExecutedPrice, res.ExecutedQuantity

	var brokerOrderID string
	if b.desk.portfolio.Mode == domain.ModeLive && b.deps.Broker != nil {
		br, err := b.routeToBroker(ctx, action, symbol, filled)
		switch {
		case err != nil:
			log.Error("Broker order failed", zap.Error(err))
			b.emitError(symbol, fmt.Errorf("broker: %w", err))
		case !br.Success:
			log.Error("Broker rejected order", zap.String("error", br.Error))
			b.emitError(symbol, fmt.Errorf("broker rejected order: %s", br.Error))
		default:
			brokerOrderID = br.OrderID
			if br.FilledPrice > 0 {
				price = br.FilledPrice
			}
		}
	}

	now := b.deps.now()
	pnl, err := b.desk.book(action, symbol, filled, price, res.Commission, now)
	if err != nil {
		log.Warn("Trade not booked", zap.Error(err))
		b.emitError(symbol, err)
		return
	}

	trade := domain.Trade{
		ID:            uuid.NewString(),
		SessionID:     sessionID,
		UserID:        b.cfg.UserID,
		Symbol:        symbol,
		Action:        action,
		Quantity:      filled,
		Price:         price,
		Commission:    res.Commission,
		Timestamp:     now,
		StrategyName:  strategyName,
		PnL:           pnl,
		BrokerOrderID: brokerOrderID,
		Reason:        reason,
	}
	snap := b.desk.portfolio.Snapshot(sessionID, b.desk.prices, now)

	b.mu.Lock()
	b.session.TotalTrades = b.desk.totalTrades
	b.session.WinningTrades = b.desk.winningTrades
	b.session.TotalPnL = b.desk.totalPnL
	b.mu.Unlock()

	if err := b.deps.Store.SaveTrade(ctx, &trade); err != nil {
		log.Error("Failed to save trade", zap.Error(err))
		b.emitError(symbol, fmt.Errorf("save trade: %w", err))
	}
	if err := b.deps.Store.SavePortfolioSnapshot(ctx, &snap); err != nil {
		log.Error("Failed to save portfolio snapshot", zap.Error(err))
		b.emitError(symbol, fmt.Errorf("save snapshot: %w", err))
	}

	log.Info("Trade executed",
		zap.Float64("qty", filled),
		zap.Float64("price", price),
		zap.String("strategy", strategyName),
		zap.String("reason", reason))
	b.emit(domain.NewTradeExecuted(trade))
	b.emit(domain.NewPortfolioUpdated(snap))

	if d := b.desk.dailyLoss(); d.ShouldStop {
		b.stopWithError(d.Reason)
	}
}

func (b *Bot) routeToBroker(ctx context.Context, action domain.Action, symbol string, qty float64) (*domain.BrokerOrderResult, error) {
	if action == domain.ActionBuy {
		return b.deps.Broker.MarketBuy(ctx, symbol, qty)
	}
	return b.deps.Broker.MarketSell(ctx, symbol, qty)
}
