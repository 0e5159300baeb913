// Package bot runs the live loop: quotes in, candles folded, every symbol
// evaluated, paper fills taken, and the results fanned out.
package bot

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/creasty/defaults"
	"github.com/jwtly10/metalsbot/internal/account"
	"github.com/jwtly10/metalsbot/internal/advisory"
	"github.com/jwtly10/metalsbot/internal/journal"
	"github.com/jwtly10/metalsbot/internal/logging"
	"github.com/jwtly10/metalsbot/internal/marketdata"
	"github.com/jwtly10/metalsbot/internal/risk"
	"github.com/jwtly10/metalsbot/internal/strategy"
	"github.com/jwtly10/metalsbot/internal/types"
)

var botLog = logging.New("bot")

const (
	EventSignal  = "signal"
	EventTrade   = "trade"
	EventAccount = "account"
	EventEngine  = "engine"
)

// Event is what subscribers of the live stream receive.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type Publisher interface {
	Publish(ev Event)
}

type Notifier interface {
	SendSignal(sig types.Signal) error
	SendTrade(trade types.JournalTrade) error
	SendError(err error) error
	SendRecovery(failureCount int) error
}

type StateStore interface {
	SaveState(ctx context.Context, symbol string, state types.BotState, cooldown int) error
	LoadStates(ctx context.Context) (map[string]types.SymbolState, error)
}

type Recorder interface {
	RecordSignal(sig types.Signal)
	RecordTrade(trade types.JournalTrade)
	RecordDeclined(symbol, reason string)
	RecordError(kind string)
	RecordAccount(acct types.PaperAccount, open int)
	RecordVix(v float64)
	RecordTick(seconds float64)
}

// Deps are the collaborators. Quotes, History, Vix and Account are required;
// the rest may be nil.
type Deps struct {
	Quotes      marketdata.QuoteSource
	History     marketdata.HistorySource
	Vix         marketdata.VixSource
	Account     *account.Account
	Journal     journal.Sink
	States      StateStore
	Notifier    Notifier
	Publisher   Publisher
	Metrics     Recorder
	Advisor     advisory.Advisor
	Annotations *advisory.Annotations
}

type Config struct {
	Watchlist []string
	Strategy  strategy.Config
	Limits    risk.Limits

	TickInterval  time.Duration `default:"5s"`
	MacroInterval time.Duration `default:"5m"`
	MinCandles    int           `default:"250"`
	MaxCandles    int           `default:"500"`
	// DelayedAfter tags a bar DELAYED when its quote is older than this.
	DelayedAfter time.Duration `default:"1m"`

	// GateOnMacro blocks entries while the last macro check is unsafe.
	GateOnMacro bool
}

type Option func(*Bot)

func WithClock(now func() time.Time) Option {
	return func(b *Bot) {
		b.now = now
	}
}

type Bot struct {
	deps  Deps
	cfg   Config
	strat strategy.Strategy
	now   func() time.Time

	paused atomic.Bool

	mu        sync.RWMutex
	candles   map[string][]types.Candle
	states    map[string]types.SymbolState
	signals   map[string]types.Signal
	macro     types.MacroCheck
	vix       float64
	connected bool
	lastTick  time.Time

	// Run-loop only.
	consecutiveFailures int
}

func New(deps Deps, cfg Config, opts ...Option) *Bot {
	defaults.MustSet(&cfg)
	cfg.Strategy = cfg.Strategy.WithDefaults()
	cfg.Limits = cfg.Limits.WithDefaults()

	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	if deps.Publisher == nil {
		deps.Publisher = nopPublisher{}
	}
	if deps.Metrics == nil {
		deps.Metrics = nopRecorder{}
	}

	b := &Bot{
		deps:    deps,
		cfg:     cfg,
		strat:   strategy.NewMetals(cfg.Strategy),
		now:     time.Now,
		candles: make(map[string][]types.Candle),
		states:  make(map[string]types.SymbolState),
		signals: make(map[string]types.Signal),
	}
	for _, opt := range opts {
		opt(b)
	}
	for _, sym := range cfg.Watchlist {
		b.states[sym] = types.SymbolState{Symbol: sym, State: types.StateWait}
	}
	return b
}

// Pause is the kill switch. A paused bot skips ticks entirely.
func (b *Bot) Pause() {
	if !b.paused.Swap(true) {
		slog.Warn("Engine paused")
		b.deps.Publisher.Publish(Event{Type: EventEngine, Data: b.Status()})
	}
}

func (b *Bot) Resume() {
	if b.paused.Swap(false) {
		slog.Info("Engine resumed")
		b.deps.Publisher.Publish(Event{Type: EventEngine, Data: b.Status()})
	}
}

func (b *Bot) Paused() bool {
	return b.paused.Load()
}

type Status struct {
	Running   bool      `json:"running"`
	Paused    bool      `json:"paused"`
	Connected bool      `json:"connected"`
	Vix       float64   `json:"vix"`
	LastTick  time.Time `json:"lastTick"`
	Watchlist []string  `json:"watchlist"`
}

func (b *Bot) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	paused := b.paused.Load()
	return Status{
		Running:   !paused,
		Paused:    paused,
		Connected: b.connected,
		Vix:       b.vix,
		LastTick:  b.lastTick,
		Watchlist: append([]string(nil), b.cfg.Watchlist...),
	}
}

func (b *Bot) Connected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected
}

// Signals returns the latest signal per symbol in watchlist order.
func (b *Bot) Signals() []types.Signal {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]types.Signal, 0, len(b.signals))
	for _, sym := range b.cfg.Watchlist {
		if sig, ok := b.signals[sym]; ok {
			out = append(out, sig)
		}
	}
	return out
}

func (b *Bot) States() []types.SymbolState {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]types.SymbolState, 0, len(b.cfg.Watchlist))
	for _, sym := range b.cfg.Watchlist {
		out = append(out, b.states[sym])
	}
	return out
}

func (b *Bot) Macro() types.MacroCheck {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.macro
}

// Candles returns a copy of the symbol's candle history.
func (b *Bot) Candles(symbol string) []types.Candle {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]types.Candle(nil), b.candles[symbol]...)
}

type AccountView struct {
	types.PaperAccount
	Positions []types.Position `json:"positions"`
}

func (b *Bot) Account() AccountView {
	return AccountView{
		PaperAccount: b.deps.Account.Snapshot(),
		Positions:    b.deps.Account.Positions(),
	}
}

// RefreshMacro runs the advisory macro check. A failure keeps the last result.
func (b *Bot) RefreshMacro(ctx context.Context) {
	if b.deps.Advisor == nil {
		return
	}
	check, err := b.deps.Advisor.ValidateMacro(ctx, b.cfg.Watchlist)
	if err != nil {
		slog.Warn("Macro check failed", "error", err)
		b.deps.Metrics.RecordError("macro")
		return
	}

	b.mu.Lock()
	b.macro = check
	b.mu.Unlock()
	botLog.Debug("Macro check refreshed", "safe", check.IsSafe, "reason", check.Reason)
}

type nopNotifier struct{}

func (nopNotifier) SendSignal(types.Signal) error { return nil }
func (nopNotifier) SendTrade(types.JournalTrade) error { return nil }
func (nopNotifier) SendError(error) error { return nil }
func (nopNotifier) SendRecovery(int) error { return nil }

type nopPublisher struct{}

func (nopPublisher) Publish(Event) {}

type nopRecorder struct{}

func (nopRecorder) RecordSignal(types.Signal) {}
func (nopRecorder) RecordTrade(types.JournalTrade) {}
func (nopRecorder) RecordDeclined(string, string) {}
func (nopRecorder) RecordError(string) {}
func (nopRecorder) RecordAccount(types.PaperAccount, int) {}
func (nopRecorder) RecordVix(float64) {}
func (nopRecorder) RecordTick(float64) {}
