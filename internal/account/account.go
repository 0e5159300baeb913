package account

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/creasty/defaults"
	"github.com/google/uuid"
	"github.com/jwtly10/metalsbot/internal/logging"
	"github.com/jwtly10/metalsbot/internal/types"
)

var accLog = logging.New("account")

// Costs are fractional and applied on both entry and exit.
type Costs struct {
	Slippage float64 `default:"0.0005"`
	Fee      float64 `default:"0.001"`
}

func DefaultCosts() Costs {
	var c Costs
	defaults.MustSet(&c)
	return c
}

type Option func(*Account)

func WithCosts(c Costs) Option {
	return func(a *Account) {
		a.costs = c
	}
}

// WithClock sets the time source for history points and the daily PnL reset.
// The backtest drives it with bar time.
func WithClock(now func() time.Time) Option {
	return func(a *Account) {
		a.now = now
	}
}

// Account is the simulated brokerage: cash, at most one position per symbol,
// and the equity curve. Mutations are expected from a single goroutine; reads
// are safe from any.
type Account struct {
	mu sync.RWMutex

	balance  float64
	equity   float64
	peak     float64
	drawdown float64
	dailyPnL float64
	day      time.Time
	history  []types.EquityPoint

	positions map[string]*types.Position
	marks     map[string]float64

	costs Costs
	now   func() time.Time
}

func New(initialBalance float64, opts ...Option) *Account {
	a := &Account{
		balance:   initialBalance,
		equity:    initialBalance,
		peak:      initialBalance,
		positions: make(map[string]*types.Position),
		marks:     make(map[string]float64),
		costs:     DefaultCosts(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.day = dayOf(a.now())
	return a
}

// OpenPosition fills a BUY. It declines without changing anything when shares
// is not positive, the symbol already has a position, or cash cannot cover
// cost plus fee.
func (a *Account) OpenPosition(sig types.Signal, bar types.Candle, shares int) bool {
	if shares <= 0 {
		accLog.Debug("Declined fill, no shares", "symbol", sig.Symbol)
		return false
	}

	price := sig.Price
	if price <= 0 {
		price = bar.Close
	}
	if price <= 0 {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, open := a.positions[sig.Symbol]; open {
		accLog.Debug("Declined fill, position already open", "symbol", sig.Symbol)
		return false
	}

	entry := price * (1 + a.costs.Slippage)
	cost := float64(shares) * entry
	fee := cost * a.costs.Fee
	if cost+fee > a.balance {
		accLog.Debug("Declined fill, insufficient balance", "symbol", sig.Symbol, "cost", cost+fee, "balance", a.balance)
		return false
	}

	openedAt := bar.Timestamp
	if openedAt.IsZero() {
		openedAt = a.now()
	}

	a.balance -= cost + fee
	a.positions[sig.Symbol] = &types.Position{
		Symbol:     sig.Symbol,
		SignalID:   sig.ID,
		EntryPrice: entry,
		Shares:     shares,
		Stop:       sig.Stop,
		Target:     sig.Target,
		OpenedAt:   openedAt,
	}

	slog.Info("Opened position",
		"symbol", sig.Symbol,
		"shares", shares,
		"entry", entry,
		"stop", sig.Stop,
		"target", sig.Target,
		"fee", fee,
		"balance", a.balance,
		"timestamp", openedAt)

	mark := bar.Close
	if mark <= 0 {
		mark = price
	}
	a.markLocked(map[string]float64{sig.Symbol: mark})

	return true
}

// ClosePosition exits at the bar close. Nil when the symbol has no position.
func (a *Account) ClosePosition(symbol string, bar types.Candle) *types.JournalTrade {
	return a.CloseWithReason(symbol, bar, "")
}

// CloseWithReason is ClosePosition with the exit trigger recorded on the
// trade. A TIME_STOP exit is journalled with the TIME_STOP outcome.
func (a *Account) CloseWithReason(symbol string, bar types.Candle, reason types.ExitReason) *types.JournalTrade {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closeLocked(symbol, bar, reason)
}

// CloseAll exits every open position at the bar close.
func (a *Account) CloseAll(bar types.Candle, reason types.ExitReason) []types.JournalTrade {
	a.mu.Lock()
	defer a.mu.Unlock()

	var trades []types.JournalTrade
	for _, symbol := range a.symbolsLocked() {
		if trade := a.closeLocked(symbol, bar, reason); trade != nil {
			trades = append(trades, *trade)
		}
	}
	return trades
}

func (a *Account) closeLocked(symbol string, bar types.Candle, reason types.ExitReason) *types.JournalTrade {
	pos, ok := a.positions[symbol]
	if !ok {
		return nil
	}

	closedAt := bar.Timestamp
	if closedAt.IsZero() {
		closedAt = a.now()
	}
	a.rollDayLocked()

	exit := bar.Close * (1 - a.costs.Slippage)
	gross := exit * float64(pos.Shares)
	proceeds := gross - gross*a.costs.Fee
	profit := proceeds - float64(pos.Shares)*pos.EntryPrice

	a.balance += proceeds
	a.dailyPnL += profit
	delete(a.positions, symbol)
	delete(a.marks, symbol)
	a.markLocked(nil)

	outcome := types.LOSS
	switch {
	case reason == types.TIME_EXIT:
		outcome = types.TIME_STOP
	case profit > 0:
		outcome = types.PROFIT
	}

	r := 0.0
	if risk := (pos.EntryPrice - pos.Stop) * float64(pos.Shares); risk > 0 {
		r = profit / risk
	}

	trade := &types.JournalTrade{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		OpenedAt:  pos.OpenedAt,
		ClosedAt:  closedAt,
		Entry:     pos.EntryPrice,
		Exit:      exit,
		Shares:    pos.Shares,
		Stop:      pos.Stop,
		Target:    pos.Target,
		Outcome:   outcome,
		Rationale: string(reason),
		RMultiple: r,
		PnL:       profit,
	}

	slog.Info("Closed position",
		"symbol", symbol,
		"exit", exit,
		"pnl", profit,
		"r", r,
		"reason", reason,
		"balance", a.balance,
		"timestamp", closedAt)

	return trade
}

// UpdateEquity marks open positions to the given prices, falling back to the
// last mark and then the entry price for symbols without one, and advances
// peak and drawdown.
func (a *Account) UpdateEquity(prices map[string]float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.markLocked(prices)
}

func (a *Account) markLocked(prices map[string]float64) {
	a.rollDayLocked()

	equity := a.balance
	for symbol, pos := range a.positions {
		mark, ok := prices[symbol]
		if !ok || mark <= 0 {
			mark, ok = a.marks[symbol]
		}
		if !ok || mark <= 0 {
			mark = pos.EntryPrice
		}
		a.marks[symbol] = mark
		equity += float64(pos.Shares) * mark
	}

	a.equity = equity
	a.peak = math.Max(a.peak, equity)
	if a.peak > 0 {
		a.drawdown = (a.peak - equity) / a.peak * 100
	}

	at := a.now()
	if n := len(a.history); n == 0 || at.Sub(a.history[n-1].Timestamp) >= time.Minute {
		a.history = append(a.history, types.EquityPoint{Timestamp: at, Equity: equity})
	}

	accLog.Debug("Equity updated", "equity", equity, "peak", a.peak, "drawdown", a.drawdown, "timestamp", at)
}

func (a *Account) rollDayLocked() {
	if d := dayOf(a.now()); !d.Equal(a.day) {
		a.day = d
		a.dailyPnL = 0
	}
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (a *Account) Snapshot() types.PaperAccount {
	a.mu.RLock()
	defer a.mu.RUnlock()

	history := make([]types.EquityPoint, len(a.history))
	copy(history, a.history)

	// Nothing has closed yet on a day the account has not rolled into.
	dailyPnL := a.dailyPnL
	if !dayOf(a.now()).Equal(a.day) {
		dailyPnL = 0
	}

	return types.PaperAccount{
		Balance:    a.balance,
		Equity:     a.equity,
		PeakEquity: a.peak,
		Drawdown:   a.drawdown,
		DailyPnL:   dailyPnL,
		History:    history,
	}
}

func (a *Account) Position(symbol string) (types.Position, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	pos, ok := a.positions[symbol]
	if !ok {
		return types.Position{}, false
	}
	return *pos, true
}

// Positions returns open positions ordered by symbol.
func (a *Account) Positions() []types.Position {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]types.Position, 0, len(a.positions))
	for _, symbol := range a.symbolsLocked() {
		out = append(out, *a.positions[symbol])
	}
	return out
}

func (a *Account) PositionCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.positions)
}

func (a *Account) Balance() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.balance
}

func (a *Account) symbolsLocked() []string {
	symbols := make([]string, 0, len(a.positions))
	for s := range a.positions {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}
