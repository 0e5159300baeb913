package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jwtly10/metalsbot/internal/account"
	"github.com/jwtly10/metalsbot/internal/journal"
	"github.com/jwtly10/metalsbot/internal/strategy"
	"github.com/jwtly10/metalsbot/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 2, 14, 30, 0, 0, time.UTC)

func risingBars(n int, start, step float64) []types.Candle {
	bars := make([]types.Candle, n)
	prev := start
	for i := range bars {
		open := prev
		close := open * (1 + step)
		bars[i] = types.Candle{
			Timestamp: t0.Add(time.Duration(i) * 15 * time.Minute),
			Open:      open,
			High:      close * 1.001,
			Low:       open * 0.999,
			Close:     close,
			Volume:    1000,
			Quality:   types.BACKFILLED,
		}
		prev = close
	}
	return bars
}

type fakeQuotes struct {
	mu      sync.Mutex
	tickers []types.Ticker
	err     error
	calls   int
}

func (f *fakeQuotes) FetchPrices(context.Context, []string) ([]types.Ticker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.tickers, f.err
}

func (f *fakeQuotes) set(tickers ...types.Ticker) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tickers = tickers
}

type fakeHistory struct {
	bars map[string][]types.Candle
	errs map[string]error
}

func (f *fakeHistory) FetchHistory(_ context.Context, symbol string) ([]types.Candle, error) {
	if err := f.errs[symbol]; err != nil {
		return nil, err
	}
	return append([]types.Candle(nil), f.bars[symbol]...), nil
}

type fakeVix struct {
	v   float64
	err error
}

func (f *fakeVix) FetchVix(context.Context) (float64, error) {
	return f.v, f.err
}

type fakeNotifier struct {
	signals    []types.Signal
	trades     []types.JournalTrade
	errors     []error
	recoveries []int
}

func (f *fakeNotifier) SendSignal(sig types.Signal) error {
	f.signals = append(f.signals, sig)
	return nil
}

func (f *fakeNotifier) SendTrade(trade types.JournalTrade) error {
	f.trades = append(f.trades, trade)
	return nil
}

func (f *fakeNotifier) SendError(err error) error {
	f.errors = append(f.errors, err)
	return nil
}

func (f *fakeNotifier) SendRecovery(n int) error {
	f.recoveries = append(f.recoveries, n)
	return nil
}

type fakePublisher struct {
	events []Event
}

func (f *fakePublisher) Publish(ev Event) {
	f.events = append(f.events, ev)
}

func (f *fakePublisher) count(kind string) int {
	n := 0
	for _, ev := range f.events {
		if ev.Type == kind {
			n++
		}
	}
	return n
}

type fakeAdvisor struct {
	check types.MacroCheck
}

func (f *fakeAdvisor) Commentary(context.Context, types.Signal, []types.Candle) (string, error) {
	return "looks fine", nil
}

func (f *fakeAdvisor) ValidateMacro(context.Context, []string) (types.MacroCheck, error) {
	return f.check, nil
}

type harness struct {
	bot      *Bot
	quotes   *fakeQuotes
	vix      *fakeVix
	notifier *fakeNotifier
	pub      *fakePublisher
	store    *journal.Store
	acct     *account.Account
	bars     []types.Candle
	now      time.Time
}

func newHarness(t *testing.T, balance float64, mutate func(*Config, *Deps)) *harness {
	t.Helper()

	bars := risingBars(300, 100, 0.002)
	store, err := journal.New(":memory:", 100)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := &harness{
		quotes:   &fakeQuotes{},
		vix:      &fakeVix{v: 18},
		notifier: &fakeNotifier{},
		pub:      &fakePublisher{},
		store:    store,
		acct:     account.New(balance),
		bars:     bars,
		now:      bars[len(bars)-1].Timestamp.Add(5 * time.Minute),
	}

	deps := Deps{
		Quotes:    h.quotes,
		History:   &fakeHistory{bars: map[string][]types.Candle{"GLD": bars}},
		Vix:       h.vix,
		Account:   h.acct,
		Journal:   store,
		States:    store,
		Notifier:  h.notifier,
		Publisher: h.pub,
	}
	cfg := Config{Watchlist: []string{"GLD"}, Strategy: strategy.DefaultConfig()}
	cfg.Strategy.AIEnabled = false
	if mutate != nil {
		mutate(&cfg, &deps)
	}

	h.bot = New(deps, cfg, WithClock(func() time.Time { return h.now }))
	require.NoError(t, h.bot.Prime(context.Background()))
	return h
}

func (h *harness) quote(price float64) {
	h.quotes.set(types.Ticker{Symbol: "GLD", Price: price, Timestamp: h.now})
}

func (h *harness) lastClose() float64 {
	return h.bars[len(h.bars)-1].Close
}

func TestTick_BuyOpensPosition(t *testing.T) {
	h := newHarness(t, 10000, nil)
	h.quote(h.lastClose() * 1.001)

	require.NoError(t, h.bot.Tick(context.Background()))

	sigs := h.bot.Signals()
	require.Len(t, sigs, 1)
	assert.Equal(t, types.BUY, sigs[0].Action)
	assert.Greater(t, sigs[0].Shares, 0)

	pos, open := h.acct.Position("GLD")
	require.True(t, open)
	assert.Equal(t, sigs[0].Shares, pos.Shares)
	assert.Equal(t, sigs[0].ID, pos.SignalID)

	assert.Equal(t, types.StateLong, h.bot.States()[0].State)
	assert.True(t, h.bot.Connected())
	require.Len(t, h.notifier.signals, 1)
	assert.Equal(t, 1, h.pub.count(EventSignal))
	assert.Equal(t, 1, h.pub.count(EventAccount))

	saved, err := h.store.LoadStates(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.StateLong, saved["GLD"].State)

	// Holding on the next tick, no second fill
	require.NoError(t, h.bot.Tick(context.Background()))
	assert.Equal(t, types.HOLD, h.bot.Signals()[0].Action)
	assert.Equal(t, 1, h.acct.PositionCount())
	assert.Len(t, h.notifier.signals, 1)
}

func TestTick_StopLossStartsCooldown(t *testing.T) {
	h := newHarness(t, 10000, nil)
	h.quote(h.lastClose() * 1.001)
	require.NoError(t, h.bot.Tick(context.Background()))
	pos, open := h.acct.Position("GLD")
	require.True(t, open)

	h.quote(pos.Stop * 0.99)
	require.NoError(t, h.bot.Tick(context.Background()))

	sig := h.bot.Signals()[0]
	assert.Equal(t, types.EXIT, sig.Action)
	assert.Equal(t, []string{string(types.STOP_LOSS)}, sig.ReasonCodes)
	assert.Equal(t, 0, h.acct.PositionCount())

	st := h.bot.States()[0]
	assert.Equal(t, types.StateCooldown, st.State)
	assert.Equal(t, strategy.CooldownBars, st.Cooldown)

	require.Len(t, h.notifier.trades, 1)
	assert.Equal(t, types.LOSS, h.notifier.trades[0].Outcome)
	trades, err := h.store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, string(types.STOP_LOSS), trades[0].Rationale)
	assert.Equal(t, 1, h.pub.count(EventTrade))

	// The next evaluation counts the cooldown down
	require.NoError(t, h.bot.Tick(context.Background()))
	sig = h.bot.Signals()[0]
	assert.Equal(t, types.WAIT, sig.Action)
	assert.Equal(t, []string{strategy.CooldownReason(3)}, sig.ReasonCodes)
	assert.Equal(t, 2, h.bot.States()[0].Cooldown)
}

func TestTick_DeclinedFillRevertsToWait(t *testing.T) {
	// Ten dollars cannot size a single share
	h := newHarness(t, 10, nil)
	h.quote(h.lastClose() * 1.001)

	require.NoError(t, h.bot.Tick(context.Background()))

	assert.Equal(t, types.BUY, h.bot.Signals()[0].Action)
	assert.Equal(t, types.StateWait, h.bot.States()[0].State)
	assert.Equal(t, 0, h.acct.PositionCount())
	assert.Empty(t, h.notifier.signals)
}

func TestTick_MacroGateBlocksEntry(t *testing.T) {
	adv := &fakeAdvisor{check: types.MacroCheck{IsSafe: false, Reason: "FOMC", CheckedAt: t0}}
	h := newHarness(t, 10000, func(cfg *Config, deps *Deps) {
		cfg.GateOnMacro = true
		deps.Advisor = adv
	})
	h.bot.RefreshMacro(context.Background())
	assert.Equal(t, "FOMC", h.bot.Macro().Reason)

	h.quote(h.lastClose() * 1.001)
	require.NoError(t, h.bot.Tick(context.Background()))

	assert.Equal(t, types.StateWait, h.bot.States()[0].State)
	assert.Equal(t, 0, h.acct.PositionCount())
}

func TestTick_MacroIsDisplayOnlyByDefault(t *testing.T) {
	adv := &fakeAdvisor{check: types.MacroCheck{IsSafe: false, Reason: "FOMC", CheckedAt: t0}}
	h := newHarness(t, 10000, func(_ *Config, deps *Deps) {
		deps.Advisor = adv
	})
	h.bot.RefreshMacro(context.Background())

	h.quote(h.lastClose() * 1.001)
	require.NoError(t, h.bot.Tick(context.Background()))

	assert.Equal(t, 1, h.acct.PositionCount())
}

func TestTick_QuoteFailureHoldsState(t *testing.T) {
	h := newHarness(t, 10000, nil)
	h.quotes.err = errors.New("503 from pricing")

	err := h.bot.Tick(context.Background())

	assert.ErrorContains(t, err, "failed to fetch prices")
	assert.False(t, h.bot.Connected())
	assert.Empty(t, h.bot.Signals())
	assert.Equal(t, types.StateWait, h.bot.States()[0].State)
}

func TestTick_EmptyQuotesHoldState(t *testing.T) {
	h := newHarness(t, 10000, nil)

	require.NoError(t, h.bot.Tick(context.Background()))
	assert.False(t, h.bot.Connected())
	assert.Empty(t, h.bot.Signals())
}

func TestTick_VixFallsBackToLastReading(t *testing.T) {
	h := newHarness(t, 10000, nil)
	h.quote(h.lastClose())
	h.vix.err = errors.New("vix down")

	// No earlier reading to fall back on
	assert.ErrorContains(t, h.bot.Tick(context.Background()), "failed to fetch vix")

	h.vix.err = nil
	require.NoError(t, h.bot.Tick(context.Background()))

	h.vix.err = errors.New("vix down")
	h.vix.v = 0
	require.NoError(t, h.bot.Tick(context.Background()))
	assert.Equal(t, 18.0, h.bot.Status().Vix)
	assert.Equal(t, 18.0, h.bot.Signals()[0].Vix)
}

func TestTick_PausedSkipsCycle(t *testing.T) {
	h := newHarness(t, 10000, nil)
	h.quote(h.lastClose() * 1.001)

	h.bot.Pause()
	assert.True(t, h.bot.Paused())
	require.NoError(t, h.bot.Tick(context.Background()))
	assert.Equal(t, 0, h.quotes.calls)
	assert.Equal(t, 1, h.pub.count(EventEngine))

	h.bot.Resume()
	assert.False(t, h.bot.Status().Paused)
	require.NoError(t, h.bot.Tick(context.Background()))
	assert.Equal(t, 1, h.quotes.calls)
	assert.Equal(t, 2, h.pub.count(EventEngine))
}

func TestTick_NotEnoughCandlesIsSkipped(t *testing.T) {
	h := newHarness(t, 10000, func(cfg *Config, deps *Deps) {
		deps.History = &fakeHistory{bars: map[string][]types.Candle{"GLD": risingBars(100, 100, 0.002)}}
	})
	h.quote(100)

	require.NoError(t, h.bot.Tick(context.Background()))
	assert.Empty(t, h.bot.Signals())
	assert.True(t, h.bot.Connected())
}

func TestPrime_RestoresStatesAndJoinsErrors(t *testing.T) {
	bars := risingBars(300, 100, 0.002)
	store, err := journal.New(":memory:", 100)
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.SaveState(context.Background(), "GLD", types.StateCooldown, 2))

	b := New(Deps{
		Quotes: &fakeQuotes{},
		History: &fakeHistory{
			bars: map[string][]types.Candle{"GLD": bars},
			errs: map[string]error{"SLV": errors.New("no data")},
		},
		Vix:     &fakeVix{v: 18},
		Account: account.New(10000),
		States:  store,
	}, Config{Watchlist: []string{"GLD", "SLV"}})

	err = b.Prime(context.Background())

	assert.ErrorContains(t, err, "backfill SLV")
	assert.Len(t, b.Candles("GLD"), 300)
	assert.Empty(t, b.Candles("SLV"))

	states := b.States()
	require.Len(t, states, 2)
	assert.Equal(t, types.StateCooldown, states[0].State)
	assert.Equal(t, 2, states[0].Cooldown)
	assert.Equal(t, types.StateWait, states[1].State)
}

func TestPrime_DropsInvalidBarsAndTrims(t *testing.T) {
	bars := risingBars(600, 100, 0.001)
	bars[599].Low = bars[599].Close * 2

	b := New(Deps{
		Quotes:  &fakeQuotes{},
		History: &fakeHistory{bars: map[string][]types.Candle{"GLD": bars}},
		Vix:     &fakeVix{v: 18},
		Account: account.New(10000),
	}, Config{Watchlist: []string{"GLD"}, MaxCandles: 400})

	require.NoError(t, b.Prime(context.Background()))

	got := b.Candles("GLD")
	require.Len(t, got, 400)
	assert.Equal(t, bars[598].Timestamp, got[len(got)-1].Timestamp)
}

func TestHandleTickResult(t *testing.T) {
	n := &fakeNotifier{}
	b := New(Deps{Account: account.New(10000), Notifier: n}, Config{})

	b.handleTickResult(errors.New("first"))
	b.handleTickResult(errors.New("second"))
	assert.Len(t, n.errors, 1)
	assert.Empty(t, n.recoveries)

	b.handleTickResult(nil)
	assert.Equal(t, []int{2}, n.recoveries)

	b.handleTickResult(nil)
	assert.Equal(t, []int{2}, n.recoveries)
}

func TestRun_StopsOnCancel(t *testing.T) {
	b := New(Deps{
		Quotes:  &fakeQuotes{},
		Vix:     &fakeVix{v: 18},
		Account: account.New(10000),
	}, Config{Watchlist: []string{"GLD"}, TickInterval: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestFoldTicker(t *testing.T) {
	base := []types.Candle{{
		Timestamp: t0, Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 1000, Quality: types.BACKFILLED,
	}}

	t.Run("same bucket updates the bar", func(t *testing.T) {
		got := foldTicker(append([]types.Candle(nil), base...), types.Ticker{Price: 102, Volume: 50, Timestamp: t0.Add(7 * time.Minute)}, types.REALTIME, 10)
		require.Len(t, got, 1)
		assert.Equal(t, 100.0, got[0].Open)
		assert.Equal(t, 102.0, got[0].High)
		assert.Equal(t, 99.0, got[0].Low)
		assert.Equal(t, 102.0, got[0].Close)
		assert.Equal(t, 1050.0, got[0].Volume)
		assert.Equal(t, types.REALTIME, got[0].Quality)
	})

	t.Run("new bucket appends a bar", func(t *testing.T) {
		got := foldTicker(append([]types.Candle(nil), base...), types.Ticker{Price: 98, Volume: 10, Timestamp: t0.Add(16 * time.Minute)}, types.DELAYED, 10)
		require.Len(t, got, 2)
		assert.Equal(t, t0.Add(15*time.Minute), got[1].Timestamp)
		assert.Equal(t, 98.0, got[1].Open)
		assert.Equal(t, types.DELAYED, got[1].Quality)
	})

	t.Run("older quote is dropped", func(t *testing.T) {
		got := foldTicker(append([]types.Candle(nil), base...), types.Ticker{Price: 50, Timestamp: t0.Add(-time.Hour)}, types.REALTIME, 10)
		assert.Equal(t, base, got)
	})

	t.Run("history is trimmed to the limit", func(t *testing.T) {
		got := foldTicker(append([]types.Candle(nil), base...), types.Ticker{Price: 101, Timestamp: t0.Add(15 * time.Minute)}, types.REALTIME, 1)
		require.Len(t, got, 1)
		assert.Equal(t, 101.0, got[0].Close)
	})

	t.Run("empty history starts a bar", func(t *testing.T) {
		got := foldTicker(nil, types.Ticker{Price: 10, Timestamp: t0.Add(3 * time.Minute)}, types.REALTIME, 10)
		require.Len(t, got, 1)
		assert.Equal(t, t0, got[0].Timestamp)
	})
}

func TestBarsBetween(t *testing.T) {
	assert.Equal(t, 0, barsBetween(t0, t0.Add(14*time.Minute)))
	assert.Equal(t, 1, barsBetween(t0.Add(14*time.Minute), t0.Add(16*time.Minute)))
	assert.Equal(t, 4, barsBetween(t0, t0.Add(time.Hour)))
	assert.Equal(t, 0, barsBetween(t0, t0.Add(-time.Hour)))
}
