package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jwtly10/metalsbot/internal/marketdata"
	"github.com/jwtly10/metalsbot/internal/risk"
	"github.com/jwtly10/metalsbot/internal/strategy"
	"github.com/jwtly10/metalsbot/internal/types"
)

const (
	DeclinedBreaker = "breaker"
	DeclinedMacro   = "macro"
	DeclinedFill    = "fill"
)

// outbox collects what a tick produced so side effects run after the state
// lock is released.
type outbox struct {
	signals  []types.Signal
	entries  []types.Signal
	trades   []types.JournalTrade
	states   []types.SymbolState
	annotate map[string][]types.Candle
}

// Tick runs one cycle. State for every symbol is committed before any
// notification, journal write or publish happens.
func (b *Bot) Tick(ctx context.Context) error {
	if b.paused.Load() {
		botLog.Debug("Tick skipped, engine paused")
		return nil
	}

	start := time.Now()
	defer func() {
		b.deps.Metrics.RecordTick(time.Since(start).Seconds())
	}()

	tickers, err := b.deps.Quotes.FetchPrices(ctx, b.cfg.Watchlist)
	if err != nil {
		b.setConnected(false)
		b.deps.Metrics.RecordError("quotes")
		return fmt.Errorf("failed to fetch prices: %w", err)
	}
	if len(tickers) == 0 {
		b.setConnected(false)
		slog.Warn("No quotes returned, holding state")
		return nil
	}

	vix, err := b.deps.Vix.FetchVix(ctx)
	if err != nil {
		b.mu.RLock()
		last := b.vix
		b.mu.RUnlock()
		if last <= 0 {
			b.setConnected(false)
			b.deps.Metrics.RecordError("vix")
			return fmt.Errorf("failed to fetch vix: %w", err)
		}
		slog.Warn("VIX fetch failed, using last reading", "vix", last, "error", err)
		vix = last
	}

	out := b.process(tickers, vix)
	b.flush(ctx, out)
	return nil
}

func (b *Bot) setConnected(connected bool) {
	b.mu.Lock()
	b.connected = connected
	b.mu.Unlock()
}

func (b *Bot) process(tickers []types.Ticker, vix float64) outbox {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.connected = true
	b.vix = vix
	b.lastTick = now

	bySymbol := make(map[string]types.Ticker, len(tickers))
	for _, t := range tickers {
		bySymbol[t.Symbol] = t
	}

	out := outbox{annotate: make(map[string][]types.Candle)}
	prices := make(map[string]float64, len(tickers))

	for _, sym := range b.cfg.Watchlist {
		t, ok := bySymbol[sym]
		if !ok || t.Price <= 0 {
			botLog.Debug("No usable quote", "symbol", sym)
			continue
		}
		if t.Timestamp.IsZero() {
			t.Timestamp = now
		}
		prices[sym] = t.Price

		quality := types.REALTIME
		if now.Sub(t.Timestamp) > b.cfg.DelayedAfter {
			quality = types.DELAYED
		}
		b.candles[sym] = foldTicker(b.candles[sym], t, quality, b.cfg.MaxCandles)

		if len(b.candles[sym]) < b.cfg.MinCandles {
			botLog.Debug("Not enough candles yet", "symbol", sym, "have", len(b.candles[sym]), "need", b.cfg.MinCandles)
			continue
		}
		b.evaluateLocked(sym, t, vix, now, &out)
	}

	b.deps.Account.UpdateEquity(prices)
	return out
}

// evaluateLocked runs exits, then the state machine, then the fill for one
// symbol. The caller holds b.mu.
func (b *Bot) evaluateLocked(sym string, t types.Ticker, vix float64, now time.Time, out *outbox) {
	candles := b.candles[sym]
	ind := strategy.Calculate(candles)
	prev := b.states[sym]
	prev.Symbol = sym

	pos, open := b.deps.Account.Position(sym)
	if open {
		tickBar := types.Candle{Timestamp: t.Timestamp, Open: t.Price, High: t.Price, Low: t.Price, Close: t.Price}
		held := barsBetween(pos.OpenedAt, t.Timestamp)
		if exit, reason := b.strat.ShouldExit(pos, tickBar, ind, held); exit {
			if trade := b.deps.Account.CloseWithReason(sym, tickBar, reason); trade != nil {
				out.trades = append(out.trades, *trade)
			}
			sig := types.Signal{
				ID:          uuid.NewString(),
				Symbol:      sym,
				Timestamp:   now,
				Action:      types.EXIT,
				Price:       t.Price,
				ReasonCodes: []string{string(reason)},
				Vix:         vix,
			}
			b.commitLocked(sig, types.SymbolState{Symbol: sym, State: types.StateCooldown, Cooldown: strategy.CooldownBars}, prev, now, out)
			out.annotate[sig.ID] = candles
			return
		}
		prev.State = types.StateLong
	} else if prev.State == types.StateLong {
		// Restored LONG without a matching paper position.
		slog.Warn("State LONG without a position, resetting to WAIT", "symbol", sym)
		prev.State = types.StateWait
		prev.Cooldown = 0
	}

	res := b.strat.Evaluate(strategy.Input{
		Symbol:   sym,
		Candles:  candles,
		Vix:      vix,
		State:    prev.State,
		Cooldown: prev.Cooldown,
		Now:      now,
	}, ind)

	sig := res.Signal
	next := types.SymbolState{Symbol: sym, State: res.State, Cooldown: res.Cooldown}

	if sig.Action == types.BUY && !open {
		if reason, shares := b.fillLocked(sig, candles[len(candles)-1], ind, t); reason != "" {
			slog.Info("Entry declined", "symbol", sym, "reason", reason)
			b.deps.Metrics.RecordDeclined(sym, reason)
			next.State = types.StateWait
			next.Cooldown = 0
		} else {
			sig.Shares = shares
			out.entries = append(out.entries, sig)
			out.annotate[sig.ID] = candles
		}
	}

	b.commitLocked(sig, next, prev, now, out)
}

// fillLocked applies the breaker, the optional macro gate and live sizing.
// It returns a non-empty reason when no position was opened.
func (b *Bot) fillLocked(sig types.Signal, last types.Candle, ind types.Indicators, t types.Ticker) (string, int) {
	snap := b.deps.Account.Snapshot()
	if risk.IsSafetyTripped(snap, b.cfg.Limits) {
		return DeclinedBreaker, 0
	}
	if b.cfg.GateOnMacro && !b.macro.CheckedAt.IsZero() && !b.macro.IsSafe {
		return DeclinedMacro, 0
	}

	shares := risk.CalculateSize(sig, last, ind, snap, b.cfg.Limits)
	entryBar := last
	entryBar.Timestamp = t.Timestamp
	if !b.deps.Account.OpenPosition(sig, entryBar, shares) {
		return DeclinedFill, 0
	}
	return "", shares
}

func (b *Bot) commitLocked(sig types.Signal, next, prev types.SymbolState, now time.Time, out *outbox) {
	b.signals[next.Symbol] = sig
	out.signals = append(out.signals, sig)

	if next.State != prev.State || next.Cooldown != prev.Cooldown {
		next.UpdatedAt = now
		out.states = append(out.states, next)
	} else {
		next.UpdatedAt = prev.UpdatedAt
	}
	b.states[next.Symbol] = next
}

// flush runs the side effects of a tick. Failures are logged and counted;
// they never roll back committed state.
func (b *Bot) flush(ctx context.Context, out outbox) {
	var errs []error

	for _, st := range out.states {
		if b.deps.States == nil {
			break
		}
		if err := b.deps.States.SaveState(ctx, st.Symbol, st.State, st.Cooldown); err != nil {
			errs = append(errs, fmt.Errorf("save state %s: %w", st.Symbol, err))
		}
	}

	for _, trade := range out.trades {
		b.deps.Metrics.RecordTrade(trade)
		if b.deps.Journal != nil {
			if err := b.deps.Journal.Append(ctx, trade); err != nil {
				errs = append(errs, fmt.Errorf("journal trade %s: %w", trade.ID, err))
			}
		}
		b.deps.Publisher.Publish(Event{Type: EventTrade, Data: trade})
		if err := b.deps.Notifier.SendTrade(trade); err != nil {
			errs = append(errs, fmt.Errorf("notify trade %s: %w", trade.Symbol, err))
		}
	}

	for _, sig := range out.signals {
		b.deps.Metrics.RecordSignal(sig)
		b.deps.Publisher.Publish(Event{Type: EventSignal, Data: sig})
	}

	for _, sig := range out.entries {
		if err := b.deps.Notifier.SendSignal(sig); err != nil {
			errs = append(errs, fmt.Errorf("notify signal %s: %w", sig.Symbol, err))
		}
	}

	if b.cfg.Strategy.AIEnabled && b.deps.Advisor != nil && b.deps.Annotations != nil {
		for _, sig := range out.signals {
			if candles, ok := out.annotate[sig.ID]; ok {
				b.deps.Annotations.Annotate(ctx, b.deps.Advisor, sig, candles)
			}
		}
	}

	snap := b.deps.Account.Snapshot()
	b.deps.Metrics.RecordAccount(snap, b.deps.Account.PositionCount())
	b.deps.Metrics.RecordVix(b.Status().Vix)
	b.deps.Publisher.Publish(Event{Type: EventAccount, Data: b.Account()})

	if err := errors.Join(errs...); err != nil {
		b.deps.Metrics.RecordError("side_effect")
		slog.Error("Tick side effects failed", "error", err)
	}
}

// foldTicker merges a quote into the bar for its 15m bucket, opening a new bar
// when the bucket advances. Quotes older than the last bar are dropped.
func foldTicker(history []types.Candle, t types.Ticker, quality types.Quality, limit int) []types.Candle {
	bucket := marketdata.BucketStart(t.Timestamp)

	if n := len(history); n > 0 {
		lastBucket := marketdata.BucketStart(history[n-1].Timestamp)
		if bucket.Before(lastBucket) {
			return history
		}
		if bucket.Equal(lastBucket) {
			last := &history[n-1]
			last.High = max(last.High, t.Price)
			last.Low = min(last.Low, t.Price)
			last.Close = t.Price
			last.Volume += t.Volume
			last.Quality = quality
			return history
		}
	}

	history = append(history, types.Candle{
		Timestamp: bucket,
		Open:      t.Price,
		High:      t.Price,
		Low:       t.Price,
		Close:     t.Price,
		Volume:    t.Volume,
		Quality:   quality,
	})
	if limit > 0 && len(history) > limit {
		history = slices.Clone(history[len(history)-limit:])
	}
	return history
}

// barsBetween counts the bucket boundaries crossed between two instants.
func barsBetween(from, to time.Time) int {
	if to.Before(from) {
		return 0
	}
	return int(marketdata.BucketStart(to).Sub(marketdata.BucketStart(from)) / marketdata.Timeframe)
}
