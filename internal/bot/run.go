package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jwtly10/metalsbot/internal/types"
)

// Prime backfills candle history for every symbol and restores persisted
// state. Per-symbol failures are joined; the other symbols are still primed.
func (b *Bot) Prime(ctx context.Context) error {
	var errs []error

	for _, sym := range b.cfg.Watchlist {
		candles, err := b.deps.History.FetchHistory(ctx, sym)
		if err != nil {
			errs = append(errs, fmt.Errorf("backfill %s: %w", sym, err))
			continue
		}

		valid := make([]types.Candle, 0, len(candles))
		for _, c := range candles {
			if err := c.Validate(); err != nil {
				botLog.Debug("Dropping invalid bar", "symbol", sym, "timestamp", c.Timestamp, "error", err)
				continue
			}
			valid = append(valid, c)
		}
		if len(valid) > b.cfg.MaxCandles {
			valid = valid[len(valid)-b.cfg.MaxCandles:]
		}

		b.mu.Lock()
		b.candles[sym] = valid
		b.mu.Unlock()

		if len(valid) < b.cfg.MinCandles {
			slog.Warn("Symbol not primed", "symbol", sym, "candles", len(valid), "need", b.cfg.MinCandles)
		} else {
			slog.Info("Symbol primed", "symbol", sym, "candles", len(valid))
		}
	}

	if b.deps.States != nil {
		states, err := b.deps.States.LoadStates(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("load states: %w", err))
		} else {
			b.mu.Lock()
			for _, sym := range b.cfg.Watchlist {
				if st, ok := states[sym]; ok {
					b.states[sym] = st
				}
			}
			b.mu.Unlock()
		}
	}

	return errors.Join(errs...)
}

// Run ticks every TickInterval until ctx is cancelled. The first failure of a
// streak is notified, and so is the recovery.
func (b *Bot) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.cfg.TickInterval)
	defer ticker.Stop()

	var macroC <-chan time.Time
	if b.cfg.Strategy.AIEnabled && b.deps.Advisor != nil {
		b.RefreshMacro(ctx)
		macroTicker := time.NewTicker(b.cfg.MacroInterval)
		defer macroTicker.Stop()
		macroC = macroTicker.C
	}

	slog.Info("Engine started",
		"watchlist", b.cfg.Watchlist,
		"tick_interval", b.cfg.TickInterval,
		"ai_enabled", b.cfg.Strategy.AIEnabled)

	b.handleTickResult(b.Tick(ctx))

	for {
		select {
		case <-ctx.Done():
			slog.Info("Engine stopped")
			return nil
		case <-ticker.C:
			b.handleTickResult(b.Tick(ctx))
		case <-macroC:
			b.RefreshMacro(ctx)
		}
	}
}

func (b *Bot) handleTickResult(err error) {
	if err != nil {
		b.consecutiveFailures++
		slog.Error("Tick failed", "error", err, "consecutive_failures", b.consecutiveFailures)
		if b.consecutiveFailures == 1 {
			if notifyErr := b.deps.Notifier.SendError(err); notifyErr != nil {
				slog.Error("Failed to send error notification", "error", notifyErr)
			}
		}
		return
	}

	if b.consecutiveFailures > 0 {
		slog.Info("Engine recovered", "failures", b.consecutiveFailures)
		if notifyErr := b.deps.Notifier.SendRecovery(b.consecutiveFailures); notifyErr != nil {
			slog.Error("Failed to send recovery notification", "error", notifyErr)
		}
		b.consecutiveFailures = 0
	}
}
