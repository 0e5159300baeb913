package backtest

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jwtly10/metalsbot/internal/account"
	"github.com/jwtly10/metalsbot/internal/logging"
	"github.com/jwtly10/metalsbot/internal/risk"
	"github.com/jwtly10/metalsbot/internal/strategy"
	"github.com/jwtly10/metalsbot/internal/types"
)

const (
	// Warmup is the first bar index with a full EMA200 window behind it.
	Warmup = 200
	// MinHistory is the shortest series worth walking.
	MinHistory = 250

	DefaultVix = 18.0
)

var ErrInsufficientHistory = errors.New("insufficient historical data")

var btLog = logging.New("backtest")

type Engine struct {
	Symbol         string
	Candles        []types.Candle
	InitialBalance float64

	// Vix is held constant for the whole run.
	Vix    float64
	Limits risk.Limits
	Costs  account.Costs
}

func NewEngine(symbol string, candles []types.Candle, initialBalance float64) *Engine {
	return &Engine{
		Symbol:         symbol,
		Candles:        candles,
		InitialBalance: initialBalance,
		Vix:            DefaultVix,
		Limits:         risk.DefaultLimits(),
		Costs:          account.DefaultCosts(),
	}
}

// Run walks forward from Warmup, feeding every bar through the strategy the
// same way the live loop does, with bar time as the clock.
func (e *Engine) Run(strat strategy.Strategy) (*Results, error) {
	if len(e.Candles) < MinHistory {
		return nil, fmt.Errorf("%w: have %d bars, need %d", ErrInsufficientHistory, len(e.Candles), MinHistory)
	}

	var simNow time.Time
	acc := account.New(e.InitialBalance,
		account.WithCosts(e.Costs),
		account.WithClock(func() time.Time { return simNow }))

	results := &Results{
		Symbol:         e.Symbol,
		Strategy:       strat.Name(),
		InitialBalance: e.InitialBalance,
		Trades:         []types.JournalTrade{},
		EquityCurve:    make([]types.EquityPoint, 0, len(e.Candles)-Warmup),
	}

	slog.Debug("Starting backtest", "symbol", e.Symbol, "strategy", strat.Name(), "initial_balance", e.InitialBalance, "total_bars", len(e.Candles))

	state := types.StateWait
	cooldown := 0
	barsHeld := 0

	for i := Warmup; i < len(e.Candles); i++ {
		bar := e.Candles[i]
		simNow = bar.Timestamp
		window := e.Candles[:i+1]
		ind := strategy.Calculate(window)

		btLog.Debug("Processing bar", "index", i, "timestamp", bar.Timestamp, "close", bar.Close, "state", state, "cooldown", cooldown)

		if pos, open := acc.Position(e.Symbol); open {
			barsHeld++
			if exit, reason := strat.ShouldExit(pos, bar, ind, barsHeld); exit {
				if trade := acc.CloseWithReason(e.Symbol, bar, reason); trade != nil {
					results.Trades = append(results.Trades, *trade)
				}
				state = types.StateCooldown
				cooldown = strategy.CooldownBars
				barsHeld = 0
			}
		} else {
			res := strat.Evaluate(strategy.Input{
				Symbol:   e.Symbol,
				Candles:  window,
				Vix:      e.Vix,
				State:    state,
				Cooldown: cooldown,
				Now:      bar.Timestamp,
			}, ind)
			state, cooldown = res.State, res.Cooldown

			if res.Signal.Action == types.BUY && !e.enter(acc, res.Signal, bar, ind) {
				state = types.StateWait
			}
		}

		acc.UpdateEquity(map[string]float64{e.Symbol: bar.Close})
		snap := acc.Snapshot()
		results.EquityCurve = append(results.EquityCurve, types.EquityPoint{Timestamp: bar.Timestamp, Equity: snap.Equity})
		results.MaxDrawdown = max(results.MaxDrawdown, snap.Drawdown)
	}

	last := e.Candles[len(e.Candles)-1]
	results.Trades = append(results.Trades, acc.CloseAll(last, types.END_OF_BACKTEST)...)
	results.FinalBalance = acc.Balance()

	slog.Debug("Backtest finished", "symbol", e.Symbol, "trades", len(results.Trades), "final_balance", results.FinalBalance)

	return results, nil
}

// enter applies the circuit breaker and live-equity sizing before filling.
func (e *Engine) enter(acc *account.Account, sig types.Signal, bar types.Candle, ind types.Indicators) bool {
	snap := acc.Snapshot()
	if risk.IsSafetyTripped(snap, e.Limits) {
		btLog.Debug("Entry suppressed by circuit breaker", "timestamp", bar.Timestamp)
		return false
	}
	shares := risk.CalculateSize(sig, bar, ind, snap, e.Limits)
	return acc.OpenPosition(sig, bar, shares)
}
