package strategy

import (
	"github.com/jwtly10/metalsbot/internal/types"
)

// Strategy is what the backtest engine and the live loop drive once per bar.
type Strategy interface {
	Name() string
	Evaluate(in Input, ind types.Indicators) Result
	ShouldExit(pos types.Position, bar types.Candle, ind types.Indicators, barsHeld int) (bool, types.ExitReason)
}

// Metals is the 15m trend/momentum/volume entry with ATR stops and a trend
// break exit.
type Metals struct {
	cfg Config
}

func NewMetals(cfg Config) *Metals {
	return &Metals{cfg: cfg.WithDefaults()}
}

func (m *Metals) Name() string {
	return "Metals_Alpha_15m"
}

func (m *Metals) Config() Config {
	return m.cfg
}

func (m *Metals) Evaluate(in Input, ind types.Indicators) Result {
	return EvaluateWithIndicators(in, ind, m.cfg)
}

// ShouldExit checks the hard stop first, then the target, then the trend
// break, then the optional bar limit. Stop and target use intrabar extremes.
func (m *Metals) ShouldExit(pos types.Position, bar types.Candle, ind types.Indicators, barsHeld int) (bool, types.ExitReason) {
	if bar.Low <= pos.Stop {
		evalLog.Debug("Stop loss hit", "symbol", pos.Symbol, "stop", pos.Stop, "bar_low", bar.Low, "timestamp", bar.Timestamp)
		return true, types.STOP_LOSS
	}
	if bar.High >= pos.Target {
		evalLog.Debug("Take profit hit", "symbol", pos.Symbol, "target", pos.Target, "bar_high", bar.High, "timestamp", bar.Timestamp)
		return true, types.TAKE_PROFIT
	}
	if ind.EMA200 > 0 && bar.Close < ind.EMA200 {
		evalLog.Debug("Trend broken", "symbol", pos.Symbol, "close", bar.Close, "ema200", ind.EMA200, "timestamp", bar.Timestamp)
		return true, types.TREND_BREAK
	}
	if m.cfg.MaxHoldBars > 0 && barsHeld >= m.cfg.MaxHoldBars {
		return true, types.TIME_EXIT
	}
	return false, ""
}
