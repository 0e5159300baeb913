package strategy

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jwtly10/metalsbot/internal/logging"
	"github.com/jwtly10/metalsbot/internal/session"
	"github.com/jwtly10/metalsbot/internal/types"
)

const (
	BaseConfidence = 85

	// CooldownBars is how many bars a symbol waits after an exit.
	CooldownBars = 3

	delayedDecay = 0.9
	anomalyDecay = 0.8
)

const (
	ReasonInsufficientHistory = "INSUFFICIENT_HISTORY"
	ReasonMarketClosed        = "MARKET_CLOSED"
	ReasonStaleData           = "STALE_DATA"
	ReasonHighVixPause        = "HIGH_VIX_PAUSE"
	ReasonTrendUp             = "TREND_UP"
	ReasonMomentumOK          = "MOMENTUM_OK"
	ReasonTriggerUp           = "TRIGGER_UP"
	ReasonVolConfirm          = "VOL_CONFIRM"
	ReasonRegimeReducedSize   = "REGIME_REDUCED_SIZE"
	ReasonPositionActive      = "POSITION_ACTIVE"
)

var evalLog = logging.New("evaluator")

// Input is everything a single evaluation depends on. State and Cooldown are
// whatever the previous call returned for this symbol.
type Input struct {
	Symbol   string
	Candles  []types.Candle
	Vix      float64
	State    types.BotState
	Cooldown int

	// Now is the evaluation clock. Zero means wall-clock time.
	Now time.Time
}

type Result struct {
	Signal   types.Signal
	State    types.BotState
	Cooldown int
}

func CooldownReason(bars int) string {
	return fmt.Sprintf("COOLDOWN_%d_BARS", bars)
}

// Evaluate computes indicators over the candles and runs the decision.
func Evaluate(in Input, cfg Config) Result {
	return EvaluateWithIndicators(in, Calculate(in.Candles), cfg)
}

// EvaluateWithIndicators decides on precomputed indicators. It is a pure
// function of its arguments apart from the signal id.
func EvaluateWithIndicators(in Input, ind types.Indicators, cfg Config) Result {
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	state := in.State
	if !state.Valid() {
		state = types.StateWait
	}
	cooldown := max(in.Cooldown, 0)

	sig := types.Signal{
		ID:          uuid.NewString(),
		Symbol:      in.Symbol,
		Timestamp:   now,
		Action:      types.WAIT,
		Vix:         in.Vix,
		ReasonCodes: []string{},
	}

	pass := func(action types.Action, reason string) Result {
		sig.Action = action
		sig.ReasonCodes = []string{reason}
		return Result{Signal: sig, State: state, Cooldown: cooldown}
	}

	if len(in.Candles) == 0 {
		return pass(types.WAIT, ReasonInsufficientHistory)
	}
	latest := in.Candles[len(in.Candles)-1]
	sig.Price = latest.Close

	if cfg.EnforceSession && !session.IsOpen(now) {
		return pass(types.WAIT, ReasonMarketClosed)
	}

	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = 25 * time.Minute
	}
	if now.Sub(latest.Timestamp) > staleAfter {
		sig.IsStale = true
		evalLog.Debug("Stale data", "symbol", in.Symbol, "last_bar", latest.Timestamp, "now", now)
		return pass(types.PAUSE_DATA_STALE, ReasonStaleData)
	}

	if in.Vix > cfg.VixPause {
		evalLog.Debug("Regime pause", "symbol", in.Symbol, "vix", in.Vix, "pause", cfg.VixPause)
		return pass(types.PAUSE_REGIME, ReasonHighVixPause)
	}

	if state == types.StateCooldown {
		if cooldown > 0 {
			reason := CooldownReason(cooldown)
			cooldown--
			return pass(types.WAIT, reason)
		}
		state = types.StateWait
		cooldown = 0
	}

	decay := 1.0
	if latest.Quality == types.DELAYED {
		decay *= delayedDecay
	}
	if len(latest.Anomalies) > 0 {
		decay *= anomalyDecay
	}

	if state == types.StateLong {
		sig.Action = types.HOLD
		sig.ReasonCodes = []string{ReasonPositionActive}
		return Result{Signal: sig, State: state, Cooldown: cooldown}
	}

	trendOK := latest.Close > ind.EMA200
	momentumOK := ind.RSI14 >= 50
	triggerOK := latest.Close > ind.EMA20
	volumeOK := latest.Volume >= ind.VolSMA20

	if trendOK {
		sig.ReasonCodes = append(sig.ReasonCodes, ReasonTrendUp)
	}
	if momentumOK {
		sig.ReasonCodes = append(sig.ReasonCodes, ReasonMomentumOK)
	}
	if triggerOK {
		sig.ReasonCodes = append(sig.ReasonCodes, ReasonTriggerUp)
	}
	if volumeOK {
		sig.ReasonCodes = append(sig.ReasonCodes, ReasonVolConfirm)
	}

	if !(trendOK && momentumOK && triggerOK && volumeOK) {
		return Result{Signal: sig, State: state, Cooldown: cooldown}
	}

	sig.Action = types.BUY
	sig.Confidence = BaseConfidence
	sig.ConfidenceAdj = int(math.Round(float64(BaseConfidence) * decay))
	sizeEntry(&sig, latest.Close, ind.ATR14, in.Vix, cfg)

	evalLog.Info("Entry signal",
		"symbol", in.Symbol,
		"price", sig.Entry,
		"stop", sig.Stop,
		"target", sig.Target,
		"shares", sig.Shares,
		"vix", in.Vix,
		"confidence_adj", sig.ConfidenceAdj)

	return Result{Signal: sig, State: types.StateLong, Cooldown: cooldown}
}

// sizeEntry places the ATR stop and target and sizes the advertised position
// off the configured equity.
func sizeEntry(sig *types.Signal, price, atr, vix float64, cfg Config) {
	stopMult := cfg.StopATRMult
	if stopMult <= 0 {
		stopMult = 2.5
	}
	targetMult := cfg.TargetATRMult
	if targetMult <= 0 {
		targetMult = 4
	}

	stop := price - stopMult*atr
	target := price + targetMult*atr
	riskPerShare := price - stop

	shares := 0
	if riskPerShare > 0 && cfg.Equity > 0 && cfg.RiskPct > 0 {
		shares = int(math.Floor(cfg.Equity * (cfg.RiskPct / 100) / riskPerShare))
	}
	if vix > cfg.VixReduce {
		shares /= 2
		sig.ReasonCodes = append(sig.ReasonCodes, ReasonRegimeReducedSize)
	}

	sig.Entry = price
	sig.Stop = stop
	sig.Target = target
	sig.Shares = max(shares, 0)
}
