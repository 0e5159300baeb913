// Package risk sizes entries and decides when the account must stop taking new ones.
package risk

import (
	"math"

	"github.com/creasty/defaults"
	"github.com/jwtly10/metalsbot/internal/logging"
	"github.com/jwtly10/metalsbot/internal/types"
)

var riskLog = logging.New("risk")

type Limits struct {
	RiskPct         float64 `default:"0.5"`
	VixReduce       float64 `default:"25"`
	StopATRMult     float64 `default:"2.5"`
	FallbackStopPct float64 `default:"1"`
	MaxExposurePct  float64 `default:"20"`
	MaxDrawdownPct  float64 `default:"20"`
	DailyLossPct    float64 `default:"5"`
}

func DefaultLimits() Limits {
	var lim Limits
	defaults.MustSet(&lim)
	return lim
}

// WithDefaults fills any zero limit with its default.
func (l Limits) WithDefaults() Limits {
	if err := defaults.Set(&l); err != nil {
		return DefaultLimits()
	}
	return l
}

// CalculateSize turns a BUY into a share count against live account equity.
// It never returns a negative number.
func CalculateSize(sig types.Signal, bar types.Candle, ind types.Indicators, acct types.PaperAccount, lim Limits) int {
	price := bar.Close
	if acct.Equity <= 0 || price <= 0 {
		return 0
	}

	riskBudget := acct.Equity * (lim.RiskPct / 100)

	stopDistance := lim.StopATRMult * ind.ATR14
	if ind.ATR14 <= 0 {
		stopDistance = price * (lim.FallbackStopPct / 100)
	}
	if stopDistance <= 0 || riskBudget <= 0 {
		return 0
	}

	shares := int(math.Floor(riskBudget / stopDistance))

	if sig.Vix > lim.VixReduce {
		shares /= 2
	}

	maxExposure := acct.Equity * (lim.MaxExposurePct / 100)
	if float64(shares)*price > maxExposure {
		shares = int(math.Floor(maxExposure / price))
		riskLog.Debug("Exposure cap applied", "symbol", sig.Symbol, "shares", shares, "max_exposure", maxExposure)
	}

	riskLog.Debug("Calculated position size",
		"symbol", sig.Symbol,
		"shares", shares,
		"risk_budget", riskBudget,
		"stop_distance", stopDistance,
		"vix", sig.Vix)

	return max(shares, 0)
}

// IsSafetyTripped is the account-level circuit breaker. It only blocks new
// entries; open positions are left alone.
func IsSafetyTripped(acct types.PaperAccount, lim Limits) bool {
	if acct.Drawdown > lim.MaxDrawdownPct {
		riskLog.Warn("Drawdown breaker tripped", "drawdown", acct.Drawdown, "limit", lim.MaxDrawdownPct)
		return true
	}
	if acct.DailyPnL < -(acct.Equity * lim.DailyLossPct / 100) {
		riskLog.Warn("Daily loss breaker tripped", "daily_pnl", acct.DailyPnL, "equity", acct.Equity)
		return true
	}
	return false
}
