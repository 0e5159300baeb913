package strategy

import (
	"math"

	"github.com/jwtly10/metalsbot/internal/logging"
	"github.com/jwtly10/metalsbot/internal/types"
)

const (
	// Lookback is the trailing window indicators are computed over.
	Lookback = 250

	rsiNeutral = 50.0
)

var indLog = logging.New("indicators")

// EMA seeds with the simple average of the first period values and smooths
// forward through the rest. Shorter series return the last value.
func EMA(values []float64, period int) float64 {
	if len(values) == 0 {
		return 0
	}
	if period <= 0 || len(values) < period {
		return values[len(values)-1]
	}

	seed := 0.0
	for _, v := range values[:period] {
		seed += v
	}
	ema := seed / float64(period)

	k := 2.0 / float64(period+1)
	for _, v := range values[period:] {
		ema = v*k + ema*(1-k)
	}
	return ema
}

// RSI over the trailing period deltas. Returns 50 without period+1 values and
// 100 when there were no losses.
func RSI(values []float64, period int) float64 {
	if period <= 0 || len(values) < period+1 {
		return rsiNeutral
	}

	var gains, losses float64
	start := len(values) - period
	for i := start; i < len(values); i++ {
		delta := values[i] - values[i-1]
		if delta >= 0 {
			gains += delta
		} else {
			losses -= delta
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// ATR is the mean of the trailing period true ranges, 0 without enough bars.
func ATR(candles []types.Candle, period int) float64 {
	if period <= 0 || len(candles) <= period {
		return 0
	}

	sum := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		sum += trueRange(candles[i], candles[i-1].Close)
	}
	return sum / float64(period)
}

func trueRange(bar types.Candle, prevClose float64) float64 {
	tr1 := bar.High - bar.Low
	tr2 := math.Abs(bar.High - prevClose)
	tr3 := math.Abs(bar.Low - prevClose)
	return math.Max(tr1, math.Max(tr2, tr3))
}

// VolumeSMA averages the trailing period volumes, or all of them when fewer
// are available.
func VolumeSMA(candles []types.Candle, period int) float64 {
	if period <= 0 || len(candles) == 0 {
		return 0
	}
	n := min(period, len(candles))

	sum := 0.0
	for _, c := range candles[len(candles)-n:] {
		sum += c.Volume
	}
	return sum / float64(n)
}

// Calculate computes every indicator the evaluator needs on the trailing
// Lookback window.
func Calculate(candles []types.Candle) types.Indicators {
	if len(candles) > Lookback {
		candles = candles[len(candles)-Lookback:]
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	ind := types.Indicators{
		EMA20:    EMA(closes, 20),
		EMA200:   EMA(closes, 200),
		RSI14:    RSI(closes, 14),
		ATR14:    ATR(candles, 14),
		VolSMA20: VolumeSMA(candles, 20),
	}

	if indLog.Enabled() && len(candles) > 0 {
		indLog.Debug("Indicators computed",
			"bars", len(candles),
			"timestamp", candles[len(candles)-1].Timestamp,
			"ema20", ind.EMA20,
			"ema200", ind.EMA200,
			"rsi14", ind.RSI14,
			"atr14", ind.ATR14,
			"volSma20", ind.VolSMA20)
	}
	return ind
}
