// Package marketdata defines where quotes, history and the volatility index
// come from, and ships the offline and warehouse-backed sources.
package marketdata

import (
	"context"
	"time"

	"github.com/jwtly10/metalsbot/internal/types"
)

// Timeframe is the bar width the strategy runs on.
const Timeframe = 15 * time.Minute

type QuoteSource interface {
	FetchPrices(ctx context.Context, symbols []string) ([]types.Ticker, error)
}

type HistorySource interface {
	FetchHistory(ctx context.Context, symbol string) ([]types.Candle, error)
}

type VixSource interface {
	FetchVix(ctx context.Context) (float64, error)
}

// Fixed is a VixSource that always reports the same level.
type Fixed float64

func (f Fixed) FetchVix(context.Context) (float64, error) {
	return float64(f), nil
}

// BucketStart floors t to the start of its timeframe bucket.
func BucketStart(t time.Time) time.Time {
	return t.Truncate(Timeframe)
}
