package marketdata

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jwtly10/metalsbot/internal/cache"
	"github.com/jwtly10/metalsbot/internal/types"
)

// CachedHistory serves backfills from a cache and falls through to the
// wrapped source on a miss. Cache failures are logged and never fatal.
type CachedHistory struct {
	source HistorySource
	cache  cache.Service
	ttl    time.Duration
}

func NewCachedHistory(source HistorySource, c cache.Service, ttl time.Duration) *CachedHistory {
	return &CachedHistory{source: source, cache: c, ttl: ttl}
}

func (c *CachedHistory) FetchHistory(ctx context.Context, symbol string) ([]types.Candle, error) {
	key := cache.Key("history", symbol)

	var candles []types.Candle
	err := c.cache.Get(ctx, key, &candles)
	if err == nil {
		slog.Debug("History cache hit", "symbol", symbol, "count", len(candles))
		return candles, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		slog.Warn("History cache read failed", "symbol", symbol, "error", err)
	}

	candles, err = c.source.FetchHistory(ctx, symbol)
	if err != nil {
		return nil, err
	}

	if err := c.cache.Set(ctx, key, candles, c.ttl); err != nil {
		slog.Warn("History cache write failed", "symbol", symbol, "error", err)
	}
	return candles, nil
}
