package marketdata

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jwtly10/metalsbot/internal/cache"
	"github.com/jwtly10/metalsbot/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

var testNow = time.Date(2024, 3, 12, 15, 7, 30, 0, time.UTC)

func newTestSynthetic(seed int64) *Synthetic {
	return NewSynthetic(SyntheticConfig{Seed: seed, Count: 260}, WithSyntheticClock(func() time.Time { return testNow }))
}

func TestSynthetic_HistoryShape(t *testing.T) {
	s := newTestSynthetic(7)

	candles, err := s.FetchHistory(context.Background(), "GLD")
	require.NoError(t, err)
	require.Len(t, candles, 261)

	assert.Equal(t, time.Date(2024, 3, 12, 15, 0, 0, 0, time.UTC), candles[len(candles)-1].Timestamp)
	for i, c := range candles {
		require.NoError(t, c.Validate(), "bar %d", i)
		assert.GreaterOrEqual(t, c.High, max(c.Open, c.Close))
		assert.LessOrEqual(t, c.Low, min(c.Open, c.Close))
		if i > 0 {
			assert.Equal(t, Timeframe, c.Timestamp.Sub(candles[i-1].Timestamp))
			assert.Equal(t, candles[i-1].Close, c.Open)
		}
	}
}

func TestSynthetic_DeterministicForSeed(t *testing.T) {
	a, err := newTestSynthetic(42).FetchHistory(context.Background(), "SLV")
	require.NoError(t, err)
	b, err := newTestSynthetic(42).FetchHistory(context.Background(), "SLV")
	require.NoError(t, err)
	c, err := newTestSynthetic(43).FetchHistory(context.Background(), "SLV")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestSynthetic_PricesContinueFromHistory(t *testing.T) {
	ctx := context.Background()
	s := newTestSynthetic(3)
	candles, err := s.FetchHistory(ctx, "GDX")
	require.NoError(t, err)
	last := candles[len(candles)-1].Close

	tickers, err := s.FetchPrices(ctx, []string{"GDX", "COPX"})
	require.NoError(t, err)
	require.Len(t, tickers, 2)

	assert.Equal(t, "GDX", tickers[0].Symbol)
	assert.InDelta(t, last, tickers[0].Price, last*0.002)
	assert.Equal(t, testNow, tickers[0].Timestamp)
	assert.Equal(t, "COPX", tickers[1].Symbol)
	assert.InDelta(t, 200, tickers[1].Price, 1)
}

func TestSynthetic_HistoryKeepsLiveWalk(t *testing.T) {
	ctx := context.Background()
	s := newTestSynthetic(5)
	_, err := s.FetchHistory(ctx, "GLD")
	require.NoError(t, err)
	for range 20 {
		_, err = s.FetchPrices(ctx, []string{"GLD"})
		require.NoError(t, err)
	}
	before, err := s.FetchPrices(ctx, []string{"GLD"})
	require.NoError(t, err)

	_, err = s.FetchHistory(ctx, "GLD")
	require.NoError(t, err)

	after, err := s.FetchPrices(ctx, []string{"GLD"})
	require.NoError(t, err)
	assert.InDelta(t, before[0].Price, after[0].Price, before[0].Price*0.002)
}

func TestSynthetic_VixStaysInBand(t *testing.T) {
	s := NewSynthetic(SyntheticConfig{VixBase: 20, VixBand: 1, Seed: 9})
	for range 500 {
		v, err := s.FetchVix(context.Background())
		require.NoError(t, err)
		assert.GreaterOrEqual(t, v, 19.0)
		assert.LessOrEqual(t, v, 21.0)
	}
}

func TestFixed(t *testing.T) {
	v, err := Fixed(31.5).FetchVix(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 31.5, v)
}

func TestBucketStart(t *testing.T) {
	assert.Equal(t, time.Date(2024, 3, 12, 15, 0, 0, 0, time.UTC), BucketStart(testNow))
	assert.Equal(t, time.Date(2024, 3, 12, 15, 15, 0, 0, time.UTC), BucketStart(time.Date(2024, 3, 12, 15, 15, 0, 0, time.UTC)))
}

type countingSource struct {
	calls   int
	candles []types.Candle
	err     error
}

func (s *countingSource) FetchHistory(context.Context, string) ([]types.Candle, error) {
	s.calls++
	return s.candles, s.err
}

func TestCachedHistory_HitsCacheOnSecondCall(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{candles: []types.Candle{
		{Timestamp: testNow.Truncate(Timeframe), Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10, Quality: types.BACKFILLED},
	}}
	h := NewCachedHistory(src, cache.NewMemoryCache(), time.Minute)

	first, err := h.FetchHistory(ctx, "GLD")
	require.NoError(t, err)
	second, err := h.FetchHistory(ctx, "GLD")
	require.NoError(t, err)

	assert.Equal(t, 1, src.calls)
	assert.Equal(t, first, second)
}

func TestCachedHistory_SourceErrorNotCached(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{err: errors.New("upstream down")}
	h := NewCachedHistory(src, cache.NewMemoryCache(), time.Minute)

	_, err := h.FetchHistory(ctx, "GLD")
	assert.Error(t, err)
	_, err = h.FetchHistory(ctx, "GLD")
	assert.Error(t, err)
	assert.Equal(t, 2, src.calls)
}

// The bar query is plain SQL, so it runs unchanged against SQLite.
func TestClickHouseHistory_ReturnsLatestAscending(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE bars_15m (
		symbol TEXT NOT NULL,
		ts     DATETIME NOT NULL,
		open   REAL, high REAL, low REAL, close REAL, volume REAL
	)`)
	require.NoError(t, err)

	base := time.Date(2024, 3, 11, 14, 30, 0, 0, time.UTC)
	for i := range 5 {
		p := 100 + float64(i)
		_, err := db.Exec(`INSERT INTO bars_15m VALUES (?,?,?,?,?,?,?)`,
			"GLD", base.Add(time.Duration(i)*Timeframe), p, p+1, p-1, p+0.5, 1000)
		require.NoError(t, err)
	}
	_, err = db.Exec(`INSERT INTO bars_15m VALUES (?,?,?,?,?,?,?)`, "SLV", base, 22, 23, 21, 22, 50)
	require.NoError(t, err)

	h, err := NewClickHouseHistory(db, "bars_15m", 3)
	require.NoError(t, err)

	candles, err := h.FetchHistory(ctx, "GLD")
	require.NoError(t, err)
	require.Len(t, candles, 3)

	assert.True(t, candles[0].Timestamp.Equal(base.Add(2*Timeframe)))
	assert.True(t, candles[2].Timestamp.Equal(base.Add(4*Timeframe)))
	assert.Equal(t, 104.5, candles[2].Close)
	for _, c := range candles {
		assert.Equal(t, types.BACKFILLED, c.Quality)
	}
}

func TestNewClickHouseHistory_RejectsBadInput(t *testing.T) {
	_, err := NewClickHouseHistory(nil, "bars; DROP TABLE x", 10)
	assert.Error(t, err)
	_, err = NewClickHouseHistory(nil, "bars", 0)
	assert.Error(t, err)
}

func TestClickHouseHistory_Integration(t *testing.T) {
	dsn := os.Getenv("CLICKHOUSE_DSN")
	if dsn == "" {
		t.Skip("Skipping clickhouse integration test. CLICKHOUSE_DSN not set.")
	}

	ctx := context.Background()
	db, err := OpenClickHouse(ctx, dsn)
	require.NoError(t, err)
	defer db.Close()

	h, err := NewClickHouseHistory(db, "bars_15m", 250)
	require.NoError(t, err)

	candles, err := h.FetchHistory(ctx, "GLD")
	require.NoError(t, err)
	for i := 1; i < len(candles); i++ {
		assert.True(t, candles[i].Timestamp.After(candles[i-1].Timestamp))
	}
}
