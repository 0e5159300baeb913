package oanda

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/jwtly10/metalsbot/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const candlesBody = `{
  "instrument": "XAU_USD",
  "granularity": "M15",
  "candles": [
    {"time": "2024-03-12T14:30:00Z", "volume": 812, "complete": true,
     "mid": {"o": "2160.10", "h": "2162.50", "l": "2158.00", "c": "2161.75"}},
    {"time": "2024-03-12T14:45:00Z", "volume": 640, "complete": false,
     "mid": {"o": "2161.75", "h": "2163.00", "l": "2161.00", "c": "2162.20"}}
  ]
}`

const pricingBody = `{
  "time": "2024-03-12T14:52:03Z",
  "prices": [
    {"instrument": "XAU_USD", "time": "2024-03-12T14:52:01Z", "tradeable": true,
     "bids": [{"price": "2162.00", "liquidity": 1000000}],
     "asks": [{"price": "2162.40", "liquidity": 1000000}]},
    {"instrument": "XAG_USD", "time": "2024-03-12T14:52:02Z", "tradeable": true,
     "bids": [{"price": "24.10", "liquidity": 1000000}],
     "asks": [{"price": "24.12", "liquidity": 1000000}]}
  ]
}`

func newTestService(t *testing.T, handler http.HandlerFunc) *OandaService {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOandaService("acc-1", "secret", srv.URL, nil)
}

func TestFetchHistory(t *testing.T) {
	var gotQuery, gotAuth, gotPath string
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(candlesBody))
	})
	svc.HistoryCount = 250

	candles, err := svc.FetchHistory(context.Background(), "GLD")
	require.NoError(t, err)

	assert.Equal(t, "/v3/accounts/acc-1/instruments/XAU_USD/candles", gotPath)
	assert.Contains(t, gotQuery, "count=250")
	assert.Contains(t, gotQuery, "granularity=M15")
	assert.NotContains(t, gotQuery, "from=")
	assert.Equal(t, "Bearer secret", gotAuth)

	require.Len(t, candles, 2)
	assert.Equal(t, time.Date(2024, 3, 12, 14, 30, 0, 0, time.UTC), candles[0].Timestamp)
	assert.Equal(t, 2161.75, candles[0].Close)
	assert.Equal(t, 812.0, candles[0].Volume)
	assert.Equal(t, types.BACKFILLED, candles[0].Quality)
	assert.Equal(t, types.DELAYED, candles[1].Quality, "incomplete candle")
}

func TestFetchHistory_UnmappedSymbol(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})

	_, err := svc.FetchHistory(context.Background(), "PALL")
	assert.ErrorContains(t, err, "no oanda instrument mapped")
}

func TestFetchHistory_ErrorStatus(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"errorMessage":"Insufficient authorization"}`))
	})

	_, err := svc.FetchHistory(context.Background(), "GLD")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status code 401")
	assert.Contains(t, err.Error(), "Insufficient authorization")
}

func TestFetchHistory_MalformedPrice(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candles":[{"time":"2024-03-12T14:30:00Z","complete":true,"mid":{"o":"abc","h":"1","l":"1","c":"1"}}]}`))
	})

	_, err := svc.FetchHistory(context.Background(), "GLD")
	assert.ErrorContains(t, err, "open price")
}

func TestFetchPrices(t *testing.T) {
	var gotInstruments string
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/accounts/acc-1/pricing", r.URL.Path)
		gotInstruments = r.URL.Query().Get("instruments")
		w.Write([]byte(pricingBody))
	})

	tickers, err := svc.FetchPrices(context.Background(), []string{"GLD", "SLV", "GDX"})
	require.NoError(t, err)

	assert.Equal(t, "XAU_USD,XAG_USD", gotInstruments, "instruments deduplicated")
	require.Len(t, tickers, 3)

	assert.Equal(t, "GLD", tickers[0].Symbol)
	assert.InDelta(t, 2162.20, tickers[0].Price, 1e-9)
	assert.Equal(t, 2162.40, tickers[0].High)
	assert.Equal(t, 2162.00, tickers[0].Low)
	assert.Equal(t, time.Date(2024, 3, 12, 14, 52, 1, 0, time.UTC), tickers[0].Timestamp)

	assert.Equal(t, "SLV", tickers[1].Symbol)
	assert.InDelta(t, 24.11, tickers[1].Price, 1e-9)

	assert.Equal(t, "GDX", tickers[2].Symbol)
	assert.Equal(t, tickers[0].Price, tickers[2].Price)
}

func TestFetchPrices_EmptyBook(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"prices":[{"instrument":"XAU_USD","time":"2024-03-12T14:52:01Z","bids":[],"asks":[]}]}`))
	})

	_, err := svc.FetchPrices(context.Background(), []string{"GLD"})
	assert.ErrorContains(t, err, "no bid/ask")
}

func TestFetchBars_Batches(t *testing.T) {
	calls := 0
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls > 1 {
			w.Write([]byte(`{"candles":[]}`))
			return
		}
		w.Write([]byte(candlesBody))
	})

	from := time.Date(2024, 3, 12, 14, 0, 0, 0, time.UTC)
	bars, err := svc.FetchBars(context.Background(), CandleRequest{
		Instrument:  XAUUSD,
		Granularity: M15,
		From:        from,
		To:          from.Add(2 * time.Hour),
	})
	require.NoError(t, err)

	assert.Len(t, bars, 2)
	assert.Equal(t, 2, calls)
}

func TestRange_FetchHistory(t *testing.T) {
	var paths []string
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if len(paths) > 1 {
			w.Write([]byte(`{"candles":[]}`))
			return
		}
		w.Write([]byte(candlesBody))
	})

	from := time.Date(2024, 3, 12, 14, 0, 0, 0, time.UTC)
	src := Range{Service: svc, From: from, To: from.Add(2 * time.Hour)}

	bars, err := src.FetchHistory(context.Background(), "SLV")
	require.NoError(t, err)
	assert.Len(t, bars, 2)
	assert.Contains(t, paths[0], "/instruments/XAG_USD/candles")

	_, err = src.FetchHistory(context.Background(), "PLTM")
	assert.ErrorContains(t, err, "no oanda instrument mapped")
}

func TestGranularityToDuration(t *testing.T) {
	d, err := M15.ToDuration()
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, d)

	_, err = CandlestickGranularity("S7").ToDuration()
	assert.Error(t, err)
}

func TestFetchHistory_Integration(t *testing.T) {
	accountID := os.Getenv("OANDA_ACCOUNT_ID")
	if accountID == "" {
		t.Skip("OANDA_ACCOUNT_ID not set, skipping integration test")
	}

	apiKey := os.Getenv("OANDA_API_KEY")
	if apiKey == "" {
		t.Skip("OANDA_API_KEY not set, skipping integration test")
	}

	svc := NewOandaService(accountID, apiKey, "", nil)

	candles, err := svc.FetchHistory(context.Background(), "GLD")
	if err != nil {
		t.Fatalf("integration test failed: %v", err)
	}

	// Note this *could* fail on a weekend etc
	assert.True(t, len(candles) > 0, "expected at least one candle")
	t.Logf("Fetched %d candles for GLD", len(candles))
}
