package oanda

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jwtly10/metalsbot/internal/types"
)

const (
	DefaultBaseUrl       = "https://api-fxpractice.oanda.com"
	MaxCandlesPerRequest = 4000 // Limit is 5000 but we maintain a buffer
	DefaultHistoryCount  = 300

	// Oanda granularities
	M1  CandlestickGranularity = "M1"
	M5  CandlestickGranularity = "M5"
	M15 CandlestickGranularity = "M15"
	M30 CandlestickGranularity = "M30"
	H1  CandlestickGranularity = "H1"
	H6  CandlestickGranularity = "H6"
	D   CandlestickGranularity = "D"
	W   CandlestickGranularity = "W"
	M   CandlestickGranularity = "M"

	// Oanda Instruments
	XAUUSD InstrumentName = "XAU_USD"
	XAGUSD InstrumentName = "XAG_USD"
	XCUUSD InstrumentName = "XCU_USD"
	BCOUSD InstrumentName = "BCO_USD"
)

// DefaultInstruments proxies the metals ETFs with their underlying spot CFDs.
var DefaultInstruments = map[string]InstrumentName{
	"GLD":  XAUUSD,
	"SLV":  XAGUSD,
	"GDX":  XAUUSD,
	"COPX": XCUUSD,
	"DBC":  BCOUSD,
}

var granularityToDuration = map[CandlestickGranularity]time.Duration{
	M1:  1 * time.Minute,
	M5:  5 * time.Minute,
	M15: 15 * time.Minute,
	M30: 30 * time.Minute,
	H1:  1 * time.Hour,
	H6:  6 * time.Hour,
	D:   24 * time.Hour,
	W:   7 * 24 * time.Hour,
	M:   30 * 24 * time.Hour, // Approx
}

func (g CandlestickGranularity) ToDuration() (time.Duration, error) {
	duration, ok := granularityToDuration[g]
	if !ok {
		return 0, fmt.Errorf("invalid granularity: %s", g)
	}
	return duration, nil
}

func (g CandlestickGranularity) String() string {
	return string(g)
}

func NewOandaService(accountId, apiKey, apiUrl string, instruments map[string]InstrumentName) *OandaService {
	if apiUrl == "" {
		apiUrl = DefaultBaseUrl
	}
	if len(instruments) == 0 {
		instruments = DefaultInstruments
	}

	return &OandaService{
		AccountId:    accountId,
		ApiKey:       apiKey,
		ApiUrl:       strings.TrimRight(apiUrl, "/"),
		Instruments:  instruments,
		HistoryCount: DefaultHistoryCount,
		client:       &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *OandaService) instrumentFor(symbol string) (InstrumentName, error) {
	inst, ok := s.Instruments[symbol]
	if !ok {
		return "", fmt.Errorf("no oanda instrument mapped for symbol %s", symbol)
	}
	return inst, nil
}

// FetchHistory returns the latest HistoryCount M15 candles for the symbol.
func (s *OandaService) FetchHistory(ctx context.Context, symbol string) ([]types.Candle, error) {
	inst, err := s.instrumentFor(symbol)
	if err != nil {
		return nil, err
	}

	resp, err := s.fetchHistoricCandles(ctx, CandleRequest{
		Instrument:  inst,
		Granularity: M15,
		Count:       s.HistoryCount,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history for %s: %w", symbol, err)
	}

	candles, err := s.candlesToBars(resp.Candles)
	if err != nil {
		return nil, fmt.Errorf("failed to convert candles to bars: %w", err)
	}
	slog.Info("Fetched history", "symbol", symbol, "instrument", inst, "count", len(candles))
	return candles, nil
}

// Range is a history source pinned to a fixed window, used for long backtests.
type Range struct {
	Service  *OandaService
	From, To time.Time
}

func (r Range) FetchHistory(ctx context.Context, symbol string) ([]types.Candle, error) {
	inst, err := r.Service.instrumentFor(symbol)
	if err != nil {
		return nil, err
	}
	return r.Service.FetchBars(ctx, CandleRequest{
		Instrument:  inst,
		Granularity: M15,
		From:        r.From,
		To:          r.To,
	})
}

// FetchBars will iteratativly fetch all bars between 2 dates.
//
// Note: We are not limiting the number of candles returned here,
// so there is scope for memory issues if not used carefully.
func (s *OandaService) FetchBars(ctx context.Context, req CandleRequest) ([]types.Candle, error) {
	slog.Info("Initiating batched Oanda fetch", "instrument", req.Instrument, "from", req.From, "to", req.To, "period", req.Granularity.String())
	period, err := req.Granularity.ToDuration()
	if err != nil {
		return nil, err
	}

	if req.To.After(time.Now()) {
		req.To = time.Now()
		slog.Warn("Adjusted 'To' time to current time as it was in the future", "newTo", req.To)
	}

	var allBars []types.Candle
	currentFrom := req.From

	for currentFrom.Before(req.To) {
		batchTo := currentFrom.Add(period * time.Duration(MaxCandlesPerRequest))
		if batchTo.After(req.To) {
			batchTo = req.To
		}

		batch, err := s.fetchHistoricCandles(ctx, CandleRequest{
			Instrument:  req.Instrument,
			Granularity: req.Granularity,
			From:        currentFrom,
			To:          batchTo,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch candles between %s and %s: %w", currentFrom, batchTo, err)
		}

		slog.Info("Found bars in latest fetch", "count", len(batch.Candles), "from", currentFrom, "to", batchTo)

		if len(batch.Candles) == 0 {
			break // No more data available
		}

		convertedBars, err := s.candlesToBars(batch.Candles)
		if err != nil {
			return nil, fmt.Errorf("failed to convert candles to bars: %w", err)
		}

		allBars = append(allBars, convertedBars...)

		// Move to next batch
		currentFrom = convertedBars[len(convertedBars)-1].Timestamp.Add(period)
	}

	slog.Info("Completed fetching all oanda bars", "totalBars", len(allBars))
	return allBars, nil
}

// FetchPrices returns one ticker per symbol at the mid of best bid and ask.
// Symbols sharing an instrument share the quote.
func (s *OandaService) FetchPrices(ctx context.Context, symbols []string) ([]types.Ticker, error) {
	seen := make(map[InstrumentName]bool)
	var instruments []string
	for _, symbol := range symbols {
		inst, err := s.instrumentFor(symbol)
		if err != nil {
			return nil, err
		}
		if !seen[inst] {
			seen[inst] = true
			instruments = append(instruments, string(inst))
		}
	}

	params := url.Values{}
	params.Add("instruments", strings.Join(instruments, ","))
	endpoint := s.ApiUrl + "/v3/accounts/" + s.AccountId + "/pricing?" + params.Encode()

	var pricing PricingResponse
	if err := s.get(ctx, endpoint, &pricing); err != nil {
		return nil, fmt.Errorf("failed to fetch prices: %w", err)
	}

	byInstrument := make(map[InstrumentName]ClientPrice, len(pricing.Prices))
	for _, p := range pricing.Prices {
		byInstrument[p.Instrument] = p
	}

	tickers := make([]types.Ticker, 0, len(symbols))
	for _, symbol := range symbols {
		p, ok := byInstrument[s.Instruments[symbol]]
		if !ok {
			continue
		}
		ticker, err := priceToTicker(symbol, p)
		if err != nil {
			return nil, err
		}
		tickers = append(tickers, ticker)
	}
	return tickers, nil
}

func priceToTicker(symbol string, p ClientPrice) (types.Ticker, error) {
	if len(p.Bids) == 0 || len(p.Asks) == 0 {
		return types.Ticker{}, fmt.Errorf("no bid/ask for %s", p.Instrument)
	}
	bid, err := parsePrice(p.Bids[0].Price)
	if err != nil {
		return types.Ticker{}, fmt.Errorf("failed to parse bid for %s: %w", p.Instrument, err)
	}
	ask, err := parsePrice(p.Asks[0].Price)
	if err != nil {
		return types.Ticker{}, fmt.Errorf("failed to parse ask for %s: %w", p.Instrument, err)
	}
	ts, err := time.Parse(time.RFC3339, p.Time)
	if err != nil {
		return types.Ticker{}, fmt.Errorf("failed to parse price time %s: %w", p.Time, err)
	}

	return types.Ticker{
		Symbol:    symbol,
		Price:     (bid + ask) / 2,
		High:      ask,
		Low:       bid,
		Timestamp: ts.UTC(),
	}, nil
}

func parsePrice(v PriceValue) (float64, error) {
	f, err := strconv.ParseFloat(string(v), 64)
	if err != nil {
		return 0, err
	}
	if f <= 0 {
		return 0, fmt.Errorf("non-positive price %s", v)
	}
	return f, nil
}

func (s *OandaService) candlesToBars(candles []Candlestick) ([]types.Candle, error) {
	bars := make([]types.Candle, 0, len(candles))
	for _, candle := range candles {
		timestamp, err := time.Parse(time.RFC3339, candle.Time)
		if err != nil {
			return nil, fmt.Errorf("failed to parse candle time %s: %w", candle.Time, err)
		}

		o, err := parsePrice(candle.Mid.O)
		if err != nil {
			return nil, fmt.Errorf("failed to parse candle open price %s: %w", candle.Mid.O, err)
		}
		h, err := parsePrice(candle.Mid.H)
		if err != nil {
			return nil, fmt.Errorf("failed to parse candle high price %s: %w", candle.Mid.H, err)
		}
		l, err := parsePrice(candle.Mid.L)
		if err != nil {
			return nil, fmt.Errorf("failed to parse candle low price %s: %w", candle.Mid.L, err)
		}
		c, err := parsePrice(candle.Mid.C)
		if err != nil {
			return nil, fmt.Errorf("failed to parse candle close price %s: %w", candle.Mid.C, err)
		}

		quality := types.BACKFILLED
		if !candle.Complete {
			quality = types.DELAYED
		}

		bars = append(bars, types.Candle{
			Timestamp: timestamp.UTC(),
			Open:      o,
			High:      h,
			Low:       l,
			Close:     c,
			Volume:    float64(candle.Volume),
			Quality:   quality,
		})
	}
	return bars, nil
}

func (s *OandaService) fetchHistoricCandles(ctx context.Context, req CandleRequest) (*CandlestickResponse, error) {
	endpoint := s.ApiUrl + "/v3/accounts/" + s.AccountId + "/instruments/" + string(req.Instrument) + "/candles"

	params := url.Values{}
	if req.Granularity != "" {
		params.Add("granularity", string(req.Granularity))
	}
	params.Add("price", "M")
	if req.Count != 0 {
		params.Add("count", strconv.Itoa(req.Count))
	}
	if !req.From.IsZero() {
		params.Add("from", strconv.FormatInt(req.From.Unix(), 10))
		params.Add("includeFirst", "false")
	}
	if !req.To.IsZero() {
		params.Add("to", strconv.FormatInt(req.To.Unix(), 10))
	}

	slog.Info("Fetching historic candles", "instrument", req.Instrument, "from", req.From, "to", req.To, "count", req.Count)

	var candleResp CandlestickResponse
	if err := s.get(ctx, endpoint+"?"+params.Encode(), &candleResp); err != nil {
		return nil, err
	}
	return &candleResp, nil
}

func (s *OandaService) get(ctx context.Context, fullURL string, out any) error {
	slog.Debug("Request URL", "url", fullURL)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return err
	}

	httpReq.Header.Set("Authorization", "Bearer "+s.ApiKey)
	httpReq.Header.Set("Accept-Datetime-Format", "RFC3339")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			slog.Error("Failed to read error response body",
				"statusCode", resp.StatusCode,
				"error", err)
			return fmt.Errorf("status code %d, could not read error body: %w", resp.StatusCode, err)
		}

		rawRespBody := string(bodyBytes)
		slog.Error("Oanda API returned an error status",
			"statusCode", resp.StatusCode,
			"rawResponse", rawRespBody)

		return fmt.Errorf("status code %d, API Response: %s", resp.StatusCode, rawRespBody)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
