package oanda

import (
	"net/http"
	"time"
)

// https://developer.oanda.com/rest-live-v20/instrument-ep/

type Candlestick struct {
	Time     string          `json:"time"`
	Bid      CandleStickData `json:"bid"`
	Ask      CandleStickData `json:"ask"`
	Mid      CandleStickData `json:"mid"`
	Volume   int             `json:"volume"`
	Complete bool            `json:"complete"`
}

type CandleStickData struct {
	O PriceValue `json:"o"`
	H PriceValue `json:"h"`
	L PriceValue `json:"l"`
	C PriceValue `json:"c"`
}

type PriceValue string
type InstrumentName string

type CandlestickGranularity string

type CandlestickResponse struct {
	Candles     []Candlestick          `json:"candles"`
	Instrument  InstrumentName         `json:"instrument"`
	Granularity CandlestickGranularity `json:"granularity"`
}

// https://developer.oanda.com/rest-live-v20/pricing-ep/

type PriceBucket struct {
	Price     PriceValue `json:"price"`
	Liquidity int        `json:"liquidity"`
}

type ClientPrice struct {
	Instrument InstrumentName `json:"instrument"`
	Time       string         `json:"time"`
	Bids       []PriceBucket  `json:"bids"`
	Asks       []PriceBucket  `json:"asks"`
	Tradeable  bool           `json:"tradeable"`
}

type PricingResponse struct {
	Prices []ClientPrice `json:"prices"`
	Time   string        `json:"time"`
}

type OandaService struct {
	AccountId string
	ApiKey    string
	ApiUrl    string

	// Instruments maps watchlist symbols to Oanda instruments.
	Instruments map[string]InstrumentName
	// HistoryCount is how many of the latest candles FetchHistory asks for.
	HistoryCount int

	client *http.Client
}

type CandleRequest struct {
	Instrument  InstrumentName         `json:"instrument"`
	Granularity CandlestickGranularity `json:"granularity,omitempty"` // Default S5
	Count       int                    `json:"count,omitempty"`       // Default 500, max 5000
	From        time.Time              `json:"from"`                  // RFC 3339
	To          time.Time              `json:"to"`                    // RFC 3339
}
