package types

import (
	"errors"
	"fmt"
	"time"
)

const (
	REALTIME     Quality = "REALTIME"
	DELAYED      Quality = "DELAYED"
	BACKFILLED   Quality = "BACKFILLED"
	INTERPOLATED Quality = "INTERPOLATED"
)

const (
	BUY              Action = "BUY"
	HOLD             Action = "HOLD"
	EXIT             Action = "EXIT"
	WAIT             Action = "WAIT"
	PAUSE_DATA_STALE Action = "PAUSE_DATA_STALE"
	PAUSE_REGIME     Action = "PAUSE_REGIME"
)

const (
	StateWait     BotState = "WAIT"
	StateLong     BotState = "LONG"
	StateCooldown BotState = "COOLDOWN"
)

type Quality string
type Action string
type BotState string

func (a Action) Valid() bool {
	switch a {
	case BUY, HOLD, EXIT, WAIT, PAUSE_DATA_STALE, PAUSE_REGIME:
		return true
	}
	return false
}

func (s BotState) Valid() bool {
	switch s {
	case StateWait, StateLong, StateCooldown:
		return true
	}
	return false
}

// Candle is one fixed-duration price bar, tagged with where its data came from.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Quality   Quality   `json:"quality"`
	Anomalies []string  `json:"anomalies,omitempty"`
}

var (
	ErrNonPositivePrice = errors.New("prices must be positive")
	ErrNegativeVolume   = errors.New("volume must not be negative")
)

// Validate checks the OHLC ordering invariants of the bar.
func (c Candle) Validate() error {
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		return ErrNonPositivePrice
	}
	if c.Volume < 0 {
		return ErrNegativeVolume
	}
	if c.High < c.Open || c.High < c.Close {
		return fmt.Errorf("high %.5f below open/close", c.High)
	}
	if c.Low > c.Open || c.Low > c.Close {
		return fmt.Errorf("low %.5f above open/close", c.Low)
	}
	return nil
}

type Indicators struct {
	EMA20    float64 `json:"ema20"`
	EMA200   float64 `json:"ema200"`
	RSI14    float64 `json:"rsi14"`
	ATR14    float64 `json:"atr14"`
	VolSMA20 float64 `json:"volSma20"`
}

// Signal is the per-tick decision for one symbol. Entry, Stop, Target and
// Shares are only set for BUY.
type Signal struct {
	ID            string    `json:"id"`
	Symbol        string    `json:"symbol"`
	Timestamp     time.Time `json:"timestamp"`
	Action        Action    `json:"action"`
	Price         float64   `json:"price"`
	Entry         float64   `json:"entry,omitempty"`
	Stop          float64   `json:"stop,omitempty"`
	Target        float64   `json:"target,omitempty"`
	Shares        int       `json:"shares,omitempty"`
	Confidence    int       `json:"confidence"`
	ConfidenceAdj int       `json:"confidenceAdj"`
	ReasonCodes   []string  `json:"reasonCodes"`
	Vix           float64   `json:"vix"`
	IsStale       bool      `json:"isStale"`
}

type Position struct {
	Symbol     string    `json:"symbol"`
	SignalID   string    `json:"signalId,omitempty"`
	EntryPrice float64   `json:"entryPrice"`
	Shares     int       `json:"shares"`
	Stop       float64   `json:"stop"`
	Target     float64   `json:"target"`
	OpenedAt   time.Time `json:"openedAt"`
}

type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
}

// PaperAccount is a point-in-time view of the simulated brokerage account.
type PaperAccount struct {
	Balance    float64       `json:"balance"`
	Equity     float64       `json:"equity"`
	PeakEquity float64       `json:"peakEquity"`
	Drawdown   float64       `json:"drawdown"`
	DailyPnL   float64       `json:"dailyPnL"`
	History    []EquityPoint `json:"history"`
}

const (
	PROFIT    Outcome = "PROFIT"
	LOSS      Outcome = "LOSS"
	TIME_STOP Outcome = "TIME_STOP"
)

type Outcome string

const (
	STOP_LOSS       ExitReason = "STOP_LOSS"
	TAKE_PROFIT     ExitReason = "TAKE_PROFIT"
	TREND_BREAK     ExitReason = "TREND_BREAK"
	TIME_EXIT       ExitReason = "TIME_STOP"
	END_OF_BACKTEST ExitReason = "END_OF_BACKTEST"
)

type ExitReason string

type JournalTrade struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	OpenedAt  time.Time `json:"openedAt"`
	ClosedAt  time.Time `json:"closedAt"`
	Entry     float64   `json:"entry"`
	Exit      float64   `json:"exit"`
	Shares    int       `json:"shares"`
	Stop      float64   `json:"stop"`
	Target    float64   `json:"target"`
	Outcome   Outcome   `json:"outcome"`
	Rationale string    `json:"outcomeRationale,omitempty"`
	RMultiple float64   `json:"rMultiple"`
	PnL       float64   `json:"pnl"`
}

// Ticker is a single live quote row.
type Ticker struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	Volume        float64   `json:"volume"`
	Timestamp     time.Time `json:"timestamp"`
	ChangePercent float64   `json:"changePercent"`
}

type Source struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
}

type MacroCheck struct {
	IsSafe    bool      `json:"isSafe"`
	Reason    string    `json:"reason"`
	Sources   []Source  `json:"sources"`
	CheckedAt time.Time `json:"checkedAt"`
}

// SymbolState is the persisted state machine position for one symbol.
type SymbolState struct {
	Symbol    string    `json:"symbol"`
	State     BotState  `json:"state"`
	Cooldown  int       `json:"cooldown"`
	UpdatedAt time.Time `json:"updatedAt"`
}
