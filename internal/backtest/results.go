package backtest

import "github.com/jwtly10/metalsbot/internal/types"

type Results struct {
	Symbol         string
	Strategy       string
	InitialBalance float64
	FinalBalance   float64
	Trades         []types.JournalTrade
	EquityCurve    []types.EquityPoint

	// MaxDrawdown is the deepest mark-to-market drawdown seen, in percent.
	MaxDrawdown float64

	stats *Statistics
}

// Report is the summary handed to callers outside the engine.
type Report struct {
	Symbol       string               `json:"symbol"`
	Strategy     string               `json:"strategy"`
	TotalReturn  float64              `json:"totalReturn"`
	WinRate      float64              `json:"winRate"`
	MaxDrawdown  float64              `json:"maxDrawdown"`
	ProfitFactor float64              `json:"profitFactor"`
	Trades       []types.JournalTrade `json:"trades"`
	EquityCurve  []types.EquityPoint  `json:"equityCurve"`
}

func (r *Results) Report() Report {
	stats := r.Calculate()
	return Report{
		Symbol:       r.Symbol,
		Strategy:     r.Strategy,
		TotalReturn:  stats.TotalReturn,
		WinRate:      stats.WinRate,
		MaxDrawdown:  stats.MaxDrawdownPercent,
		ProfitFactor: stats.ProfitFactor,
		Trades:       r.Trades,
		EquityCurve:  r.EquityCurve,
	}
}
