package backtest

import (
	"fmt"
	"time"

	"github.com/jwtly10/metalsbot/internal/types"
)

type Statistics struct {
	// Basic
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       float64

	// P&L
	TotalPnL     float64
	TotalReturn  float64
	GrossProfit  float64
	GrossLoss    float64
	ProfitFactor float64
	AvgRMultiple float64

	// Averages
	AvgWin        float64
	AvgLoss       float64
	ExpectedValue float64

	// Risk
	MaxDrawdownPercent float64

	// Duration
	AvgTradeDuration time.Duration
}

func (r *Results) Calculate() *Statistics {
	if r.stats != nil {
		return r.stats
	}

	stats := &Statistics{
		TotalTrades:        len(r.Trades),
		TotalPnL:           r.FinalBalance - r.InitialBalance,
		MaxDrawdownPercent: r.MaxDrawdown,
	}
	if r.InitialBalance > 0 {
		stats.TotalReturn = stats.TotalPnL / r.InitialBalance * 100
	}

	if len(r.Trades) == 0 {
		r.stats = stats
		return stats
	}

	var totalWin, totalLoss, totalR float64
	var totalDuration time.Duration

	for _, trade := range r.Trades {
		if trade.PnL > 0 {
			stats.WinningTrades++
			totalWin += trade.PnL
		} else {
			stats.LosingTrades++
			totalLoss += trade.PnL // Already negative or zero
		}
		totalR += trade.RMultiple
		totalDuration += trade.ClosedAt.Sub(trade.OpenedAt)
	}

	stats.WinRate = float64(stats.WinningTrades) / float64(stats.TotalTrades) * 100

	stats.GrossProfit = totalWin
	stats.GrossLoss = totalLoss

	// With no losing trades the gross profit stands in for the ratio
	if totalLoss != 0 {
		stats.ProfitFactor = totalWin / -totalLoss
	} else {
		stats.ProfitFactor = totalWin
	}

	if stats.WinningTrades > 0 {
		stats.AvgWin = totalWin / float64(stats.WinningTrades)
	}
	if stats.LosingTrades > 0 {
		stats.AvgLoss = totalLoss / float64(stats.LosingTrades)
	}
	stats.ExpectedValue = stats.TotalPnL / float64(stats.TotalTrades)
	stats.AvgRMultiple = totalR / float64(stats.TotalTrades)
	stats.AvgTradeDuration = totalDuration / time.Duration(stats.TotalTrades)

	r.stats = stats
	return stats
}

func (s *Statistics) Print() {
	fmt.Println("\n=== Backtest Results ===")
	fmt.Printf("Total Trades:     %d\n", s.TotalTrades)
	fmt.Printf("Winning Trades:   %d (%.2f%%)\n", s.WinningTrades, s.WinRate)
	fmt.Printf("Losing Trades:    %d\n\n", s.LosingTrades)

	fmt.Printf("Total P&L:        $%.2f (%.2f%%)\n", s.TotalPnL, s.TotalReturn)
	fmt.Printf("Gross Profit:     $%.2f\n", s.GrossProfit)
	fmt.Printf("Gross Loss:       $%.2f\n", s.GrossLoss)
	fmt.Printf("Profit Factor:    %.2f\n", s.ProfitFactor)
	fmt.Printf("Avg R:            %.2fR\n\n", s.AvgRMultiple)

	fmt.Printf("Avg Win:          $%.2f\n", s.AvgWin)
	fmt.Printf("Avg Loss:         $%.2f\n", s.AvgLoss)
	fmt.Printf("Expected Value:   $%.2f per trade\n\n", s.ExpectedValue)

	fmt.Printf("Max Drawdown:     %.2f%%\n", s.MaxDrawdownPercent)
	fmt.Printf("Avg Duration:     %s\n", s.AvgTradeDuration.Round(time.Minute))
}

func (r *Results) PrintTrades() {
	r.PrintTradesBetween(0, len(r.Trades))
}

// PrintTradesBetween prints trades[from:to], clamped to the trade list.
func (r *Results) PrintTradesBetween(from, to int) {
	from = max(from, 0)
	to = min(to, len(r.Trades))

	fmt.Println("\n=== Trade List ===")
	for i := from; i < to; i++ {
		printTrade(i+1, r.Trades[i])
	}
}

func printTrade(n int, trade types.JournalTrade) {
	fmt.Printf("#%d | %s | Entry: %.4f @ %s | Exit: %.4f @ %s | P&L: $%.2f (%.2fR) | %s | %s\n",
		n,
		trade.Symbol,
		trade.Entry,
		trade.OpenedAt.Format("2006-01-02 15:04"),
		trade.Exit,
		trade.ClosedAt.Format("2006-01-02 15:04"),
		trade.PnL,
		trade.RMultiple,
		trade.Outcome,
		trade.Rationale,
	)
}
