package tradingview

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jwtly10/metalsbot/internal/types"
)

func allowDump() bool {
	// Get OS Env for dump DEBUG_DUMP=1 etc
	debugDump := os.Getenv("DEBUG_DUMP")
	if debugDump == "1" {
		slog.Info("DEBUG_DUMP=1, dumping Pine Script")
		return true
	}

	return false
}

// DumpPineScript writes the trade markers to w when DEBUG_DUMP=1.
func DumpPineScript(w io.Writer, trades []types.JournalTrade) {
	if !allowDump() {
		return
	}
	fmt.Fprintln(w, generateTradePinescript(trades))
}

// generateTradePinescript renders entry and exit markers for closed trades.
// Trades are numbered in the order given, starting at 1.
func generateTradePinescript(trades []types.JournalTrade) string {
	var sb strings.Builder

	sb.WriteString("// ============================================\n")
	sb.WriteString("// TRADE VALIDATION MARKERS\n")
	sb.WriteString("// ============================================\n\n")

	for i, trade := range trades {
		n := i + 1

		// Entry marker
		entryTimestamp := formatPineTimestamp(trade.OpenedAt)
		entryText := fmt.Sprintf("#%d %s LONG\\nEntry: %.2f\\nTP: %.2f\\nSL: %.2f\\nShares: %d",
			n, trade.Symbol, trade.Entry, trade.Target, trade.Stop, trade.Shares)

		fmt.Fprintf(&sb, "t%d_entry = time == %s\n", n, entryTimestamp)
		fmt.Fprintf(&sb, "plotshape(t%d_entry, title=\"#%d %s Entry\", location=location.belowbar, color=color.blue, style=shape.labelup, size=size.small, text=\"%s\", textcolor=color.white)\n\n",
			n, n, trade.Symbol, entryText)

		// Exit marker
		exitTimestamp := formatPineTimestamp(trade.ClosedAt)
		exitText := fmt.Sprintf("#%d EXIT\\nExit: %.2f\\nP&L: %.2f (%.2fR)\\n%s",
			n, trade.Exit, trade.PnL, trade.RMultiple, trade.Rationale)

		fmt.Fprintf(&sb, "t%d_exit = time == %s\n", n, exitTimestamp)
		fmt.Fprintf(&sb, "plotshape(t%d_exit, title=\"#%d EXIT\", location=location.abovebar, color=%s, style=shape.labeldown, size=size.small, text=\"%s\", textcolor=color.white)\n\n",
			n, n, exitColor(trade), exitText)
	}

	return sb.String()
}

func exitColor(trade types.JournalTrade) string {
	switch {
	case trade.Rationale == string(types.STOP_LOSS):
		return "color.red"
	case trade.Outcome == types.TIME_STOP:
		return "color.orange"
	case trade.PnL < 0:
		return "color.maroon"
	default:
		return "color.green"
	}
}

func formatPineTimestamp(t time.Time) string {
	utc := t.UTC()
	return fmt.Sprintf("timestamp(\"UTC\", %d, %d, %d, %d, %d)",
		utc.Year(), int(utc.Month()), utc.Day(), utc.Hour(), utc.Minute())
}
