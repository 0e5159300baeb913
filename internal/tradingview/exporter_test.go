package tradingview

import (
	"bytes"
	"testing"
	"time"

	"github.com/jwtly10/metalsbot/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestGenerateTradePinescript(t *testing.T) {
	trades := []types.JournalTrade{
		{
			ID:        "7f0c",
			Symbol:    "GLD",
			Entry:     185.25,
			OpenedAt:  time.Date(2025, 8, 4, 13, 45, 0, 0, time.UTC),
			Exit:      189.75,
			ClosedAt:  time.Date(2025, 8, 4, 17, 0, 0, 0, time.UTC),
			Shares:    10,
			PnL:       45.00,
			RMultiple: 1.6,
			Target:    189.75,
			Stop:      182.40,
			Outcome:   types.PROFIT,
			Rationale: "TAKE_PROFIT",
		},
	}

	pineCode := generateTradePinescript(trades)

	expected := `// ============================================
// TRADE VALIDATION MARKERS
// ============================================

t1_entry = time == timestamp("UTC", 2025, 8, 4, 13, 45)
plotshape(t1_entry, title="#1 GLD Entry", location=location.belowbar, color=color.blue, style=shape.labelup, size=size.small, text="#1 GLD LONG\nEntry: 185.25\nTP: 189.75\nSL: 182.40\nShares: 10", textcolor=color.white)

t1_exit = time == timestamp("UTC", 2025, 8, 4, 17, 0)
plotshape(t1_exit, title="#1 EXIT", location=location.abovebar, color=color.green, style=shape.labeldown, size=size.small, text="#1 EXIT\nExit: 189.75\nP&L: 45.00 (1.60R)\nTAKE_PROFIT", textcolor=color.white)

`

	assert.Equal(t, expected, pineCode)
}

func TestExitColor(t *testing.T) {
	assert.Equal(t, "color.red", exitColor(types.JournalTrade{Rationale: "STOP_LOSS", PnL: -10}))
	assert.Equal(t, "color.orange", exitColor(types.JournalTrade{Outcome: types.TIME_STOP, PnL: 3}))
	assert.Equal(t, "color.maroon", exitColor(types.JournalTrade{Rationale: "TREND_BREAK", PnL: -1}))
	assert.Equal(t, "color.green", exitColor(types.JournalTrade{Rationale: "TAKE_PROFIT", PnL: 12}))
}

func TestDumpPineScript_RequiresFlag(t *testing.T) {
	trades := []types.JournalTrade{{Symbol: "SLV", OpenedAt: time.Now(), ClosedAt: time.Now()}}

	t.Setenv("DEBUG_DUMP", "")
	var buf bytes.Buffer
	DumpPineScript(&buf, trades)
	assert.Empty(t, buf.String())

	t.Setenv("DEBUG_DUMP", "1")
	DumpPineScript(&buf, trades)
	assert.Contains(t, buf.String(), "t1_entry")
}
