package backtest

import (
	"context"
	"fmt"

	"github.com/jwtly10/metalsbot/internal/account"
	"github.com/jwtly10/metalsbot/internal/marketdata"
	"github.com/jwtly10/metalsbot/internal/risk"
	"github.com/jwtly10/metalsbot/internal/strategy"
)

// Runner loads history from a source and runs the metals strategy over it.
type Runner struct {
	History  marketdata.HistorySource
	Strategy strategy.Config
	Limits   risk.Limits
	Costs    account.Costs
}

func (r *Runner) Backtest(ctx context.Context, symbol string, initialBalance, vix float64) (*Results, error) {
	candles, err := r.History.FetchHistory(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to load history for %s: %w", symbol, err)
	}

	engine := NewEngine(symbol, candles, initialBalance)
	if vix > 0 {
		engine.Vix = vix
	}
	engine.Limits = r.Limits.WithDefaults()
	if r.Costs != (account.Costs{}) {
		engine.Costs = r.Costs
	}

	cfg := r.Strategy.WithDefaults()
	cfg.Equity = initialBalance

	return engine.Run(strategy.NewMetals(cfg))
}
