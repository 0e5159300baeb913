package strategy

import (
	"time"

	"github.com/creasty/defaults"
)

// Config is the account and regime configuration the evaluator decides with.
type Config struct {
	Equity    float64 `default:"10000"`
	RiskPct   float64 `default:"0.5"`
	VixReduce float64 `default:"25"`
	VixPause  float64 `default:"30"`

	// Advisory only; the evaluator never reads it.
	AIEnabled bool

	// EnforceSession emits MARKET_CLOSED outside NYSE hours.
	EnforceSession bool

	StaleAfter    time.Duration `default:"25m"`
	StopATRMult   float64       `default:"2.5"`
	TargetATRMult float64       `default:"4"`

	// MaxHoldBars closes a position after this many bars. 0 disables it.
	MaxHoldBars int
}

// DefaultConfig returns the out-of-the-box account and regime settings.
func DefaultConfig() Config {
	var cfg Config
	defaults.MustSet(&cfg)
	cfg.AIEnabled = true
	return cfg
}

// WithDefaults fills unset tunables while keeping everything the caller set.
func (c Config) WithDefaults() Config {
	if err := defaults.Set(&c); err != nil {
		return DefaultConfig()
	}
	return c
}
