package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jwtly10/metalsbot/internal/bot"
	"github.com/jwtly10/metalsbot/internal/risk"
	"github.com/jwtly10/metalsbot/internal/strategy"
	"github.com/spf13/viper"
)

const (
	SourceSynthetic  = "synthetic"
	SourceOanda      = "oanda"
	SourceClickHouse = "clickhouse"

	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Config represents the complete application configuration
type Config struct {
	Account    AccountConfig    `mapstructure:"account"`
	Regime     RegimeConfig     `mapstructure:"regime"`
	Watchlist  []string         `mapstructure:"watchlist" validate:"required,min=1,dive,required,uppercase"`
	AI         AIConfig         `mapstructure:"ai"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Data       DataConfig       `mapstructure:"data"`
	Oanda      OandaConfig      `mapstructure:"oanda"`
	ClickHouse ClickHouseConfig `mapstructure:"clickhouse"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Journal    JournalConfig    `mapstructure:"journal"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

type AccountConfig struct {
	Equity  float64 `mapstructure:"equity" validate:"gt=0"`
	RiskPct float64 `mapstructure:"risk_pct" validate:"gt=0,lte=5"`
}

type RegimeConfig struct {
	VixReduce float64 `mapstructure:"vix_reduce" validate:"gt=0"`
	VixPause  float64 `mapstructure:"vix_pause" validate:"gt=0"`
	// VixSource is "fixed" (VixFixed forever) or "synthetic" (a wandering band).
	VixSource string  `mapstructure:"vix_source" validate:"oneof=fixed synthetic"`
	VixFixed  float64 `mapstructure:"vix_fixed" validate:"gte=0"`
}

type AIConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	GateOnMacro   bool          `mapstructure:"gate_on_macro"`
	MacroInterval time.Duration `mapstructure:"macro_interval" validate:"gte=1m"`
}

type EngineConfig struct {
	TickInterval   time.Duration `mapstructure:"tick_interval" validate:"gte=1s"`
	Timeframe      time.Duration `mapstructure:"timeframe"`
	EnforceSession bool          `mapstructure:"enforce_session"`
	MaxHoldBars    int           `mapstructure:"max_hold_bars" validate:"gte=0"`
	StaleAfter     time.Duration `mapstructure:"stale_after" validate:"gt=0"`
}

type DataConfig struct {
	Source      string        `mapstructure:"source" validate:"oneof=synthetic oanda clickhouse"`
	HistoryBars int           `mapstructure:"history_bars" validate:"gte=250"`
	Cache       string        `mapstructure:"cache" validate:"oneof=none memory redis"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
}

type OandaConfig struct {
	AccountID   string            `mapstructure:"account_id"`
	APIKey      string            `mapstructure:"api_key"`
	APIURL      string            `mapstructure:"api_url"`
	Instruments map[string]string `mapstructure:"instruments"`
}

type ClickHouseConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type JournalConfig struct {
	DBPath    string `mapstructure:"db_path"`
	MaxTrades int    `mapstructure:"max_trades" validate:"gte=1"`
}

type TelegramConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	MaxRetries     int           `mapstructure:"max_retries" validate:"gte=1"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

// Load reads configuration from file and METALSBOT_* environment variables.
// An empty path loads defaults and the environment only.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("METALSBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.normalize()

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("account.equity", 10000.0)
	v.SetDefault("account.risk_pct", 0.5)

	v.SetDefault("regime.vix_reduce", 25.0)
	v.SetDefault("regime.vix_pause", 30.0)
	v.SetDefault("regime.vix_source", "fixed")
	v.SetDefault("regime.vix_fixed", 18.0)

	v.SetDefault("watchlist", []string{"GLD", "SLV", "GDX", "COPX", "DBC"})

	v.SetDefault("ai.enabled", false)
	v.SetDefault("ai.gate_on_macro", false)
	v.SetDefault("ai.macro_interval", "5m")

	v.SetDefault("engine.tick_interval", "5s")
	v.SetDefault("engine.timeframe", "15m")
	v.SetDefault("engine.enforce_session", false)
	v.SetDefault("engine.max_hold_bars", 0)
	v.SetDefault("engine.stale_after", "25m")

	v.SetDefault("data.source", SourceSynthetic)
	v.SetDefault("data.history_bars", 300)
	v.SetDefault("data.cache", CacheMemory)
	v.SetDefault("data.cache_ttl", "10m")

	v.SetDefault("oanda.account_id", "")
	v.SetDefault("oanda.api_key", "")
	v.SetDefault("oanda.api_url", "https://api-fxpractice.oanda.com")
	v.SetDefault("oanda.instruments", map[string]string{})

	v.SetDefault("clickhouse.dsn", "")
	v.SetDefault("clickhouse.table", "candles_15m")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "metalsbot")

	v.SetDefault("journal.db_path", "./data/journal.db")
	v.SetDefault("journal.max_trades", 1000)

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.addr", ":8080")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// normalize undoes viper's key lowercasing for symbols.
func (c *Config) normalize() {
	for i, sym := range c.Watchlist {
		c.Watchlist[i] = strings.ToUpper(strings.TrimSpace(sym))
	}
	if len(c.Oanda.Instruments) > 0 {
		instruments := make(map[string]string, len(c.Oanda.Instruments))
		for sym, inst := range c.Oanda.Instruments {
			instruments[strings.ToUpper(sym)] = strings.ToUpper(inst)
		}
		c.Oanda.Instruments = instruments
	}
}

var validate = validator.New()

// Validate checks field ranges, then the rules that span sections.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("invalid %s: failed %q (%s)", fe.Namespace(), fe.Tag(), fe.Param())
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.Regime.VixPause <= c.Regime.VixReduce {
		return fmt.Errorf("regime.vix_pause must be greater than regime.vix_reduce")
	}
	if c.Engine.Timeframe != 15*time.Minute {
		return fmt.Errorf("engine.timeframe must be 15m")
	}

	switch c.Data.Source {
	case SourceOanda:
		if c.Oanda.AccountID == "" || c.Oanda.APIKey == "" {
			return fmt.Errorf("oanda.account_id and oanda.api_key are required when data.source is oanda")
		}
	case SourceClickHouse:
		if c.ClickHouse.DSN == "" {
			return fmt.Errorf("clickhouse.dsn is required when data.source is clickhouse")
		}
	}
	if c.Data.Cache == CacheRedis && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when data.cache is redis")
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	return nil
}

func (c *Config) StrategyConfig() strategy.Config {
	cfg := strategy.DefaultConfig()
	cfg.Equity = c.Account.Equity
	cfg.RiskPct = c.Account.RiskPct
	cfg.VixReduce = c.Regime.VixReduce
	cfg.VixPause = c.Regime.VixPause
	cfg.AIEnabled = c.AI.Enabled
	cfg.EnforceSession = c.Engine.EnforceSession
	cfg.StaleAfter = c.Engine.StaleAfter
	cfg.MaxHoldBars = c.Engine.MaxHoldBars
	return cfg
}

func (c *Config) RiskLimits() risk.Limits {
	lim := risk.DefaultLimits()
	lim.RiskPct = c.Account.RiskPct
	lim.VixReduce = c.Regime.VixReduce
	return lim
}

func (c *Config) BotConfig() bot.Config {
	return bot.Config{
		Watchlist:     c.Watchlist,
		Strategy:      c.StrategyConfig(),
		Limits:        c.RiskLimits(),
		TickInterval:  c.Engine.TickInterval,
		MacroInterval: c.AI.MacroInterval,
		MinCandles:    strategy.Lookback,
		MaxCandles:    max(c.Data.HistoryBars, strategy.Lookback) * 2,
		GateOnMacro:   c.AI.GateOnMacro,
	}
}
