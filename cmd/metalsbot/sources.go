package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jwtly10/metalsbot/internal/cache"
	"github.com/jwtly10/metalsbot/internal/config"
	"github.com/jwtly10/metalsbot/internal/marketdata"
	"github.com/jwtly10/metalsbot/internal/oanda"
)

// sources is the market data wiring picked by data.source.
type sources struct {
	quotes  marketdata.QuoteSource
	history marketdata.HistorySource
	vix     marketdata.VixSource
	oanda   *oanda.OandaService

	closers []func() error
}

func (s *sources) Close() {
	for _, c := range s.closers {
		if err := c(); err != nil {
			slog.Warn("Failed to close data source", "error", err)
		}
	}
}

func buildSources(ctx context.Context, cfg *config.Config) (*sources, error) {
	s := &sources{}

	var synthetic *marketdata.Synthetic
	newSynthetic := func() *marketdata.Synthetic {
		if synthetic == nil {
			synthetic = marketdata.NewSynthetic(marketdata.SyntheticConfig{
				Count:   cfg.Data.HistoryBars,
				VixBase: cfg.Regime.VixFixed,
			})
		}
		return synthetic
	}

	var oandaSvc *oanda.OandaService
	if cfg.Oanda.AccountID != "" && cfg.Oanda.APIKey != "" {
		instruments := make(map[string]oanda.InstrumentName, len(cfg.Oanda.Instruments))
		for sym, inst := range cfg.Oanda.Instruments {
			instruments[sym] = oanda.InstrumentName(inst)
		}
		oandaSvc = oanda.NewOandaService(cfg.Oanda.AccountID, cfg.Oanda.APIKey, cfg.Oanda.APIURL, instruments)
		oandaSvc.HistoryCount = cfg.Data.HistoryBars
		s.oanda = oandaSvc
	}

	switch cfg.Data.Source {
	case config.SourceSynthetic:
		s.history = newSynthetic()
		s.quotes = newSynthetic()
	case config.SourceOanda:
		s.history = oandaSvc
		s.quotes = oandaSvc
	case config.SourceClickHouse:
		db, err := marketdata.OpenClickHouse(ctx, cfg.ClickHouse.DSN)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, db.Close)
		history, err := marketdata.NewClickHouseHistory(db, cfg.ClickHouse.Table, cfg.Data.HistoryBars)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.history = history
		// The warehouse has no live feed.
		if oandaSvc != nil {
			s.quotes = oandaSvc
		}
	default:
		return nil, fmt.Errorf("unknown data source %q", cfg.Data.Source)
	}

	switch cfg.Regime.VixSource {
	case "synthetic":
		s.vix = newSynthetic()
	default:
		s.vix = marketdata.Fixed(cfg.Regime.VixFixed)
	}

	c, err := s.buildCache(ctx, cfg)
	if err != nil {
		s.Close()
		return nil, err
	}
	if c != nil {
		s.history = marketdata.NewCachedHistory(s.history, c, cfg.Data.CacheTTL)
	}

	return s, nil
}

func (s *sources) buildCache(ctx context.Context, cfg *config.Config) (cache.Service, error) {
	switch cfg.Data.Cache {
	case config.CacheMemory:
		return cache.NewMemoryCache(), nil
	case config.CacheRedis:
		rc, err := cache.NewRedisCache(ctx, cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		s.closers = append(s.closers, rc.Close)
		return rc, nil
	}
	return nil, nil
}

var errNoLiveQuotes = errors.New("no live quote source: clickhouse history needs oanda credentials for live mode")
