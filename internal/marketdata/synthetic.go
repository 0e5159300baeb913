package marketdata

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/creasty/defaults"
	"github.com/jwtly10/metalsbot/internal/types"
)

type SyntheticConfig struct {
	StartPrice float64       `default:"200"`
	Volatility float64       `default:"0.002"`
	Count      int           `default:"300"`
	Interval   time.Duration `default:"15m"`
	VixBase    float64       `default:"18"`
	VixBand    float64       `default:"4"`
	Seed       int64         `default:"1"`
}

// Synthetic is a seeded random-walk feed implementing every source interface.
// The same seed and clock produce the same series.
type Synthetic struct {
	cfg SyntheticConfig
	now func() time.Time

	mu   sync.Mutex
	rng  *rand.Rand
	last map[string]float64
	open map[string]float64
	vix  float64
}

type SyntheticOption func(*Synthetic)

func WithSyntheticClock(now func() time.Time) SyntheticOption {
	return func(s *Synthetic) {
		s.now = now
	}
}

func NewSynthetic(cfg SyntheticConfig, opts ...SyntheticOption) *Synthetic {
	defaults.MustSet(&cfg)
	s := &Synthetic{
		cfg:  cfg,
		now:  time.Now,
		rng:  rand.New(rand.NewSource(cfg.Seed)),
		last: make(map[string]float64),
		open: make(map[string]float64),
		vix:  cfg.VixBase,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FetchHistory returns Count+1 closed bars ending at the current bucket, and
// seeds the live walk from the final close unless the symbol is already quoting.
func (s *Synthetic) FetchHistory(_ context.Context, symbol string) ([]types.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	end := s.now().Truncate(s.cfg.Interval)
	price := s.cfg.StartPrice
	candles := make([]types.Candle, 0, s.cfg.Count+1)

	for i := s.cfg.Count; i >= 0; i-- {
		change := price * s.cfg.Volatility * (s.rng.Float64() - 0.5)
		open := price
		close := price + change
		high := math.Max(open, close) + s.rng.Float64()*price*0.001
		low := math.Min(open, close) - s.rng.Float64()*price*0.001

		candles = append(candles, types.Candle{
			Timestamp: end.Add(-time.Duration(i) * s.cfg.Interval),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     close,
			Volume:    float64(s.rng.Intn(1_000_000) + 500_000),
			Quality:   types.REALTIME,
		})
		price = close
	}

	if _, seeded := s.last[symbol]; !seeded {
		s.last[symbol] = price
		s.open[symbol] = candles[0].Open
	}
	return candles, nil
}

func (s *Synthetic) FetchPrices(_ context.Context, symbols []string) ([]types.Ticker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	tickers := make([]types.Ticker, 0, len(symbols))
	for _, symbol := range symbols {
		price, ok := s.last[symbol]
		if !ok {
			price = s.cfg.StartPrice
			s.open[symbol] = price
		}
		price += price * s.cfg.Volatility * (s.rng.Float64() - 0.5)
		s.last[symbol] = price

		change := 0.0
		if o := s.open[symbol]; o > 0 {
			change = (price - o) / o * 100
		}

		tickers = append(tickers, types.Ticker{
			Symbol:        symbol,
			Price:         price,
			High:          price * 1.0005,
			Low:           price * 0.9995,
			Volume:        float64(s.rng.Intn(10_000) + 1_000),
			Timestamp:     now,
			ChangePercent: change,
		})
	}
	return tickers, nil
}

// FetchVix drifts inside VixBase plus or minus VixBand.
func (s *Synthetic) FetchVix(context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.vix += (s.rng.Float64() - 0.5) * 0.5
	lo, hi := s.cfg.VixBase-s.cfg.VixBand, s.cfg.VixBase+s.cfg.VixBand
	s.vix = math.Min(math.Max(s.vix, lo), hi)
	return s.vix, nil
}
