// Package metrics exposes engine counters and gauges to Prometheus.
package metrics

import (
	"github.com/jwtly10/metalsbot/internal/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder registers everything on the registerer it was built with, so tests
// and the live process never share state.
type Recorder struct {
	signals       *prometheus.CounterVec
	trades        *prometheus.CounterVec
	fillsDeclined *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	equity        prometheus.Gauge
	drawdown      prometheus.Gauge
	vix           prometheus.Gauge
	openPositions prometheus.Gauge
	tickDuration  prometheus.Histogram
}

func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		signals: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metalsbot_signals_total",
				Help: "Signals emitted by symbol and action",
			},
			[]string{"symbol", "action"},
		),
		trades: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metalsbot_trades_total",
				Help: "Closed paper trades by outcome",
			},
			[]string{"outcome"},
		),
		fillsDeclined: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metalsbot_fills_declined_total",
				Help: "BUY signals that did not become positions",
			},
			[]string{"symbol", "reason"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metalsbot_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		httpRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metalsbot_http_requests_total",
				Help: "API requests by route, method and status",
			},
			[]string{"route", "method", "status"},
		),
		equity: f.NewGauge(prometheus.GaugeOpts{
			Name: "metalsbot_equity",
			Help: "Marked-to-market paper account equity",
		}),
		drawdown: f.NewGauge(prometheus.GaugeOpts{
			Name: "metalsbot_drawdown_percent",
			Help: "Drawdown from peak equity in percent",
		}),
		vix: f.NewGauge(prometheus.GaugeOpts{
			Name: "metalsbot_vix",
			Help: "Last volatility index reading",
		}),
		openPositions: f.NewGauge(prometheus.GaugeOpts{
			Name: "metalsbot_open_positions",
			Help: "Open paper positions",
		}),
		tickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "metalsbot_tick_duration_seconds",
			Help:    "Duration of one engine tick",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (r *Recorder) RecordSignal(sig types.Signal) {
	r.signals.WithLabelValues(sig.Symbol, string(sig.Action)).Inc()
}

func (r *Recorder) RecordTrade(trade types.JournalTrade) {
	r.trades.WithLabelValues(string(trade.Outcome)).Inc()
}

func (r *Recorder) RecordDeclined(symbol, reason string) {
	r.fillsDeclined.WithLabelValues(symbol, reason).Inc()
}

func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordHTTP(route, method, status string) {
	r.httpRequests.WithLabelValues(route, method, status).Inc()
}

func (r *Recorder) RecordAccount(acct types.PaperAccount, open int) {
	r.equity.Set(acct.Equity)
	r.drawdown.Set(acct.Drawdown)
	r.openPositions.Set(float64(open))
}

func (r *Recorder) RecordVix(v float64) {
	r.vix.Set(v)
}

// RecordTick records tick latency in seconds.
func (r *Recorder) RecordTick(seconds float64) {
	r.tickDuration.Observe(seconds)
}
