// Package metrics exposes the bot's operational counters and gauges on a
// Prometheus endpoint.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_decisions_total",
		Help: "Decision tick outcomes by result.",
	}, []string{"result"})

	Orders = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_orders_total",
		Help: "Orders placed by side and outcome.",
	}, []string{"side", "outcome"})

	ExitReasons = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_exit_reasons_total",
		Help: "Position exits by reason.",
	}, []string{"strategy", "reason"})

	RiskRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_risk_rejections_total",
		Help: "Entries vetoed by the risk gate, by failing check.",
	}, []string{"check"})

	Equity = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bot_equity_usd",
		Help: "Last observed account equity.",
	})

	Regime = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bot_regime",
		Help: "Current market regime (1 for the active one).",
	}, []string{"regime"})

	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bot_tick_duration_seconds",
		Help:    "Decision tick latency.",
		Buckets: prometheus.DefBuckets,
	})
)

// SetRegime flips the regime gauge so exactly one label reads 1.
func SetRegime(current string) {
	for _, r := range []string{"unknown", "neutral", "trending", "overheated"} {
		v := 0.0
		if r == current {
			v = 1.0
		}
		Regime.WithLabelValues(r).Set(v)
	}
}

// Serve exposes /metrics on addr. It blocks; run it on its own goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv.ListenAndServe()
}
