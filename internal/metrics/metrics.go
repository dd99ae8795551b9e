// Package metrics exposes Prometheus counters and gauges for the signal
// engine and its feeds.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PriceTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "updownbot_price_ticks_total", Help: "Reference price ticks ingested"},
		[]string{"symbol"},
	)
	BookUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "updownbot_book_updates_total", Help: "Order book events applied"},
		[]string{"event_type"},
	)
	FeedReconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "updownbot_feed_reconnects_total", Help: "Websocket reconnect attempts"},
		[]string{"feed"},
	)
	WhaleSignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "updownbot_whale_signals_total", Help: "Whale patterns detected"},
		[]string{"pattern"},
	)
	TradesPlacedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "updownbot_trades_placed_total", Help: "Trade intents placed"},
		[]string{"asset", "signal_type"},
	)
	TradesSettledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "updownbot_trades_settled_total", Help: "Trades settled"},
		[]string{"asset", "result"},
	)
	RealizedPnlUSD = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "updownbot_realized_pnl_usd", Help: "Cumulative realized profit"},
	)
	TrackedMarkets = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "updownbot_tracked_markets", Help: "Markets currently tracked by the engine"},
	)
	EngineTickSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "updownbot_engine_tick_seconds",
			Help:    "Duration of one engine evaluation tick",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)
)

func init() {
	prometheus.MustRegister(
		PriceTicksTotal, BookUpdatesTotal, FeedReconnectsTotal,
		WhaleSignalsTotal, TradesPlacedTotal, TradesSettledTotal,
		RealizedPnlUSD, TrackedMarkets, EngineTickSeconds,
	)
}

// Serve starts the metrics endpoint on addr and returns the server so the
// caller can shut it down.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
