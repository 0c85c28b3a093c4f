// Registers:
//
//	#coinpulse_ticks_total{result}
//	#coinpulse_stream_reconnects_total{provider}
//	#coinpulse_snapshot_saves_total{backend,result}
//	#coinpulse_market_requests_total{endpoint,status}
//	#coinpulse_tracked_symbols
//	#go_* and process_* system metrics
//
// The dashboard serves them on /metrics.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once           sync.Once
	registry       = prometheus.NewRegistry()
	ticks          *prometheus.CounterVec
	reconnects     *prometheus.CounterVec
	snapshotSaves  *prometheus.CounterVec
	marketRequests *prometheus.CounterVec
	trackedSymbols prometheus.Gauge
)

// Init registers the collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		ticks = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coinpulse_ticks_total",
				Help: "Ticks received from the stream, by ingest result",
			},
			[]string{"result"},
		)
		reconnects = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coinpulse_stream_reconnects_total",
				Help: "Stream reconnect attempts",
			},
			[]string{"provider"},
		)
		snapshotSaves = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coinpulse_snapshot_saves_total",
				Help: "Snapshot save attempts, by backend and result",
			},
			[]string{"backend", "result"},
		)
		marketRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coinpulse_market_requests_total",
				Help: "Market data API requests, by endpoint and status",
			},
			[]string{"endpoint", "status"},
		)
		trackedSymbols = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coinpulse_tracked_symbols",
			Help: "Symbols currently held by the aggregator",
		})

		registry.MustRegister(ticks, reconnects, snapshotSaves, marketRequests, trackedSymbols)
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

// Handler exposes the registry in the Prometheus text format.
func Handler() http.Handler {
	Init()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func resultLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

func ObserveTick(accepted bool) {
	Init()
	if accepted {
		ticks.WithLabelValues("accepted").Inc()
		return
	}
	ticks.WithLabelValues("rejected").Inc()
}

func ObserveReconnect(provider string) {
	Init()
	reconnects.WithLabelValues(provider).Inc()
}

func ObserveSnapshotSave(backend string, ok bool) {
	Init()
	snapshotSaves.WithLabelValues(backend, resultLabel(ok)).Inc()
}

func ObserveMarketRequest(endpoint, status string) {
	Init()
	marketRequests.WithLabelValues(endpoint, status).Inc()
}

func SetTrackedSymbols(n int) {
	Init()
	trackedSymbols.Set(float64(n))
}
