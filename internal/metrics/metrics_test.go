package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"coinpulse/logger"
)

func TestHandlerExposesCounters(t *testing.T) {
	ObserveTick(true)
	ObserveTick(false)
	ObserveReconnect("generic")
	ObserveSnapshotSave("file", true)
	ObserveMarketRequest("coins", "200")
	SetTrackedSymbols(3)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, name := range []string{
		`coinpulse_ticks_total{result="accepted"}`,
		`coinpulse_ticks_total{result="rejected"}`,
		`coinpulse_stream_reconnects_total{provider="generic"}`,
		`coinpulse_snapshot_saves_total{backend="file",result="ok"}`,
		`coinpulse_market_requests_total{endpoint="coins",status="200"}`,
		`coinpulse_tracked_symbols 3`,
	} {
		if !strings.Contains(string(body), name) {
			t.Errorf("missing %s in metrics output", name)
		}
	}
}

func TestReportWriter(t *testing.T) {
	resetMetricHandlers()

	names := map[string]bool{}
	id := RegisterMetricHandler(func(m Metric) { names[m.Name] = true })
	t.Cleanup(func() { UnregisterMetricHandler(id) })

	ReportWriter(logger.GetLogger(), "snapshot_writer", WriterStats{SavesSucceeded: 2, SavesFailed: 1, TotalCoins: 5})

	for _, n := range []string{"saves_succeeded", "saves_failed", "save_error_rate", "total_coins"} {
		if !names[n] {
			t.Errorf("metric %s not emitted", n)
		}
	}
}
