package metrics

import "coinpulse/logger"

// WriterStats holds counters kept by the snapshot writer.
type WriterStats struct {
	SavesSucceeded int64
	SavesFailed    int64
	BytesWritten   int64
	ArchivesFailed int64
	Published      int64
	PublishFailed  int64
	TotalCoins     int
}

// ReportWriter emits the snapshot writer counters under component.
func ReportWriter(log *logger.Log, component string, stats WriterStats) {
	errorRate := float64(0)
	if attempts := stats.SavesSucceeded + stats.SavesFailed; attempts > 0 {
		errorRate = float64(stats.SavesFailed) / float64(attempts)
	}

	EmitMetric(log, component, "saves_succeeded", stats.SavesSucceeded, "counter", nil)
	EmitMetric(log, component, "saves_failed", stats.SavesFailed, "counter", nil)
	EmitMetric(log, component, "bytes_written", stats.BytesWritten, "counter", nil)
	EmitMetric(log, component, "save_error_rate", errorRate, "gauge", nil)
	EmitMetric(log, component, "total_coins", stats.TotalCoins, "gauge", nil)
	if stats.Published > 0 || stats.PublishFailed > 0 {
		EmitMetric(log, component, "updates_published", stats.Published, "counter", nil)
		EmitMetric(log, component, "publish_failed", stats.PublishFailed, "counter", nil)
	}

	entry := log.WithComponent(component).WithFields(logger.Fields{
		"saves_succeeded": stats.SavesSucceeded,
		"saves_failed":    stats.SavesFailed,
		"bytes_written":   stats.BytesWritten,
		"archives_failed": stats.ArchivesFailed,
		"publish_failed":  stats.PublishFailed,
		"save_error_rate": errorRate,
		"total_coins":     stats.TotalCoins,
	})

	if stats.SavesFailed > 0 {
		entry.Warn(component + " metrics")
		return
	}
	entry.Info(component + " metrics")
}
