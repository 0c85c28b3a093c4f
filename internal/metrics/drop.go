package metrics

import "coinpulse/logger"

// DropMetric names a metric emitted when a message is discarded.
type DropMetric string

const (
	// DropMetricMalformedFrame counts stream frames that failed to decode.
	DropMetricMalformedFrame DropMetric = "malformed_frames_dropped"
	// DropMetricRejectedTick counts ticks the aggregator refused.
	DropMetricRejectedTick DropMetric = "rejected_ticks_dropped"
	// DropMetricCancelledTick counts ticks lost to shutdown while queued.
	DropMetricCancelledTick DropMetric = "cancelled_ticks_dropped"
)

// EmitDropMetric emits a count of one for metric with optional provider and
// symbol dimensions.
func EmitDropMetric(log *logger.Log, metric DropMetric, provider, symbol string) {
	fields := logger.Fields{}
	if provider != "" {
		fields["provider"] = provider
	}
	if symbol != "" {
		fields["symbol"] = symbol
	}

	EmitMetric(log, "drops", string(metric), 1, "counter", fields)
}
