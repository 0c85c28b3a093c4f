package metrics

import (
	"context"
	"time"

	"coinpulse/internal/channel"
	"coinpulse/logger"
)

// StartChannelSizeMetrics emits the tick buffer occupancy every interval
// until ctx is cancelled. A non-positive interval means one second.
func StartChannelSizeMetrics(ctx context.Context, channels *channel.Channels, interval time.Duration) {
	if channels == nil {
		return
	}
	if interval <= 0 {
		interval = time.Second
	}

	log := logger.GetLogger()
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				length, capacity := channels.Usage()
				stats := channels.GetStats()
				EmitMetric(log, "channel_buffers", "tick_buffer_length", length, "gauge", logger.Fields{
					"buffer":   "ticks",
					"capacity": capacity,
				})
				EmitMetric(log, "channel_buffers", "tick_buffer_blocked", stats.TicksBlocked, "counter", logger.Fields{
					"buffer": "ticks",
				})
			}
		}
	}()
}
