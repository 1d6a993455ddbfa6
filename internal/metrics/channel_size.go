package metrics

import (
	"context"
	"time"

	"github.com/Prabhat-190/trade/internal/channel"
	"github.com/Prabhat-190/trade/logger"
)

// StartChannelSizeMetrics emits occupancy metrics for the book update and
// capture record buffers. Metrics are logged every `interval` until the
// context is cancelled. When interval <=0, a one-second cadence is used.
func StartChannelSizeMetrics(ctx context.Context, channels *channel.Channels, interval time.Duration) {
	if channels == nil {
		return
	}
	if interval <= 0 {
		interval = time.Second
	}

	log := logger.GetLogger()
	ticker := time.NewTicker(interval)
	component := "channel_buffers"

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if channels.Updates != nil {
					EmitMetric(log, component, "update_buffer_length", len(channels.Updates), "gauge", logger.Fields{
						"buffer":   "updates",
						"capacity": cap(channels.Updates),
					})
				}
				if channels.Records != nil {
					EmitMetric(log, component, "record_buffer_length", len(channels.Records), "gauge", logger.Fields{
						"buffer":   "records",
						"capacity": cap(channels.Records),
					})
				}
			}
		}
	}()
}
