package metrics

import "github.com/Prabhat-190/trade/logger"

// DropMetric identifies the metric name emitted when feed messages are dropped.
type DropMetric string

const (
	// DropMetricStaleSequence records deltas discarded for carrying an
	// already-applied sequence number.
	DropMetricStaleSequence DropMetric = "stale_sequence_messages_dropped"
	// DropMetricMalformed records frames that failed to decode.
	DropMetricMalformed DropMetric = "malformed_messages_dropped"
	// DropMetricPreSnapshot records deltas discarded before the first
	// snapshot of a connection was applied.
	DropMetricPreSnapshot DropMetric = "pre_snapshot_messages_dropped"
	// DropMetricRecord records capture rows dropped because the record
	// buffer was full.
	DropMetricRecord DropMetric = "capture_records_dropped"
)

// EmitDropMetric logs and emits a metric representing a dropped message. The
// metric value is always incremented by one so callers should invoke this helper
// for each dropped message. Optional metadata (venue, symbol, stage) is added to
// the metric fields when provided which enables downstream aggregation per venue
// and stream type.
func EmitDropMetric(log *logger.Log, metric DropMetric, venue, symbol, stage string) {
	fields := logger.Fields{}
	if venue != "" {
		fields["venue"] = venue
	}
	if symbol != "" {
		fields["symbol"] = symbol
	}
	if stage != "" {
		fields["stage"] = stage
	}

	EmitMetric(log, "feed_drops", string(metric), 1, "counter", fields)
}
