// Registers:
//
//	#trade_ws_reconnects_total, trade_conn_state
//	#trade_frames_total, trade_frames_dropped_total
//	#trade_book_gaps_total, trade_book_crossed_total, trade_book_resyncs_total
//	#trade_apply_latency_seconds, trade_estimate_latency_seconds
//	#trade_estimates_total, trade_book_staleness_ms
//	#go_* and process_* system metrics
//
// Exposes them on addr/metrics using Prometheus HTTP handler
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once            sync.Once
	wsReconnects    *prometheus.CounterVec
	connState       *prometheus.GaugeVec
	framesTotal     *prometheus.CounterVec
	framesDropped   *prometheus.CounterVec
	bookGaps        *prometheus.CounterVec
	bookCrossed     *prometheus.CounterVec
	bookResyncs     *prometheus.CounterVec
	bookStaleness   *prometheus.GaugeVec
	applyLatency    *prometheus.HistogramVec
	estimateLatency prometheus.Histogram
	estimatesTotal  *prometheus.CounterVec
)

// Init registers the collectors and serves them on addr. An empty addr
// registers the collectors without starting the HTTP listener, which tests
// rely on.
func Init(addr string) {
	once.Do(func() {
		wsReconnects = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trade_ws_reconnects_total",
				Help: "Number of feed reconnect attempts",
			},
			[]string{"venue", "reason"},
		)

		connState = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "trade_conn_state",
				Help: "Feed connection state (0 disconnected, 1 connecting, 2 connected, 3 backoff)",
			},
			[]string{"venue"},
		)

		framesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trade_frames_total",
				Help: "Number of decoded feed frames by type",
			},
			[]string{"venue", "type"},
		)

		framesDropped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trade_frames_dropped_total",
				Help: "Number of feed frames dropped before the book",
			},
			[]string{"venue", "reason"},
		)

		bookGaps = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trade_book_gaps_total",
				Help: "Number of sequence gaps detected by the book",
			},
			[]string{"venue"},
		)

		bookCrossed = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trade_book_crossed_total",
				Help: "Number of updates rejected for crossing the book",
			},
			[]string{"venue"},
		)

		bookResyncs = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trade_book_resyncs_total",
				Help: "Number of snapshot re-requests signalled upstream",
			},
			[]string{"venue"},
		)

		bookStaleness = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "trade_book_staleness_ms",
				Help: "Milliseconds between consecutive accepted book updates",
			},
			[]string{"venue"},
		)

		applyLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trade_apply_latency_seconds",
				Help:    "Duration from update accepted to features stored",
				Buckets: prometheus.ExponentialBuckets(1e-6, 4, 12),
			},
			[]string{"venue"},
		)

		estimateLatency = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "trade_estimate_latency_seconds",
				Help:    "Duration of one cost estimate",
				Buckets: prometheus.ExponentialBuckets(1e-6, 4, 12),
			},
		)

		estimatesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trade_estimates_total",
				Help: "Number of estimate requests by outcome",
			},
			[]string{"outcome"},
		)

		_ = prometheus.Register(wsReconnects)
		_ = prometheus.Register(connState)
		_ = prometheus.Register(framesTotal)
		_ = prometheus.Register(framesDropped)
		_ = prometheus.Register(bookGaps)
		_ = prometheus.Register(bookCrossed)
		_ = prometheus.Register(bookResyncs)
		_ = prometheus.Register(bookStaleness)
		_ = prometheus.Register(applyLatency)
		_ = prometheus.Register(estimateLatency)
		_ = prometheus.Register(estimatesTotal)
		_ = prometheus.Register(collectors.NewGoCollector())
		_ = prometheus.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		if addr == "" {
			return
		}
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(addr, nil); err != nil {
				panic("metrics server failed: " + err.Error())
			}
		}()
	})
}

// IncrementReconnect increases the reconnect counter for a venue.
func IncrementReconnect(venue, reason string) {
	if wsReconnects != nil {
		wsReconnects.WithLabelValues(venue, reason).Inc()
	}
}

// SetConnState records the feed state machine position for a venue.
func SetConnState(venue string, state int) {
	if connState != nil {
		connState.WithLabelValues(venue).Set(float64(state))
	}
}

// IncrementFrame counts one decoded frame of the given type.
func IncrementFrame(venue, frameType string) {
	if framesTotal != nil {
		framesTotal.WithLabelValues(venue, frameType).Inc()
	}
}

// IncrementFrameDropped counts one frame dropped before reaching the book.
func IncrementFrameDropped(venue, reason string) {
	if framesDropped != nil {
		framesDropped.WithLabelValues(venue, reason).Inc()
	}
}

// IncrementGap counts one detected sequence gap.
func IncrementGap(venue string) {
	if bookGaps != nil {
		bookGaps.WithLabelValues(venue).Inc()
	}
}

// IncrementCrossed counts one update rejected for crossing the book.
func IncrementCrossed(venue string) {
	if bookCrossed != nil {
		bookCrossed.WithLabelValues(venue).Inc()
	}
}

// IncrementResync counts one snapshot re-request.
func IncrementResync(venue string) {
	if bookResyncs != nil {
		bookResyncs.WithLabelValues(venue).Inc()
	}
}

// SetBookStaleness records the inter-update interval for a venue.
func SetBookStaleness(venue string, ms float64) {
	if bookStaleness != nil {
		bookStaleness.WithLabelValues(venue).Set(ms)
	}
}

// ObserveApplyLatency records one tick-path duration in seconds.
func ObserveApplyLatency(venue string, seconds float64) {
	if applyLatency != nil {
		applyLatency.WithLabelValues(venue).Observe(seconds)
	}
}

// ObserveEstimateLatency records one estimate duration in seconds.
func ObserveEstimateLatency(seconds float64) {
	if estimateLatency != nil {
		estimateLatency.Observe(seconds)
	}
}

// IncrementEstimate counts one estimate by outcome ("ok" or an error code).
func IncrementEstimate(outcome string) {
	if estimatesTotal != nil {
		estimatesTotal.WithLabelValues(outcome).Inc()
	}
}
