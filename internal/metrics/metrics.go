// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// NetlogMessagesTotal counts decoded event stream messages by kind
	NetlogMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandtrace_netlog_messages_total",
			Help: "Total number of decoded event stream messages",
		},
		[]string{"kind"},
	)

	// NetlogDecodeGapsTotal counts arguments skipped for an unsupported format code
	NetlogDecodeGapsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sandtrace_netlog_decode_gaps_total",
			Help: "Total number of call arguments omitted because their format code is not decoded",
		},
	)

	// NetlogStreamsTotal counts finished event streams by outcome
	NetlogStreamsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandtrace_netlog_streams_total",
			Help: "Total number of finished event streams",
		},
		[]string{"result"},
	)

	// NetlogActiveStreams tracks guest connections currently streaming
	NetlogActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sandtrace_netlog_active_streams",
			Help: "Number of guest connections currently streaming events",
		},
	)

	// NetworkFramesTotal counts capture frames by decode result
	NetworkFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandtrace_network_frames_total",
			Help: "Total number of capture frames read",
		},
		[]string{"result"},
	)

	// NetworkRecordsTotal counts reconstructed records by section
	NetworkRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandtrace_network_records_total",
			Help: "Total number of reconstructed network records",
		},
		[]string{"section"},
	)

	// NetworkAnalysisSeconds measures the duration of a capture analysis
	NetworkAnalysisSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sandtrace_network_analysis_seconds",
			Help:    "Duration of capture analyses in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16), // 1ms to ~30s
		},
	)
)

// Stream outcomes
const (
	StreamCompleted = "completed"
	StreamAborted   = "aborted"
)

// Frame results
const (
	FrameDecoded = "decoded"
	FrameSkipped = "skipped"
)
