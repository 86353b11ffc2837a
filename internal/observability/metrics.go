package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	linesRead = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "teleinfo",
			Subsystem: "lines",
			Name:      "read_total",
			Help:      "Total lines read from the meter.",
		},
	)
	linesDiscarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "teleinfo",
			Subsystem: "lines",
			Name:      "discarded_total",
			Help:      "Lines dropped before reaching a frame.",
		},
		[]string{"reason"},
	)
	checksumMismatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "teleinfo",
			Subsystem: "lines",
			Name:      "checksum_mismatch_total",
			Help:      "Lines whose control character did not match.",
		},
		[]string{"label"},
	)
	framesFinalized = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "teleinfo",
			Subsystem: "frames",
			Name:      "finalized_total",
			Help:      "Finalized frames by outcome.",
		},
		[]string{"outcome"},
	)
	sinkWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "teleinfo",
			Subsystem: "sink",
			Name:      "writes_total",
			Help:      "Batch writes to the time-series store.",
		},
		[]string{"success"},
	)
	sinkConnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "teleinfo",
			Subsystem: "sink",
			Name:      "connect_attempts_total",
			Help:      "Connect gate attempts.",
		},
		[]string{"success"},
	)
	sinkState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "teleinfo",
			Subsystem: "sink",
			Name:      "state",
			Help:      "Sink state: 0 disconnected, 1 connecting, 2 ready.",
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "teleinfo",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "teleinfo",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			linesRead,
			linesDiscarded,
			checksumMismatches,
			framesFinalized,
			sinkWrites,
			sinkConnects,
			sinkState,
			httpRequests,
			httpDuration,
		)
	})
}

func RecordLineRead() {
	RegisterMetrics()
	linesRead.Inc()
}

func RecordLineDiscarded(reason string) {
	RegisterMetrics()
	linesDiscarded.WithLabelValues(reason).Inc()
}

func RecordChecksumMismatch(label string) {
	RegisterMetrics()
	checksumMismatches.WithLabelValues(label).Inc()
}

// RecordFrame counts a finalized frame. outcome is "emitted" or the
// suppression reason.
func RecordFrame(outcome string) {
	RegisterMetrics()
	framesFinalized.WithLabelValues(outcome).Inc()
}

func RecordSinkWrite(success bool) {
	RegisterMetrics()
	sinkWrites.WithLabelValues(strconv.FormatBool(success)).Inc()
}

func RecordConnectAttempt(success bool) {
	RegisterMetrics()
	sinkConnects.WithLabelValues(strconv.FormatBool(success)).Inc()
}

func SetSinkState(state int) {
	RegisterMetrics()
	sinkState.Set(float64(state))
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
