package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	framesDecoded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mavbus",
			Subsystem: "decoder",
			Name:      "frames_total",
			Help:      "Frames that passed checksum validation.",
		},
		[]string{"msg"},
	)
	decodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mavbus",
			Subsystem: "decoder",
			Name:      "errors_total",
			Help:      "Frames rejected by the decoder or payload layer.",
		},
		[]string{"kind"},
	)
	subscriberErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mavbus",
			Subsystem: "dispatch",
			Name:      "subscriber_errors_total",
			Help:      "Subscriber failures caught during delivery.",
		},
		[]string{"mode"},
	)
	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mavbus",
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Time spent handing one message to the dispatcher.",
			Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05, .1},
		},
		[]string{"mode"},
	)
	linkBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mavbus",
			Subsystem: "link",
			Name:      "bytes_total",
			Help:      "Bytes moved over the transport.",
		},
		[]string{"direction"},
	)
	framesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mavbus",
			Subsystem: "link",
			Name:      "frames_sent_total",
			Help:      "Frames written, counting each redundant copy.",
		},
		[]string{"msg"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mavbus",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mavbus",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			framesDecoded,
			decodeErrors,
			subscriberErrors,
			dispatchDuration,
			linkBytes,
			framesSent,
			httpRequests,
			httpDuration,
		)
	})
}

func RecordFrameDecoded(msg string) {
	RegisterMetrics()
	framesDecoded.WithLabelValues(msg).Inc()
}

func RecordDecodeError(kind string) {
	RegisterMetrics()
	decodeErrors.WithLabelValues(kind).Inc()
}

func RecordSubscriberError(mode string) {
	RegisterMetrics()
	subscriberErrors.WithLabelValues(mode).Inc()
}

func ObserveDispatch(mode string, d time.Duration) {
	RegisterMetrics()
	dispatchDuration.WithLabelValues(mode).Observe(d.Seconds())
}

func RecordLinkBytes(direction string, n int) {
	if n <= 0 {
		return
	}
	RegisterMetrics()
	linkBytes.WithLabelValues(direction).Add(float64(n))
}

func RecordFrameSent(msg string) {
	RegisterMetrics()
	framesSent.WithLabelValues(msg).Inc()
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}
