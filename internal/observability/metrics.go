package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scpd",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"ae", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "scpd",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"ae", "method", "path", "status"},
	)
	associations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scpd",
			Subsystem: "association",
			Name:      "total",
			Help:      "Association requests by negotiation result.",
		},
		[]string{"ae", "result"},
	)
	associationAborts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scpd",
			Subsystem: "association",
			Name:      "aborts_total",
			Help:      "Associations ended by abort or network error.",
		},
		[]string{"ae", "reason"},
	)
	associationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "scpd",
			Subsystem: "association",
			Name:      "duration_seconds",
			Help:      "Lifetime of completed associations in seconds.",
			Buckets:   []float64{0.05, 0.25, 1, 5, 15, 60, 300, 1800},
		},
		[]string{"ae"},
	)
	dimseRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scpd",
			Subsystem: "dimse",
			Name:      "requests_total",
			Help:      "Request messages processed by service handlers.",
		},
		[]string{"ae", "command", "outcome"},
	)
	objectsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scpd",
			Subsystem: "storage",
			Name:      "objects_received_total",
			Help:      "Bulk objects received over store requests.",
		},
		[]string{"ae"},
	)
	bytesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scpd",
			Subsystem: "storage",
			Name:      "bytes_received_total",
			Help:      "Bulk payload bytes received over store requests.",
		},
		[]string{"ae"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			associations,
			associationAborts,
			associationDuration,
			dimseRequests,
			objectsReceived,
			bytesReceived,
		)
	})
}

func RecordHTTPRequest(ae, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(ae, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(ae, method, path, statusLabel).Observe(duration.Seconds())
}

// RecordAssociation counts one negotiation outcome ("accepted", "rejected",
// "throttled").
func RecordAssociation(ae, result string) {
	RegisterMetrics()
	associations.WithLabelValues(ae, result).Inc()
}

func RecordAssociationAbort(ae, reason string) {
	RegisterMetrics()
	associationAborts.WithLabelValues(ae, reason).Inc()
}

func RecordAssociationDuration(ae string, d time.Duration) {
	RegisterMetrics()
	associationDuration.WithLabelValues(ae).Observe(d.Seconds())
}

func RecordDimseRequest(ae, command string, success bool) {
	RegisterMetrics()
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	dimseRequests.WithLabelValues(ae, command, outcome).Inc()
}

func RecordObjectReceived(ae string, bytes int) {
	RegisterMetrics()
	objectsReceived.WithLabelValues(ae).Inc()
	if bytes > 0 {
		bytesReceived.WithLabelValues(ae).Add(float64(bytes))
	}
}

// RecordBytesReceived adds streamed payload bytes whose object was already
// counted.
func RecordBytesReceived(ae string, bytes int) {
	RegisterMetrics()
	if bytes > 0 {
		bytesReceived.WithLabelValues(ae).Add(float64(bytes))
	}
}
