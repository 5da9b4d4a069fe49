package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the service's collectors.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	HTTPRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "novoin",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "novoin",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	WalletOperationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "novoin",
			Subsystem: "wallet",
			Name:      "operations_total",
			Help:      "Wallet operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	WalletOperationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "novoin",
			Subsystem: "wallet",
			Name:      "operation_duration_seconds",
			Help:      "Wallet operation latency including ledger writes",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"operation"},
	)

	NovoinMovedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "novoin",
			Subsystem: "ledger",
			Name:      "novoin_moved_total",
			Help:      "Absolute Novoin amount appended to the ledger by entry kind",
		},
		[]string{"kind"},
	)

	ReconcileEventsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "novoin",
			Subsystem: "reconcile",
			Name:      "events_total",
			Help:      "Reconciliation attempts by resulting status",
		},
		[]string{"status"},
	)

	ReconcileRunDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "novoin",
			Subsystem: "reconcile",
			Name:      "run_duration_seconds",
			Help:      "Duration of one reconciliation pass",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler exposes the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
