package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersSyncedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_synced_total",
		Help: "Total number of orders normalized from raw sync records",
	})

	OrderSyncFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_sync_failures_total",
		Help: "Total number of failed order normalizations",
	}, []string{"reason"})

	SyncPagesCommittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sync_pages_committed_total",
		Help: "Total number of sync pages committed",
	})

	SyncPageDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sync_page_duration_seconds",
		Help:    "Duration of one sync page (fetch, persist, normalize)",
		Buckets: prometheus.DefBuckets,
	})

	MagentoRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "magento_request_duration_seconds",
		Help:    "Latency of Magento API requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	MagentoRequestErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "magento_request_errors_total",
		Help: "Total number of failed Magento API requests",
	}, []string{"endpoint", "kind"})

	SLAImminentSignalsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sla_imminent_signals_total",
		Help: "Total number of imminent SLA breach signals emitted",
	})

	SLABreachedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sla_breached_total",
		Help: "Total number of orders flipped to SLA breached",
	})

	NotificationAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notification_attempts_total",
		Help: "Total number of webhook notification sends",
	}, []string{"kind", "outcome"})

	NotificationRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notification_retries_total",
		Help: "Total number of webhook delivery retries",
	})

	CircuitBreakerOpenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notification_breaker_open_total",
		Help: "Total number of sends short-circuited by an open circuit breaker",
	})

	UnpaidWarningsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "unpaid_warnings_total",
		Help: "Total number of unpaid-order warnings sent",
	})

	UnpaidCancellationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "unpaid_cancellations_total",
		Help: "Total number of unpaid orders cancelled",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
