package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Request metrics
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncstore_requests_total",
			Help: "Total number of sync requests by method and status",
		},
		[]string{"method", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "syncstore_request_duration_seconds",
			Help:    "Request duration in seconds by method",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Storage metrics
	StorageOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "syncstore_storage_operation_duration_seconds",
			Help:    "Time taken for a storage-layer operation in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	StorageErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncstore_storage_errors_total",
			Help: "Total number of storage operation failures by error kind",
		},
		[]string{"kind"},
	)

	QuotaRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "syncstore_quota_rejections_total",
			Help: "Total number of writes rejected for exceeding a user's quota",
		},
	)

	TTLSweptTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "syncstore_ttl_swept_total",
			Help: "Total number of bso rows removed by the background TTL sweep",
		},
	)

	BatchesSweptTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "syncstore_batches_swept_total",
			Help: "Total number of expired batch uploads removed by the background sweep",
		},
	)

	// Cache overlay metrics
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncstore_cache_hits_total",
			Help: "Total number of cache overlay hits by collection",
		},
		[]string{"collection"},
	)

	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncstore_cache_misses_total",
			Help: "Total number of cache overlay misses by collection",
		},
		[]string{"collection"},
	)

	CacheErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "syncstore_cache_errors_total",
			Help: "Total number of memcache errors observed by the cache overlay",
		},
	)

	// Node-status / backoff metrics
	NodeStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "syncstore_node_status",
			Help: "Current node status (1 = active) by status label (ok/backoff/draining/down)",
		},
		[]string{"status"},
	)

	BackoffResponsesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "syncstore_backoff_responses_total",
			Help: "Total number of responses carrying an X-Backoff / Retry-After header",
		},
	)

	// Authentication metrics
	AuthFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncstore_auth_failures_total",
			Help: "Total number of rejected Hawk/Basic authentication attempts by reason",
		},
		[]string{"reason"},
	)

	AuthExpiredTokensTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "syncstore_auth_expired_tokens_total",
			Help: "Total number of requests authenticated via the expired-token grace window",
		},
	)
)

func init() {
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(StorageOpDuration)
	prometheus.MustRegister(StorageErrorsTotal)
	prometheus.MustRegister(QuotaRejectionsTotal)
	prometheus.MustRegister(TTLSweptTotal)
	prometheus.MustRegister(BatchesSweptTotal)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheMissesTotal)
	prometheus.MustRegister(CacheErrorsTotal)
	prometheus.MustRegister(NodeStatus)
	prometheus.MustRegister(BackoffResponsesTotal)
	prometheus.MustRegister(AuthFailuresTotal)
	prometheus.MustRegister(AuthExpiredTokensTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
