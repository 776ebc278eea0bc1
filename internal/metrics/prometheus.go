package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kqm_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kqm_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status_code"},
	)

	rateLimitedRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kqm_rate_limited_requests_total",
			Help: "Total number of rate limited requests",
		},
		[]string{"endpoint"},
	)

	// Collector metrics
	collectorCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kqm_collector_cycles_total",
			Help: "Total number of collection cycles by result",
		},
		[]string{"result"},
	)

	collectorCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kqm_collector_cycle_duration_seconds",
			Help:    "Duration of one poll, normalize and append cycle",
			Buckets: []float64{0.05, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		},
	)

	collectorSamplesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kqm_collector_samples_written_total",
			Help: "Total number of samples appended to partitions",
		},
	)

	collectorPodsLast = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kqm_collector_pods_last_cycle",
			Help: "Number of pods sampled in the last successful cycle",
		},
	)

	partitionRotationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kqm_partition_rotations_total",
			Help: "Total number of partition files opened for writes",
		},
	)

	// Query metrics
	queryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kqm_query_duration_seconds",
			Help:    "Aggregation query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"view", "status"},
	)

	querySamplesLoaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kqm_query_samples_loaded_total",
			Help: "Total number of samples loaded from partitions by queries",
		},
	)
)

// RecordHTTPRequest records metrics for HTTP requests
func RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	labels := prometheus.Labels{
		"method":      method,
		"path":        path,
		"status_code": strconv.Itoa(statusCode),
	}

	httpRequestsTotal.With(labels).Inc()
	httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// RecordRateLimitedRequest records rate limiting metrics
func RecordRateLimitedRequest(endpoint string) {
	rateLimitedRequestsTotal.With(prometheus.Labels{"endpoint": endpoint}).Inc()
}

// RecordCollectorCycle records the outcome of one collection cycle
func RecordCollectorCycle(result string, samples int, duration time.Duration) {
	collectorCyclesTotal.With(prometheus.Labels{"result": result}).Inc()
	collectorCycleDuration.Observe(duration.Seconds())

	if samples > 0 {
		collectorSamplesTotal.Add(float64(samples))
		collectorPodsLast.Set(float64(samples))
	}
}

// RecordPartitionRotation records a partition being opened
func RecordPartitionRotation() {
	partitionRotationsTotal.Inc()
}

// RecordQuery records an aggregation query
func RecordQuery(view, status string, samples int, duration time.Duration) {
	queryDuration.With(prometheus.Labels{"view": view, "status": status}).Observe(duration.Seconds())
	querySamplesLoaded.Add(float64(samples))
}
