// Scopeboard - Longitudinal Study Monitoring & Export Service
// Copyright 2026 SocialScope Research
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/socialscope/scopeboard

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for:
// - MongoDB query performance
// - API endpoint latency and throughput
// - Status/alert cache refresh cycles
// - Export job lifecycle and screenshot fetching

var (
	// Database Metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mongo_query_duration_seconds",
			Help:    "Duration of MongoDB queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "collection"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mongo_query_errors_total",
			Help: "Total number of MongoDB query errors",
		},
		[]string{"operation", "collection"},
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of active API requests",
		},
	)

	APIRateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_rate_limit_hits_total",
			Help: "Total number of rate limit rejections",
		},
		[]string{"endpoint"},
	)

	// Cache Metrics
	CacheRefreshDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_refresh_duration_seconds",
			Help:    "Duration of cache refresh cycles in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"cache_type"}, // "status", "alerts"
	)

	CacheRefreshErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_refresh_errors_total",
			Help: "Total number of failed cache refresh cycles",
		},
		[]string{"cache_type"},
	)

	CacheLastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cache_last_success_timestamp",
			Help: "Unix timestamp of last successful cache refresh",
		},
		[]string{"cache_type"},
	)

	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cache_entries",
			Help: "Current number of cached entries",
		},
		[]string{"cache_type"},
	)

	CacheReads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_reads_total",
			Help: "Total number of cache reads by outcome",
		},
		[]string{"cache_type", "outcome"}, // outcome: "hit", "live_fallback"
	)

	// Export Job Metrics
	ExportJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "export_jobs_total",
			Help: "Total number of export jobs by terminal status",
		},
		[]string{"status", "level"},
	)

	ExportJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "export_job_duration_seconds",
			Help:    "Export job duration from claim to terminal state",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"level"},
	)

	ExportActiveJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "export_active_jobs",
			Help: "Current number of export jobs in the processing state",
		},
	)

	ExportArchiveBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "export_archive_bytes",
			Help:    "Size of completed export archives in bytes",
			Buckets: prometheus.ExponentialBuckets(64*1024, 4, 8),
		},
	)

	ScreenshotFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "screenshot_fetches_total",
			Help: "Total number of screenshot fetch attempts",
		},
		[]string{"result"}, // "success", "failure"
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// System Metrics
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_info",
			Help: "Application version and build information",
		},
		[]string{"version", "go_version"},
	)

	AppUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "app_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)
)

// RecordDBQuery records a database query metric
func RecordDBQuery(operation, collection string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, collection).Observe(duration.Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation, collection).Inc()
	}
}

// RecordAPIRequest records an API request metric
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordCacheRefresh records one cache refresh cycle
func RecordCacheRefresh(cacheType string, duration time.Duration, entries int, err error) {
	CacheRefreshDuration.WithLabelValues(cacheType).Observe(duration.Seconds())
	if err != nil {
		CacheRefreshErrors.WithLabelValues(cacheType).Inc()
		return
	}
	CacheLastSuccess.WithLabelValues(cacheType).Set(float64(time.Now().Unix()))
	CacheEntries.WithLabelValues(cacheType).Set(float64(entries))
}

// RecordExportJob records an export job reaching a terminal state
func RecordExportJob(status, level string, duration time.Duration) {
	ExportJobsTotal.WithLabelValues(status, level).Inc()
	ExportJobDuration.WithLabelValues(level).Observe(duration.Seconds())
}

// TrackActiveRequest tracks active API requests
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}
