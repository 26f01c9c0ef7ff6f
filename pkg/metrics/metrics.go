// Package metrics provides Prometheus instrumentation for crmsync.
//
// # Overview
//
// The package exposes pre-registered collectors for:
//   - CRM API calls (count and latency per operation)
//   - bulk batch polling and exported row counts
//   - catalog discovery outcomes per dataset kind
//   - per-field normalization failures
//   - cached connectors
//
// # Basic Usage
//
//	timer := metrics.NewTimer()
//	resp, err := do(req)
//	metrics.ObserveAPICall("describe", err, timer.Stop())
//
//	metrics.CatalogDatasets.WithLabelValues("object", metrics.OutcomeDropped).Inc()
//
// Handler returns the /metrics endpoint served by the CLI when metrics are enabled.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Catalog outcomes.
const (
	OutcomeIncluded = "included"
	OutcomeDropped  = "dropped"
	OutcomeFailed   = "failed"
)

var (
	// APIRequests counts CRM API calls.
	// Labels: operation (login, describe, bulk_create_job, ...), status (success/failure)
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crmsync_api_requests_total",
			Help: "Total number of CRM API requests",
		},
		[]string{"operation", "status"},
	)

	// APILatency tracks CRM API latency in seconds.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "crmsync_api_latency_seconds",
			Help: "CRM API request latency in seconds",
			Buckets: []float64{
				0.05, // fast metadata calls
				0.1,
				0.25,
				0.5,
				1,
				2.5,
				5,
				15,
				60,  // large result streams
				300, // sync report runs
			},
		},
		[]string{"operation"},
	)

	// BulkPolls counts batch status polls.
	BulkPolls = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crmsync_bulk_polls_total",
			Help: "Total number of bulk batch status polls",
		},
	)

	// BulkRows counts rows exported through the bulk pipeline.
	BulkRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crmsync_bulk_rows_total",
			Help: "Total number of rows exported via bulk jobs",
		},
		[]string{"object"},
	)

	// BulkJobs counts bulk jobs by terminal outcome.
	BulkJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crmsync_bulk_jobs_total",
			Help: "Total number of bulk jobs by outcome",
		},
		[]string{"outcome"},
	)

	// CatalogDatasets counts discovered datasets.
	// Labels: kind (object/report), outcome (included/dropped/failed)
	CatalogDatasets = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crmsync_catalog_datasets_total",
			Help: "Datasets seen during catalog discovery by outcome",
		},
		[]string{"kind", "outcome"},
	)

	// NormalizationFailures counts fields that could not be coerced.
	NormalizationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crmsync_normalization_failures_total",
			Help: "Fields that failed type coercion and were set to null",
		},
		[]string{"type"},
	)

	// ActiveConnectors tracks cached connectors.
	ActiveConnectors = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "crmsync_connectors_active",
			Help: "Number of connectors held by the registry",
		},
	)
)

// ObserveAPICall records one CRM API call.
func ObserveAPICall(operation string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	APIRequests.WithLabelValues(operation, status).Inc()
	APILatency.WithLabelValues(operation).Observe(d.Seconds())
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer provides a simple timing mechanism for measuring operation durations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop returns the elapsed duration since creation.
// It can be called multiple times.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}
