// Package metrics holds the service's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quill_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quill_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)

	ActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quill_http_active_requests",
			Help: "Current number of active HTTP requests",
		},
	)

	NoteOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quill_note_operations_total",
			Help: "Total number of successful note operations",
		},
		[]string{"operation"}, // create, update, delete
	)

	AuditEntriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quill_audit_entries_total",
			Help: "Total number of audit entries appended",
		},
	)

	ShareItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quill_share_items_total",
			Help: "Total number of share items processed by outcome",
		},
		[]string{"outcome"}, // created, updated, invalid
	)

	GrantCacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quill_grant_cache_lookups_total",
			Help: "Grant cache lookups by result",
		},
		[]string{"result"}, // hit, miss, error
	)

	SearchQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quill_search_queries_total",
			Help: "Search queries by serving engine",
		},
		[]string{"engine"},
	)
)

// ObserveRequest records one finished HTTP request. route is the matched
// route template, never the raw path.
func ObserveRequest(method, route string, status int, elapsed time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func Handler() http.Handler {
	return promhttp.Handler()
}
