// Package metrics exposes Prometheus collectors for fetch cycles, trend
// classifications and HTTP traffic.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vadiminshakov/pricewatch/internal/domain"
)

var (
	fetchCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pricewatch",
			Name:      "fetch_cycles_total",
			Help:      "Upstream fetch cycles by outcome.",
		},
		[]string{"outcome"},
	)
	fetchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "pricewatch",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of a fetch, resolve and diff cycle.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)
	resolvedProducts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pricewatch",
			Name:      "resolved_products",
			Help:      "Products in the most recent observation.",
		},
	)
	classificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pricewatch",
			Name:      "trend_classifications_total",
			Help:      "Trend classifications by field and kind.",
		},
		[]string{"field", "classification"},
	)
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pricewatch",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pricewatch",
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request durations.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "route", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		fetchCyclesTotal,
		fetchDuration,
		resolvedProducts,
		classificationsTotal,
		httpRequestsTotal,
		httpRequestDuration,
	)
}

// Fetch outcomes.
const (
	OutcomeSaved      = "saved"
	OutcomeEmpty      = "empty"
	OutcomeFailed     = "failed"
	OutcomeSaveFailed = "save_failed"
)

// RecordFetch records one fetch cycle.
func RecordFetch(outcome string, products int, duration time.Duration) {
	fetchCyclesTotal.WithLabelValues(outcome).Inc()
	fetchDuration.Observe(duration.Seconds())
	if outcome != OutcomeFailed {
		resolvedProducts.Set(float64(products))
	}
}

// RecordTrends counts cheapest and competitor classifications of a diff.
func RecordTrends(diff domain.DiffResult) {
	for _, t := range diff.Trends {
		classificationsTotal.WithLabelValues("cheapest", t.Cheapest.Classification.String()).Inc()
		classificationsTotal.WithLabelValues("competitor", t.Competitor.Classification.String()).Inc()
	}
}

// RecordRequest records one HTTP request.
func RecordRequest(method, route string, statusCode int, duration time.Duration) {
	status := classifyStatus(statusCode)
	httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	httpRequestDuration.WithLabelValues(method, route, status).Observe(duration.Seconds())
}

func classifyStatus(statusCode int) string {
	if statusCode < 100 || statusCode >= 600 {
		return "unknown"
	}
	return strconv.Itoa(statusCode/100) + "xx"
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
