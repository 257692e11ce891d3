// Package metrics exposes Prometheus collectors for the ingestion service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	upstreamFetchTotal         *prometheus.CounterVec
	upstreamFetchDuration      *prometheus.HistogramVec
	upstreamRetriesTotal       *prometheus.CounterVec
	rateLimitDelaySeconds      *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry. It is safe to call
// repeatedly.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "camara_http_requests_total",
				Help: "Total number of control API requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "camara_http_request_duration_seconds",
				Help:    "Histogram of control API latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.05, 0.1, 0.25, 0.5, 1, 5},
			},
			[]string{"method", "route"},
		)

		upstreamFetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "camara_upstream_fetch_total",
				Help: "Upstream API calls, labeled by endpoint and result (ok, transient, fatal).",
			},
			[]string{"endpoint", "result"},
		)

		upstreamFetchDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "camara_upstream_fetch_duration_seconds",
				Help:    "Histogram of upstream API call latencies, labeled by endpoint.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"endpoint"},
		)

		upstreamRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "camara_upstream_retries_total",
				Help: "Retries scheduled after transient upstream failures, labeled by endpoint.",
			},
			[]string{"endpoint"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "camara_rate_limit_delay_seconds",
				Help:    "Histogram of client side rate limit waits, labeled by host.",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"host"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Endpoint reduces an upstream URL to a low cardinality label by replacing
// identifier segments with ":id" and dropping the query.
func Endpoint(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" {
		return "unknown"
	}
	path := strings.TrimPrefix(u.Path, "/api/v2")
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i, seg := range segments {
		if isIdentifier(seg) {
			segments[i] = ":id"
		}
	}
	return "/" + strings.Join(segments, "/")
}

func isIdentifier(seg string) bool {
	if seg == "" {
		return false
	}
	digits := 0
	for _, r := range seg {
		switch {
		case unicode.IsDigit(r):
			digits++
		case r == '-':
		default:
			return false
		}
	}
	return digits > 0
}

// ObserveHTTPRequest records one control API request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveFetch records one upstream call.
func ObserveFetch(rawURL, result string, duration time.Duration) {
	Init()
	endpoint := Endpoint(rawURL)
	upstreamFetchTotal.WithLabelValues(endpoint, result).Inc()
	upstreamFetchDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// ObserveRetry records a scheduled retry.
func ObserveRetry(rawURL string) {
	Init()
	upstreamRetriesTotal.WithLabelValues(Endpoint(rawURL)).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(host).Observe(duration.Seconds())
}
