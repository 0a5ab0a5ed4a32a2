package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPMetrics holds the Prometheus collectors for the read-only API.
type HTTPMetrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	SearchResults   prometheus.Histogram
}

var (
	httpOnce    sync.Once
	httpMetrics *HTTPMetrics
)

// NewHTTPMetrics creates and registers the API collectors once per process.
func NewHTTPMetrics() *HTTPMetrics {
	httpOnce.Do(func() {
		httpMetrics = &HTTPMetrics{
			RequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "learnlog_http_requests_total",
					Help: "Total number of API requests",
				},
				[]string{"route", "method", "status"},
			),
			RequestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "learnlog_http_request_duration_seconds",
					Help:    "API request duration in seconds",
					Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
				},
				[]string{"route", "method"},
			),
			SearchResults: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "learnlog_search_results",
					Help:    "Number of results returned per search",
					Buckets: prometheus.LinearBuckets(0, 10, 11),
				},
			),
		}
	})
	return httpMetrics
}

// Middleware records request count and latency per chi route pattern.
func (m *HTTPMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.RequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		m.RequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

// Handler exposes the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
