package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTPMetrics tracks requests served by the gateway.
type HTTPMetrics struct {
	// RequestDuration measures request latency.
	// Labels: method, route, status_code
	RequestDuration *prometheus.HistogramVec

	// RequestCounter counts requests.
	// Labels: method, route, status_code
	RequestCounter *prometheus.CounterVec

	// ErrorCounter counts rejected requests by error kind.
	// Labels: route, kind
	ErrorCounter *prometheus.CounterVec
}

// NewHTTPMetrics registers the HTTP collectors with reg. A nil reg uses the
// default Prometheus registry.
func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &HTTPMetrics{
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crucial_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "route", "status_code"},
		),
		RequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crucial_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status_code"},
		),
		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crucial_http_errors_total",
				Help: "Rejected HTTP requests by error kind",
			},
			[]string{"route", "kind"},
		),
	}
}

// RecordRequest records one completed request.
func (m *HTTPMetrics) RecordRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	code := strconv.Itoa(status)
	m.RequestCounter.WithLabelValues(method, route, code).Inc()
	m.RequestDuration.WithLabelValues(method, route, code).Observe(elapsed.Seconds())
}

// RecordError records a rejected request.
func (m *HTTPMetrics) RecordError(route, kind string) {
	if m == nil {
		return
	}
	m.ErrorCounter.WithLabelValues(route, kind).Inc()
}
