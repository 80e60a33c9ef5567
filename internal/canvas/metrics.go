package canvas

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the canvas engine collectors.
type Metrics struct {
	ActiveViewers      prometheus.Gauge
	SubscribersDropped prometheus.Counter
	ActionsTotal       *prometheus.CounterVec
	DispatchDuration   *prometheus.HistogramVec
	CanvasesCreated    prometheus.Counter
	CanvasesExpired    prometheus.Counter
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// NewMetrics returns the process-wide collectors, registering them on first use.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			ActiveViewers: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "crucial_canvas_active_viewers",
				Help: "Current number of live canvas subscribers",
			}),
			SubscribersDropped: promauto.NewCounter(prometheus.CounterOpts{
				Name: "crucial_canvas_subscribers_dropped_total",
				Help: "Subscribers dropped because their buffer was full",
			}),
			ActionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "crucial_canvas_actions_total",
				Help: "Dispatched canvas actions by action and status",
			}, []string{"action", "status"}),
			DispatchDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "crucial_canvas_dispatch_duration_seconds",
				Help:    "Time spent dispatching a canvas action",
				Buckets: prometheus.DefBuckets,
			}, []string{"action"}),
			CanvasesCreated: promauto.NewCounter(prometheus.CounterOpts{
				Name: "crucial_canvases_created_total",
				Help: "Total number of canvases created",
			}),
			CanvasesExpired: promauto.NewCounter(prometheus.CounterOpts{
				Name: "crucial_canvases_expired_total",
				Help: "Total number of canvases removed by retention",
			}),
		}
	})
	return metricsInstance
}

func (m *Metrics) ViewerConnected() {
	if m == nil || m.ActiveViewers == nil {
		return
	}
	m.ActiveViewers.Inc()
}

func (m *Metrics) ViewerDisconnected() {
	if m == nil || m.ActiveViewers == nil {
		return
	}
	m.ActiveViewers.Dec()
}

func (m *Metrics) SubscriberDropped() {
	if m == nil || m.SubscribersDropped == nil {
		return
	}
	m.SubscribersDropped.Inc()
}

// RecordDispatch records the outcome and latency of one dispatched action.
func (m *Metrics) RecordDispatch(action, status string, elapsed time.Duration) {
	if m == nil || m.ActionsTotal == nil {
		return
	}
	m.ActionsTotal.WithLabelValues(action, status).Inc()
	if m.DispatchDuration != nil {
		m.DispatchDuration.WithLabelValues(action).Observe(elapsed.Seconds())
	}
}

func (m *Metrics) CanvasCreated() {
	if m == nil || m.CanvasesCreated == nil {
		return
	}
	m.CanvasesCreated.Inc()
}

func (m *Metrics) RecordExpired(n int64) {
	if m == nil || m.CanvasesExpired == nil || n <= 0 {
		return
	}
	m.CanvasesExpired.Add(float64(n))
}
