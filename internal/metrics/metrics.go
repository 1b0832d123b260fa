// Package metrics exposes the reactor's internal gauges/counters over
// Prometheus. Collectors are grouped in one registry so cmd/server can
// serve them on their own small listener, independent of the reactor's
// own connection handling.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry agrupa todos los colectores del servidor.
type Registry struct {
	Reg *prometheus.Registry

	LiveConnections  prometheus.Gauge
	AdmissionRejects prometheus.Counter
	TimerHeapSize    prometheus.Gauge

	WorkerQueueDepth prometheus.Gauge

	DBAvailable prometheus.Gauge
	DBInUse     prometheus.Gauge

	RequestLatency prometheus.Histogram
	RequestsTotal  *prometheus.CounterVec
}

// New crea y registra todos los colectores en un registro nuevo
// (no el global de prometheus, para mantener los tests herméticos).
func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		Reg: reg,
		LiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reactor_live_connections",
			Help: "Number of connections currently held in the reactor's connection table.",
		}),
		AdmissionRejects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reactor_admission_rejected_total",
			Help: "Accepts refused because the live-connection cap was reached.",
		}),
		TimerHeapSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reactor_timer_heap_size",
			Help: "Number of active idle-timeout timers.",
		}),
		WorkerQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reactor_worker_queue_depth",
			Help: "Pending tasks in the worker pool's FIFO queue.",
		}),
		DBAvailable: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reactor_db_pool_available",
			Help: "Database handles currently checked in to the pool.",
		}),
		DBInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reactor_db_pool_in_use",
			Help: "Database handles currently checked out of the pool.",
		}),
		RequestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "reactor_request_duration_seconds",
			Help:    "Time from read-ready to response fully buffered, per request.",
			Buckets: prometheus.DefBuckets,
		}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reactor_requests_total",
			Help: "Requests processed, labeled by response status code.",
		}, []string{"status"}),
	}
	reg.MustRegister(
		r.LiveConnections, r.AdmissionRejects, r.TimerHeapSize,
		r.WorkerQueueDepth, r.DBAvailable, r.DBInUse,
		r.RequestLatency, r.RequestsTotal,
	)
	return r
}
