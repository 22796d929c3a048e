// Package metrics defines the prometheus instruments for the ingest
// pipeline: connection churn, frame and record counts, classification
// outcomes, upstream delivery results and sink failures.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every instrument the gateway exports. Construct one per
// process and share it; all instruments are safe for concurrent use.
type Metrics struct {
	reg prometheus.Registerer

	// ConnectionsTotal counts accepted device connections.
	ConnectionsTotal prometheus.Counter
	// ConnectionsOpen tracks connections currently being served.
	ConnectionsOpen prometheus.Gauge
	// Frames counts protocol frames by kind: imei, data or invalid.
	Frames *prometheus.CounterVec
	// Records counts decoded AVL records.
	Records prometheus.Counter
	// Activities counts classified records by activity id.
	Activities *prometheus.CounterVec
	// Sends counts upstream deliveries by outcome: success or failure.
	Sends *prometheus.CounterVec
	// SendRetries counts upstream attempts beyond the first.
	SendRetries prometheus.Counter
	// SinkFailures counts failed writes by sink: audit, archive or bus.
	SinkFailures *prometheus.CounterVec
}

// New builds the instrument set on reg. A nil registerer creates
// unregistered instruments, which tests use.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		ConnectionsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "avl_connections_total",
			Help: "Device connections accepted.",
		}),
		ConnectionsOpen: f.NewGauge(prometheus.GaugeOpts{
			Name: "avl_connections_open",
			Help: "Device connections currently open.",
		}),
		Frames: f.NewCounterVec(prometheus.CounterOpts{
			Name: "avl_frames_total",
			Help: "Protocol frames received by kind.",
		}, []string{"kind"}),
		Records: f.NewCounter(prometheus.CounterOpts{
			Name: "avl_records_total",
			Help: "AVL records decoded.",
		}),
		Activities: f.NewCounterVec(prometheus.CounterOpts{
			Name: "avl_activities_total",
			Help: "Records classified by activity id.",
		}, []string{"id"}),
		Sends: f.NewCounterVec(prometheus.CounterOpts{
			Name: "avl_upstream_sends_total",
			Help: "Upstream deliveries by outcome.",
		}, []string{"outcome"}),
		SendRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "avl_upstream_retries_total",
			Help: "Upstream attempts beyond the first.",
		}),
		SinkFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "avl_sink_failures_total",
			Help: "Failed writes by sink.",
		}, []string{"sink"}),
	}
}

// RegisterBacklog exposes the worker pool backlog as a gauge sampled at
// scrape time. No-op without a registerer.
func (m *Metrics) RegisterBacklog(backlog func() int) {
	if m.reg == nil {
		return
	}
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "avl_pool_backlog",
		Help: "Jobs queued and not yet picked up by a worker.",
	}, func() float64 {
		return float64(backlog())
	}))
}

// CountActivity bumps the classification counter for one activity id.
func (m *Metrics) CountActivity(id int) {
	m.Activities.WithLabelValues(strconv.Itoa(id)).Inc()
}

// CountSend records one upstream delivery outcome and any retries it took.
func (m *Metrics) CountSend(success bool, attempts int) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.Sends.WithLabelValues(outcome).Inc()
	if attempts > 1 {
		m.SendRetries.Add(float64(attempts - 1))
	}
}
