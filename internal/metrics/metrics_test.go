package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ConnectionsTotal.Inc()
	m.ConnectionsOpen.Inc()
	m.Frames.WithLabelValues("data").Inc()
	m.Records.Add(3)
	m.CountActivity(16)
	m.CountActivity(16)
	m.CountSend(true, 3)
	m.CountSend(false, 1)
	m.SinkFailures.WithLabelValues("audit").Inc()

	checks := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"connections_total", m.ConnectionsTotal, 1},
		{"connections_open", m.ConnectionsOpen, 1},
		{"frames data", m.Frames.WithLabelValues("data"), 1},
		{"records", m.Records, 3},
		{"activity 16", m.Activities.WithLabelValues("16"), 2},
		{"sends success", m.Sends.WithLabelValues("success"), 1},
		{"sends failure", m.Sends.WithLabelValues("failure"), 1},
		{"retries", m.SendRetries, 2},
		{"audit failures", m.SinkFailures.WithLabelValues("audit"), 1},
	}
	for _, tt := range checks {
		if got := testutil.ToFloat64(tt.c); got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestBacklogGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	depth := 7
	m.RegisterBacklog(func() int { return depth })

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == "avl_pool_backlog" {
			if got := mf.GetMetric()[0].GetGauge().GetValue(); got != 7 {
				t.Errorf("backlog gauge = %v, want 7", got)
			}
			return
		}
	}
	t.Fatal("avl_pool_backlog not registered")
}

func TestNilRegisterer(t *testing.T) {
	m := New(nil)
	m.ConnectionsTotal.Inc()
	m.RegisterBacklog(func() int { return 0 })
	if got := testutil.ToFloat64(m.ConnectionsTotal); got != 1 {
		t.Errorf("unregistered counter = %v, want 1", got)
	}
}

func TestMetricNamesLint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.Frames.WithLabelValues("imei").Inc()
	m.CountActivity(1)
	m.CountSend(true, 1)
	m.SinkFailures.WithLabelValues("bus").Inc()

	problems, err := testutil.GatherAndLint(reg)
	if err != nil {
		t.Fatalf("GatherAndLint: %v", err)
	}
	for _, p := range problems {
		// The open-connections gauge has no unit suffix on purpose.
		if strings.Contains(p.Text, "units") && p.Metric == "avl_connections_open" {
			continue
		}
		t.Errorf("lint %s: %s", p.Metric, p.Text)
	}
}
