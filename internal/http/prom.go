package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fyrsmithlabs/mcpforge/internal/orchestrator"
)

// runCounters are the Prometheus series exported on /metrics.
type runCounters struct {
	submitted *prometheus.CounterVec
	finished  *prometheus.CounterVec
	rejected  prometheus.Counter
}

func newRunCounters(reg *prometheus.Registry) *runCounters {
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &runCounters{
		submitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mcpforge_runs_submitted_total",
			Help: "Total number of runs accepted by the HTTP API",
		}, []string{"input_kind"}),
		finished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mcpforge_runs_finished_total",
			Help: "Total number of runs that reached a terminal phase",
		}, []string{"phase", "error_kind"}),
		rejected: f.NewCounter(prometheus.CounterOpts{
			Name: "mcpforge_runs_rejected_total",
			Help: "Total number of run requests rejected before starting",
		}),
	}
}

func (c *runCounters) recordFinished(s orchestrator.Summary) {
	c.finished.WithLabelValues(string(s.Phase), string(s.ErrorKind)).Inc()
}
