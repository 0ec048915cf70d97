package orchestrator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/fyrsmithlabs/mcpforge/internal/orchestrator"

var noopMeter = noop.NewMeterProvider().Meter(instrumentationName)

// runMetrics holds the orchestrator's OTEL instruments. Instrument creation
// errors fall back to no-op instruments so metrics never block a run.
type runMetrics struct {
	runs        metric.Int64Counter
	transitions metric.Int64Counter
	repairs     metric.Int64Counter
	callLatency metric.Float64Histogram
	iterations  metric.Int64Histogram
}

func newRunMetrics(meter metric.Meter) *runMetrics {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	m := &runMetrics{}
	var err error

	if m.runs, err = meter.Int64Counter("mcpforge.runs.total",
		metric.WithDescription("Finished workflow runs by terminal phase and error kind"),
		metric.WithUnit("{run}")); err != nil {
		m.runs, _ = noopMeter.Int64Counter("runs")
	}
	if m.transitions, err = meter.Int64Counter("mcpforge.phase.transitions",
		metric.WithDescription("Phase transitions by target phase"),
		metric.WithUnit("{transition}")); err != nil {
		m.transitions, _ = noopMeter.Int64Counter("transitions")
	}
	if m.repairs, err = meter.Int64Counter("mcpforge.repairs.total",
		metric.WithDescription("Repair attempts by outcome"),
		metric.WithUnit("{attempt}")); err != nil {
		m.repairs, _ = noopMeter.Int64Counter("repairs")
	}
	if m.callLatency, err = meter.Float64Histogram("mcpforge.collaborator.duration",
		metric.WithDescription("Collaborator call latency"),
		metric.WithUnit("s")); err != nil {
		m.callLatency, _ = noopMeter.Float64Histogram("latency")
	}
	if m.iterations, err = meter.Int64Histogram("mcpforge.refine.iterations",
		metric.WithDescription("Refine iterations used per run"),
		metric.WithUnit("{iteration}")); err != nil {
		m.iterations, _ = noopMeter.Int64Histogram("iterations")
	}
	return m
}

func (m *runMetrics) recordTransition(ctx context.Context, to Phase) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("phase", string(to))))
}

func (m *runMetrics) recordRepair(ctx context.Context, outcome string) {
	m.repairs.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *runMetrics) recordCall(ctx context.Context, op string, d time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.callLatency.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("outcome", outcome),
	))
}

func (m *runMetrics) recordRun(ctx context.Context, s Summary) {
	m.runs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("phase", string(s.Phase)),
		attribute.String("error_kind", string(s.ErrorKind)),
		attribute.String("input_kind", string(s.Input.Kind)),
	))
	m.iterations.Record(ctx, int64(s.Iterations))
}
