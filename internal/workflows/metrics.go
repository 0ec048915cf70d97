package workflows

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fyrsmithlabs/mcpforge/internal/workflows"

var (
	metricsOnce      sync.Once
	activityDuration metric.Float64Histogram
	activityOutcomes metric.Int64Counter
)

// initMetrics creates the activity instruments on the global meter. Errors
// leave the no-op instruments in place.
func initMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter(instrumentationName)
		activityDuration, _ = meter.Float64Histogram(
			"mcpforge.workflows.activity.duration",
			metric.WithDescription("Duration of pipeline activity executions"),
			metric.WithUnit("s"),
		)
		activityOutcomes, _ = meter.Int64Counter(
			"mcpforge.workflows.activity.outcomes",
			metric.WithDescription("Pipeline activity executions by terminal phase"),
			metric.WithUnit("{execution}"),
		)
	})
}

func recordActivity(ctx context.Context, phase string, elapsed time.Duration) {
	initMetrics()
	attrs := metric.WithAttributes(attribute.String("phase", phase))
	if activityDuration != nil {
		activityDuration.Record(ctx, elapsed.Seconds(), attrs)
	}
	if activityOutcomes != nil {
		activityOutcomes.Add(ctx, 1, attrs)
	}
}
