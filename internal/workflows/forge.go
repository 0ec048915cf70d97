// Package workflows runs the forge pipeline as a Temporal workflow so runs
// survive process restarts and can be queried from any client.
package workflows

import (
	"context"
	"errors"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/fyrsmithlabs/mcpforge/internal/orchestrator"
)

// DefaultActivityTimeout bounds one pipeline execution.
const DefaultActivityTimeout = 30 * time.Minute

// ForgeInput starts a ForgeWorkflow.
type ForgeInput struct {
	RunID           string               `json:"run_id"`
	Request         orchestrator.Request `json:"request"`
	ActivityTimeout time.Duration        `json:"activity_timeout,omitempty"`
}

// ForgeResult is the workflow outcome. A failed run still completes the
// workflow; its failure is described by Errors and Severity.
type ForgeResult struct {
	Summary  orchestrator.Summary `json:"summary"`
	Severity ErrorSeverity        `json:"severity,omitempty"`
	Errors   []string             `json:"errors,omitempty"`
}

// ForgeWorkflow executes the whole pipeline as one activity. The activity
// is never retried: repositories and deployments are not idempotent.
func ForgeWorkflow(ctx workflow.Context, in ForgeInput) (*ForgeResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting forge run", "run_id", in.RunID, "input_kind", in.Request.Input.Kind)

	timeout := in.ActivityTimeout
	if timeout <= 0 {
		timeout = DefaultActivityTimeout
	}
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	})

	result := &ForgeResult{}
	var a *Activities
	if err := workflow.ExecuteActivity(ctx, a.RunPipelineActivity, in).Get(ctx, &result.Summary); err != nil {
		result.Severity = ErrorSeverityCritical
		result.Errors = append(result.Errors, FormatErrorForResult("failed to run pipeline", err))
		return result, NewWorkflowError("run_pipeline", ErrorSeverityCritical, err, in.RunID)
	}

	s := result.Summary
	if !s.Succeeded() {
		result.Severity = SeverityFor(s.ErrorKind)
		for _, e := range s.Errors {
			result.Errors = append(result.Errors, FormatErrorForResult(string(e.Phase), errors.New(e.Message)))
		}
	}
	logger.Info("Forge run finished",
		"run_id", s.RunID,
		"phase", s.Phase,
		"iterations", s.Iterations,
		"production_url", s.ProductionURL)
	return result, nil
}

// Activities holds the dependencies of the pipeline activity.
type Activities struct {
	Orchestrator *orchestrator.Orchestrator
}

// RunPipelineActivity executes one run. Run failures are returned in the
// summary, not as an activity error.
func (a *Activities) RunPipelineActivity(ctx context.Context, in ForgeInput) (*orchestrator.Summary, error) {
	if a == nil || a.Orchestrator == nil {
		return nil, errors.New("orchestrator not configured")
	}
	runID := in.RunID
	if runID == "" {
		runID = activity.GetInfo(ctx).WorkflowExecution.ID
	}

	start := time.Now()
	s := a.Orchestrator.RunWithID(ctx, runID, in.Request)
	recordActivity(ctx, string(s.Phase), time.Since(start))
	return &s, nil
}

// NewWorker creates a worker on taskQueue with the forge workflow and
// activity registered.
func NewWorker(c client.Client, taskQueue string, acts *Activities) worker.Worker {
	w := worker.New(c, taskQueue, worker.Options{})
	w.RegisterWorkflow(ForgeWorkflow)
	w.RegisterActivity(acts)
	return w
}

// Start begins a ForgeWorkflow whose workflow id is the run id.
func Start(ctx context.Context, c client.Client, taskQueue string, in ForgeInput) (client.WorkflowRun, error) {
	opts := client.StartWorkflowOptions{
		ID:        in.RunID,
		TaskQueue: taskQueue,
	}
	return c.ExecuteWorkflow(ctx, opts, ForgeWorkflow, in)
}
