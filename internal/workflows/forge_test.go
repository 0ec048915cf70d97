package workflows

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	"github.com/fyrsmithlabs/mcpforge/internal/orchestrator"
)

type stubCollaborators struct {
	probePasses bool
}

func (s *stubCollaborators) Generate(context.Context, orchestrator.Input) (orchestrator.Bundle, error) {
	return orchestrator.Bundle{"package.json": "{}", "index.js": "main()"}, nil
}

func (s *stubCollaborators) CreateRepository(_ context.Context, name string, _ orchestrator.Bundle, _ orchestrator.Visibility) (string, error) {
	return "acme/" + name, nil
}

func (s *stubCollaborators) RequestSandbox(context.Context, string, orchestrator.Bundle) (orchestrator.Endpoints, error) {
	return orchestrator.Endpoints{SandboxEndpoint: "https://sb.test", ProtocolEndpoint: "https://sb.test"}, nil
}

func (s *stubCollaborators) Probe(context.Context, string) (orchestrator.ProbeResult, error) {
	if s.probePasses {
		return orchestrator.ProbeResult{Passed: true, StatusCode: 200}, nil
	}
	return orchestrator.ProbeResult{StatusCode: 500, Detail: "crash"}, nil
}

func (s *stubCollaborators) Repair(_ context.Context, content, _ string) (string, error) {
	return content + "\n// repaired", nil
}

func (s *stubCollaborators) Promote(context.Context, string) (orchestrator.PromotionResult, error) {
	return orchestrator.PromotionResult{DeploymentID: "dep-1", ProductionURL: "https://prod.test"}, nil
}

func newActivities(t *testing.T, probePasses bool) *Activities {
	t.Helper()
	s := &stubCollaborators{probePasses: probePasses}
	o, err := orchestrator.New(orchestrator.DefaultConfig(), orchestrator.Collaborators{
		Generator: s, Host: s, Sandbox: s, Probe: s, Repairer: s, Promoter: s,
	})
	require.NoError(t, err)
	return &Activities{Orchestrator: o}
}

func specInput(runID string, cap int) ForgeInput {
	return ForgeInput{
		RunID: runID,
		Request: orchestrator.Request{
			Input:        orchestrator.Input{Kind: orchestrator.KindSpecification, Payload: "https://api.example.com/openapi.json"},
			IterationCap: cap,
		},
	}
}

func TestForgeWorkflow(t *testing.T) {
	t.Run("completed run", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()
		env.RegisterWorkflow(ForgeWorkflow)

		var a *Activities
		env.OnActivity(a.RunPipelineActivity, mock.Anything, mock.Anything).Return(&orchestrator.Summary{
			RunID:         "run-1",
			Phase:         orchestrator.PhaseCompleted,
			ProductionURL: "https://prod.test",
			Iterations:    1,
			IterationCap:  5,
		}, nil)

		env.ExecuteWorkflow(ForgeWorkflow, specInput("run-1", 5))

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())

		var result ForgeResult
		require.NoError(t, env.GetWorkflowResult(&result))
		assert.Equal(t, orchestrator.PhaseCompleted, result.Summary.Phase)
		assert.Equal(t, "https://prod.test", result.Summary.ProductionURL)
		assert.Empty(t, result.Severity)
		assert.Empty(t, result.Errors)
	})

	t.Run("failed run completes the workflow", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()
		env.RegisterWorkflow(ForgeWorkflow)

		var a *Activities
		env.OnActivity(a.RunPipelineActivity, mock.Anything, mock.Anything).Return(&orchestrator.Summary{
			RunID:     "run-2",
			Phase:     orchestrator.PhaseFailed,
			ErrorKind: orchestrator.KindIterationExhausted,
			Errors: []orchestrator.Entry{
				{Phase: orchestrator.PhaseTesting, Kind: orchestrator.KindProbeFailure, Message: "status 500: crash"},
				{Phase: orchestrator.PhaseTesting, Kind: orchestrator.KindIterationExhausted, Message: "probe still failing"},
			},
		}, nil)

		env.ExecuteWorkflow(ForgeWorkflow, specInput("run-2", 1))

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())

		var result ForgeResult
		require.NoError(t, env.GetWorkflowResult(&result))
		assert.Equal(t, ErrorSeverityHigh, result.Severity)
		assert.Equal(t, []string{"testing: status 500: crash", "testing: probe still failing"}, result.Errors)
	})

	t.Run("activity failure fails the workflow", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()
		env.RegisterWorkflow(ForgeWorkflow)

		var a *Activities
		env.OnActivity(a.RunPipelineActivity, mock.Anything, mock.Anything).
			Return(nil, errors.New("worker lost")).Once()

		env.ExecuteWorkflow(ForgeWorkflow, specInput("run-3", 1))

		require.True(t, env.IsWorkflowCompleted())
		err := env.GetWorkflowError()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "run_pipeline failed")
		env.AssertExpectations(t)
	})
}

func TestRunPipelineActivity(t *testing.T) {
	t.Run("completed", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestActivityEnvironment()
		acts := newActivities(t, true)
		env.RegisterActivity(acts)

		val, err := env.ExecuteActivity(acts.RunPipelineActivity, specInput("run-ok", 3))
		require.NoError(t, err)

		var s orchestrator.Summary
		require.NoError(t, val.Get(&s))
		assert.Equal(t, "run-ok", s.RunID)
		assert.Equal(t, orchestrator.PhaseCompleted, s.Phase)
		assert.Equal(t, "dep-1", s.DeploymentID)
		assert.Equal(t, 0, s.Iterations)
	})

	t.Run("exhausted", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestActivityEnvironment()
		acts := newActivities(t, false)
		env.RegisterActivity(acts)

		val, err := env.ExecuteActivity(acts.RunPipelineActivity, specInput("run-bad", 2))
		require.NoError(t, err)

		var s orchestrator.Summary
		require.NoError(t, val.Get(&s))
		assert.Equal(t, orchestrator.PhaseFailed, s.Phase)
		assert.Equal(t, orchestrator.KindIterationExhausted, s.ErrorKind)
		assert.Equal(t, 2, s.Iterations)
	})

	t.Run("not configured", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestActivityEnvironment()
		acts := &Activities{}
		env.RegisterActivity(acts)

		_, err := env.ExecuteActivity(acts.RunPipelineActivity, specInput("x", 1))
		assert.Error(t, err)
	})
}

func TestSeverityFor(t *testing.T) {
	assert.Equal(t, ErrorSeverityLow, SeverityFor(orchestrator.KindValidation))
	assert.Equal(t, ErrorSeverityLow, SeverityFor(orchestrator.KindCancelled))
	assert.Equal(t, ErrorSeverityHigh, SeverityFor(orchestrator.KindIterationExhausted))
	assert.Equal(t, ErrorSeverityCritical, SeverityFor(orchestrator.KindDeployment))
	assert.Equal(t, ErrorSeverityCritical, SeverityFor(orchestrator.KindPromotion))
}

func TestWorkflowError(t *testing.T) {
	base := errors.New("boom")
	err := NewWorkflowError("run_pipeline", ErrorSeverityCritical, base, "run-1")
	assert.Equal(t, "run_pipeline failed: boom (run-1)", err.Error())
	assert.ErrorIs(t, err, base)

	err = NewWorkflowError("run_pipeline", ErrorSeverityLow, base, "")
	assert.Equal(t, "run_pipeline failed: boom", err.Error())
}
