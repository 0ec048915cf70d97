package workflows

import (
	"fmt"

	"github.com/fyrsmithlabs/mcpforge/internal/orchestrator"
)

// ErrorSeverity grades a run failure for workflow callers.
type ErrorSeverity string

const (
	// ErrorSeverityCritical indicates the pipeline broke and needs attention.
	ErrorSeverityCritical ErrorSeverity = "critical"
	// ErrorSeverityHigh indicates the server was deployed but never passed its probe.
	ErrorSeverityHigh ErrorSeverity = "high"
	// ErrorSeverityLow indicates the request was rejected or abandoned.
	ErrorSeverityLow ErrorSeverity = "low"
)

// WorkflowError represents a structured error in a workflow.
type WorkflowError struct {
	Operation string
	Severity  ErrorSeverity
	Err       error
	Context   string
}

// Error implements the error interface.
func (e *WorkflowError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s failed: %s (%s)", e.Operation, e.Err.Error(), e.Context)
	}
	return fmt.Sprintf("%s failed: %s", e.Operation, e.Err.Error())
}

// Unwrap allows errors.Is and errors.As to work with WorkflowError.
func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// NewWorkflowError creates a new workflow error with context.
func NewWorkflowError(operation string, severity ErrorSeverity, err error, context string) *WorkflowError {
	return &WorkflowError{
		Operation: operation,
		Severity:  severity,
		Err:       err,
		Context:   context,
	}
}

// SeverityFor grades the terminal error kind of a failed run.
func SeverityFor(kind orchestrator.Kind) ErrorSeverity {
	switch kind {
	case orchestrator.KindValidation, orchestrator.KindCancelled:
		return ErrorSeverityLow
	case orchestrator.KindIterationExhausted, orchestrator.KindProbeFailure, orchestrator.KindRepair:
		return ErrorSeverityHigh
	default:
		return ErrorSeverityCritical
	}
}

// FormatErrorForResult formats an error for inclusion in ForgeResult.Errors.
func FormatErrorForResult(operation string, err error) string {
	return fmt.Sprintf("%s: %v", operation, err)
}
