package http

import (
	"time"

	"github.com/fyrsmithlabs/mcpforge/internal/orchestrator"
)

// CreateRunRequest is the request body for POST /api/v1/runs.
type CreateRunRequest struct {
	Kind         string `json:"kind"`
	Payload      string `json:"payload"`
	IterationCap int    `json:"iteration_cap"`
	OwnerID      string `json:"owner_id,omitempty"`
}

// CreateRunResponse is the response body for POST /api/v1/runs.
type CreateRunResponse struct {
	RunID  string             `json:"run_id"`
	Phase  orchestrator.Phase `json:"phase"`
	Status string             `json:"status_url"`
}

// RunStatusResponse is the response body for GET /api/v1/runs/:id. Summary
// is set once the run reaches a terminal phase.
type RunStatusResponse struct {
	RunID     string                `json:"run_id"`
	Phase     orchestrator.Phase    `json:"phase"`
	Iteration int                   `json:"iteration"`
	UpdatedAt time.Time             `json:"updated_at"`
	Summary   *orchestrator.Summary `json:"summary,omitempty"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status     string `json:"status"`
	ActiveRuns int    `json:"active_runs"`
}

// DeploymentResponse is one stored deployment record.
type DeploymentResponse struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Name        string    `json:"name"`
	Endpoint    string    `json:"endpoint"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// ListDeploymentsResponse is the response body for GET /api/v1/deployments.
type ListDeploymentsResponse struct {
	Deployments []DeploymentResponse `json:"deployments"`
}
