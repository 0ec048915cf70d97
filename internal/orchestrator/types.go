package orchestrator

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Phase is one state of the workflow state machine.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseGenerating Phase = "generating"
	PhaseDeploying  Phase = "deploying"
	PhaseTesting    Phase = "testing"
	PhaseRefining   Phase = "refining"
	PhasePromoting  Phase = "promoting"
	PhaseCompleted  Phase = "completed"
	PhaseFailed     Phase = "failed"
)

// AllPhases returns every phase in nominal order.
func AllPhases() []Phase {
	return []Phase{
		PhaseIdle, PhaseGenerating, PhaseDeploying, PhaseTesting,
		PhaseRefining, PhasePromoting, PhaseCompleted, PhaseFailed,
	}
}

// transitions lists the legal successors of each phase. Failed is added for
// every non-terminal phase in CanTransitionTo.
var transitions = map[Phase][]Phase{
	PhaseIdle:       {PhaseGenerating},
	PhaseGenerating: {PhaseDeploying},
	PhaseDeploying:  {PhaseTesting},
	PhaseTesting:    {PhaseRefining, PhasePromoting},
	PhaseRefining:   {PhaseTesting},
	PhasePromoting:  {PhaseCompleted},
}

// Terminal reports whether no transition leaves p.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// CanTransitionTo reports whether p -> next is a legal transition.
func (p Phase) CanTransitionTo(next Phase) bool {
	if p.Terminal() {
		return false
	}
	if next == PhaseFailed {
		return true
	}
	for _, allowed := range transitions[p] {
		if allowed == next {
			return true
		}
	}
	return false
}

// InputKind tags the workflow input payload.
type InputKind string

const (
	// KindSpecification payloads are API description URLs.
	KindSpecification InputKind = "specification"
	// KindDescription payloads are natural-language requests.
	KindDescription InputKind = "description"
)

// ParseInputKind accepts the canonical names plus "openapi" and "spec".
func ParseInputKind(s string) (InputKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "specification", "spec", "openapi":
		return KindSpecification, nil
	case "description", "desc":
		return KindDescription, nil
	default:
		return "", fmt.Errorf("unknown input kind %q", s)
	}
}

// Input is the tagged workflow payload.
type Input struct {
	Kind    InputKind `json:"kind"`
	Payload string    `json:"payload"`
}

// Bundle maps relative file paths to file contents.
type Bundle map[string]string

// Clone returns an independent copy of b.
func (b Bundle) Clone() Bundle {
	out := make(Bundle, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// With returns a copy of b with path set to content.
func (b Bundle) With(path, content string) Bundle {
	out := b.Clone()
	out[path] = content
	return out
}

// Paths returns the bundle's paths in sorted order.
func (b Bundle) Paths() []string {
	paths := make([]string, 0, len(b))
	for p := range b {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Visibility of a created repository.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Endpoints are the network addresses a dev sandbox exposes.
type Endpoints struct {
	SandboxEndpoint    string `json:"sandbox_endpoint"`
	ProtocolEndpoint   string `json:"protocol_endpoint"`
	CodeEditorEndpoint string `json:"code_editor_endpoint,omitempty"`
}

// DeploymentHandle is populated by the Deploying phase.
type DeploymentHandle struct {
	RepositoryID   string `json:"repository_id"`
	RepositoryName string `json:"repository_name"`
	Endpoints
}

// PromotionResult is returned by a Promoter.
type PromotionResult struct {
	DeploymentID  string `json:"deployment_id"`
	ProductionURL string `json:"production_url"`
}

// ProbeResult is the outcome of one protocol probe. A failing probe is a
// data outcome, not an error.
type ProbeResult struct {
	Passed     bool   `json:"passed"`
	StatusCode int    `json:"status_code,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// Record is the metadata persisted for a completed deployment.
type Record struct {
	OwnerID     string `json:"owner_id"`
	Name        string `json:"name"`
	Endpoint    string `json:"endpoint"`
	Description string `json:"description"`
}

// Request starts a workflow run.
type Request struct {
	Input        Input  `json:"input"`
	IterationCap int    `json:"iteration_cap"`
	OwnerID      string `json:"owner_id,omitempty"`
}

// WorkflowState is the mutable state of one run. It is owned by exactly one
// run and never shared; callers only ever see a Summary.
type WorkflowState struct {
	RunID       string
	OwnerID     string
	Input       Input
	Bundle      Bundle
	Deployment  *DeploymentHandle
	Promotion   *PromotionResult
	Iteration   Iteration
	Phase       Phase
	Errors      *Ledger
	StartedAt   time.Time
	CompletedAt *time.Time
	RecordID    string
}

// NewWorkflowState creates the Idle state for req.
func NewWorkflowState(runID string, req Request, now time.Time) *WorkflowState {
	return &WorkflowState{
		RunID:     runID,
		OwnerID:   req.OwnerID,
		Input:     req.Input,
		Iteration: Iteration{Cap: req.IterationCap},
		Phase:     PhaseIdle,
		Errors:    NewLedger(),
		StartedAt: now,
	}
}
