package orchestrator

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/mcpforge/internal/logging"
	"go.uber.org/zap"
)

// maxRecordDescription bounds the description persisted with a record.
const maxRecordDescription = 500

// Summary is the immutable result of a workflow run.
type Summary struct {
	RunID          string     `json:"run_id"`
	OwnerID        string     `json:"owner_id,omitempty"`
	Phase          Phase      `json:"phase"`
	Input          Input      `json:"input"`
	RepositoryID   string     `json:"repository_id,omitempty"`
	RepositoryName string     `json:"repository_name,omitempty"`
	SandboxURL     string     `json:"sandbox_url,omitempty"`
	ProtocolURL    string     `json:"protocol_url,omitempty"`
	CodeEditorURL  string     `json:"code_editor_url,omitempty"`
	DeploymentID   string     `json:"deployment_id,omitempty"`
	ProductionURL  string     `json:"production_url,omitempty"`
	Files          []string   `json:"files,omitempty"`
	Iterations     int        `json:"iterations"`
	IterationCap   int        `json:"iteration_cap"`
	Errors         []Entry    `json:"errors"`
	ErrorKind      Kind       `json:"error_kind,omitempty"`
	RecordID       string     `json:"record_id,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// Succeeded reports whether the run reached Completed.
func (s Summary) Succeeded() bool {
	return s.Phase == PhaseCompleted
}

// HasDeployment reports whether a deployment handle was obtained.
func (s Summary) HasDeployment() bool {
	return s.RepositoryID != ""
}

// Reporter renders terminal states and performs best-effort persistence.
type Reporter struct {
	store   RecordStore
	timeout time.Duration
	logger  *logging.Logger
}

// NewReporter creates a reporter. store may be nil.
func NewReporter(store RecordStore, timeout time.Duration, logger *logging.Logger) *Reporter {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Reporter{store: store, timeout: timeout, logger: logger}
}

// Report persists a Completed run (at most one SaveRecord call) and returns
// the summary. Persistence failures are logged and never change the phase.
func (r *Reporter) Report(ctx context.Context, state *WorkflowState) Summary {
	if state.Phase == PhaseCompleted && r.store != nil {
		r.persist(ctx, state)
	}
	return summarize(state)
}

func (r *Reporter) persist(ctx context.Context, state *WorkflowState) {
	rec := Record{
		OwnerID:     state.OwnerID,
		Endpoint:    state.Promotion.ProductionURL,
		Description: truncate(state.Input.Payload, maxRecordDescription),
	}
	if state.Deployment != nil {
		rec.Name = state.Deployment.RepositoryName
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	id, err := r.store.SaveRecord(ctx, rec)
	if err != nil {
		r.logger.Warn(ctx, "failed to persist deployment record",
			zap.String("kind", string(KindPersistence)),
			zap.String("production_url", rec.Endpoint),
			zap.Error(err),
		)
		return
	}
	state.RecordID = id
	r.logger.Info(ctx, "deployment record saved", zap.String("record_id", id))
}

func summarize(state *WorkflowState) Summary {
	s := Summary{
		RunID:        state.RunID,
		OwnerID:      state.OwnerID,
		Phase:        state.Phase,
		Input:        state.Input,
		Files:        state.Bundle.Paths(),
		Iterations:   state.Iteration.Count,
		IterationCap: state.Iteration.Cap,
		Errors:       state.Errors.Snapshot(),
		RecordID:     state.RecordID,
		StartedAt:    state.StartedAt,
	}
	if d := state.Deployment; d != nil {
		s.RepositoryID = d.RepositoryID
		s.RepositoryName = d.RepositoryName
		s.SandboxURL = d.SandboxEndpoint
		s.ProtocolURL = d.ProtocolEndpoint
		s.CodeEditorURL = d.CodeEditorEndpoint
	}
	if p := state.Promotion; p != nil {
		s.DeploymentID = p.DeploymentID
		s.ProductionURL = p.ProductionURL
	}
	if state.CompletedAt != nil {
		at := *state.CompletedAt
		s.CompletedAt = &at
	}
	if state.Phase == PhaseFailed {
		if last, ok := state.Errors.Last(); ok {
			s.ErrorKind = last.Kind
		}
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
