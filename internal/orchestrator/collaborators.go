package orchestrator

import (
	"context"
	"errors"
)

// Every collaborator must honor ctx: the orchestrator bounds each call with
// a per-call deadline and relies on the collaborator returning once it
// expires. Implementations must be safe for concurrent use by distinct runs.

// Generator turns an Input into a file bundle.
type Generator interface {
	Generate(ctx context.Context, in Input) (Bundle, error)
}

// RepositoryHost creates the repository that backs a deployment.
type RepositoryHost interface {
	CreateRepository(ctx context.Context, name string, files Bundle, visibility Visibility) (repositoryID string, err error)
}

// Sandbox provisions a dev environment for a repository. When files is
// non-empty the sandbox persists them, commits, and (re)starts the service
// before returning.
type Sandbox interface {
	RequestSandbox(ctx context.Context, repositoryID string, files Bundle) (Endpoints, error)
}

// Probe performs one protocol handshake against a deployed endpoint. A
// transport error or non-2xx response is reported as Passed=false, not as
// an error.
type Probe interface {
	Probe(ctx context.Context, protocolEndpoint string) (ProbeResult, error)
}

// Repairer rewrites one file according to natural-language instructions.
type Repairer interface {
	Repair(ctx context.Context, fileContent, instructions string) (string, error)
}

// Promoter moves a validated repository to a durable production endpoint.
type Promoter interface {
	Promote(ctx context.Context, repositoryID string) (PromotionResult, error)
}

// RecordStore persists completed deployments. Optional.
type RecordStore interface {
	SaveRecord(ctx context.Context, rec Record) (recordID string, err error)
}

// Collaborators bundles the external services a run uses. Store may be nil,
// which disables persistence.
type Collaborators struct {
	Generator Generator
	Host      RepositoryHost
	Sandbox   Sandbox
	Probe     Probe
	Repairer  Repairer
	Promoter  Promoter
	Store     RecordStore
}

func (c Collaborators) validate() error {
	var errs []error
	if c.Generator == nil {
		errs = append(errs, errors.New("generator cannot be nil"))
	}
	if c.Host == nil {
		errs = append(errs, errors.New("repository host cannot be nil"))
	}
	if c.Sandbox == nil {
		errs = append(errs, errors.New("sandbox cannot be nil"))
	}
	if c.Probe == nil {
		errs = append(errs, errors.New("probe cannot be nil"))
	}
	if c.Repairer == nil {
		errs = append(errs, errors.New("repairer cannot be nil"))
	}
	if c.Promoter == nil {
		errs = append(errs, errors.New("promoter cannot be nil"))
	}
	return errors.Join(errs...)
}
