package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mcpforge/internal/logging"
)

// Transition describes one phase change of a run.
type Transition struct {
	RunID     string    `json:"run_id"`
	OwnerID   string    `json:"owner_id,omitempty"`
	From      Phase     `json:"from"`
	To        Phase     `json:"to"`
	At        time.Time `json:"at"`
	Iteration int       `json:"iteration"`
	Error     string    `json:"error,omitempty"`
}

// Observer is notified synchronously of every phase transition. Observers
// must not block; a slow observer delays the run.
type Observer interface {
	OnTransition(ctx context.Context, t Transition)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, t Transition)

// OnTransition calls f.
func (f ObserverFunc) OnTransition(ctx context.Context, t Transition) {
	f(ctx, t)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver registers an additional transition observer.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observers = append(o.observers, obs)
		}
	}
}

// WithGate adds a pre-deploy gate. Gates run in registration order after
// the built-in path gate.
func WithGate(g Gate) Option {
	return func(o *Orchestrator) {
		if g != nil {
			o.gates = append(o.gates, g)
		}
	}
}

// WithTracer sets the tracer used for run and collaborator spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithMeter sets the meter used for run metrics.
func WithMeter(m metric.Meter) Option {
	return func(o *Orchestrator) {
		o.meter = m
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// Orchestrator drives workflow runs through the phase state machine. It
// holds no per-run state and is safe for concurrent Run calls.
type Orchestrator struct {
	cfg       Config
	c         Collaborators
	gates     []Gate
	observers []Observer
	logger    *logging.Logger
	tracer    trace.Tracer
	meter     metric.Meter
	metrics   *runMetrics
	reporter  *Reporter
	now       func() time.Time
}

// New creates an Orchestrator. All collaborators except Store are required.
func New(cfg Config, c Collaborators, opts ...Option) (*Orchestrator, error) {
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("invalid collaborators: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid orchestrator config: %w", err)
	}

	o := &Orchestrator{
		cfg:    cfg,
		c:      c,
		gates:  []Gate{NewPathGate()},
		logger: logging.NewNop(),
		tracer: otel.Tracer(instrumentationName),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.Named("orchestrator")
	o.metrics = newRunMetrics(o.meter)
	o.reporter = NewReporter(c.Store, cfg.PersistTimeout, o.logger)
	return o, nil
}

// NewRunID returns a fresh, lexically sortable run id.
func (o *Orchestrator) NewRunID() string {
	return ulid.MustNew(ulid.Timestamp(o.now()), ulid.DefaultEntropy()).String()
}

// Run executes one workflow to a terminal phase and returns its summary.
// Failures are reported in the summary, never as a Go error.
func (o *Orchestrator) Run(ctx context.Context, req Request) Summary {
	return o.RunWithID(ctx, o.NewRunID(), req)
}

// RunWithID is Run with a caller-assigned run id.
func (o *Orchestrator) RunWithID(ctx context.Context, runID string, req Request) Summary {
	state := NewWorkflowState(runID, req, o.now())
	ctx = logging.WithRunID(ctx, runID)
	ctx = logging.WithOwnerID(ctx, req.OwnerID)

	ctx, span := o.tracer.Start(ctx, "orchestrator.run", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.String("input.kind", string(req.Input.Kind)),
		attribute.Int("iteration.cap", req.IterationCap),
	))
	defer span.End()

	o.logger.Info(ctx, "run started",
		zap.String("input_kind", string(req.Input.Kind)),
		zap.Int("iteration_cap", req.IterationCap),
	)

	r := &run{Orchestrator: o, state: state}
	r.execute(ctx)

	// Persistence must not be skipped because the caller's ctx ended.
	summary := o.reporter.Report(context.WithoutCancel(ctx), state)

	span.SetAttributes(
		attribute.String("phase", string(summary.Phase)),
		attribute.Int("iterations", summary.Iterations),
		attribute.Int("errors", len(summary.Errors)),
	)
	if summary.Succeeded() {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, string(summary.ErrorKind))
	}
	o.metrics.recordRun(ctx, summary)

	o.logger.Info(ctx, "run finished",
		zap.String("phase", string(summary.Phase)),
		zap.String("error_kind", string(summary.ErrorKind)),
		zap.Int("iterations", summary.Iterations),
		zap.Int("errors", len(summary.Errors)),
		zap.String("production_url", summary.ProductionURL),
	)
	return summary
}

// run carries the state of one execution.
type run struct {
	*Orchestrator
	state *WorkflowState
}

func (r *run) execute(ctx context.Context) {
	if err := Validate(r.state.Input, r.state.Iteration.Cap); err != nil {
		r.fail(ctx, err)
		return
	}

	steps := []struct {
		phase Phase
		fn    func(context.Context) error
	}{
		{PhaseGenerating, r.generate},
		{PhaseDeploying, r.deploy},
		{PhaseTesting, r.testAndRefine},
		{PhasePromoting, r.promote},
	}
	for _, step := range steps {
		if err := r.cancelled(ctx); err != nil {
			r.fail(ctx, err)
			return
		}
		r.advance(ctx, step.phase, nil)
		if err := step.fn(ctx); err != nil {
			r.fail(ctx, err)
			return
		}
	}

	completed := r.now()
	r.state.CompletedAt = &completed
	r.advance(ctx, PhaseCompleted, nil)
}

func (r *run) generate(ctx context.Context) error {
	var bundle Bundle
	err := r.call(ctx, "generate", r.cfg.GenerationTimeout, func(ctx context.Context) error {
		var err error
		bundle, err = r.c.Generator.Generate(ctx, r.state.Input)
		return err
	})
	if err != nil {
		return r.classify(KindGeneration, err)
	}
	if len(bundle) == 0 {
		return newError(KindGeneration, PhaseGenerating, ErrEmptyBundle)
	}
	r.state.Bundle = bundle.Clone()
	r.logger.Info(ctx, "bundle generated", zap.Int("files", len(bundle)))
	return nil
}

func (r *run) deploy(ctx context.Context) error {
	for _, g := range r.gates {
		if err := g.Check(ctx, r.state.Bundle); err != nil {
			return newError(KindDeployment, PhaseDeploying, fmt.Errorf("gate %s: %w", g.Name(), err))
		}
	}

	name := RepositoryName(r.cfg.RepoPrefix, r.now())
	var repoID string
	err := r.call(ctx, "create_repository", r.cfg.DeployTimeout, func(ctx context.Context) error {
		var err error
		repoID, err = r.c.Host.CreateRepository(ctx, name, r.state.Bundle, r.cfg.Visibility)
		return err
	})
	if err != nil {
		return r.classify(KindDeployment, fmt.Errorf("create repository %s: %w", name, err))
	}
	if repoID == "" {
		return newError(KindDeployment, PhaseDeploying, fmt.Errorf("repository host returned no id for %s", name))
	}
	r.state.Deployment = &DeploymentHandle{RepositoryID: repoID, RepositoryName: name}

	eps, err := r.requestSandbox(ctx, r.state.Bundle)
	if err != nil {
		return r.classify(KindDeployment, err)
	}
	r.state.Deployment.Endpoints = eps
	r.logger.Info(ctx, "deployment ready",
		zap.String("repository_id", repoID),
		zap.String("protocol_endpoint", eps.ProtocolEndpoint),
	)
	return nil
}

func (r *run) requestSandbox(ctx context.Context, files Bundle) (Endpoints, error) {
	var eps Endpoints
	err := r.call(ctx, "request_sandbox", r.cfg.DeployTimeout, func(ctx context.Context) error {
		var err error
		eps, err = r.c.Sandbox.RequestSandbox(ctx, r.state.Deployment.RepositoryID, files)
		return err
	})
	if err != nil {
		return Endpoints{}, err
	}
	if eps.ProtocolEndpoint == "" {
		return Endpoints{}, ErrNoProtocolAddress
	}
	return eps, nil
}

// testAndRefine probes the deployment and repairs it until the probe
// passes or the iteration cap is spent. It starts and ends in Testing.
func (r *run) testAndRefine(ctx context.Context) error {
	for {
		result, err := r.probe(ctx)
		if err != nil {
			return err
		}
		if result.Passed {
			r.logger.Info(ctx, "probe passed", zap.Int("iteration", r.state.Iteration.Count))
			return nil
		}

		r.record(PhaseTesting, KindProbeFailure, probeMessage(result))
		r.logger.Warn(ctx, "probe failed",
			zap.Int("status", result.StatusCode),
			zap.String("detail", result.Detail),
			zap.Int("iteration", r.state.Iteration.Count),
		)

		if !r.state.Iteration.CanRefineAgain() {
			return newError(KindIterationExhausted, PhaseTesting, fmt.Errorf(
				"probe still failing after %d of %d repair iterations: %s",
				r.state.Iteration.Count, r.state.Iteration.Cap, probeMessage(result)))
		}
		if err := r.cancelled(ctx); err != nil {
			return err
		}

		r.advance(ctx, PhaseRefining, nil)
		if err := r.refine(ctx, result); err != nil {
			return err
		}
		r.advance(ctx, PhaseTesting, nil)
	}
}

func (r *run) probe(ctx context.Context) (ProbeResult, error) {
	var result ProbeResult
	err := r.call(ctx, "probe", r.cfg.ProbeTimeout, func(ctx context.Context) error {
		var err error
		result, err = r.c.Probe.Probe(ctx, r.state.Deployment.ProtocolEndpoint)
		return err
	})
	if err != nil {
		if KindOf(err) == KindCancelled {
			return ProbeResult{}, err
		}
		return ProbeResult{Passed: false, Detail: err.Error()}, nil
	}
	// Probes report transport errors as failing results, so a cancelled
	// run can surface here without an error.
	if err := r.cancelled(ctx); err != nil {
		return ProbeResult{}, err
	}
	return result, nil
}

// refine performs one repair iteration. Repair failures are recorded and
// consume the iteration; only cancellation is returned as an error.
func (r *run) refine(ctx context.Context, result ProbeResult) error {
	if !r.state.Iteration.Consume() {
		return newError(KindIterationExhausted, PhaseRefining, fmt.Errorf("iteration cap %d reached", r.state.Iteration.Cap))
	}

	target := RepairTarget(r.state.Bundle)
	instructions := RepairInstructions(target, result, r.state.Iteration)

	var repaired string
	err := r.call(ctx, "repair", r.cfg.RepairTimeout, func(ctx context.Context) error {
		var err error
		repaired, err = r.c.Repairer.Repair(ctx, r.state.Bundle[target], instructions)
		return err
	})
	if err == nil && repaired == "" {
		err = errors.New("repairer returned empty content")
	}
	if err != nil {
		if KindOf(err) == KindCancelled {
			return err
		}
		r.metrics.recordRepair(ctx, "error")
		r.record(PhaseRefining, KindRepair, fmt.Sprintf("repair %s: %v", target, err))
		r.logger.Warn(ctx, "repair failed", zap.String("file", target), zap.Error(err))
		return nil
	}

	r.state.Bundle = r.state.Bundle.With(target, repaired)

	eps, err := r.requestSandbox(ctx, r.state.Bundle)
	if err != nil {
		if KindOf(err) == KindCancelled {
			return err
		}
		r.metrics.recordRepair(ctx, "error")
		r.record(PhaseRefining, KindRepair, fmt.Sprintf("apply repaired bundle: %v", err))
		r.logger.Warn(ctx, "failed to apply repaired bundle", zap.Error(err))
		return nil
	}
	r.state.Deployment.Endpoints = eps

	r.metrics.recordRepair(ctx, "applied")
	r.logger.Info(ctx, "repair applied",
		zap.String("file", target),
		zap.Int("iteration", r.state.Iteration.Count),
		zap.Int("remaining", r.state.Iteration.Remaining()),
	)
	return nil
}

func (r *run) promote(ctx context.Context) error {
	var res PromotionResult
	err := r.call(ctx, "promote", r.cfg.PromotionTimeout, func(ctx context.Context) error {
		var err error
		res, err = r.c.Promoter.Promote(ctx, r.state.Deployment.RepositoryID)
		return err
	})
	if err != nil {
		return r.classify(KindPromotion, err)
	}
	if res.ProductionURL == "" {
		return newError(KindPromotion, PhasePromoting, ErrNoProductionURL)
	}
	r.state.Promotion = &res
	r.logger.Info(ctx, "promoted",
		zap.String("deployment_id", res.DeploymentID),
		zap.String("production_url", res.ProductionURL),
	)
	return nil
}

// call invokes fn under a span and a per-call deadline. Cancellation of the
// parent context is returned as a KindCancelled error; an expired per-call
// deadline is an ordinary failure.
func (r *run) call(ctx context.Context, op string, timeout time.Duration, fn func(context.Context) error) error {
	ctx, span := r.tracer.Start(ctx, "orchestrator."+op, trace.WithAttributes(
		attribute.String("phase", string(r.state.Phase)),
		attribute.Int("iteration", r.state.Iteration.Count),
	))
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := fn(callCtx)
	r.metrics.recordCall(ctx, op, time.Since(start), err)
	if err == nil {
		return nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if ctxErr := ctx.Err(); ctxErr != nil {
		return newError(KindCancelled, r.state.Phase, ctxErr)
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s timed out after %s: %w", op, timeout, err)
	}
	return err
}

// classify tags err with kind unless it is already a cancellation.
func (r *run) classify(kind Kind, err error) error {
	if KindOf(err) == KindCancelled {
		return err
	}
	return newError(kind, r.state.Phase, err)
}

func (r *run) cancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return newError(KindCancelled, r.state.Phase, err)
	}
	return nil
}

func (r *run) record(phase Phase, kind Kind, msg string) {
	r.state.Errors.Append(Entry{Phase: phase, Kind: kind, Message: msg, Timestamp: r.now()})
}

// fail appends one ledger entry for err, tagged with the current phase, and
// moves the run to Failed.
func (r *run) fail(ctx context.Context, err error) {
	kind := KindOf(err)
	msg := err.Error()
	var e *Error
	if errors.As(err, &e) {
		msg = e.Message()
	}
	if kind == "" {
		kind = defaultKind(r.state.Phase)
	}
	r.record(r.state.Phase, kind, msg)
	r.logger.Error(ctx, "run failed",
		zap.String("phase", string(r.state.Phase)),
		zap.String("kind", string(kind)),
		zap.Error(err),
	)
	r.advance(ctx, PhaseFailed, err)
}

func defaultKind(p Phase) Kind {
	switch p {
	case PhaseIdle:
		return KindValidation
	case PhaseGenerating:
		return KindGeneration
	case PhaseDeploying:
		return KindDeployment
	case PhaseTesting:
		return KindIterationExhausted
	case PhaseRefining:
		return KindRepair
	case PhasePromoting:
		return KindPromotion
	default:
		return KindCancelled
	}
}

func (r *run) advance(ctx context.Context, to Phase, cause error) {
	from := r.state.Phase
	if !from.CanTransitionTo(to) {
		panic(fmt.Sprintf("BUG: illegal phase transition %s -> %s", from, to))
	}
	r.state.Phase = to

	r.logger.Debug(ctx, "phase transition",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Int("iteration", r.state.Iteration.Count),
	)
	r.metrics.recordTransition(ctx, to)

	t := Transition{
		RunID:     r.state.RunID,
		OwnerID:   r.state.OwnerID,
		From:      from,
		To:        to,
		At:        r.now(),
		Iteration: r.state.Iteration.Count,
	}
	if cause != nil {
		t.Error = cause.Error()
	}
	for _, obs := range r.observers {
		obs.OnTransition(ctx, t)
	}
}

func probeMessage(res ProbeResult) string {
	switch {
	case res.StatusCode != 0 && res.Detail != "":
		return fmt.Sprintf("status %d: %s", res.StatusCode, res.Detail)
	case res.StatusCode != 0:
		return fmt.Sprintf("status %d", res.StatusCode)
	case res.Detail != "":
		return res.Detail
	default:
		return "probe did not pass"
	}
}
