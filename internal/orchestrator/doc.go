// Package orchestrator drives one MCP server from an input descriptor to a
// production deployment.
//
// # Phases
//
// A workflow run moves through a fixed state machine:
//
//	Idle → Generating → Deploying → Testing ⇄ Refining → Promoting → Completed
//
// Failed is reachable from every non-terminal phase. Completed and Failed are
// terminal; nothing leaves them.
//
// Each phase performs one externally visible side effect through a
// collaborator interface (Generator, RepositoryHost, Sandbox, Probe,
// Repairer, Promoter) and either merges its result into the WorkflowState or
// fails the run. Only the Testing ⇄ Refining cycle retries: a failing probe
// triggers one repair of the bundle's entry file, the repaired bundle is
// synced into the sandbox, and the probe runs again. The cycle is bounded by
// the iteration cap; a repair attempt always consumes an iteration, whether
// or not the repair call succeeded.
//
// # Errors
//
// Every failure is appended to the run's Ledger as {phase, kind, message,
// timestamp}. The ledger is append-only and its order is the causal
// timeline of the run. Persistence of the final record is best-effort: a
// failing RecordStore is logged and never turns a Completed run into a
// Failed one.
//
// # Concurrency
//
// A run is sequential and owns its WorkflowState exclusively. One
// Orchestrator may execute many runs concurrently; it holds no per-run
// mutable state. Cancellation is cooperative: ctx is checked before each
// phase and before each refine iteration, and a cancelled run ends Failed
// with KindCancelled.
//
// # Usage
//
//	orch, err := orchestrator.New(orchestrator.DefaultConfig(), orchestrator.Collaborators{
//	    Generator: gen,
//	    Host:      host,
//	    Sandbox:   sandbox,
//	    Probe:     probe,
//	    Repairer:  repairer,
//	    Promoter:  promoter,
//	    Store:     store, // optional
//	}, orchestrator.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	summary := orch.Run(ctx, orchestrator.Request{
//	    Input:        orchestrator.Input{Kind: orchestrator.KindSpecification, Payload: specURL},
//	    IterationCap: 3,
//	})
package orchestrator
