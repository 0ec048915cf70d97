package orchestrator

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a workflow failure.
type Kind string

const (
	KindValidation         Kind = "ValidationError"
	KindGeneration         Kind = "GenerationError"
	KindDeployment         Kind = "DeploymentError"
	KindProbeFailure       Kind = "ProbeFailure"
	KindRepair             Kind = "RepairError"
	KindIterationExhausted Kind = "IterationExhausted"
	KindPromotion          Kind = "PromotionError"
	KindCancelled          Kind = "Cancelled"
	// KindPersistence is logged only; it is never appended to a ledger and
	// never fails a run.
	KindPersistence Kind = "PersistenceError"
)

// Fatal reports whether a failure of kind k ends the run.
func (k Kind) Fatal() bool {
	switch k {
	case KindProbeFailure, KindRepair, KindPersistence:
		return false
	default:
		return true
	}
}

// Error is a classified workflow failure.
type Error struct {
	Kind  Kind
	Phase Phase
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s during %s: %v", e.Kind, e.Phase, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Message returns the underlying failure text without the kind prefix.
func (e *Error) Message() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

// Is lets errors.Is match on Kind: errors.Is(err, &Error{Kind: KindValidation}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Phase == "" || t.Phase == e.Phase)
}

func newError(kind Kind, phase Phase, err error) *Error {
	return &Error{Kind: kind, Phase: phase, Err: err}
}

// KindOf extracts the Kind from err. Context cancellation maps to
// KindCancelled; anything unclassified returns "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return ""
}

var (
	ErrEmptyPayload      = errors.New("input payload is empty")
	ErrInvalidCap        = errors.New("iteration cap must be at least 1")
	ErrUnknownKind       = errors.New("unknown input kind")
	ErrInvalidSpecURL    = errors.New("specification must be an absolute http or https URL")
	ErrEmptyBundle       = errors.New("generator produced no files")
	ErrNoProtocolAddress = errors.New("sandbox returned no protocol endpoint")
	ErrNoProductionURL   = errors.New("promoter returned no production URL")
)
