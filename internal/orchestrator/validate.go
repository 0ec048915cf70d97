package orchestrator

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks a run's input and iteration cap. It is a pure function
// of its arguments and never calls a collaborator.
func Validate(in Input, iterationCap int) error {
	payload := strings.TrimSpace(in.Payload)
	if payload == "" {
		return newError(KindValidation, PhaseIdle, ErrEmptyPayload)
	}

	switch in.Kind {
	case KindDescription:
	case KindSpecification:
		u, err := url.Parse(payload)
		if err != nil || !u.IsAbs() || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return newError(KindValidation, PhaseIdle, fmt.Errorf("%w: %q", ErrInvalidSpecURL, payload))
		}
	default:
		return newError(KindValidation, PhaseIdle, fmt.Errorf("%w: %q", ErrUnknownKind, in.Kind))
	}

	// A zero cap is a configuration error, not a run that fails at Testing.
	if iterationCap < 1 {
		return newError(KindValidation, PhaseIdle, fmt.Errorf("%w, got %d", ErrInvalidCap, iterationCap))
	}
	return nil
}
