package generator

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/mcpforge/internal/orchestrator"
)

// Router dispatches generation by input kind.
type Router struct {
	Specification orchestrator.Generator
	Description   orchestrator.Generator
}

// Generate implements orchestrator.Generator.
func (r *Router) Generate(ctx context.Context, in orchestrator.Input) (orchestrator.Bundle, error) {
	var g orchestrator.Generator
	switch in.Kind {
	case orchestrator.KindSpecification:
		g = r.Specification
	case orchestrator.KindDescription:
		g = r.Description
	}
	if g == nil {
		return nil, fmt.Errorf("no generator configured for %q input", in.Kind)
	}
	return g.Generate(ctx, in)
}
