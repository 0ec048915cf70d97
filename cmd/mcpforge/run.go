package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/fyrsmithlabs/mcpforge/internal/orchestrator"
	"github.com/fyrsmithlabs/mcpforge/internal/workflows"
)

var (
	runKind       string
	runIterations int
	runOwner      string
	runOutput     string
	runTemporal   bool
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <payload>",
		Short: "Run the pipeline once and print the summary",
		Long: `Run executes one generate, deploy, test, repair and promote cycle.

The payload is an OpenAPI document URL for --kind specification, or a
plain-language request for --kind description. With --temporal the run is
submitted to the configured Temporal task queue and executed by a worker.`,
		Example: `  mcpforge run https://petstore3.swagger.io/api/v3/openapi.json
  mcpforge run --kind description --iterations 3 "todo list with due dates"
  mcpforge run --output yaml --temporal https://api.example.com/openapi.json`,
		Args: cobra.ExactArgs(1),
		RunE: runRun,
	}
	cmd.Flags().StringVarP(&runKind, "kind", "k", string(orchestrator.KindSpecification), "input kind: specification or description")
	cmd.Flags().IntVarP(&runIterations, "iterations", "n", 0, "repair iteration cap (default from config)")
	cmd.Flags().StringVar(&runOwner, "owner", "", "owner id recorded with the deployment")
	cmd.Flags().StringVarP(&runOutput, "output", "o", "json", "summary format: json or yaml")
	cmd.Flags().BoolVar(&runTemporal, "temporal", false, "submit the run to Temporal instead of running in process")
	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	kind, err := orchestrator.ParseInputKind(runKind)
	if err != nil {
		return err
	}
	if runOutput != "json" && runOutput != "yaml" {
		return fmt.Errorf("unsupported output format %q", runOutput)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := loadBase(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.Background()) }()

	req := orchestrator.Request{
		Input:        orchestrator.Input{Kind: kind, Payload: args[0]},
		IterationCap: runIterations,
		OwnerID:      runOwner,
	}
	if req.IterationCap == 0 {
		req.IterationCap = a.cfg.Pipeline.IterationCap
	}
	if err := orchestrator.Validate(req.Input, req.IterationCap); err != nil {
		return err
	}

	var summary orchestrator.Summary
	if runTemporal {
		summary, err = a.runOnTemporal(ctx, req)
		if err != nil {
			return err
		}
	} else {
		if err := a.wire(ctx); err != nil {
			return err
		}
		summary = a.orch.Run(ctx, req)
	}

	if err := writeSummary(cmd.OutOrStdout(), summary, runOutput); err != nil {
		return err
	}
	if !summary.Succeeded() {
		return fmt.Errorf("run %s failed: %s", summary.RunID, summary.ErrorKind)
	}
	return nil
}

func (a *app) runOnTemporal(ctx context.Context, req orchestrator.Request) (orchestrator.Summary, error) {
	c, err := a.dialTemporal(ctx)
	if err != nil {
		return orchestrator.Summary{}, err
	}
	defer c.Close()

	run, err := workflows.Start(ctx, c, a.cfg.Temporal.TaskQueue, workflows.ForgeInput{
		RunID:   ulid.Make().String(),
		Request: req,
	})
	if err != nil {
		return orchestrator.Summary{}, err
	}
	a.logger.Info(ctx, "workflow submitted",
		zap.String("workflow_id", run.GetID()),
		zap.String("run_id", run.GetRunID()),
	)

	var result workflows.ForgeResult
	if err := run.Get(ctx, &result); err != nil {
		return orchestrator.Summary{}, fmt.Errorf("workflow %s: %w", run.GetID(), err)
	}
	if result.Summary.RunID == "" {
		return orchestrator.Summary{}, errors.New("workflow returned no summary")
	}
	return result.Summary, nil
}

// writeSummary renders s as indented JSON or as block-style YAML with the
// same keys.
func writeSummary(w io.Writer, s orchestrator.Summary, format string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	if format != "yaml" {
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return fmt.Errorf("failed to convert summary: %w", err)
	}
	blockStyle(&node)
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	return enc.Close()
}

// blockStyle clears the flow and quoting styles inherited from JSON. The
// encoder still quotes strings that would otherwise resolve to another type.
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}
