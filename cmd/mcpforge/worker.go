package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mcpforge/internal/workflows"
)

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Execute runs submitted to Temporal",
		Args:  cobra.NoArgs,
		RunE:  runWorker,
	}
}

func runWorker(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := loadBase(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.Background()) }()

	if err := a.wire(ctx); err != nil {
		return err
	}

	c, err := a.dialTemporal(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	w := workflows.NewWorker(c, a.cfg.Temporal.TaskQueue, &workflows.Activities{Orchestrator: a.orch})

	a.logger.Info(ctx, "starting Temporal worker", zap.String("task_queue", a.cfg.Temporal.TaskQueue))
	if err := w.Run(worker.InterruptCh()); err != nil {
		return err
	}
	return nil
}
