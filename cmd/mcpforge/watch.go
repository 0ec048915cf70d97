package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/mcpforge/internal/events"
	"github.com/fyrsmithlabs/mcpforge/internal/orchestrator"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <run-id>",
		Short: "Follow a run's phase transitions over NATS",
		Long: `Watch prints each phase transition a run publishes to nats.url and exits
once the run completes or fails.`,
		Args: cobra.ExactArgs(1),
		RunE: runWatch,
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := loadBase(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.Background()) }()

	if a.cfg.NATS.URL == "" {
		return errors.New("nats.url is not configured")
	}
	nc, err := events.Connect(a.cfg.NATS.URL, a.logger.Named("events"))
	if err != nil {
		return err
	}
	defer nc.Close()

	out := cmd.OutOrStdout()
	var last orchestrator.Transition
	err = events.Watch(ctx, nc, args[0], func(t orchestrator.Transition) {
		last = t
		writeTransition(out, t)
	})
	if err != nil {
		return err
	}
	if last.To == orchestrator.PhaseFailed {
		return fmt.Errorf("run %s failed", args[0])
	}
	return nil
}

func writeTransition(w io.Writer, t orchestrator.Transition) {
	line := fmt.Sprintf("%s  %-10s -> %-10s  iteration=%d",
		t.At.UTC().Format(time.RFC3339), t.From, t.To, t.Iteration)
	if t.Error != "" {
		line += "  error=" + t.Error
	}
	fmt.Fprintln(w, line)
}
