package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mcpforge/internal/config"
	httpserver "github.com/fyrsmithlabs/mcpforge/internal/http"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the run API",
		Long: `Serve exposes POST /api/v1/runs, GET /api/v1/runs/:id, /health and
/metrics, plus GET /api/v1/deployments[/:id] when the record store is
enabled. Runs execute in process; SIGINT or SIGTERM drains them within
server.shutdown_timeout.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := loadBase(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.Background()) }()

	tracker := httpserver.NewTracker(
		httpserver.WithRetention(a.cfg.Server.RunRetention.Duration()),
		httpserver.WithMaxFinished(a.cfg.Server.MaxFinishedRuns),
	)
	if err := a.wire(ctx, tracker); err != nil {
		return err
	}

	srvCfg := &httpserver.Config{
		Host:                a.cfg.Server.Host,
		Port:                a.cfg.Server.Port,
		DefaultIterationCap: a.cfg.Pipeline.IterationCap,
		Tokens:              apiTokens(a.cfg.Server.APITokens),
	}
	if a.store != nil {
		srvCfg.Deployments = a.store
	}
	srv, err := httpserver.NewServer(a.orch, tracker, a.logger.Named("http"), srvCfg)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info(ctx, "http server starting",
			zap.String("host", a.cfg.Server.Host),
			zap.Int("port", a.cfg.Server.Port),
		)
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info(context.Background(), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

func apiTokens(cfg []config.APIToken) map[string]string {
	if len(cfg) == 0 {
		return nil
	}
	m := make(map[string]string, len(cfg))
	for _, t := range cfg {
		m[t.Token.Value()] = t.Owner
	}
	return m
}
