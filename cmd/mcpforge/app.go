package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mcpforge/internal/config"
	"github.com/fyrsmithlabs/mcpforge/internal/events"
	"github.com/fyrsmithlabs/mcpforge/internal/generator"
	"github.com/fyrsmithlabs/mcpforge/internal/logging"
	"github.com/fyrsmithlabs/mcpforge/internal/orchestrator"
	"github.com/fyrsmithlabs/mcpforge/internal/probe"
	"github.com/fyrsmithlabs/mcpforge/internal/promoter"
	"github.com/fyrsmithlabs/mcpforge/internal/recordstore"
	"github.com/fyrsmithlabs/mcpforge/internal/repair"
	"github.com/fyrsmithlabs/mcpforge/internal/repohost"
	"github.com/fyrsmithlabs/mcpforge/internal/sandbox"
	"github.com/fyrsmithlabs/mcpforge/internal/secrets"
	"github.com/fyrsmithlabs/mcpforge/internal/telemetry"
)

const instrumentationName = "github.com/fyrsmithlabs/mcpforge"

// sandboxReadyTimeout bounds the wait for a local dev server port.
const sandboxReadyTimeout = 30 * time.Second

// app holds the process-wide dependencies shared by the commands.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	orch      *orchestrator.Orchestrator
	store     *recordstore.Store
	closers   []io.Closer
}

// loadBase reads configuration and sets up logging and telemetry.
func loadBase(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logCfg, err := logging.FromSettings(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, fmt.Errorf("invalid logging config: %w", err)
	}
	logger, err := logging.NewLogger(logCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if degraded, derr := tel.Degraded(); degraded {
		logger.Warn(ctx, "telemetry degraded, continuing without export", zap.Error(derr))
	}

	return &app{cfg: cfg, logger: logger, telemetry: tel}, nil
}

// wire builds every collaborator and the orchestrator. extra observers are
// registered after the event publisher.
func (a *app) wire(ctx context.Context, extra ...orchestrator.Observer) error {
	cfg := a.cfg
	log := a.logger

	gen, err := newGenerator(cfg.Generator, log)
	if err != nil {
		return err
	}

	gh, err := repohost.NewClient(ctx, cfg.GitHub.Token, cfg.GitHub.APIURL)
	if err != nil {
		return fmt.Errorf("github: %w", err)
	}
	host := repohost.New(gh, cfg.GitHub.Owner, repohost.WithLogger(log.Named("repohost")))

	sb, err := a.newSandbox(cfg)
	if err != nil {
		return err
	}

	rep, err := repair.New(repair.Config{
		BaseURL:           cfg.Repair.BaseURL,
		Model:             cfg.Repair.Model,
		APIKey:            cfg.Repair.APIKey,
		RequestsPerSecond: cfg.Repair.RequestsPerSecond,
		Timeout:           cfg.Pipeline.RepairTimeout.Duration(),
	}, log.Named("repair"))
	if err != nil {
		return fmt.Errorf("repair: %w", err)
	}

	prom, err := newPromoter(cfg.Promoter, log)
	if err != nil {
		return err
	}

	collab := orchestrator.Collaborators{
		Generator: gen,
		Host:      host,
		Sandbox:   sb,
		Probe:     newProbe(cfg.Probe),
		Repairer:  rep,
		Promoter:  prom,
	}

	if cfg.PersistenceEnabled() {
		store, err := recordstore.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, store)
		a.store = store
		collab.Store = store
	}

	opts := []orchestrator.Option{
		orchestrator.WithLogger(log),
		orchestrator.WithTracer(a.telemetry.Tracer(instrumentationName)),
		orchestrator.WithMeter(a.telemetry.Meter(instrumentationName)),
	}

	if cfg.SecretsScan.Enabled {
		allow, err := secrets.LoadAllowlist(cfg.SecretsScan.AllowlistPath)
		if err != nil {
			return fmt.Errorf("secrets allowlist: %w", err)
		}
		scanner, err := secrets.NewScanner(allow)
		if err != nil {
			return err
		}
		opts = append(opts, orchestrator.WithGate(orchestrator.NewSecretGate(scanner)))
	}

	if cfg.NATS.URL != "" {
		nc, err := events.Connect(cfg.NATS.URL, log)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, closerFunc(func() error { return nc.Drain() }))
		opts = append(opts, orchestrator.WithObserver(events.NewPublisher(nc, log.Named("events"))))
	}
	for _, obs := range extra {
		opts = append(opts, orchestrator.WithObserver(obs))
	}

	a.orch, err = orchestrator.New(orchestrator.ConfigFrom(cfg.Pipeline), collab, opts...)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	return nil
}

func (a *app) newSandbox(cfg *config.Config) (orchestrator.Sandbox, error) {
	if cfg.Sandbox.RemoteURL != "" {
		return sandbox.NewRemote(cfg.Sandbox.RemoteURL, cfg.Sandbox.APIKey.Value())
	}
	local, err := sandbox.NewLocal(sandbox.LocalConfig{
		WorkDir:      cfg.Sandbox.WorkDir,
		StartCommand: cfg.Sandbox.StartCommand,
		BasePort:     cfg.Sandbox.BasePort,
		PublicHost:   cfg.Sandbox.PublicHost,
		CloneURL:     cloneURLFunc(cfg.GitHub.APIURL),
		Token:        cfg.GitHub.Token.Value(),
		ReadyTimeout: sandboxReadyTimeout,
	}, sandbox.WithLogger(a.logger.Named("sandbox")))
	if err != nil {
		return nil, fmt.Errorf("sandbox: %w", err)
	}
	a.closers = append(a.closers, local)
	return local, nil
}

// cloneURLFunc returns nil for GitHub Enterprise, whose clone host cannot
// be derived from the API URL; checkouts are then local only.
func cloneURLFunc(apiURL string) func(string) string {
	if apiURL != "" {
		return nil
	}
	return sandbox.GitHubCloneURL
}

func newGenerator(cfg config.GeneratorConfig, log *logging.Logger) (*generator.Router, error) {
	r := &generator.Router{
		Specification: generator.NewCommandGenerator(cfg.Command, cfg.Args,
			generator.WithCommandLogger(log.Named("generator"))),
	}
	if cfg.LLMAPIKey.IsSet() {
		model, err := generator.NewModel(generator.LLMConfig{
			Provider: cfg.LLMProvider,
			Model:    cfg.LLMModel,
			APIKey:   cfg.LLMAPIKey.Value(),
			BaseURL:  cfg.LLMBaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("generator: %w", err)
		}
		r.Description = generator.NewLLMGenerator(model, log.Named("generator"))
	}
	return r, nil
}

func newProbe(cfg config.ProbeConfig) orchestrator.Probe {
	if cfg.Mode == "mcp" {
		path := cfg.Path
		if path == probe.DefaultPath {
			path = probe.DefaultMCPPath
		}
		return probe.NewHandshake(path)
	}
	return probe.NewJSONRPC(cfg.Path)
}

func newPromoter(cfg config.PromoterConfig, log *logging.Logger) (orchestrator.Promoter, error) {
	if cfg.BaseURL == "" {
		return promoter.NewStatic(cfg.Domain), nil
	}
	p, err := promoter.New(cfg.BaseURL, cfg.APIKey, cfg.Domain, log.Named("promoter"))
	if err != nil {
		return nil, fmt.Errorf("promoter: %w", err)
	}
	return p, nil
}

func (a *app) dialTemporal(ctx context.Context) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  a.cfg.Temporal.HostPort,
		Namespace: a.cfg.Temporal.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create Temporal client: %w", err)
	}
	a.logger.Info(ctx, "temporal client connected", zap.String("host", a.cfg.Temporal.HostPort))
	return c, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
