// Package config provides configuration loading for mcpforge.
//
// Configuration is read from an optional YAML file and then overridden by
// MCPFORGE_* environment variables. Every field has a default, so an empty
// environment yields a runnable (if credential-less) configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Config holds the complete mcpforge configuration.
type Config struct {
	Pipeline    PipelineConfig    `koanf:"pipeline"`
	Generator   GeneratorConfig   `koanf:"generator"`
	GitHub      GitHubConfig      `koanf:"github"`
	Sandbox     SandboxConfig     `koanf:"sandbox"`
	Probe       ProbeConfig       `koanf:"probe"`
	Repair      RepairConfig      `koanf:"repair"`
	Promoter    PromoterConfig    `koanf:"promoter"`
	Store       StoreConfig       `koanf:"store"`
	Server      ServerConfig      `koanf:"server"`
	Temporal    TemporalConfig    `koanf:"temporal"`
	NATS        NATSConfig        `koanf:"nats"`
	SecretsScan SecretsScanConfig `koanf:"secrets"`
	Logging     LoggingConfig     `koanf:"logging"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
}

// PipelineConfig controls a single workflow run.
type PipelineConfig struct {
	IterationCap      int      `koanf:"iteration_cap"`
	Visibility        string   `koanf:"visibility"`
	RepoPrefix        string   `koanf:"repo_prefix"`
	GenerationTimeout Duration `koanf:"generation_timeout"`
	DeployTimeout     Duration `koanf:"deploy_timeout"`
	ProbeTimeout      Duration `koanf:"probe_timeout"`
	RepairTimeout     Duration `koanf:"repair_timeout"`
	PromotionTimeout  Duration `koanf:"promotion_timeout"`
	PersistTimeout    Duration `koanf:"persist_timeout"`
}

// GeneratorConfig configures both artifact generation paths.
type GeneratorConfig struct {
	Command     string   `koanf:"command"`
	Args        []string `koanf:"args"`
	LLMProvider string   `koanf:"llm_provider"`
	LLMModel    string   `koanf:"llm_model"`
	LLMAPIKey   Secret   `koanf:"llm_api_key"`
	LLMBaseURL  string   `koanf:"llm_base_url"`
}

// GitHubConfig configures the repository host.
type GitHubConfig struct {
	Token  Secret `koanf:"token"`
	Owner  string `koanf:"owner"`
	APIURL string `koanf:"api_url"`
}

// SandboxConfig configures the dev sandbox. When RemoteURL is set the
// remote sandbox API is used, otherwise sandboxes run on this host.
type SandboxConfig struct {
	WorkDir      string `koanf:"work_dir"`
	StartCommand string `koanf:"start_command"`
	BasePort     int    `koanf:"base_port"`
	PublicHost   string `koanf:"public_host"`
	RemoteURL    string `koanf:"remote_url"`
	APIKey       Secret `koanf:"api_key"`
}

// ProbeConfig configures the protocol test probe.
type ProbeConfig struct {
	Path string `koanf:"path"`
	Mode string `koanf:"mode"`
}

// RepairConfig configures the code repairer.
type RepairConfig struct {
	BaseURL           string  `koanf:"base_url"`
	Model             string  `koanf:"model"`
	APIKey            Secret  `koanf:"api_key"`
	RequestsPerSecond float64 `koanf:"requests_per_second"`
}

// PromoterConfig configures the production promoter.
type PromoterConfig struct {
	BaseURL string `koanf:"base_url"`
	APIKey  Secret `koanf:"api_key"`
	Domain  string `koanf:"domain"`
}

// StoreConfig configures the optional record store. An empty DSN disables
// persistence.
type StoreConfig struct {
	Driver string `koanf:"driver"`
	DSN    string `koanf:"dsn"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string     `koanf:"host"`
	Port            int        `koanf:"port"`
	ShutdownTimeout Duration   `koanf:"shutdown_timeout"`
	APITokens       []APIToken `koanf:"api_tokens"`

	// RunRetention is how long a finished run stays pollable.
	RunRetention    Duration `koanf:"run_retention"`
	MaxFinishedRuns int      `koanf:"max_finished_runs"`
}

// APIToken grants an owner access to the run API.
type APIToken struct {
	Owner string `koanf:"owner"`
	Token Secret `koanf:"token"`
}

// TemporalConfig holds Temporal client configuration.
type TemporalConfig struct {
	HostPort  string `koanf:"host_port"`
	Namespace string `koanf:"namespace"`
	TaskQueue string `koanf:"task_queue"`
}

// NATSConfig holds the event publisher connection. Empty URL disables it.
type NATSConfig struct {
	URL string `koanf:"url"`
}

// SecretsScanConfig controls the pre-deploy secret scan.
type SecretsScanConfig struct {
	Enabled       bool   `koanf:"enabled"`
	AllowlistPath string `koanf:"allowlist_path"`
}

// LoggingConfig is the subset of logging settings exposed to operators.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig is the subset of OTEL settings exposed to operators.
type TelemetryConfig struct {
	Enabled    bool    `koanf:"enabled"`
	Endpoint   string  `koanf:"endpoint"`
	Protocol   string  `koanf:"protocol"`
	Insecure   bool    `koanf:"insecure"`
	SampleRate float64 `koanf:"sample_rate"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			IterationCap:      5,
			Visibility:        "public",
			RepoPrefix:        "mcp-server",
			GenerationTimeout: Duration(120 * time.Second),
			DeployTimeout:     Duration(5 * time.Minute),
			ProbeTimeout:      Duration(10 * time.Second),
			RepairTimeout:     Duration(30 * time.Second),
			PromotionTimeout:  Duration(2 * time.Minute),
			PersistTimeout:    Duration(10 * time.Second),
		},
		Generator: GeneratorConfig{
			Command:     "npx",
			Args:        []string{"openapi-mcp-generator"},
			LLMProvider: "anthropic",
			LLMModel:    "claude-sonnet-4-5",
		},
		Sandbox: SandboxConfig{
			StartCommand: "npm run dev",
			BasePort:     3100,
			PublicHost:   "127.0.0.1",
		},
		Probe: ProbeConfig{
			Path: "/mcp/v1/initialize",
			Mode: "jsonrpc",
		},
		Repair: RepairConfig{
			BaseURL:           "https://api.morphllm.com/v1",
			Model:             "morph-v3-large",
			RequestsPerSecond: 2,
		},
		Promoter: PromoterConfig{
			Domain: "freestyle.sh",
		},
		Store: StoreConfig{
			Driver: "sqlite3",
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            9090,
			ShutdownTimeout: Duration(10 * time.Second),
			RunRetention:    Duration(time.Hour),
			MaxFinishedRuns: 1000,
		},
		Temporal: TemporalConfig{
			HostPort:  "localhost:7233",
			Namespace: "default",
			TaskQueue: "mcpforge",
		},
		SecretsScan: SecretsScanConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Endpoint:   "localhost:4317",
			Protocol:   "grpc",
			Insecure:   true,
			SampleRate: 1.0,
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Pipeline.IterationCap < 1 {
		errs = append(errs, fmt.Errorf("pipeline.iteration_cap must be >= 1, got %d", c.Pipeline.IterationCap))
	}
	switch c.Pipeline.Visibility {
	case "public", "private":
	default:
		errs = append(errs, fmt.Errorf("pipeline.visibility must be public or private, got %q", c.Pipeline.Visibility))
	}
	if c.Pipeline.RepoPrefix == "" {
		errs = append(errs, errors.New("pipeline.repo_prefix is required"))
	}

	timeouts := map[string]Duration{
		"generation_timeout": c.Pipeline.GenerationTimeout,
		"deploy_timeout":     c.Pipeline.DeployTimeout,
		"probe_timeout":      c.Pipeline.ProbeTimeout,
		"repair_timeout":     c.Pipeline.RepairTimeout,
		"promotion_timeout":  c.Pipeline.PromotionTimeout,
		"persist_timeout":    c.Pipeline.PersistTimeout,
	}
	for name, d := range timeouts {
		if d.Duration() <= 0 {
			errs = append(errs, fmt.Errorf("pipeline.%s must be positive", name))
		}
	}

	switch c.Probe.Mode {
	case "jsonrpc", "mcp":
	default:
		errs = append(errs, fmt.Errorf("probe.mode must be jsonrpc or mcp, got %q", c.Probe.Mode))
	}

	switch c.Generator.LLMProvider {
	case "anthropic", "openai":
	default:
		errs = append(errs, fmt.Errorf("generator.llm_provider must be anthropic or openai, got %q", c.Generator.LLMProvider))
	}

	if c.Repair.BaseURL != "" {
		if _, err := url.ParseRequestURI(c.Repair.BaseURL); err != nil {
			errs = append(errs, fmt.Errorf("repair.base_url: %w", err))
		}
	}
	if c.Repair.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("repair.requests_per_second cannot be negative"))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}

	if c.Server.RunRetention <= 0 {
		errs = append(errs, errors.New("server.run_retention must be positive"))
	}
	if c.Server.MaxFinishedRuns < 1 {
		errs = append(errs, errors.New("server.max_finished_runs must be at least 1"))
	}

	for i, t := range c.Server.APITokens {
		if t.Owner == "" || !t.Token.IsSet() {
			errs = append(errs, fmt.Errorf("server.api_tokens[%d] needs owner and token", i))
		}
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_rate must be between 0 and 1, got %f", c.Telemetry.SampleRate))
	}

	return errors.Join(errs...)
}

// PersistenceEnabled reports whether a record store is configured.
func (c *Config) PersistenceEnabled() bool {
	return c.Store.DSN != ""
}
