package orchestrator

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/mcpforge/internal/config"
)

// Config holds the per-run settings fixed at construction.
type Config struct {
	Visibility Visibility
	RepoPrefix string

	GenerationTimeout time.Duration
	DeployTimeout     time.Duration
	ProbeTimeout      time.Duration
	RepairTimeout     time.Duration
	PromotionTimeout  time.Duration
	PersistTimeout    time.Duration
}

// DefaultConfig returns the stock timeouts and a public repository.
func DefaultConfig() Config {
	return Config{
		Visibility:        VisibilityPublic,
		RepoPrefix:        "mcp-server",
		GenerationTimeout: 120 * time.Second,
		DeployTimeout:     5 * time.Minute,
		ProbeTimeout:      10 * time.Second,
		RepairTimeout:     30 * time.Second,
		PromotionTimeout:  2 * time.Minute,
		PersistTimeout:    10 * time.Second,
	}
}

// ConfigFrom maps the pipeline section of the application config.
func ConfigFrom(p config.PipelineConfig) Config {
	return Config{
		Visibility:        Visibility(p.Visibility),
		RepoPrefix:        p.RepoPrefix,
		GenerationTimeout: p.GenerationTimeout.Duration(),
		DeployTimeout:     p.DeployTimeout.Duration(),
		ProbeTimeout:      p.ProbeTimeout.Duration(),
		RepairTimeout:     p.RepairTimeout.Duration(),
		PromotionTimeout:  p.PromotionTimeout.Duration(),
		PersistTimeout:    p.PersistTimeout.Duration(),
	}
}

func (c Config) validate() error {
	if c.Visibility != VisibilityPublic && c.Visibility != VisibilityPrivate {
		return fmt.Errorf("invalid visibility %q", c.Visibility)
	}
	if c.RepoPrefix == "" {
		return fmt.Errorf("repository prefix is required")
	}
	for name, d := range map[string]time.Duration{
		"generation": c.GenerationTimeout,
		"deploy":     c.DeployTimeout,
		"probe":      c.ProbeTimeout,
		"repair":     c.RepairTimeout,
		"promotion":  c.PromotionTimeout,
		"persist":    c.PersistTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s timeout must be positive", name)
		}
	}
	return nil
}

// RepositoryName builds "<prefix>-YYYYMMDD-HHMMSS" from t in UTC.
func RepositoryName(prefix string, t time.Time) string {
	return prefix + "-" + t.UTC().Format("20060102-150405")
}
