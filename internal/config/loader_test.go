package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	require.NoError(t, os.Chmod(path, perm))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Pipeline.IterationCap)
	assert.Equal(t, "public", cfg.Pipeline.Visibility)
	assert.Equal(t, "mcp-server", cfg.Pipeline.RepoPrefix)
	assert.Equal(t, 120*time.Second, cfg.Pipeline.GenerationTimeout.Duration())
	assert.Equal(t, 10*time.Second, cfg.Pipeline.ProbeTimeout.Duration())
	assert.Equal(t, 30*time.Second, cfg.Pipeline.RepairTimeout.Duration())
	assert.Equal(t, "/mcp/v1/initialize", cfg.Probe.Path)
	assert.Equal(t, "morph-v3-large", cfg.Repair.Model)
	assert.True(t, cfg.SecretsScan.Enabled)
	assert.False(t, cfg.PersistenceEnabled())
}

func TestLoad_YAMLFile(t *testing.T) {
	path := writeConfig(t, `pipeline:
  iteration_cap: 3
  visibility: private
  probe_timeout: 5s
github:
  owner: acme
store:
  dsn: file:records.db
server:
  api_tokens:
    - owner: alice
      token: tok-alice
`, 0600)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Pipeline.IterationCap)
	assert.Equal(t, "private", cfg.Pipeline.Visibility)
	assert.Equal(t, 5*time.Second, cfg.Pipeline.ProbeTimeout.Duration())
	// untouched keys keep their defaults
	assert.Equal(t, 30*time.Second, cfg.Pipeline.RepairTimeout.Duration())
	assert.Equal(t, "acme", cfg.GitHub.Owner)
	assert.True(t, cfg.PersistenceEnabled())
	require.Len(t, cfg.Server.APITokens, 1)
	assert.Equal(t, "alice", cfg.Server.APITokens[0].Owner)
	assert.Equal(t, "tok-alice", cfg.Server.APITokens[0].Token.Value())
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	path := writeConfig(t, "pipeline:\n  iteration_cap: 3\n", 0600)

	t.Setenv("MCPFORGE_PIPELINE_ITERATION_CAP", "7")
	t.Setenv("MCPFORGE_REPAIR_API_KEY", "sk-test")
	t.Setenv("MCPFORGE_PIPELINE_REPAIR_TIMEOUT", "45")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Pipeline.IterationCap)
	assert.Equal(t, "sk-test", cfg.Repair.APIKey.Value())
	assert.Equal(t, 45*time.Second, cfg.Pipeline.RepairTimeout.Duration())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Pipeline.IterationCap)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "pipeline: [unclosed", 0600)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config file")
}

func TestLoad_RejectsZeroCap(t *testing.T) {
	path := writeConfig(t, "pipeline:\n  iteration_cap: 0\n", 0600)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "iteration_cap")
}

func TestLoad_InsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission model differs on windows")
	}
	path := writeConfig(t, "pipeline:\n  iteration_cap: 2\n", 0644)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoad_FileTooLarge(t *testing.T) {
	big := "# " + strings.Repeat("x", maxConfigFileSize+10) + "\n"
	path := writeConfig(t, big, 0600)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"MCPFORGE_PIPELINE_ITERATION_CAP": "pipeline.iteration_cap",
		"MCPFORGE_GITHUB_TOKEN":           "github.token",
		"MCPFORGE_SERVER_PORT":            "server.port",
		"MCPFORGE_DEBUG":                  "debug",
	}
	for in, want := range tests {
		assert.Equal(t, want, envKey(in), in)
	}
}
