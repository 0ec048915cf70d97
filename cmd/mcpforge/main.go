// Command mcpforge generates, deploys, tests, repairs and promotes MCP
// servers.
//
// Usage:
//
//	# Generate a server from an OpenAPI document and print the summary
//	mcpforge run --kind specification https://api.example.com/openapi.json
//
//	# Describe the server instead
//	mcpforge run --kind description "weather lookups by city"
//
//	# Serve the REST API
//	mcpforge serve --config mcpforge.yaml
//
//	# Execute runs submitted to Temporal
//	mcpforge worker
//
//	# Follow a run's transitions over NATS
//	mcpforge watch 01J0RUN
//
// Configuration is read from the --config YAML file and MCPFORGE_*
// environment variables. See internal/config.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mcpforge",
		Short: "Generate and ship MCP servers",
		Long: `mcpforge turns an OpenAPI document or a plain-language description into a
running MCP server: it generates the code, pushes it to a repository, runs it
in a sandbox, probes the protocol handshake, repairs failures within an
iteration budget and promotes the working server to production.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("MCPFORGE_CONFIG"), "path to YAML config file")

	root.AddCommand(newRunCmd(), newServeCmd(), newWorkerCmd(), newWatchCmd(), newVersionCmd())
	return root
}
