package orchestrator

import (
	"fmt"
	"strings"
)

// entryCandidates are checked in order when choosing the file to repair.
var entryCandidates = []string{
	"src/index.ts",
	"src/index.js",
	"src/server.ts",
	"src/server.js",
	"index.ts",
	"index.js",
	"server.js",
}

// manifests are never chosen as a fallback repair target.
var manifests = map[string]bool{
	"package.json":      true,
	"package-lock.json": true,
	"tsconfig.json":     true,
	"README.md":         true,
	".gitignore":        true,
	".env.example":      true,
}

// RepairTarget returns the bundle path a repair should rewrite: a known
// entry file when present, otherwise the first non-manifest path, otherwise
// the first path. It returns "" for an empty bundle.
func RepairTarget(b Bundle) string {
	for _, p := range entryCandidates {
		if _, ok := b[p]; ok {
			return p
		}
	}
	paths := b.Paths()
	for _, p := range paths {
		if !manifests[p] {
			return p
		}
	}
	if len(paths) > 0 {
		return paths[0]
	}
	return ""
}

// RepairInstructions describes a probe failure to the repairer.
func RepairInstructions(target string, result ProbeResult, it Iteration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The MCP server in %s fails its protocol handshake", target)
	if result.StatusCode != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", result.StatusCode)
	}
	b.WriteString(".\n")
	if result.Detail != "" {
		fmt.Fprintf(&b, "Failure detail: %s\n", result.Detail)
	}
	b.WriteString("The server must answer a JSON-RPC 2.0 \"initialize\" request on /mcp/v1/initialize ")
	b.WriteString("with a 2xx response. Fix the code so the handshake succeeds; keep unrelated behavior unchanged.\n")
	fmt.Fprintf(&b, "Repair attempt %d of %d.", it.Count, it.Cap)
	return b.String()
}
