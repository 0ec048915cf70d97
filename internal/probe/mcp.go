package probe

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/mcpforge/internal/orchestrator"
)

// DefaultMCPPath is the streamable HTTP endpoint path of MCP servers.
const DefaultMCPPath = "/mcp"

// Handshake connects with a real MCP client over the streamable HTTP
// transport. The probe passes once the initialize exchange completes.
type Handshake struct {
	path       string
	httpClient *http.Client
}

// NewHandshake creates a handshake probe against endpoint+path. An empty
// path uses DefaultMCPPath.
func NewHandshake(path string) *Handshake {
	if path == "" {
		path = DefaultMCPPath
	}
	return &Handshake{path: path, httpClient: http.DefaultClient}
}

// Probe implements orchestrator.Probe.
func (h *Handshake) Probe(ctx context.Context, endpoint string) (orchestrator.ProbeResult, error) {
	client := mcp.NewClient(&mcp.Implementation{Name: clientName, Version: clientVersion}, nil)
	transport := &mcp.StreamableClientTransport{
		Endpoint:   strings.TrimRight(endpoint, "/") + h.path,
		HTTPClient: h.httpClient,
	}

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return orchestrator.ProbeResult{Passed: false, Detail: fmt.Sprintf("handshake failed: %v", err)}, nil
	}
	defer session.Close()

	detail := "initialized"
	if res := session.InitializeResult(); res != nil && res.ServerInfo != nil {
		detail = fmt.Sprintf("initialized %s %s", res.ServerInfo.Name, res.ServerInfo.Version)
	}
	return orchestrator.ProbeResult{Passed: true, StatusCode: http.StatusOK, Detail: detail}, nil
}
