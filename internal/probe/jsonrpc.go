// Package probe checks that a deployed MCP server completes the protocol
// handshake.
package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fyrsmithlabs/mcpforge/internal/orchestrator"
)

const (
	// DefaultPath is where the JSON-RPC probe posts its initialize request.
	DefaultPath = "/mcp/v1/initialize"

	clientName      = "mcp-tester"
	clientVersion   = "1.0.0"
	protocolVersion = "1.0.0"

	maxDetail = 512
)

type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      int       `json:"id"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
}

type rpcParams struct {
	ProtocolVersion string     `json:"protocolVersion"`
	ClientInfo      clientInfo `json:"clientInfo"`
}

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeRequest returns the fixed initialize envelope the probe sends.
func InitializeRequest() ([]byte, error) {
	return json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "initialize",
		Params: rpcParams{
			ProtocolVersion: protocolVersion,
			ClientInfo:      clientInfo{Name: clientName, Version: clientVersion},
		},
	})
}

// JSONRPC posts a JSON-RPC initialize request over plain HTTP. Only a 2xx
// response passes.
type JSONRPC struct {
	path       string
	httpClient *http.Client
}

// NewJSONRPC creates a probe posting to endpoint+path. An empty path uses
// DefaultPath.
func NewJSONRPC(path string) *JSONRPC {
	if path == "" {
		path = DefaultPath
	}
	return &JSONRPC{
		path:       path,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Probe implements orchestrator.Probe. Transport failures are reported as
// a failing result, never as an error.
func (p *JSONRPC) Probe(ctx context.Context, endpoint string) (orchestrator.ProbeResult, error) {
	body, err := InitializeRequest()
	if err != nil {
		return orchestrator.ProbeResult{}, fmt.Errorf("failed to marshal initialize request: %w", err)
	}

	url := strings.TrimRight(endpoint, "/") + p.path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return orchestrator.ProbeResult{Passed: false, Detail: fmt.Sprintf("invalid endpoint: %v", err)}, nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return orchestrator.ProbeResult{Passed: false, Detail: err.Error()}, nil
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxDetail))
	result := orchestrator.ProbeResult{
		Passed:     resp.StatusCode >= 200 && resp.StatusCode <= 299,
		StatusCode: resp.StatusCode,
	}
	if !result.Passed {
		result.Detail = strings.TrimSpace(string(raw))
		if result.Detail == "" {
			result.Detail = http.StatusText(resp.StatusCode)
		}
	}
	return result, nil
}
