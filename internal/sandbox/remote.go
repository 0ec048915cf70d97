package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fyrsmithlabs/mcpforge/internal/orchestrator"
)

// Remote implements orchestrator.Sandbox against a hosted dev-server API.
type Remote struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	mu sync.Mutex
	// synced records repositories whose files were accepted once; later
	// syncs are commits on top of the initial one.
	synced map[string]bool
}

type devServerRequest struct {
	RepoID        string            `json:"repoId"`
	Files         map[string]string `json:"files,omitempty"`
	CommitMessage string            `json:"commitMessage,omitempty"`
	Command       string            `json:"command,omitempty"`
}

type devServerResponse struct {
	EphemeralURL    string `json:"ephemeralUrl"`
	MCPEphemeralURL string `json:"mcpEphemeralUrl"`
	CodeServerURL   string `json:"codeServerUrl"`
}

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// NewRemote creates a client for the sandbox API at baseURL.
func NewRemote(baseURL, apiKey string) (*Remote, error) {
	if baseURL == "" {
		return nil, errors.New("sandbox API URL is required")
	}
	return &Remote{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		synced:     make(map[string]bool),
	}, nil
}

// RequestSandbox implements orchestrator.Sandbox.
func (r *Remote) RequestSandbox(ctx context.Context, repositoryID string, files orchestrator.Bundle) (orchestrator.Endpoints, error) {
	body := devServerRequest{RepoID: repositoryID}
	if len(files) > 0 {
		body.Files = files
		body.CommitMessage = r.commitMessage(repositoryID)
		body.Command = "npm run dev"
	}
	data, err := json.Marshal(body)
	if err != nil {
		return orchestrator.Endpoints{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/dev-servers", bytes.NewReader(data))
	if err != nil {
		return orchestrator.Endpoints{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return orchestrator.Endpoints{}, fmt.Errorf("sandbox request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return orchestrator.Endpoints{}, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr apiError
		if json.Unmarshal(raw, &apiErr) == nil && (apiErr.Message != "" || apiErr.Error != "") {
			return orchestrator.Endpoints{}, fmt.Errorf("sandbox API error (%d): %s%s", resp.StatusCode, apiErr.Error, apiErr.Message)
		}
		return orchestrator.Endpoints{}, fmt.Errorf("sandbox API error (%d): %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out devServerResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return orchestrator.Endpoints{}, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(files) > 0 {
		r.mu.Lock()
		r.synced[repositoryID] = true
		r.mu.Unlock()
	}
	return orchestrator.Endpoints{
		SandboxEndpoint:    out.EphemeralURL,
		ProtocolEndpoint:   out.MCPEphemeralURL,
		CodeEditorEndpoint: out.CodeServerURL,
	}, nil
}

func (r *Remote) commitMessage(repositoryID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.synced[repositoryID] {
		return updateCommitMessage
	}
	return initialCommitMessage
}
