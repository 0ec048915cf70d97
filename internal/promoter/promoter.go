// Package promoter moves validated repositories to production hosting.
package promoter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mcpforge/internal/config"
	"github.com/fyrsmithlabs/mcpforge/internal/logging"
	"github.com/fyrsmithlabs/mcpforge/internal/orchestrator"
	"github.com/fyrsmithlabs/mcpforge/internal/repohost"
)

// Client promotes repositories through a hosting API.
type Client struct {
	baseURL    string
	apiKey     config.Secret
	domain     string
	httpClient *http.Client
	logger     *logging.Logger
}

type deployRequest struct {
	RepoID  string   `json:"repoId"`
	Domains []string `json:"domains,omitempty"`
}

type deployResponse struct {
	DeploymentID  string `json:"deploymentId"`
	ProductionURL string `json:"productionUrl"`
}

// New creates a promoter for the API at baseURL. domain, when set, is used
// to request a "<repo-name>.<domain>" host name.
func New(baseURL string, apiKey config.Secret, domain string, logger *logging.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("promoter API URL is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		domain:     domain,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		logger:     logger,
	}, nil
}

// Promote implements orchestrator.Promoter.
func (c *Client) Promote(ctx context.Context, repositoryID string) (orchestrator.PromotionResult, error) {
	body := deployRequest{RepoID: repositoryID}
	if host := hostFor(repositoryID, c.domain); host != "" {
		body.Domains = []string{host}
	}
	data, err := json.Marshal(body)
	if err != nil {
		return orchestrator.PromotionResult{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/deployments", bytes.NewReader(data))
	if err != nil {
		return orchestrator.PromotionResult{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey.IsSet() {
		req.Header.Set("Authorization", "Bearer "+c.apiKey.Value())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return orchestrator.PromotionResult{}, fmt.Errorf("deploy request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return orchestrator.PromotionResult{}, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return orchestrator.PromotionResult{}, fmt.Errorf("deploy API error (%d): %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out deployResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return orchestrator.PromotionResult{}, fmt.Errorf("failed to parse response: %w", err)
	}
	if out.DeploymentID == "" {
		return orchestrator.PromotionResult{}, errors.New("deploy API returned no deployment id")
	}

	c.logger.Info(ctx, "deployment created",
		zap.String("repository", repositoryID),
		zap.String("deployment_id", out.DeploymentID),
		zap.String("production_url", out.ProductionURL),
	)
	return orchestrator.PromotionResult{DeploymentID: out.DeploymentID, ProductionURL: out.ProductionURL}, nil
}

// Static promotes by naming convention only: the repository is assumed to
// be served at https://<repo-name>.<domain>. It is used when no hosting API
// is configured, e.g. for local development.
type Static struct {
	domain string
}

// NewStatic creates a convention-based promoter for domain.
func NewStatic(domain string) *Static {
	return &Static{domain: domain}
}

// Promote implements orchestrator.Promoter.
func (s *Static) Promote(ctx context.Context, repositoryID string) (orchestrator.PromotionResult, error) {
	if err := ctx.Err(); err != nil {
		return orchestrator.PromotionResult{}, err
	}
	host := hostFor(repositoryID, s.domain)
	if host == "" {
		return orchestrator.PromotionResult{}, fmt.Errorf("cannot derive production host for %q", repositoryID)
	}
	_, name, _ := repohost.SplitFullName(repositoryID)
	return orchestrator.PromotionResult{
		DeploymentID:  "prod-" + name,
		ProductionURL: "https://" + host,
	}, nil
}

// hostFor returns "<name>.<domain>" for an "owner/name" repository id.
func hostFor(repositoryID, domain string) string {
	if domain == "" {
		return ""
	}
	_, name, err := repohost.SplitFullName(repositoryID)
	if err != nil {
		return ""
	}
	return strings.ToLower(name) + "." + strings.TrimPrefix(domain, ".")
}

var (
	_ orchestrator.Promoter = (*Client)(nil)
	_ orchestrator.Promoter = (*Static)(nil)
)
