// Package repohost creates the GitHub repositories that back deployments.
package repohost

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/fyrsmithlabs/mcpforge/internal/config"
	"github.com/fyrsmithlabs/mcpforge/internal/logging"
	"github.com/fyrsmithlabs/mcpforge/internal/orchestrator"
)

// InitialCommitMessage is the message of the commit carrying the bundle.
const InitialCommitMessage = "Initial MCP server files"

// NewClient creates an authenticated GitHub client. apiURL selects a
// GitHub Enterprise server when non-empty.
func NewClient(ctx context.Context, token config.Secret, apiURL string) (*github.Client, error) {
	if !token.IsSet() {
		return nil, fmt.Errorf("GitHub token not set")
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token.Value()})
	client := github.NewClient(oauth2.NewClient(ctx, ts))
	if apiURL != "" {
		return client.WithEnterpriseURLs(apiURL, apiURL)
	}
	return client, nil
}

// GitHub implements orchestrator.RepositoryHost. Repository ids are
// "owner/name" full names.
type GitHub struct {
	client *github.Client
	owner  string
	retry  *RetryConfig
	logger *logging.Logger
}

// Option configures a GitHub host.
type Option func(*GitHub)

// WithRetry overrides the retry policy.
func WithRetry(cfg *RetryConfig) Option {
	return func(g *GitHub) { g.retry = cfg }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(g *GitHub) {
		if l != nil {
			g.logger = l
		}
	}
}

// New creates a host that creates repositories under owner, an
// organization login. An empty owner means the authenticated user.
func New(client *github.Client, owner string, opts ...Option) *GitHub {
	g := &GitHub{
		client: client,
		owner:  owner,
		retry:  DefaultRetryConfig(),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CreateRepository creates the repository and pushes files as a single
// commit on the default branch.
func (g *GitHub) CreateRepository(ctx context.Context, name string, files orchestrator.Bundle, visibility orchestrator.Visibility) (string, error) {
	if name == "" {
		return "", errors.New("repository name is required")
	}

	spec := &github.Repository{
		Name:        github.String(name),
		Description: github.String("MCP server generated by mcpforge"),
		Private:     github.Bool(visibility == orchestrator.VisibilityPrivate),
		AutoInit:    github.Bool(true),
	}

	var repo *github.Repository
	// Creation is not idempotent; a 422 on retry means it already happened.
	_, err := withRetry(ctx, &RetryConfig{MaxRetries: 1}, g.logger, "create repository", func() (*github.Response, error) {
		var resp *github.Response
		var err error
		repo, resp, err = g.client.Repositories.Create(ctx, g.owner, spec)
		return resp, err
	})
	if err != nil {
		return "", fmt.Errorf("failed to create repository %s: %w", name, err)
	}

	owner := repo.GetOwner().GetLogin()
	if owner == "" {
		owner = g.owner
	}
	fullName := repo.GetFullName()
	if fullName == "" {
		fullName = owner + "/" + name
	}
	g.logger.Info(ctx, "repository created",
		zap.String("repository", fullName),
		zap.Bool("private", repo.GetPrivate()),
	)

	if len(files) > 0 {
		branch := repo.GetDefaultBranch()
		if branch == "" {
			branch = "main"
		}
		if err := g.pushFiles(ctx, owner, name, branch, files); err != nil {
			return "", fmt.Errorf("failed to push files to %s: %w", fullName, err)
		}
	}
	return fullName, nil
}

// pushFiles commits files on top of branch using the Git data API.
func (g *GitHub) pushFiles(ctx context.Context, owner, repo, branch string, files orchestrator.Bundle) error {
	var ref *github.Reference
	if _, err := withRetry(ctx, g.retry, g.logger, "get ref", func() (*github.Response, error) {
		var resp *github.Response
		var err error
		ref, resp, err = g.client.Git.GetRef(ctx, owner, repo, "refs/heads/"+branch)
		return resp, err
	}); err != nil {
		return err
	}
	parent := ref.GetObject().GetSHA()

	entries := make([]*github.TreeEntry, 0, len(files))
	for _, p := range files.Paths() {
		entries = append(entries, &github.TreeEntry{
			Path:    github.String(p),
			Mode:    github.String("100644"),
			Type:    github.String("blob"),
			Content: github.String(files[p]),
		})
	}

	var tree *github.Tree
	if _, err := withRetry(ctx, g.retry, g.logger, "create tree", func() (*github.Response, error) {
		var resp *github.Response
		var err error
		tree, resp, err = g.client.Git.CreateTree(ctx, owner, repo, parent, entries)
		return resp, err
	}); err != nil {
		return err
	}

	var commit *github.Commit
	if _, err := withRetry(ctx, g.retry, g.logger, "create commit", func() (*github.Response, error) {
		var resp *github.Response
		var err error
		commit, resp, err = g.client.Git.CreateCommit(ctx, owner, repo, &github.Commit{
			Message: github.String(InitialCommitMessage),
			Tree:    &github.Tree{SHA: tree.SHA},
			Parents: []*github.Commit{{SHA: github.String(parent)}},
		}, nil)
		return resp, err
	}); err != nil {
		return err
	}

	ref.Object.SHA = commit.SHA
	if _, err := withRetry(ctx, g.retry, g.logger, "update ref", func() (*github.Response, error) {
		_, resp, err := g.client.Git.UpdateRef(ctx, owner, repo, ref, false)
		return resp, err
	}); err != nil {
		return err
	}

	g.logger.Debug(ctx, "bundle pushed",
		zap.String("repository", owner+"/"+repo),
		zap.String("commit", commit.GetSHA()),
		zap.Int("files", len(entries)),
	)
	return nil
}

// SplitFullName splits an "owner/name" repository id.
func SplitFullName(id string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(id, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("invalid repository id %q", id)
	}
	return owner, name, nil
}
