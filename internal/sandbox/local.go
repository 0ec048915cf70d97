// Package sandbox provisions dev environments for generated repositories.
//
// Local checks a repository out on this host, writes the bundle, commits
// and pushes it, then (re)starts the dev server on a dedicated port.
// Remote delegates the same contract to a hosted sandbox API.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mcpforge/internal/logging"
	"github.com/fyrsmithlabs/mcpforge/internal/orchestrator"
)

const (
	initialCommitMessage = "Initial MCP server files"
	updateCommitMessage  = "Update MCP server files"
)

// LocalConfig configures a Local sandbox.
type LocalConfig struct {
	// WorkDir holds one checkout per repository.
	WorkDir string
	// StartCommand is run through "sh -c" in the checkout.
	StartCommand string
	// BasePort is the first port handed out.
	BasePort int
	// PublicHost is the host name used in returned endpoints.
	PublicHost string
	// CloneURL maps a repository id to a clone URL. Nil or "" means the
	// checkout is initialised locally and never pushed.
	CloneURL func(repositoryID string) string
	// Token authenticates clone and push over HTTPS.
	Token string
	// ReadyTimeout bounds the wait for the dev server port. Zero skips it.
	ReadyTimeout time.Duration
}

// GitHubCloneURL returns the HTTPS clone URL of an "owner/name" repository.
func GitHubCloneURL(repositoryID string) string {
	return "https://github.com/" + repositoryID + ".git"
}

// Local implements orchestrator.Sandbox on this host.
type Local struct {
	cfg    LocalConfig
	start  Starter
	logger *logging.Logger

	mu       sync.Mutex
	servers  map[string]*server
	nextPort int
	repoMu   map[string]*sync.Mutex
}

type server struct {
	port int
	proc Process
}

// LocalOption configures a Local sandbox.
type LocalOption func(*Local)

// WithStarter replaces the process starter.
func WithStarter(s Starter) LocalOption {
	return func(l *Local) { l.start = s }
}

// WithLogger sets the logger.
func WithLogger(log *logging.Logger) LocalOption {
	return func(l *Local) {
		if log != nil {
			l.logger = log
		}
	}
}

// NewLocal creates a local sandbox.
func NewLocal(cfg LocalConfig, opts ...LocalOption) (*Local, error) {
	if cfg.WorkDir == "" {
		dir, err := os.MkdirTemp("", "mcpforge-sandbox-")
		if err != nil {
			return nil, fmt.Errorf("failed to create work dir: %w", err)
		}
		cfg.WorkDir = dir
	}
	if cfg.StartCommand == "" {
		return nil, errors.New("start command is required")
	}
	if cfg.BasePort <= 0 {
		return nil, errors.New("base port must be positive")
	}
	if cfg.PublicHost == "" {
		cfg.PublicHost = "127.0.0.1"
	}

	l := &Local{
		cfg:      cfg,
		start:    ExecStarter,
		logger:   logging.NewNop(),
		servers:  make(map[string]*server),
		nextPort: cfg.BasePort,
		repoMu:   make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// RequestSandbox implements orchestrator.Sandbox.
func (l *Local) RequestSandbox(ctx context.Context, repositoryID string, files orchestrator.Bundle) (orchestrator.Endpoints, error) {
	if repositoryID == "" {
		return orchestrator.Endpoints{}, errors.New("repository id is required")
	}
	unlock := l.lockRepo(repositoryID)
	defer unlock()

	dir := filepath.Join(l.cfg.WorkDir, checkoutName(repositoryID))
	repo, fresh, err := l.checkout(ctx, repositoryID, dir)
	if err != nil {
		return orchestrator.Endpoints{}, err
	}

	if len(files) > 0 {
		msg := updateCommitMessage
		if fresh {
			msg = initialCommitMessage
		}
		if err := l.commit(ctx, repo, dir, files, msg); err != nil {
			return orchestrator.Endpoints{}, err
		}
	}

	port, err := l.restart(ctx, repositoryID, dir)
	if err != nil {
		return orchestrator.Endpoints{}, err
	}

	base := "http://" + net.JoinHostPort(l.cfg.PublicHost, strconv.Itoa(port))
	return orchestrator.Endpoints{
		SandboxEndpoint:  base,
		ProtocolEndpoint: base,
	}, nil
}

// Close stops every dev server.
func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var errs []error
	for id, s := range l.servers {
		if err := s.proc.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", id, err))
		}
		delete(l.servers, id)
	}
	return errors.Join(errs...)
}

func (l *Local) lockRepo(id string) func() {
	l.mu.Lock()
	m, ok := l.repoMu[id]
	if !ok {
		m = &sync.Mutex{}
		l.repoMu[id] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}

func (l *Local) auth() transport.AuthMethod {
	if l.cfg.Token == "" {
		return nil
	}
	return &githttp.BasicAuth{Username: "x-access-token", Password: l.cfg.Token}
}

func (l *Local) cloneURL(id string) string {
	if l.cfg.CloneURL == nil {
		return ""
	}
	return l.cfg.CloneURL(id)
}

// checkout opens the existing checkout or creates it. fresh reports whether
// the checkout was created by this call.
func (l *Local) checkout(ctx context.Context, id, dir string) (*git.Repository, bool, error) {
	repo, err := git.PlainOpen(dir)
	if err == nil {
		return repo, false, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, false, fmt.Errorf("failed to open checkout: %w", err)
	}

	url := l.cloneURL(id)
	if url != "" {
		repo, err = git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{URL: url, Auth: l.auth()})
		if err == nil {
			l.logger.Debug(ctx, "repository cloned", zap.String("repository", id), zap.String("dir", dir))
			return repo, true, nil
		}
		if !errors.Is(err, transport.ErrEmptyRemoteRepository) {
			_ = os.RemoveAll(dir)
			return nil, false, fmt.Errorf("failed to clone %s: %w", id, err)
		}
		_ = os.RemoveAll(dir)
	}

	repo, err = git.PlainInit(dir, false)
	if err != nil {
		return nil, false, fmt.Errorf("failed to init checkout: %w", err)
	}
	if url != "" {
		if _, err := repo.CreateRemote(&gitconfig.RemoteConfig{Name: "origin", URLs: []string{url}}); err != nil {
			return nil, false, fmt.Errorf("failed to add remote: %w", err)
		}
	}
	return repo, true, nil
}

// commit writes files into the checkout, commits them and pushes when the
// checkout has an origin.
func (l *Local) commit(ctx context.Context, repo *git.Repository, dir string, files orchestrator.Bundle, msg string) error {
	fsys := afero.NewBasePathFs(afero.NewOsFs(), dir)
	for _, p := range files.Paths() {
		if err := fsys.MkdirAll(filepath.Dir(filepath.FromSlash(p)), 0o755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", p, err)
		}
		if err := afero.WriteFile(fsys, filepath.FromSlash(p), []byte(files[p]), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", p, err)
		}
	}

	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to open worktree: %w", err)
	}
	for _, p := range files.Paths() {
		if _, err := wt.Add(p); err != nil {
			return fmt.Errorf("failed to stage %s: %w", p, err)
		}
	}

	status, err := wt.Status()
	if err != nil {
		return fmt.Errorf("failed to read status: %w", err)
	}
	if status.IsClean() {
		l.logger.Debug(ctx, "checkout already up to date", zap.String("dir", dir))
		return nil
	}

	hash, err := wt.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{Name: "mcpforge", Email: "mcpforge@users.noreply.github.com", When: time.Now()},
	})
	if err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	l.logger.Info(ctx, "bundle committed", zap.String("commit", hash.String()), zap.Int("files", len(files)))

	if _, err := repo.Remote("origin"); err != nil {
		return nil
	}
	err = repo.PushContext(ctx, &git.PushOptions{RemoteName: "origin", Auth: l.auth()})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("failed to push: %w", err)
	}
	return nil
}

// restart stops the repository's dev server, if any, and starts a new one
// on the same port.
func (l *Local) restart(ctx context.Context, id, dir string) (int, error) {
	l.mu.Lock()
	s, ok := l.servers[id]
	if !ok {
		s = &server{port: l.nextPort}
		l.nextPort++
		l.servers[id] = s
	}
	prev := s.proc
	s.proc = nil
	l.mu.Unlock()

	if prev != nil {
		if err := prev.Stop(); err != nil {
			l.logger.Warn(ctx, "failed to stop dev server", zap.String("repository", id), zap.Error(err))
		}
	}

	proc, err := l.start(dir, l.cfg.StartCommand, s.port)
	if err != nil {
		return 0, fmt.Errorf("failed to start dev server: %w", err)
	}
	l.mu.Lock()
	s.proc = proc
	l.mu.Unlock()

	l.logger.Info(ctx, "dev server started", zap.String("repository", id), zap.Int("port", s.port))

	if l.cfg.ReadyTimeout > 0 {
		addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(s.port))
		if err := waitReady(ctx, addr, l.cfg.ReadyTimeout); err != nil {
			l.logger.Warn(ctx, "dev server not accepting connections", zap.String("addr", addr), zap.Error(err))
		}
	}
	return s.port, nil
}

func waitReady(ctx context.Context, addr string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	var d net.Dialer
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn.Close()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// checkoutName maps "owner/name" to a single directory component.
func checkoutName(id string) string {
	return strings.NewReplacer("/", "__", "\\", "_", "..", "_").Replace(id)
}
