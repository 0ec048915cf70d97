package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/mcpforge/internal/orchestrator"
)

type fakeProcess struct {
	mu      sync.Mutex
	stopped bool
}

func (p *fakeProcess) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	return nil
}

type fakeStarter struct {
	mu    sync.Mutex
	ports []int
	dirs  []string
	procs []*fakeProcess
}

func (s *fakeStarter) start(dir, _ string, port int) (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &fakeProcess{}
	s.ports = append(s.ports, port)
	s.dirs = append(s.dirs, dir)
	s.procs = append(s.procs, p)
	return p, nil
}

func headMessage(t *testing.T, dir string) string {
	t.Helper()
	repo, err := git.PlainOpen(dir)
	require.NoError(t, err)
	head, err := repo.Head()
	require.NoError(t, err)
	c, err := repo.CommitObject(head.Hash())
	require.NoError(t, err)
	return c.Message
}

func TestLocal_RequestSandbox_InitAndRestart(t *testing.T) {
	starter := &fakeStarter{}
	l, err := NewLocal(LocalConfig{
		WorkDir:      t.TempDir(),
		StartCommand: "npm run dev",
		BasePort:     4100,
		PublicHost:   "sandbox.local",
	}, WithStarter(starter.start))
	require.NoError(t, err)

	files := orchestrator.Bundle{
		"package.json": `{"scripts":{"dev":"node src/index.js"}}`,
		"src/index.js": "listen()",
	}
	eps, err := l.RequestSandbox(context.Background(), "acme/weather", files)
	require.NoError(t, err)
	assert.Equal(t, "http://sandbox.local:4100", eps.ProtocolEndpoint)
	assert.Equal(t, eps.ProtocolEndpoint, eps.SandboxEndpoint)

	dir := filepath.Join(l.cfg.WorkDir, "acme__weather")
	data, err := os.ReadFile(filepath.Join(dir, "src", "index.js"))
	require.NoError(t, err)
	assert.Equal(t, "listen()", string(data))
	assert.Equal(t, initialCommitMessage, headMessage(t, dir))

	// A repaired bundle is committed on top and the server restarted on the same port.
	eps, err = l.RequestSandbox(context.Background(), "acme/weather", files.With("src/index.js", "listenFixed()"))
	require.NoError(t, err)
	assert.Equal(t, "http://sandbox.local:4100", eps.ProtocolEndpoint)
	assert.Equal(t, updateCommitMessage, headMessage(t, dir))

	require.Len(t, starter.procs, 2)
	assert.True(t, starter.procs[0].stopped)
	assert.False(t, starter.procs[1].stopped)
	assert.Equal(t, []int{4100, 4100}, starter.ports)

	// A second repository gets the next port.
	eps, err = l.RequestSandbox(context.Background(), "acme/other", files)
	require.NoError(t, err)
	assert.Equal(t, "http://sandbox.local:4101", eps.ProtocolEndpoint)

	require.NoError(t, l.Close())
	for _, p := range starter.procs {
		assert.True(t, p.stopped)
	}
}

func TestLocal_RequestSandbox_ClonesAndPushes(t *testing.T) {
	// Seed an upstream repository with one commit, then expose it bare.
	src := t.TempDir()
	seed, err := git.PlainInit(src, false)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(src, "README.md"), []byte("# weather"), 0o644))
	wt, err := seed.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("README.md")
	require.NoError(t, err)
	_, err = wt.Commit("Initial commit", &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)

	bare := filepath.Join(t.TempDir(), "upstream.git")
	_, err = git.PlainClone(bare, true, &git.CloneOptions{URL: src})
	require.NoError(t, err)

	starter := &fakeStarter{}
	l, err := NewLocal(LocalConfig{
		WorkDir:      t.TempDir(),
		StartCommand: "npm run dev",
		BasePort:     4200,
		CloneURL:     func(string) string { return bare },
	}, WithStarter(starter.start))
	require.NoError(t, err)

	_, err = l.RequestSandbox(context.Background(), "acme/weather", orchestrator.Bundle{"index.js": "listen()"})
	require.NoError(t, err)

	upstream, err := git.PlainOpen(bare)
	require.NoError(t, err)
	head, err := upstream.Head()
	require.NoError(t, err)
	commit, err := upstream.CommitObject(head.Hash())
	require.NoError(t, err)
	assert.Equal(t, initialCommitMessage, commit.Message)
	_, err = commit.File("index.js")
	assert.NoError(t, err)
}

func TestLocal_RequestSandbox_NoFilesOnlyRestarts(t *testing.T) {
	starter := &fakeStarter{}
	l, err := NewLocal(LocalConfig{WorkDir: t.TempDir(), StartCommand: "npm start", BasePort: 5000}, WithStarter(starter.start))
	require.NoError(t, err)

	_, err = l.RequestSandbox(context.Background(), "acme/empty", nil)
	require.NoError(t, err)
	assert.Len(t, starter.procs, 1)
}

func TestNewLocal_Validation(t *testing.T) {
	_, err := NewLocal(LocalConfig{WorkDir: t.TempDir(), BasePort: 3000})
	assert.ErrorContains(t, err, "start command")

	_, err = NewLocal(LocalConfig{WorkDir: t.TempDir(), StartCommand: "npm run dev"})
	assert.ErrorContains(t, err, "base port")
}

func TestCheckoutName(t *testing.T) {
	assert.Equal(t, "acme__weather", checkoutName("acme/weather"))
	assert.Equal(t, "__acme", checkoutName("../acme"))
}

func TestGitHubCloneURL(t *testing.T) {
	assert.Equal(t, "https://github.com/acme/weather.git", GitHubCloneURL("acme/weather"))
}
