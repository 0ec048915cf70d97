package orchestrator

import (
	"context"
	"fmt"
	"path"
	"strings"
)

// Gate inspects a generated bundle before anything is deployed. A gate
// error fails the run in the Deploying phase before a repository exists.
type Gate interface {
	Name() string
	Check(ctx context.Context, files Bundle) error
}

// PathGate rejects bundles whose paths could escape a checkout directory.
type PathGate struct{}

// NewPathGate creates a path safety gate.
func NewPathGate() *PathGate {
	return &PathGate{}
}

// Name returns the gate identifier.
func (g *PathGate) Name() string {
	return "path-safety"
}

// Check validates every bundle path.
func (g *PathGate) Check(_ context.Context, files Bundle) error {
	for _, p := range files.Paths() {
		if err := checkPath(p); err != nil {
			return err
		}
	}
	return nil
}

func checkPath(p string) error {
	switch {
	case p == "":
		return fmt.Errorf("empty file path")
	case strings.HasPrefix(p, "/") || strings.Contains(p, `\`):
		return fmt.Errorf("file path %q must be relative and slash-separated", p)
	case path.Clean(p) != p:
		return fmt.Errorf("file path %q is not clean", p)
	case p == ".." || strings.HasPrefix(p, "../"):
		return fmt.Errorf("file path %q escapes the repository", p)
	case p == ".git" || strings.HasPrefix(p, ".git/"):
		return fmt.Errorf("file path %q targets git metadata", p)
	}
	return nil
}

// Finding is one secret detected in a bundle.
type Finding struct {
	Path   string
	RuleID string
	Line   int
}

// SecretScanner detects credentials in file contents.
type SecretScanner interface {
	ScanBundle(files map[string]string) ([]Finding, error)
}

// SecretGate blocks deployment of bundles that contain credentials.
type SecretGate struct {
	scanner SecretScanner
}

// NewSecretGate wraps scanner as a Gate.
func NewSecretGate(scanner SecretScanner) *SecretGate {
	return &SecretGate{scanner: scanner}
}

// Name returns the gate identifier.
func (g *SecretGate) Name() string {
	return "secret-scan"
}

// Check scans the bundle and reports the first few findings.
func (g *SecretGate) Check(_ context.Context, files Bundle) error {
	findings, err := g.scanner.ScanBundle(files)
	if err != nil {
		return fmt.Errorf("secret scan failed: %w", err)
	}
	if len(findings) == 0 {
		return nil
	}
	const shown = 3
	parts := make([]string, 0, shown)
	for i, f := range findings {
		if i == shown {
			break
		}
		parts = append(parts, fmt.Sprintf("%s:%d (%s)", f.Path, f.Line, f.RuleID))
	}
	return fmt.Errorf("%d secret(s) detected in bundle: %s", len(findings), strings.Join(parts, ", "))
}
