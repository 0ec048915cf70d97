package generator

import (
	"context"
	"fmt"
	"io/fs"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mcpforge/internal/ignore"
	"github.com/fyrsmithlabs/mcpforge/internal/logging"
	"github.com/fyrsmithlabs/mcpforge/internal/orchestrator"
)

const (
	// maxFileSize bounds a single collected file.
	maxFileSize = 1 << 20
	// maxOutput bounds the command output kept for error messages.
	maxOutput = 2048
)

var (
	// ignoreFiles are read from the generator output root.
	ignoreFiles = []string{".gitignore"}
	// fallbackExcludes apply when the output has no ignore file.
	fallbackExcludes = []string{"**/node_modules/**", "**/dist/**"}
	// alwaysExcluded is never collected.
	alwaysExcluded = []string{"**/.git/**"}
)

// Runner executes a command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec. The process is killed when ctx ends.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// CommandGenerator runs an external generator that reads an API description
// URL and writes a project directory.
type CommandGenerator struct {
	command string
	args    []string
	fs      afero.Fs
	run     Runner
	logger  *logging.Logger
}

// CommandOption configures a CommandGenerator.
type CommandOption func(*CommandGenerator)

// WithFs sets the filesystem the output directory is created and read on.
func WithFs(fsys afero.Fs) CommandOption {
	return func(g *CommandGenerator) { g.fs = fsys }
}

// WithRunner replaces the process runner.
func WithRunner(r Runner) CommandOption {
	return func(g *CommandGenerator) { g.run = r }
}

// WithCommandLogger sets the logger.
func WithCommandLogger(l *logging.Logger) CommandOption {
	return func(g *CommandGenerator) { g.logger = l }
}

// NewCommandGenerator creates a generator invoking command with args
// followed by "--input <url> --output <dir>".
func NewCommandGenerator(command string, args []string, opts ...CommandOption) *CommandGenerator {
	g := &CommandGenerator{
		command: command,
		args:    append([]string(nil), args...),
		fs:      afero.NewOsFs(),
		run:     ExecRunner,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate implements orchestrator.Generator.
func (g *CommandGenerator) Generate(ctx context.Context, in orchestrator.Input) (orchestrator.Bundle, error) {
	if in.Kind != orchestrator.KindSpecification {
		return nil, fmt.Errorf("command generator requires a specification input, got %q", in.Kind)
	}

	dir, err := afero.TempDir(g.fs, "", "mcpforge-gen-")
	if err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	defer func() {
		if err := g.fs.RemoveAll(dir); err != nil {
			g.logger.Warn(ctx, "failed to remove generator output", zap.String("dir", dir), zap.Error(err))
		}
	}()

	args := append(append([]string(nil), g.args...), "--input", strings.TrimSpace(in.Payload), "--output", dir)
	g.logger.Debug(ctx, "running generator", zap.String("command", g.command), zap.Strings("args", args))

	out, err := g.run(ctx, g.command, args...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("generator interrupted: %w", ctx.Err())
		}
		return nil, fmt.Errorf("generator failed: %w: %s", err, tail(out, maxOutput))
	}

	bundle, err := g.collect(dir)
	if err != nil {
		return nil, err
	}
	g.logger.Info(ctx, "generator output collected", zap.Int("files", len(bundle)))
	return bundle, nil
}

// collect reads every regular file under dir that the output's ignore
// file does not exclude into a bundle keyed by slash-separated relative path.
func (g *CommandGenerator) collect(dir string) (orchestrator.Bundle, error) {
	patterns, err := ignore.NewParser(g.fs, ignoreFiles, fallbackExcludes).ParseProject(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read ignore file: %w", err)
	}
	excluded, err := ignore.NewMatcher(append(append([]string(nil), patterns...), alwaysExcluded...)...)
	if err != nil {
		return nil, fmt.Errorf("invalid ignore pattern: %w", err)
	}

	bundle := orchestrator.Bundle{}
	err = afero.Walk(g.fs, dir, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if excluded.Match(rel, info.IsDir()) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() || !info.Mode().IsRegular() || info.Size() > maxFileSize {
			return nil
		}
		data, err := afero.ReadFile(g.fs, path)
		if err != nil {
			return fmt.Errorf("read %s: %w", rel, err)
		}
		bundle[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to collect generator output: %w", err)
	}
	return bundle, nil
}

func tail(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		s = "..." + s[len(s)-n:]
	}
	return s
}
