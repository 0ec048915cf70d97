// Package ignore provides gitignore-style filtering of generated project
// files.
package ignore

import (
	"bufio"
	"errors"
	"io/fs"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// Parser reads and parses gitignore-style files.
type Parser struct {
	// IgnoreFiles is the list of ignore file names to look for.
	IgnoreFiles []string

	// FallbackPatterns are returned when no ignore files are found.
	FallbackPatterns []string

	fs afero.Fs
}

// NewParser creates a parser reading from fsys. A nil fsys uses the OS
// filesystem.
func NewParser(fsys afero.Fs, ignoreFiles, fallbackPatterns []string) *Parser {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &Parser{
		IgnoreFiles:      ignoreFiles,
		FallbackPatterns: fallbackPatterns,
		fs:               fsys,
	}
}

// ParseProject reads all ignore files from the project root and returns
// combined exclude patterns. If no ignore files are found, returns fallback patterns.
func (p *Parser) ParseProject(projectRoot string) ([]string, error) {
	var patterns []string
	foundAny := false

	for _, ignoreFile := range p.IgnoreFiles {
		filePatterns, err := p.parseFile(filepath.Join(projectRoot, ignoreFile))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		patterns = append(patterns, filePatterns...)
		foundAny = true
	}

	if !foundAny {
		return p.FallbackPatterns, nil
	}
	return deduplicate(patterns), nil
}

func (p *Parser) parseFile(name string) ([]string, error) {
	file, err := p.fs.Open(name)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var patterns []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if pattern := parseLine(scanner.Text()); pattern != "" {
			patterns = append(patterns, pattern)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return patterns, nil
}

// parseLine parses a single line from a gitignore file.
// Returns empty string for comments and blank lines.
func parseLine(line string) string {
	line = strings.TrimRight(line, " \t")
	if line == "" || strings.HasPrefix(line, "#") {
		return ""
	}
	// Negation is not supported.
	if strings.HasPrefix(line, "!") {
		return ""
	}
	return toGlobPattern(line)
}

// toGlobPattern converts a gitignore pattern to a glob pattern.
func toGlobPattern(pattern string) string {
	// Leading slash anchors to the root, which every pattern here already is.
	pattern = strings.TrimPrefix(pattern, "/")

	if strings.HasSuffix(pattern, "/") {
		pattern = pattern + "**"
	}

	// Slash-free names match at any depth.
	if !strings.Contains(pattern, "/") && !strings.HasPrefix(pattern, "**/") {
		if !strings.HasPrefix(pattern, "*") {
			pattern = "**/" + pattern
		}
	}

	// "node_modules" becomes "**/node_modules/**".
	if !strings.HasSuffix(pattern, "/**") && !strings.HasSuffix(pattern, "/*") && !strings.Contains(pattern, ".") {
		pattern = pattern + "/**"
	}

	return pattern
}

// deduplicate removes duplicate patterns while preserving order.
func deduplicate(patterns []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if !seen[p] {
			seen[p] = true
			result = append(result, p)
		}
	}
	return result
}

// Matcher tests slash-separated relative paths against glob patterns in
// which "**" spans any number of path segments.
type Matcher struct {
	patterns []string
}

// NewMatcher compiles patterns. Invalid patterns are reported up front.
func NewMatcher(patterns ...string) (*Matcher, error) {
	for _, p := range patterns {
		if _, err := path.Match(p, "test"); err != nil {
			return nil, &PatternError{Pattern: p, Err: err}
		}
	}
	return &Matcher{patterns: append([]string(nil), patterns...)}, nil
}

// PatternError reports a malformed pattern.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string { return "invalid pattern " + `"` + e.Pattern + `": ` + e.Err.Error() }
func (e *PatternError) Unwrap() error { return e.Err }

// Match reports whether rel is excluded. A directory is also excluded when
// a "dir/**" pattern names it, so walks can skip it whole.
func (m *Matcher) Match(rel string, isDir bool) bool {
	rel = strings.Trim(filepath.ToSlash(rel), "/")
	if rel == "" || rel == "." {
		return false
	}
	base := path.Base(rel)
	for _, p := range m.patterns {
		if !strings.Contains(p, "/") {
			if ok, _ := path.Match(p, base); ok {
				return true
			}
		}
		if matchSegments(strings.Split(p, "/"), strings.Split(rel, "/")) {
			return true
		}
		if isDir && strings.HasSuffix(p, "/**") {
			dir := strings.TrimSuffix(p, "/**")
			if matchSegments(strings.Split(dir, "/"), strings.Split(rel, "/")) {
				return true
			}
		}
	}
	return false
}

func matchSegments(pattern, name []string) bool {
	for len(pattern) > 0 {
		if pattern[0] == "**" {
			rest := pattern[1:]
			for i := 0; i <= len(name); i++ {
				if matchSegments(rest, name[i:]) {
					return true
				}
			}
			return false
		}
		if len(name) == 0 {
			return false
		}
		if ok, _ := path.Match(pattern[0], name[0]); !ok {
			return false
		}
		pattern, name = pattern[1:], name[1:]
	}
	return len(name) == 0
}
