package secrets

import (
	"fmt"
	"regexp"
	"sort"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"

	"github.com/fyrsmithlabs/mcpforge/internal/orchestrator"
)

// Scanner implements orchestrator.SecretScanner with the default Gitleaks
// configuration.
type Scanner struct {
	allowlist *Allowlist
}

// NewScanner creates a scanner. allowlist may be nil.
func NewScanner(allowlist *Allowlist) (*Scanner, error) {
	if allowlist != nil {
		if err := allowlist.validate(); err != nil {
			return nil, err
		}
	}
	return &Scanner{allowlist: allowlist}, nil
}

// ScanBundle scans every file and returns findings ordered by path and line.
// Matched secret values are never included.
func (s *Scanner) ScanBundle(files map[string]string) ([]orchestrator.Finding, error) {
	// The detector accumulates findings internally, so each scan gets its own.
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load detection rules: %w", err)
	}
	if !s.allowlist.empty() {
		applyAllowlist(&detector.Config, s.allowlist)
	}

	var out []orchestrator.Finding
	for path, content := range files {
		for _, f := range detector.Detect(detect.Fragment{Raw: content, FilePath: path}) {
			out = append(out, orchestrator.Finding{
				Path:   path,
				RuleID: f.RuleID,
				Line:   f.StartLine + 1,
			})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Line < out[j].Line
	})
	return out, nil
}

// applyAllowlist adds al as a global Gitleaks allowlist. Patterns were
// validated by NewScanner.
func applyAllowlist(cfg *gitleaksConfig.Config, al *Allowlist) {
	global := &gitleaksConfig.Allowlist{Description: "mcpforge allowlist"}
	for _, p := range al.Paths {
		global.Paths = append(global.Paths, (*gitleaksRegexp.Regexp)(regexp.MustCompile(p)))
	}
	for _, p := range al.Regexes {
		global.Regexes = append(global.Regexes, (*gitleaksRegexp.Regexp)(regexp.MustCompile(p)))
	}
	cfg.Allowlists = append(cfg.Allowlists, global)
}

var _ orchestrator.SecretScanner = (*Scanner)(nil)
