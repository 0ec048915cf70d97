// Package secrets scans generated bundles for credentials with the Gitleaks
// rule set before anything is pushed to a repository.
//
// An optional TOML allowlist excludes files or content:
//
//	[allowlist]
//	paths = ['''^test/fixtures/''']
//	regexes = ['''EXAMPLE_KEY_[A-Z]+''']
package secrets

import "errors"

var (
	// ErrInvalidRegex indicates an allowlist pattern failed to compile.
	ErrInvalidRegex = errors.New("invalid regex pattern")

	// ErrInvalidTOML indicates an allowlist file could not be parsed.
	ErrInvalidTOML = errors.New("invalid TOML format")
)
