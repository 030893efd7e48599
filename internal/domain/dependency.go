package domain

import (
	"fmt"
	"regexp"
)

// MaxDependenciesPerSession caps the number of DependencySpecs a single
// Execution's environment may request.
const MaxDependenciesPerSession = 50

var (
	dependencyNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)
	// pep440Pattern is a permissive shape check, not a full PEP-440 parser:
	// it rejects shell metacharacters and path traversal while accepting
	// the common release/pre-release/local-segment forms.
	pep440Pattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)*((a|b|rc)[0-9]+)?(\.post[0-9]+)?(\.dev[0-9]+)?(\+[A-Za-z0-9.]+)?$`)
)

// DependencySpec names a package to install into a session's environment
// before code execution, with an optional pinned version.
type DependencySpec struct {
	Name    string
	Version string // empty means "latest"
}

// Validate rejects names/versions that don't match the safe pattern —
// the boundary check that keeps dependency installation from becoming a
// shell-injection or path-traversal vector.
func (d DependencySpec) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("dependency name must not be empty")
	}
	if !dependencyNamePattern.MatchString(d.Name) {
		return fmt.Errorf("dependency name %q contains disallowed characters", d.Name)
	}
	if d.Version != "" && !pep440Pattern.MatchString(d.Version) {
		return fmt.Errorf("dependency version %q is not a valid version specifier", d.Version)
	}
	return nil
}

// ValidateDependencySpecs validates a full dependency list, including the
// per-session cardinality limit.
func ValidateDependencySpecs(specs []DependencySpec) error {
	if len(specs) > MaxDependenciesPerSession {
		return fmt.Errorf("at most %d dependencies are allowed per session, got %d", MaxDependenciesPerSession, len(specs))
	}
	for _, s := range specs {
		if err := s.Validate(); err != nil {
			return err
		}
	}
	return nil
}
