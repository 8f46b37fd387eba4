package models

import (
	"context"
	"fmt"
	"strings"
)

// VersionSource reports the library versions installed in the environment
// models are loaded in. Keys are package names; implementations may return
// them in any spelling, they are normalized before lookup.
type VersionSource interface {
	InstalledVersions(ctx context.Context) (map[string]string, error)
}

// StaticVersions is a fixed version table.
type StaticVersions map[string]string

// InstalledVersions implements VersionSource.
func (s StaticVersions) InstalledVersions(context.Context) (map[string]string, error) {
	out := make(map[string]string, len(s))
	for name, v := range s {
		out[NormalizeName(name)] = v
	}
	return out, nil
}

// Violation describes one requirement that does not hold.
type Violation struct {
	Requirement string `json:"requirement"`
	Installed   string `json:"installed,omitempty"`
}

func (v Violation) String() string {
	if v.Installed == "" {
		return v.Requirement + " (not installed)"
	}
	return fmt.Sprintf("%s (installed %s)", v.Requirement, v.Installed)
}

// CheckRequirements evaluates requirement strings against installed
// versions. It returns the violations; the error is non-nil only when a
// requirement or an installed version cannot be parsed.
func CheckRequirements(requires []string, installed map[string]string) ([]Violation, error) {
	normalized := make(map[string]string, len(installed))
	for name, v := range installed {
		normalized[NormalizeName(name)] = v
	}

	var violations []Violation
	for _, raw := range requires {
		req, err := ParseRequirement(raw)
		if err != nil {
			return nil, err
		}
		have := normalized[req.Name]
		ok, err := req.Satisfied(have)
		if err != nil {
			return nil, fmt.Errorf("checking %s: %w", req.Raw, err)
		}
		if !ok {
			violations = append(violations, Violation{Requirement: req.Raw, Installed: have})
		}
	}
	return violations, nil
}

// violationsError wraps ErrUnsupportedVersion with the failing requirements.
func violationsError(modelType string, violations []Violation) error {
	parts := make([]string, len(violations))
	for i, v := range violations {
		parts[i] = v.String()
	}
	return fmt.Errorf("%w: %s requires %s", ErrUnsupportedVersion, modelType, strings.Join(parts, ", "))
}
