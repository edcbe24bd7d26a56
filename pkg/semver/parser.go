// Package semver parses editor host versions and the version constraints that
// commands declare against them.
package semver

import (
	"fmt"
	"regexp"
	"strings"

	masterminds "github.com/Masterminds/semver/v3"
)

const logPrefix = "semver:parser"

var (
	commandNameRegex = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	majorOnlyRegex   = regexp.MustCompile(`^\d+$`)
	leadingVersion   = regexp.MustCompile(`^v?(\d+)(\.\d+)?(\.\d+)?`)
)

// ParseHostVersion parses a host version string. Hosts report versions with
// build suffixes (e.g. "5.4.1-33305258+++UE5+Release-5.4"); only the leading
// major.minor.patch is kept.
func ParseHostVersion(raw string) (*masterminds.Version, error) {
	s := strings.TrimSpace(raw)
	m := leadingVersion.FindStringSubmatch(s)
	if m == nil {
		return nil, fmt.Errorf("%s - invalid host version: %q", logPrefix, raw)
	}
	minor, patch := m[2], m[3]
	if minor == "" {
		minor = ".0"
	}
	if patch == "" {
		patch = ".0"
	}
	v, err := masterminds.NewVersion(m[1] + minor + patch)
	if err != nil {
		return nil, fmt.Errorf("%s - invalid host version %q: %w", logPrefix, raw, err)
	}
	return v, nil
}

// ParseConstraint parses a version constraint. A bare major ("5") means any
// version within that major.
func ParseConstraint(raw string) (*masterminds.Constraints, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, fmt.Errorf("%s - empty version constraint", logPrefix)
	}
	if IsMajorOnly(s) {
		s = "^" + s + ".0.0"
	}
	c, err := masterminds.NewConstraint(s)
	if err != nil {
		return nil, fmt.Errorf("%s - invalid version constraint %q: %w", logPrefix, raw, err)
	}
	return c, nil
}

// IsMajorOnly checks if a constraint is a major-only specifier (e.g., "5").
func IsMajorOnly(s string) bool {
	return majorOnlyRegex.MatchString(s)
}

// ValidateCommandName checks the lower_snake_case naming used for commands.
func ValidateCommandName(name string) bool {
	return commandNameRegex.MatchString(name)
}
