package semver

import "fmt"

const resolverLogPrefix = "semver:resolver"

// Satisfies reports whether hostVersion meets constraint. An empty constraint
// is always satisfied; an empty host version satisfies nothing else.
func Satisfies(hostVersion, constraint string) (bool, error) {
	if constraint == "" {
		return true, nil
	}
	c, err := ParseConstraint(constraint)
	if err != nil {
		return false, err
	}
	if hostVersion == "" {
		return false, nil
	}
	v, err := ParseHostVersion(hostVersion)
	if err != nil {
		return false, fmt.Errorf("%s - failed to check %q: %w", resolverLogPrefix, constraint, err)
	}
	return c.Check(v), nil
}

// Requirement is a parsed constraint kept for repeated checks.
type Requirement struct {
	raw string
	fn  func(string) (bool, error)
}

// NewRequirement validates constraint once so later checks only parse the host version.
func NewRequirement(constraint string) (*Requirement, error) {
	if constraint == "" {
		return &Requirement{fn: func(string) (bool, error) { return true, nil }}, nil
	}
	c, err := ParseConstraint(constraint)
	if err != nil {
		return nil, err
	}
	return &Requirement{
		raw: constraint,
		fn: func(hostVersion string) (bool, error) {
			if hostVersion == "" {
				return false, nil
			}
			v, err := ParseHostVersion(hostVersion)
			if err != nil {
				return false, err
			}
			return c.Check(v), nil
		},
	}, nil
}

// Check tests hostVersion against the requirement.
func (r *Requirement) Check(hostVersion string) (bool, error) {
	return r.fn(hostVersion)
}

// String returns the constraint as written.
func (r *Requirement) String() string {
	return r.raw
}
