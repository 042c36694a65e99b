package versioning

import (
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/pkg/errors"
)

var plainVersion = regexp.MustCompile(`^v?\d+(\.\d+)?(\.\d+)?(-[0-9A-Za-z.-]+)?(\+[0-9A-Za-z.-]+)?$`)

// ParseRequirement parses a Cargo-style requirement. Comparators without an
// operator are caret requirements, so "1.2" means ">=1.2.0, <2.0.0".
func ParseRequirement(req string) (*semver.Constraints, error) {
	parts := strings.Split(req, ",")
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if plainVersion.MatchString(part) {
			part = "^" + part
		}
		parts[i] = part
	}
	c, err := semver.NewConstraint(strings.Join(parts, ", "))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid version requirement %q", req)
	}
	return c, nil
}

// Matches reports whether v satisfies req. An empty requirement matches everything.
func Matches(req string, v *semver.Version) (bool, error) {
	if strings.TrimSpace(req) == "" {
		return true, nil
	}
	c, err := ParseRequirement(req)
	if err != nil {
		return false, err
	}
	return c.Check(v), nil
}

// Requirement returns the requirement text written for a dependency on v.
func Requirement(v *semver.Version) string {
	return v.String()
}
