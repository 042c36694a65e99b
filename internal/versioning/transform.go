// File: internal/versioning/transform.go
// Brief: Version transforms applied by the version transaction.

package versioning

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/example/dragons/internal/errdefs"
)

// Kind names a version transform.
type Kind string

const (
	Set          Kind = "set"
	BumpPre      Kind = "bump-pre"
	BumpPatch    Kind = "bump-patch"
	BumpMinor    Kind = "bump-minor"
	BumpMajor    Kind = "bump-major"
	BumpBreaking Kind = "bump-breaking"
	BumpToDev    Kind = "bump-to-dev"
	SetPre       Kind = "set-pre"
	SetBuild     Kind = "set-build"
	Release      Kind = "release"
)

// DefaultDevTag is the pre-release tag used by BumpToDev when none is given.
const DefaultDevTag = "dev"

// Transform maps a package version to its next version.
type Transform struct {
	Kind  Kind
	Value string

	target *semver.Version
}

// NewTransform validates value for kinds that take one.
func NewTransform(kind Kind, value string) (Transform, error) {
	t := Transform{Kind: kind, Value: strings.TrimSpace(value)}
	switch kind {
	case Set:
		v, err := semver.StrictNewVersion(t.Value)
		if err != nil {
			return Transform{}, &errdefs.ConfigError{Msg: fmt.Sprintf("invalid version %q", value), Err: err}
		}
		t.target = v
	case SetPre:
		if _, err := semver.StrictNewVersion("0.0.0-" + t.Value); err != nil || t.Value == "" {
			return Transform{}, errdefs.Configf("invalid pre-release tag %q", value)
		}
	case SetBuild:
		if _, err := semver.StrictNewVersion("0.0.0+" + t.Value); err != nil || t.Value == "" {
			return Transform{}, errdefs.Configf("invalid build metadata %q", value)
		}
	case BumpToDev:
		if t.Value == "" {
			t.Value = DefaultDevTag
		}
		if _, err := semver.StrictNewVersion("0.0.0-" + t.Value); err != nil {
			return Transform{}, errdefs.Configf("invalid pre-release tag %q", value)
		}
	case BumpPre, BumpPatch, BumpMinor, BumpMajor, BumpBreaking, Release:
	default:
		return Transform{}, errdefs.Configf("unknown version transform %q", kind)
	}
	return t, nil
}

// MustTransform is NewTransform for constant inputs.
func MustTransform(kind Kind, value string) Transform {
	t, err := NewTransform(kind, value)
	if err != nil {
		panic(err)
	}
	return t
}

func (t Transform) String() string {
	if t.Value == "" {
		return string(t.Kind)
	}
	return fmt.Sprintf("%s %s", t.Kind, t.Value)
}

// Apply returns the transformed version and whether it differs from v.
func (t Transform) Apply(v *semver.Version) (*semver.Version, bool) {
	next := t.apply(v)
	if next == nil || next.String() == v.String() {
		return v, false
	}
	return next, true
}

func (t Transform) apply(v *semver.Version) *semver.Version {
	major, minor, patch := v.Major(), v.Minor(), v.Patch()
	switch t.Kind {
	case Set:
		return t.target
	case BumpPre:
		return build(major, minor, patch, nextPre(v.Prerelease()), v.Metadata())
	case BumpPatch:
		return build(major, minor, patch+1, "", v.Metadata())
	case BumpMinor:
		return build(major, minor+1, 0, "", v.Metadata())
	case BumpMajor:
		return build(major+1, 0, 0, "", v.Metadata())
	case BumpBreaking:
		return breaking(v)
	case BumpToDev:
		b := breaking(v)
		return build(b.Major(), b.Minor(), b.Patch(), t.Value, b.Metadata())
	case SetPre:
		return build(major, minor, patch, t.Value, v.Metadata())
	case SetBuild:
		return build(major, minor, patch, v.Prerelease(), t.Value)
	case Release:
		return build(major, minor, patch, "", "")
	}
	return nil
}

// breaking bumps the left-most non-zero component. Build metadata survives
// unless only the patch component moves.
func breaking(v *semver.Version) *semver.Version {
	switch {
	case v.Major() != 0:
		return build(v.Major()+1, 0, 0, "", v.Metadata())
	case v.Minor() != 0:
		return build(0, v.Minor()+1, 0, "", v.Metadata())
	}
	return build(0, 0, v.Patch()+1, "", "")
}

// nextPre increments the trailing numeric identifier of a pre-release tag,
// starting at "1" and appending ".1" when the tag ends in a word.
func nextPre(pre string) string {
	if pre == "" {
		return "1"
	}
	parts := strings.Split(pre, ".")
	last := parts[len(parts)-1]
	if n, err := strconv.ParseUint(last, 10, 64); err == nil {
		parts[len(parts)-1] = strconv.FormatUint(n+1, 10)
		return strings.Join(parts, ".")
	}
	return pre + ".1"
}

func build(major, minor, patch uint64, pre, meta string) *semver.Version {
	text := fmt.Sprintf("%d.%d.%d", major, minor, patch)
	if pre != "" {
		text += "-" + pre
	}
	if meta != "" {
		text += "+" + meta
	}
	return semver.MustParse(text)
}
