package versioning

import (
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/pkg/errors"

	"github.com/example/dragons/internal/errdefs"
)

func TestTransforms(t *testing.T) {
	cases := []struct {
		kind  Kind
		value string
		in    string
		want  string
	}{
		{BumpPre, "", "1.0.0", "1.0.0-1"},
		{BumpPre, "", "1.0.0-3", "1.0.0-4"},
		{BumpPre, "", "1.0.0-alpha.3", "1.0.0-alpha.4"},
		{BumpPre, "", "1.0.0-dev", "1.0.0-dev.1"},
		{BumpPre, "", "1.0.0-dev+b7", "1.0.0-dev.1+b7"},
		{BumpPatch, "", "1.2.3-dev", "1.2.4"},
		{BumpPatch, "", "1.2.3+meta", "1.2.4+meta"},
		{BumpMinor, "", "1.2.3", "1.3.0"},
		{BumpMajor, "", "1.2.3-rc.1", "2.0.0"},
		{BumpBreaking, "", "1.2.3", "2.0.0"},
		{BumpBreaking, "", "0.2.3-dev", "0.3.0"},
		{BumpBreaking, "", "0.0.3+build", "0.0.4"},
		{BumpToDev, "", "0.2.3", "0.3.0-dev"},
		{BumpToDev, "nightly", "2.0.0", "3.0.0-nightly"},
		{SetPre, "beta.2", "1.0.0", "1.0.0-beta.2"},
		{SetBuild, "sha.abc", "1.0.0-dev", "1.0.0-dev+sha.abc"},
		{Release, "", "1.0.0-dev+x", "1.0.0"},
		{Set, "4.5.6", "1.0.0", "4.5.6"},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind)+" "+tc.in, func(t *testing.T) {
			tr, err := NewTransform(tc.kind, tc.value)
			if err != nil {
				t.Fatalf("new transform: %v", err)
			}
			got, changed := tr.Apply(semver.MustParse(tc.in))
			if !changed || got.String() != tc.want {
				t.Fatalf("%s(%s) = %s (changed=%v), want %s", tc.kind, tc.in, got, changed, tc.want)
			}
		})
	}
}

func TestTransformNoChangeIsSkipped(t *testing.T) {
	tr := MustTransform(Release, "")
	v := semver.MustParse("1.0.0")
	if got, changed := tr.Apply(v); changed || got != v {
		t.Fatalf("release of a released version should be a no-op")
	}
}

func TestNewTransformRejectsBadValues(t *testing.T) {
	for _, tc := range []struct {
		kind  Kind
		value string
	}{
		{Set, "1.0"},
		{Set, "not-a-version"},
		{SetPre, ""},
		{SetPre, "bad..tag"},
		{SetBuild, "bad build"},
		{Kind("bump-sideways"), ""},
	} {
		_, err := NewTransform(tc.kind, tc.value)
		var cfg *errdefs.ConfigError
		if !errors.As(err, &cfg) {
			t.Fatalf("%s %q: expected ConfigError, got %v", tc.kind, tc.value, err)
		}
	}
}

func TestMatchesUsesCaretDefault(t *testing.T) {
	cases := []struct {
		req  string
		v    string
		want bool
	}{
		{"", "9.9.9", true},
		{"1.2", "1.9.0", true},
		{"1.2", "2.0.0", false},
		{"0.2.1", "0.2.9", true},
		{"0.2.1", "0.3.0", false},
		{"=0.1.0-dev", "0.1.0-dev", true},
		{"=0.1.0-dev", "0.2.0-dev", false},
		{"0.1.0-dev", "0.1.0", true},
		{">=1.0, <1.5", "1.4.9", true},
		{"~1.2.0", "1.3.0", false},
		{"*", "3.0.0", true},
	}
	for _, tc := range cases {
		got, err := Matches(tc.req, semver.MustParse(tc.v))
		if err != nil {
			t.Fatalf("%q: %v", tc.req, err)
		}
		if got != tc.want {
			t.Fatalf("Matches(%q, %s) = %v, want %v", tc.req, tc.v, got, tc.want)
		}
	}
	if _, err := Matches("not a req", semver.MustParse("1.0.0")); err == nil {
		t.Fatalf("expected parse error")
	}
}
