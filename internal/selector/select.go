// File: internal/selector/select.go
// Brief: Package selection predicate built from user criteria.

package selector

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"

	"github.com/example/dragons/internal/errdefs"
	"github.com/example/dragons/internal/vcs"
	"github.com/example/dragons/internal/workspace"
)

// CascadePolicy decides which packages are pulled in because of pre-release
// tags when include-pre-release-dependents is set.
type CascadePolicy string

const (
	// CascadeSelf accepts a package that itself carries a pre-release tag.
	CascadeSelf CascadePolicy = "self"
	// CascadeSeed accepts a package with a direct path dependency on a seed
	// package (changed or matched) that carries a pre-release tag.
	CascadeSeed CascadePolicy = "seed"
)

// ParseCascadePolicy validates a policy name; empty selects CascadeSelf.
func ParseCascadePolicy(s string) (CascadePolicy, error) {
	switch CascadePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", CascadeSelf:
		return CascadeSelf, nil
	case CascadeSeed:
		return CascadeSeed, nil
	}
	return "", errdefs.Configf("unknown pre-release cascade policy %q (expected self or seed)", s)
}

// Criteria are the user-facing selection options.
type Criteria struct {
	Include              []string
	Skip                 []string
	SkipPreTags          []string
	IgnorePublish        bool
	ChangedSince         string
	IncludePreDependents bool
	Cascade              CascadePolicy
}

// Predicate reports whether a package takes part in the current operation.
type Predicate func(*workspace.Package) bool

// All accepts every package.
func All(*workspace.Package) bool { return true }

// Validate checks the mutually exclusive option groups.
func (c Criteria) Validate() error {
	hasSkip := len(c.Skip) > 0 || len(c.SkipPreTags) > 0
	changed := strings.TrimSpace(c.ChangedSince) != ""
	switch {
	case len(c.Include) > 0 && hasSkip:
		return errdefs.Configf("--packages cannot be combined with --skip or --ignore-pre-version")
	case changed && hasSkip:
		return errdefs.Configf("--changed-since cannot be combined with --skip or --ignore-pre-version")
	case changed && len(c.Include) > 0:
		return errdefs.Configf("--changed-since cannot be combined with --packages")
	}
	return nil
}

// Options carry the collaborators used while building a predicate.
type Options struct {
	Diff vcs.DiffProvider
	Log  logr.Logger
}

// Build validates c and returns a pure predicate. Changed files are computed
// once here; the returned predicate does no I/O.
func Build(ctx context.Context, ws *workspace.Workspace, c Criteria, opts Options) (Predicate, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	cascade, err := ParseCascadePolicy(string(c.Cascade))
	if err != nil {
		return nil, err
	}
	include, err := compileAll(c.Include, "--packages")
	if err != nil {
		return nil, err
	}
	skip, err := compileAll(c.Skip, "--skip")
	if err != nil {
		return nil, err
	}
	skipPre := map[string]bool{}
	for _, tag := range c.SkipPreTags {
		skipPre[strings.TrimSpace(tag)] = true
	}

	matches := func(res []*regexp.Regexp, name string) bool {
		for _, re := range res {
			if re.MatchString(name) {
				return true
			}
		}
		return false
	}

	changedSince := strings.TrimSpace(c.ChangedSince)
	var seeds map[string]bool
	switch {
	case changedSince != "":
		if opts.Diff == nil {
			opts.Diff = vcs.Git{Dir: ws.Root}
		}
		files, err := opts.Diff.ChangedFiles(ctx, changedSince)
		if err != nil {
			return nil, errors.Wrapf(err, "compute changes since %s", changedSince)
		}
		seeds = ChangedPackages(ws.Deep(), files)
		opts.Log.V(1).Info("changed packages", "since", changedSince, "files", len(files), "packages", sortedKeys(seeds))
	case len(include) > 0:
		seeds = map[string]bool{}
		for _, p := range ws.Deep() {
			if matches(include, p.Name) {
				seeds[p.Name] = true
			}
		}
	}

	taggedSeeds := map[string]bool{}
	for _, p := range ws.Deep() {
		if seeds[p.Name] && p.IsPreRelease() {
			taggedSeeds[p.Name] = true
		}
	}
	cascades := func(p *workspace.Package) bool {
		if !c.IncludePreDependents {
			return false
		}
		if cascade == CascadeSelf {
			return p.IsPreRelease()
		}
		for _, d := range p.PathDependencies() {
			if taggedSeeds[d.Name] {
				return true
			}
		}
		return false
	}

	return func(p *workspace.Package) bool {
		if !c.IgnorePublish && !p.Publish.Allowed() {
			return false
		}
		if seeds != nil {
			return seeds[p.Name] || cascades(p)
		}
		if matches(skip, p.Name) {
			return false
		}
		if len(skipPre) > 0 && skipPre[p.Version.Prerelease()] {
			return false
		}
		return true
	}, nil
}

// ChangedPackages maps each file to the package with the longest directory
// prefix containing it.
func ChangedPackages(pkgs []*workspace.Package, files []string) map[string]bool {
	out := map[string]bool{}
	for _, f := range files {
		f = filepath.Clean(f)
		var best *workspace.Package
		for _, p := range pkgs {
			if !within(p.Dir, f) {
				continue
			}
			if best == nil || len(p.Dir) > len(best.Dir) {
				best = p
			}
		}
		if best != nil {
			out[best.Name] = true
		}
	}
	return out
}

// Filter returns the packages accepted by pred, preserving order.
func Filter(pkgs []*workspace.Package, pred Predicate) []*workspace.Package {
	var out []*workspace.Package
	for _, p := range pkgs {
		if pred(p) {
			out = append(out, p)
		}
	}
	return out
}

func within(dir, file string) bool {
	rel, err := filepath.Rel(dir, file)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func compileAll(patterns []string, flag string) ([]*regexp.Regexp, error) {
	var out []*regexp.Regexp
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, &errdefs.ConfigError{Msg: fmt.Sprintf("invalid %s pattern %q", flag, p), Err: err}
		}
		out = append(out, re)
	}
	return out, nil
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
