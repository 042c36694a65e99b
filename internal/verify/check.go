// File: internal/verify/check.go
// Brief: Pre-publish checks: metadata, dependencies, packaging and bottom-up verification.

package verify

import (
	"context"
	"fmt"
	"strings"

	"github.com/example/dragons/internal/errdefs"
	"github.com/example/dragons/internal/toolchain"
	"github.com/example/dragons/internal/ui"
	"github.com/example/dragons/internal/workspace"
)

// MaxKeywords is the registry limit on package keywords.
const MaxKeywords = 5

// CheckMetadata lists the publishing metadata problems of pkg.
func CheckMetadata(pkg *workspace.Package) []string {
	m := pkg.Metadata
	var bad []string
	if strings.TrimSpace(m.Description) == "" {
		bad = append(bad, "description is missing")
	}
	if strings.TrimSpace(m.Repository) == "" {
		bad = append(bad, "repository is missing")
	}
	switch {
	case m.License != "" && m.LicenseFile != "":
		bad = append(bad, "license and license-file are mutually exclusive")
	case m.License == "" && m.LicenseFile == "":
		bad = append(bad, "neither license nor license-file is provided")
	}
	if len(m.Keywords) > MaxKeywords {
		bad = append(bad, fmt.Sprintf("only %d keywords are allowed, found %d", MaxKeywords, len(m.Keywords)))
	}
	return bad
}

// CheckDependencies reports git dependencies of pkg that carry no version
// and therefore cannot resolve from the registry.
func CheckDependencies(pkg *workspace.Package) []string {
	var names []string
	for _, d := range pkg.Dependencies {
		if d.Source == workspace.Git && d.Req == "" {
			names = append(names, d.Name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	return []string{"git dependencies without a version: " + strings.Join(names, ", ")}
}

// SoftChecks runs the metadata and dependency checks over every package and
// reports all problems together.
func SoftChecks(pkgs []*workspace.Package) error {
	problems := map[string][]string{}
	for _, pkg := range pkgs {
		found := append(CheckMetadata(pkg), CheckDependencies(pkg)...)
		if len(found) > 0 {
			problems[pkg.Name] = found
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return &errdefs.SoftCheckError{Problems: problems}
}

// DefaultFeatures is the feature set a plain build of pkg enables.
func DefaultFeatures(pkg *workspace.Package) []string {
	if _, ok := pkg.Features["default"]; ok {
		return []string{"default"}
	}
	return nil
}

// CheckPackages verifies pkgs, given in release order, the way they will be
// published: soft checks first, then every package is archived, then each
// archive is compiled ephemerally with earlier verified copies substituted
// for its path dependencies. It returns the final replacement map.
func (p *Pipeline) CheckPackages(ctx context.Context, pkgs []*workspace.Package, mode toolchain.Mode) (ReplacementMap, error) {
	rep := p.reporter()
	rep.Status("Checking", "metadata and dependencies")
	if err := SoftChecks(pkgs); err != nil {
		return nil, err
	}

	archives := make(map[string]string, len(pkgs))
	var failed []errdefs.CellFailure
	for _, pkg := range pkgs {
		rep.Status("Packaging", pkg.String())
		archive, err := p.Package(ctx, pkg)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			rep.Error(fmt.Sprintf("%s: %v", pkg.Name, err))
			failed = append(failed, errdefs.CellFailure{Cell: errdefs.Cell{Package: pkg.ID(), Mode: "package"}, Err: err})
			continue
		}
		archives[pkg.Name] = archive
	}
	if len(failed) > 0 {
		return nil, &errdefs.VerificationFailure{Failures: failed}
	}

	rep.Status("Checking", fmt.Sprintf("%d packages", len(pkgs)))
	replace := ReplacementMap{}
	for _, pkg := range pkgs {
		rep.Status("Verifying", pkg.String())
		features := DefaultFeatures(pkg)
		res, err := p.Ephemeral(ctx, Request{
			Package:  pkg,
			Mode:     mode,
			Features: features,
			Archive:  archives[pkg.Name],
			Replace:  replace.Clone(),
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &errdefs.VerificationFailure{Failures: []errdefs.CellFailure{{
				Cell:        errdefs.Cell{Package: pkg.ID(), Mode: string(mode), Features: features},
				Err:         err,
				Diagnostics: res.Diagnostics(),
			}}}
		}
		replace[pkg.Name] = res.Dir
	}
	return replace, nil
}

func (p *Pipeline) reporter() ui.Reporter { return ui.Or(p.Reporter) }
