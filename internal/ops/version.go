// File: internal/ops/version.go
// Brief: Version transaction: bump selected packages, then fix requirements.

package ops

import (
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"
	"github.com/pkg/errors"

	"github.com/example/dragons/internal/errdefs"
	"github.com/example/dragons/internal/mutate"
	"github.com/example/dragons/internal/tomledit"
	"github.com/example/dragons/internal/versioning"
	"github.com/example/dragons/internal/workspace"
)

// VersionChange records one package moved to a new version.
type VersionChange struct {
	Package string
	From    *semver.Version
	To      *semver.Version
}

// RequirementChange records one dependency requirement rewritten.
type RequirementChange struct {
	Manifest   string
	Dependency string
	Section    workspace.Section
	From       string
	To         string
}

// VersionResult summarises a version transaction.
type VersionResult struct {
	Versions     []VersionChange
	Requirements []RequirementChange
	Changed      []string
}

// SetVersions applies transform to every package pred selects, then walks
// the path dependencies of every package in the workspace graph (and the
// root [workspace.dependencies] table) and rewrites requirements on the
// changed packages. A requirement is rewritten when forceUpdate is set or
// when it no longer matches the new version. A missing requirement is added
// for normal and build dependencies; dev-dependencies stay unconstrained.
func SetVersions(ws *workspace.Workspace, pred func(*workspace.Package) bool, transform versioning.Transform, forceUpdate bool, opts Options) (*VersionResult, error) {
	rep := opts.reporter()
	res := &VersionResult{}
	updates := map[string]*semver.Version{}

	pkgs := ws.Deep()
	for _, p := range pkgs {
		if !pred(p) {
			continue
		}
		next, changed := transform.Apply(p.Version)
		if !changed {
			opts.Log.V(1).Info("version unchanged", "package", p.Name, "version", p.Version.String())
			continue
		}
		updates[p.Name] = next
		res.Versions = append(res.Versions, VersionChange{Package: p.Name, From: p.Version, To: next})
		rep.Status("Bumping", fmt.Sprintf("%s: %s -> %s", p.Name, p.Version, next))
	}
	if len(updates) == 0 {
		rep.Status("Done", "No changes applied")
		return res, nil
	}

	owners := byManifest(pkgs)
	edit := func(path string, doc *tomledit.Document) error {
		if p := owners[path]; p != nil {
			if next, ok := updates[p.Name]; ok {
				if err := setPackageVersion(doc, p, next); err != nil {
					return err
				}
			}
		}
		count := 0
		_, err := mutate.EachDependency(doc, mutate.WalkOptions{Workspace: isRoot(ws, path)}, func(e *mutate.Entry) (mutate.Action, error) {
			next, ok := updates[e.Name]
			if !ok || !e.Has("path") {
				return mutate.Untouched, nil
			}
			if inherited, _ := e.GetBool("workspace"); inherited {
				return mutate.Untouched, nil
			}
			req, has := e.Get("version")
			if !has && e.Section == workspace.Dev {
				return mutate.Untouched, nil
			}
			if has && !forceUpdate {
				matches, err := versioning.Matches(req, next)
				if err != nil {
					return mutate.Untouched, errors.Wrapf(err, "dependency %s", e.Key)
				}
				if matches {
					return mutate.Untouched, nil
				}
			}
			want := versioning.Requirement(next)
			if has && req == want {
				return mutate.Untouched, nil
			}
			if err := e.SetString("version", want); err != nil {
				return mutate.Untouched, err
			}
			count++
			res.Requirements = append(res.Requirements, RequirementChange{Manifest: path, Dependency: e.Key, Section: e.Section, From: req, To: want})
			opts.Log.V(1).Info("requirement updated", "manifest", path, "dependency", e.Key, "from", req, "to", want)
			return mutate.Mutated, nil
		})
		if err != nil {
			return err
		}
		if count > 0 {
			rep.Status("Updating", fmt.Sprintf("%s: %d %s", describeManifest(ws, owners, path), count, plural(count, "requirement", "requirements")))
		}
		return nil
	}

	changed, err := opts.writer().EditEach(manifests(ws, pkgs), edit)
	res.Changed = changed
	if err != nil {
		return res, err
	}
	sort.SliceStable(res.Versions, func(i, j int) bool { return res.Versions[i].Package < res.Versions[j].Package })
	return res, nil
}

// setPackageVersion writes [package] version. A version inherited from
// [workspace.package] is shared with other packages and cannot be bumped
// for one package alone.
func setPackageVersion(doc *tomledit.Document, p *workspace.Package, v *semver.Version) error {
	t := doc.Table("package")
	if t == nil {
		return &errdefs.ManifestIOError{Path: p.ManifestPath, Err: errors.New("missing [package] table")}
	}
	if kv := t.Get("version"); kv != nil {
		if kv.Value.Kind == tomledit.KindString {
			return doc.Splice(kv.Value.Span, tomledit.FormatString(v.String()))
		}
		if kv.Value.Kind == tomledit.KindInlineTable && kv.Value.Field("workspace") != nil {
			return inheritedVersion(p)
		}
		return &errdefs.ManifestIOError{Path: p.ManifestPath, Err: errors.New("package.version is not a string")}
	}
	if t.Get("version", "workspace") != nil {
		return inheritedVersion(p)
	}
	return doc.SetString(t, "version", v.String())
}

func inheritedVersion(p *workspace.Package) error {
	return errdefs.Configf("%s inherits its version from [workspace.package]; edit the workspace version instead", p.Name)
}

func describeManifest(ws *workspace.Workspace, owners map[string]*workspace.Package, path string) string {
	if p := owners[path]; p != nil {
		return p.Name
	}
	if isRoot(ws, path) {
		return "workspace"
	}
	return path
}
