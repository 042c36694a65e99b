// File: internal/ops/rename.go
// Brief: Rename transaction: new package names behind unchanged dependency keys.

package ops

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/example/dragons/internal/errdefs"
	"github.com/example/dragons/internal/mutate"
	"github.com/example/dragons/internal/tomledit"
	"github.com/example/dragons/internal/workspace"
)

// validName accepts registry package names: ASCII letters first, then
// letters, digits, '-' or '_'.
func validName(name string) bool {
	if name == "" || len(name) > 64 {
		return false
	}
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r >= '0' && r <= '9' || r == '-' || r == '_'):
		default:
			return false
		}
	}
	return true
}

// Rename gives each package in renames (old name -> new name) its new name
// and points every path dependency on it at the new name through the
// `package` field. Dependency keys are left alone, so code keeps referring
// to the old key. It returns the changed manifests.
func Rename(ws *workspace.Workspace, renames map[string]string, opts Options) ([]string, error) {
	rep := opts.reporter()
	if len(renames) == 0 {
		rep.Status("Done", "No changes applied")
		return nil, nil
	}
	olds := make([]string, 0, len(renames))
	for old, next := range renames {
		if ws.Package(old) == nil {
			return nil, errdefs.Configf("package %s not found in workspace", old)
		}
		if !validName(next) {
			return nil, errdefs.Configf("invalid package name %q", next)
		}
		if other := ws.Package(next); other != nil && renames[next] == "" {
			return nil, errdefs.Configf("package %s already exists", next)
		}
		olds = append(olds, old)
	}
	sort.Strings(olds)
	for _, old := range olds {
		rep.Status("Renaming", fmt.Sprintf("%s -> %s", old, renames[old]))
	}

	pkgs := ws.Deep()
	owners := byManifest(pkgs)
	edit := func(path string, doc *tomledit.Document) error {
		if p := owners[path]; p != nil {
			if next, ok := renames[p.Name]; ok {
				t := doc.Table("package")
				if t == nil {
					return &errdefs.ManifestIOError{Path: path, Err: errors.New("missing [package] table")}
				}
				if err := doc.SetString(t, "name", next); err != nil {
					return err
				}
			}
		}
		count := 0
		_, err := mutate.EachDependency(doc, mutate.WalkOptions{Workspace: isRoot(ws, path)}, func(e *mutate.Entry) (mutate.Action, error) {
			next, ok := renames[e.Name]
			if !ok || !e.Has("path") {
				return mutate.Untouched, nil
			}
			if err := e.SetString("package", next); err != nil {
				return mutate.Untouched, err
			}
			count++
			return mutate.Mutated, nil
		})
		if err != nil {
			return err
		}
		if count > 0 {
			rep.Status("Updating", fmt.Sprintf("%s: %d %s", describeManifest(ws, owners, path), count, plural(count, "dependency", "dependencies")))
		}
		return nil
	}
	return opts.writer().EditEach(manifests(ws, pkgs), edit)
}

// ParseRenames reads `old=new` pairs.
func ParseRenames(pairs []string) (map[string]string, error) {
	out := map[string]string{}
	for _, pair := range pairs {
		old, next, ok := strings.Cut(pair, "=")
		old, next = strings.TrimSpace(old), strings.TrimSpace(next)
		if !ok || old == "" || next == "" {
			return nil, errdefs.Configf("invalid rename %q, expected old=new", pair)
		}
		if _, dup := out[old]; dup {
			return nil, errdefs.Configf("package %s renamed twice", old)
		}
		out[old] = next
	}
	return out, nil
}
