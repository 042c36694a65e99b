// File: internal/ops/unify.go
// Brief: Unify transaction: inherit pinned dependencies from the workspace.

package ops

import (
	"fmt"

	"github.com/example/dragons/internal/errdefs"
	"github.com/example/dragons/internal/mutate"
	"github.com/example/dragons/internal/tomledit"
	"github.com/example/dragons/internal/workspace"
)

// UnifyDependencies replaces the local version requirement of every normal
// and dev dependency that [workspace.dependencies] pins with
// `workspace = true`, placed as the first key. Only members pred selects
// are edited and dependencies without a pin are left alone.
func UnifyDependencies(ws *workspace.Workspace, pred func(*workspace.Package) bool, opts Options) ([]string, error) {
	rep := opts.reporter()
	if len(ws.Pins) == 0 {
		return nil, errdefs.Configf("no [workspace.dependencies] in %s, nothing to unify", ws.RootManifest)
	}
	byName := map[string]workspace.Pin{}
	for _, pin := range ws.Pins {
		byName[pin.Name] = pin
	}

	var selected []*workspace.Package
	for _, p := range ws.Members() {
		if pred(p) {
			selected = append(selected, p)
		}
	}
	owners := byManifest(selected)
	paths := make([]string, 0, len(selected))
	for _, p := range selected {
		paths = append(paths, p.ManifestPath)
	}

	walk := mutate.WalkOptions{Sections: []workspace.Section{workspace.Regular, workspace.Dev}, SkipTargets: true}
	edit := func(path string, doc *tomledit.Document) error {
		name := owners[path].Name
		_, err := mutate.EachDependency(doc, walk, func(e *mutate.Entry) (mutate.Action, error) {
			pin, ok := byName[e.Name]
			if !ok {
				return mutate.Untouched, nil
			}
			if inherited, _ := e.GetBool("workspace"); inherited {
				return mutate.Untouched, nil
			}
			if pin.Key != e.Key {
				rep.Warn(fmt.Sprintf("%s: %s is pinned as %s in the workspace, leaving it alone", name, e.Key, pin.Key))
				return mutate.Untouched, nil
			}
			req, has := e.Get("version")
			if !has {
				return mutate.Untouched, nil
			}
			if _, err := e.Remove("version"); err != nil {
				return mutate.Untouched, err
			}
			if err := e.SetBool("workspace", true); err != nil {
				return mutate.Untouched, err
			}
			if err := e.MoveFirst("workspace"); err != nil {
				return mutate.Untouched, err
			}
			rep.Status("Unifying", fmt.Sprintf("%s: %s %s -> workspace", name, e.Key, req))
			return mutate.Mutated, nil
		})
		return err
	}
	return opts.writer().EditEach(paths, edit)
}
