// File: internal/ops/dedevdeps.go
// Brief: Remove dev-dependencies from selected manifests.

package ops

import (
	"fmt"

	"github.com/example/dragons/internal/mutate"
	"github.com/example/dragons/internal/tomledit"
	"github.com/example/dragons/internal/workspace"
)

// DeactivateDevDependencies removes every dev-dependency entry, target
// specific ones included, from the packages pred selects. Feature entries
// referring to a removed dependency go with it. Dev-only dependency cycles
// disappear from the graph once this has run.
func DeactivateDevDependencies(ws *workspace.Workspace, pred func(*workspace.Package) bool, opts Options) ([]string, error) {
	rep := opts.reporter()
	var paths []string
	owners := map[string]string{}
	for _, p := range ws.Deep() {
		if pred(p) {
			paths = append(paths, p.ManifestPath)
			owners[p.ManifestPath] = p.Name
		}
	}
	walk := mutate.WalkOptions{Sections: []workspace.Section{workspace.Dev}}
	changed, err := opts.writer().EditEach(paths, func(path string, doc *tomledit.Document) error {
		removed := 0
		_, err := mutate.EachDependency(doc, walk, func(e *mutate.Entry) (mutate.Action, error) {
			removed++
			return mutate.Remove, nil
		})
		if err != nil {
			return err
		}
		if removed > 0 {
			opts.Log.V(1).Info("dev-dependencies removed", "package", owners[path], "count", removed)
			rep.Status("Deactivated", fmt.Sprintf("%s: %d dev %s", owners[path], removed, plural(removed, "dependency", "dependencies")))
		}
		return nil
	})
	return changed, err
}
