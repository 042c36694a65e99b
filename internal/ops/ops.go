// File: internal/ops/ops.go
// Brief: Shared plumbing for manifest transactions.

// Package ops holds the manifest transactions: version changes, renames,
// dependency unification, dev-dependency removal and field updates. Each
// transaction reads the manifests it touches, edits them through the
// mutation engine and writes back only what changed.
package ops

import (
	"path/filepath"

	"github.com/go-logr/logr"

	"github.com/example/dragons/internal/mutate"
	"github.com/example/dragons/internal/ui"
	"github.com/example/dragons/internal/workspace"
)

// Options are the collaborators every transaction uses.
type Options struct {
	Writer   mutate.Writer
	Reporter ui.Reporter
	Log      logr.Logger
}

func (o Options) reporter() ui.Reporter { return ui.Or(o.Reporter) }

func (o Options) writer() mutate.Writer {
	w := o.Writer
	if w.Log.GetSink() == nil {
		w.Log = o.Log
	}
	return w
}

// manifests returns the manifest paths of pkgs plus the root manifest of a
// virtual workspace, which carries [workspace.dependencies] but no package.
func manifests(ws *workspace.Workspace, pkgs []*workspace.Package) []string {
	var out []string
	seen := map[string]bool{}
	for _, p := range pkgs {
		if !seen[p.ManifestPath] {
			seen[p.ManifestPath] = true
			out = append(out, p.ManifestPath)
		}
	}
	if ws.Virtual() && !seen[ws.RootManifest] {
		out = append(out, ws.RootManifest)
	}
	return out
}

func isRoot(ws *workspace.Workspace, path string) bool {
	return filepath.Clean(path) == filepath.Clean(ws.RootManifest)
}

func byManifest(pkgs []*workspace.Package) map[string]*workspace.Package {
	out := make(map[string]*workspace.Package, len(pkgs))
	for _, p := range pkgs {
		out[p.ManifestPath] = p
	}
	return out
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
