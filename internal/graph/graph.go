// File: internal/graph/graph.go
// Brief: Dependency graph over the packages of a workspace.

package graph

import (
	"sort"

	"github.com/example/dragons/internal/errdefs"
	"github.com/example/dragons/internal/workspace"
)

// Edge records that From depends on To through the listed sections.
type Edge struct {
	From     string
	To       string
	Sections []workspace.Section
}

// Graph holds every deep workspace package and its path dependency edges.
type Graph struct {
	nodes      map[string]*workspace.Package
	deps       map[string][]string
	dependents map[string][]string
	edges      map[[2]string]*Edge
}

// Options tune which edges are considered.
type Options struct {
	// SkipDev ignores dev-dependency edges.
	SkipDev bool
}

// New builds the graph of ws.Deep().
func New(ws *workspace.Workspace, opts Options) (*Graph, error) {
	g := &Graph{
		nodes:      map[string]*workspace.Package{},
		deps:       map[string][]string{},
		dependents: map[string][]string{},
		edges:      map[[2]string]*Edge{},
	}
	for _, p := range ws.Deep() {
		g.nodes[p.Name] = p
	}
	for _, p := range ws.Deep() {
		for _, d := range p.PathDependencies() {
			if opts.SkipDev && d.Section == workspace.Dev {
				continue
			}
			target := ws.PackageAt(d.Path)
			if target == nil {
				return nil, &errdefs.GraphError{From: p.Name, Unresolved: d.Path}
			}
			g.addEdge(p.Name, target.Name, d.Section)
		}
	}
	for k := range g.deps {
		sort.Strings(g.deps[k])
	}
	for k := range g.dependents {
		sort.Strings(g.dependents[k])
	}
	return g, nil
}

func (g *Graph) addEdge(from, to string, s workspace.Section) {
	key := [2]string{from, to}
	if e, ok := g.edges[key]; ok {
		for _, have := range e.Sections {
			if have == s {
				return
			}
		}
		e.Sections = append(e.Sections, s)
		return
	}
	g.edges[key] = &Edge{From: from, To: to, Sections: []workspace.Section{s}}
	g.deps[from] = append(g.deps[from], to)
	g.dependents[to] = append(g.dependents[to], from)
}

// Package returns the node named name.
func (g *Graph) Package(name string) *workspace.Package { return g.nodes[name] }

// Names returns every node name sorted.
func (g *Graph) Names() []string {
	out := make([]string, 0, len(g.nodes))
	for n := range g.nodes {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// DepsOf returns the direct dependencies of name, sorted.
func (g *Graph) DepsOf(name string) []string { return append([]string(nil), g.deps[name]...) }

// DependentsOf returns the packages depending directly on name, sorted.
func (g *Graph) DependentsOf(name string) []string {
	return append([]string(nil), g.dependents[name]...)
}

// Edges returns every edge sorted by (from, to).
func (g *Graph) Edges() []Edge {
	out := make([]Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	return out
}
