// File: internal/graph/order.go
// Brief: Cycle detection and dependency-first release ordering.

package graph

import (
	"sort"

	"github.com/example/dragons/internal/errdefs"
	"github.com/example/dragons/internal/workspace"
)

// ReleaseOrder returns the packages accepted by pred ordered so that every
// package comes after its path dependencies, ties broken by name. Packages
// rejected by pred are traversed as already satisfied but never returned.
// Cycles are reported for the subgraph reachable from accepted packages.
func (g *Graph) ReleaseOrder(pred func(*workspace.Package) bool) ([]*workspace.Package, error) {
	var roots []string
	for _, name := range g.Names() {
		if pred(g.nodes[name]) {
			roots = append(roots, name)
		}
	}
	reach := g.reachable(roots)
	if cycle := g.findCycle(roots, reach); len(cycle) > 0 {
		return nil, &errdefs.GraphError{Cycle: cycle}
	}

	inDegree := map[string]int{}
	for name := range reach {
		inDegree[name] = 0
	}
	for name := range reach {
		for _, dep := range g.deps[name] {
			if reach[dep] {
				inDegree[name]++
			}
		}
	}
	var ready []string
	for name, n := range inDegree {
		if n == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	var out []*workspace.Package
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		if p := g.nodes[name]; pred(p) {
			out = append(out, p)
		}
		for _, dependent := range g.dependents[name] {
			if !reach[dependent] {
				continue
			}
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = insertSorted(ready, dependent)
			}
		}
	}
	return out, nil
}

func (g *Graph) reachable(roots []string) map[string]bool {
	seen := map[string]bool{}
	stack := append([]string(nil), roots...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[n] {
			continue
		}
		seen[n] = true
		stack = append(stack, g.deps[n]...)
	}
	return seen
}

const (
	white = iota
	grey
	black
)

// findCycle runs a three-colour DFS over the reachable subgraph and returns
// the first cycle found as a closed path (first element repeated last).
func (g *Graph) findCycle(roots []string, reach map[string]bool) []string {
	color := map[string]int{}
	var stack []string
	var cycle []string
	var visit func(string) bool
	visit = func(n string) bool {
		color[n] = grey
		stack = append(stack, n)
		for _, dep := range g.deps[n] {
			if !reach[dep] {
				continue
			}
			switch color[dep] {
			case grey:
				for i := range stack {
					if stack[i] == dep {
						cycle = append(append([]string(nil), stack[i:]...), dep)
						return true
					}
				}
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[n] = black
		return false
	}
	for _, r := range roots {
		if color[r] == white && visit(r) {
			return cycle
		}
	}
	return nil
}

func insertSorted(list []string, s string) []string {
	i := sort.SearchStrings(list, s)
	list = append(list, "")
	copy(list[i+1:], list[i:])
	list[i] = s
	return list
}
