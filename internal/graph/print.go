// File: internal/graph/print.go
// Brief: Graph descriptions in DOT, JSON and YAML.

package graph

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/example/dragons/internal/workspace"
)

// Description is the serialisable form of a release graph.
type Description struct {
	Nodes []NodeDescription `json:"nodes" yaml:"nodes"`
	Edges []EdgeDescription `json:"edges" yaml:"edges"`
}

type NodeDescription struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Version  string `json:"version" yaml:"version"`
	Selected bool   `json:"selected" yaml:"selected"`
}

type EdgeDescription struct {
	From     string   `json:"from" yaml:"from"`
	To       string   `json:"to" yaml:"to"`
	Sections []string `json:"sections" yaml:"sections"`
}

// Describe lists the given packages and the edges among them.
func (g *Graph) Describe(pkgs []*workspace.Package, selected func(*workspace.Package) bool) Description {
	in := map[string]bool{}
	var d Description
	for _, p := range pkgs {
		in[p.Name] = true
		d.Nodes = append(d.Nodes, NodeDescription{
			ID:       p.ID(),
			Name:     p.Name,
			Version:  p.Version.String(),
			Selected: selected == nil || selected(p),
		})
	}
	for _, e := range g.Edges() {
		if !in[e.From] || !in[e.To] {
			continue
		}
		var sections []string
		for _, s := range e.Sections {
			sections = append(sections, s.String())
		}
		d.Edges = append(d.Edges, EdgeDescription{
			From:     g.nodes[e.From].ID(),
			To:       g.nodes[e.To].ID(),
			Sections: sections,
		})
	}
	return d
}

// WriteDOT renders d as a Graphviz digraph; edges point from dependent to dependency.
func WriteDOT(w io.Writer, d Description) error {
	var b strings.Builder
	b.WriteString("digraph release {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [shape=box];\n")
	for _, n := range d.Nodes {
		style := ""
		if !n.Selected {
			style = ",style=dashed"
		}
		fmt.Fprintf(&b, "  %q [label=%q%s];\n", n.ID, n.ID, style)
	}
	for _, e := range d.Edges {
		attrs := ""
		if len(e.Sections) == 1 && e.Sections[0] != workspace.Regular.String() {
			attrs = fmt.Sprintf(" [label=%q]", e.Sections[0])
		}
		fmt.Fprintf(&b, "  %q -> %q%s;\n", e.From, e.To, attrs)
	}
	b.WriteString("}\n")
	_, err := io.WriteString(w, b.String())
	return err
}

// WriteJSON renders d as indented JSON.
func WriteJSON(w io.Writer, d Description) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(d)
}

// WriteYAML renders d as YAML.
func WriteYAML(w io.Writer, d Description) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return err
	}
	return enc.Close()
}

// WriteFile picks the format from the file extension (.json, .yaml/.yml,
// anything else is DOT).
func WriteFile(path string, d Description) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil && filepath.Dir(path) != "." {
		return errors.Wrap(err, "create graph output directory")
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create graph output")
	}
	defer f.Close()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = WriteJSON(f, d)
	case ".yaml", ".yml":
		err = WriteYAML(f, d)
	default:
		err = WriteDOT(f, d)
	}
	if err != nil {
		return errors.Wrapf(err, "write graph %s", path)
	}
	return f.Close()
}
