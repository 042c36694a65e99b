package selector

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/pkg/errors"

	"github.com/example/dragons/internal/errdefs"
	"github.com/example/dragons/internal/vcs"
	"github.com/example/dragons/internal/workspace"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// fixture: core (1.0.0), core-macros (1.0.0-dev, depends on core),
// app (0.3.0-dev, depends on core-macros), internal-tool (publish = false),
// nested/inner lives inside app's directory.
func fixture(t *testing.T) *workspace.Workspace {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "Cargo.toml"), "[workspace]\nmembers = [\"core\", \"core-macros\", \"app\", \"app/inner\", \"internal-tool\"]\n")
	writeFile(t, filepath.Join(root, "core", "Cargo.toml"), "[package]\nname = \"core\"\nversion = \"1.0.0\"\n")
	writeFile(t, filepath.Join(root, "core-macros", "Cargo.toml"), "[package]\nname = \"core-macros\"\nversion = \"1.0.0-dev\"\n[dependencies]\ncore = { path = \"../core\", version = \"1\" }\n")
	writeFile(t, filepath.Join(root, "app", "Cargo.toml"), "[package]\nname = \"app\"\nversion = \"0.3.0-dev\"\n[dependencies]\ncore-macros = { path = \"../core-macros\" }\n")
	writeFile(t, filepath.Join(root, "app", "inner", "Cargo.toml"), "[package]\nname = \"inner\"\nversion = \"0.1.0\"\n")
	writeFile(t, filepath.Join(root, "internal-tool", "Cargo.toml"), "[package]\nname = \"internal-tool\"\nversion = \"0.1.0\"\npublish = false\n")
	ws, err := workspace.Load(root)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return ws
}

func selected(t *testing.T, ws *workspace.Workspace, c Criteria, diff vcs.DiffProvider) []string {
	t.Helper()
	pred, err := Build(context.Background(), ws, c, Options{Diff: diff})
	if err != nil {
		t.Fatalf("build predicate: %v", err)
	}
	var names []string
	for _, p := range Filter(ws.Deep(), pred) {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSelection(t *testing.T) {
	ws := fixture(t)
	root := ws.Root
	cases := []struct {
		name string
		c    Criteria
		diff vcs.DiffProvider
		want []string
	}{
		{"default accepts publishable", Criteria{}, nil, []string{"app", "core", "core-macros", "inner"}},
		{"ignore publish", Criteria{IgnorePublish: true}, nil, []string{"app", "core", "core-macros", "inner", "internal-tool"}},
		{"skip pattern", Criteria{Skip: []string{"^core"}}, nil, []string{"app", "inner"}},
		{"skip pre tag", Criteria{SkipPreTags: []string{"dev"}}, nil, []string{"core", "inner"}},
		{"skip pre tag is case sensitive", Criteria{SkipPreTags: []string{"DEV"}}, nil, []string{"app", "core", "core-macros", "inner"}},
		{"include pattern", Criteria{Include: []string{"^core$"}}, nil, []string{"core"}},
		{"include cascade self", Criteria{Include: []string{"^core$"}, IncludePreDependents: true}, nil, []string{"app", "core", "core-macros"}},
		{"include never overrides publish", Criteria{Include: []string{"tool"}}, nil, nil},
		{
			"changed nearest package",
			Criteria{ChangedSince: "main"},
			vcs.Static{filepath.Join(root, "app", "inner", "src", "lib.rs")},
			[]string{"inner"},
		},
		{
			"changed ignores files outside packages",
			Criteria{ChangedSince: "main"},
			vcs.Static{filepath.Join(root, "README.md"), filepath.Join(root, "core", "src", "lib.rs")},
			[]string{"core"},
		},
		{
			"changed cascade seed",
			Criteria{ChangedSince: "main", IncludePreDependents: true, Cascade: CascadeSeed},
			vcs.Static{filepath.Join(root, "core-macros", "build.rs")},
			[]string{"app", "core-macros"},
		},
		{
			"changed cascade seed requires tagged seed",
			Criteria{ChangedSince: "main", IncludePreDependents: true, Cascade: CascadeSeed},
			vcs.Static{filepath.Join(root, "core", "build.rs")},
			[]string{"core"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := selected(t, ws, tc.c, tc.diff); !equal(got, tc.want) {
				t.Fatalf("selected %v, want %v", got, tc.want)
			}
		})
	}
}

func TestValidateRejectsConflicts(t *testing.T) {
	ws := fixture(t)
	for _, c := range []Criteria{
		{Include: []string{"a"}, Skip: []string{"b"}},
		{Include: []string{"a"}, SkipPreTags: []string{"dev"}},
		{ChangedSince: "main", Skip: []string{"b"}},
		{ChangedSince: "main", SkipPreTags: []string{"dev"}},
		{ChangedSince: "main", Include: []string{"a"}},
		{Include: []string{"("}},
		{Cascade: "sideways"},
	} {
		_, err := Build(context.Background(), ws, c, Options{Diff: vcs.Static{}})
		var cfg *errdefs.ConfigError
		if !errors.As(err, &cfg) {
			t.Fatalf("criteria %+v: expected ConfigError, got %v", c, err)
		}
	}
}
