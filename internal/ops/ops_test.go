package ops

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"

	"github.com/example/dragons/internal/errdefs"
	"github.com/example/dragons/internal/mutate"
	"github.com/example/dragons/internal/ui"
	"github.com/example/dragons/internal/versioning"
	"github.com/example/dragons/internal/workspace"
)

var fixture = map[string]string{
	"Cargo.toml": `[workspace]
members = ["a", "b", "c"]

[workspace.dependencies]
b = { path = "b", version = "1.0.0" }
serde = "1"
serde_json = "1"
`,
	"a/Cargo.toml": `[package]
name = "a"
version = "0.1.0"

[dependencies]
# pinned in the workspace
b = { path = "../b", version = "^1.0" }
serde = { version = "1", features = ["derive"] }
json = { package = "serde_json", version = "1" }

[dev-dependencies]
c = { path = "../c" }

[build-dependencies]
c = { path = "../c" }

[features]
testing = ["c/test", "serde/std"]
`,
	"b/Cargo.toml": `[package]
name = "b"
version = "1.0.0"
`,
	"c/Cargo.toml": `[package]
name = "c"
version = "0.3.5"

[dependencies]
b = { workspace = true }
`,
}

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func load(t *testing.T, files map[string]string) (*workspace.Workspace, string) {
	t.Helper()
	root := writeTree(t, files)
	ws, err := workspace.Load(root)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return ws, root
}

func read(t *testing.T, root, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(name)))
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func named(names ...string) func(*workspace.Package) bool {
	return func(p *workspace.Package) bool {
		for _, n := range names {
			if p.Name == n {
				return true
			}
		}
		return false
	}
}

func all(*workspace.Package) bool { return true }

func TestBumpMajorRewritesRequirementsThatNoLongerMatch(t *testing.T) {
	ws, root := load(t, fixture)
	rec := &ui.Recorder{}
	res, err := SetVersions(ws, named("b"), versioning.MustTransform(versioning.BumpMajor, ""), false, Options{Reporter: rec})
	if err != nil {
		t.Fatalf("set versions: %v", err)
	}
	if len(res.Versions) != 1 || res.Versions[0].To.String() != "2.0.0" {
		t.Fatalf("unexpected versions %+v", res.Versions)
	}
	if got := read(t, root, "b/Cargo.toml"); !strings.Contains(got, `version = "2.0.0"`) {
		t.Fatalf("b not bumped:\n%s", got)
	}
	a := read(t, root, "a/Cargo.toml")
	if !strings.Contains(a, "# pinned in the workspace\nb = { path = \"../b\", version = \"2.0.0\" }\n") {
		t.Fatalf("a requirement not rewritten:\n%s", a)
	}
	if !strings.Contains(read(t, root, "Cargo.toml"), `b = { path = "b", version = "2.0.0" }`) {
		t.Fatalf("workspace pin not rewritten")
	}
	if c := read(t, root, "c/Cargo.toml"); c != fixture["c/Cargo.toml"] {
		t.Fatalf("inherited dependency must stay untouched:\n%s", c)
	}
	if !rec.Contains("b: 1.0.0 -> 2.0.0") {
		t.Fatalf("missing bump status: %+v", rec.Lines())
	}
	if len(res.Changed) != 3 {
		t.Fatalf("expected 3 changed manifests, got %v", res.Changed)
	}
}

func TestMatchingRequirementsNeedForceUpdate(t *testing.T) {
	ws, root := load(t, fixture)
	minor := versioning.MustTransform(versioning.BumpMinor, "")
	if _, err := SetVersions(ws, named("b"), minor, false, Options{}); err != nil {
		t.Fatalf("set versions: %v", err)
	}
	if a := read(t, root, "a/Cargo.toml"); !strings.Contains(a, `version = "^1.0"`) {
		t.Fatalf("matching requirement rewritten:\n%s", a)
	}

	ws, root = load(t, fixture)
	if _, err := SetVersions(ws, named("b"), minor, true, Options{}); err != nil {
		t.Fatalf("set versions: %v", err)
	}
	if a := read(t, root, "a/Cargo.toml"); !strings.Contains(a, `b = { path = "../b", version = "1.1.0" }`) {
		t.Fatalf("forced update missing:\n%s", a)
	}
}

func TestMissingRequirementsAreAddedOutsideDevSections(t *testing.T) {
	ws, root := load(t, fixture)
	if _, err := SetVersions(ws, named("c"), versioning.MustTransform(versioning.BumpBreaking, ""), false, Options{}); err != nil {
		t.Fatalf("set versions: %v", err)
	}
	a := read(t, root, "a/Cargo.toml")
	if !strings.Contains(a, "[dev-dependencies]\nc = { path = \"../c\" }\n") {
		t.Fatalf("dev dependency must stay unconstrained:\n%s", a)
	}
	if !strings.Contains(a, "[build-dependencies]\nc = { path = \"../c\", version = \"0.4.0\" }\n") {
		t.Fatalf("build dependency requirement missing:\n%s", a)
	}
}

func TestDryRunLeavesFilesAlone(t *testing.T) {
	ws, root := load(t, fixture)
	var diff bytes.Buffer
	opts := Options{Writer: mutate.Writer{DryRun: true, Diff: &diff}}
	res, err := SetVersions(ws, named("b"), versioning.MustTransform(versioning.BumpMajor, ""), false, opts)
	if err != nil {
		t.Fatalf("set versions: %v", err)
	}
	if len(res.Changed) != 3 {
		t.Fatalf("dry run should still report changes, got %v", res.Changed)
	}
	for name, content := range fixture {
		if read(t, root, name) != content {
			t.Fatalf("%s was written during a dry run", name)
		}
	}
	if !strings.Contains(diff.String(), `+b = { path = "../b", version = "2.0.0" }`) {
		t.Fatalf("unexpected diff:\n%s", diff.String())
	}
}

func TestInheritedVersionCannotBeBumpedPerPackage(t *testing.T) {
	files := map[string]string{
		"Cargo.toml":   "[workspace]\nmembers = [\"d\"]\n\n[workspace.package]\nversion = \"1.0.0\"\n",
		"d/Cargo.toml": "[package]\nname = \"d\"\nversion.workspace = true\n",
	}
	ws, _ := load(t, files)
	_, err := SetVersions(ws, all, versioning.MustTransform(versioning.BumpPatch, ""), false, Options{})
	var ce *errdefs.ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestRenameAddsPackageField(t *testing.T) {
	ws, root := load(t, fixture)
	changed, err := Rename(ws, map[string]string{"b": "b-core"}, Options{})
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if len(changed) != 3 {
		t.Fatalf("expected 3 changed manifests, got %v", changed)
	}
	if b := read(t, root, "b/Cargo.toml"); !strings.Contains(b, `name = "b-core"`) {
		t.Fatalf("b not renamed:\n%s", b)
	}
	if a := read(t, root, "a/Cargo.toml"); !strings.Contains(a, `b = { path = "../b", version = "^1.0", package = "b-core" }`) {
		t.Fatalf("dependent key must stay b:\n%s", a)
	}
	if r := read(t, root, "Cargo.toml"); !strings.Contains(r, `b = { path = "b", version = "1.0.0", package = "b-core" }`) {
		t.Fatalf("workspace pin not renamed:\n%s", r)
	}

	reloaded, err := ws.Reload()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Package("b-core") == nil || reloaded.Package("b") != nil {
		t.Fatalf("reloaded workspace does not see the rename")
	}
}

func TestRenameValidation(t *testing.T) {
	ws, _ := load(t, fixture)
	for _, renames := range []map[string]string{
		{"missing": "x"},
		{"b": "9lives"},
		{"b": "c"},
	} {
		if _, err := Rename(ws, renames, Options{}); err == nil {
			t.Fatalf("expected error for %v", renames)
		}
	}
	if _, err := ParseRenames([]string{"a=b", "bad"}); err == nil {
		t.Fatalf("expected parse error")
	}
	got, err := ParseRenames([]string{" a = b "})
	if err != nil || got["a"] != "b" {
		t.Fatalf("unexpected %v %v", got, err)
	}
}

func TestUnifyDependencies(t *testing.T) {
	ws, root := load(t, fixture)
	rec := &ui.Recorder{}
	changed, err := UnifyDependencies(ws, named("a", "c"), Options{Reporter: rec})
	if err != nil {
		t.Fatalf("unify: %v", err)
	}
	if len(changed) != 1 {
		t.Fatalf("only a should change, got %v", changed)
	}
	a := read(t, root, "a/Cargo.toml")
	for _, want := range []string{
		`b = { workspace = true, path = "../b" }`,
		`serde = { workspace = true, features = ["derive"] }`,
		`json = { package = "serde_json", version = "1" }`,
		"[build-dependencies]\nc = { path = \"../c\" }",
	} {
		if !strings.Contains(a, want) {
			t.Fatalf("missing %q in:\n%s", want, a)
		}
	}
	if !rec.Contains("json is pinned as serde_json") {
		t.Fatalf("expected alias warning: %+v", rec.Lines())
	}

	noPins := map[string]string{
		"Cargo.toml":   "[workspace]\nmembers = [\"b\"]\n",
		"b/Cargo.toml": fixture["b/Cargo.toml"],
	}
	ws, _ = load(t, noPins)
	if _, err := UnifyDependencies(ws, all, Options{}); err == nil {
		t.Fatalf("expected error without workspace dependencies")
	}
}

func TestDeactivateDevDependencies(t *testing.T) {
	ws, root := load(t, fixture)
	changed, err := DeactivateDevDependencies(ws, all, Options{})
	if err != nil {
		t.Fatalf("de-dev-deps: %v", err)
	}
	if len(changed) != 1 {
		t.Fatalf("only a has dev-dependencies, got %v", changed)
	}
	a := read(t, root, "a/Cargo.toml")
	if strings.Contains(a, "[dev-dependencies]\nc =") {
		t.Fatalf("dev dependency left:\n%s", a)
	}
	if !strings.Contains(a, `testing = ["c/test", "serde/std"]`) {
		t.Fatalf("c is still a build dependency, its features must stay:\n%s", a)
	}
}

func TestSetField(t *testing.T) {
	ws, root := load(t, fixture)
	if _, err := SetField(ws, named("b"), "package", "publish", "false", Options{}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := SetField(ws, named("b"), "package.metadata.docs", "rustdoc-args", "--cfg docsrs", Options{}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := SetField(ws, named("b"), "", "rust-version", "1", Options{}); err != nil {
		t.Fatalf("set: %v", err)
	}
	want := "[package]\nname = \"b\"\nversion = \"1.0.0\"\npublish = false\nrust-version = 1\n\n[package.metadata.docs]\nrustdoc-args = \"--cfg docsrs\"\n"
	if got := read(t, root, "b/Cargo.toml"); got != want {
		t.Fatalf("unexpected manifest:\n%s", got)
	}
	if _, err := SetField(ws, all, "package", "name", "x", Options{}); err == nil {
		t.Fatalf("expected name to be refused")
	}
}

func TestFormatFieldValue(t *testing.T) {
	cases := map[string]string{
		"true":  "true",
		"42":    "42",
		"-1":    "-1",
		"True":  `"True"`,
		"1.0":   `"1.0"`,
		`a"b`:   `"a\"b"`,
		"hello": `"hello"`,
	}
	for in, want := range cases {
		if got := FormatFieldValue(in); got != want {
			t.Errorf("FormatFieldValue(%q) = %s, want %s", in, got, want)
		}
	}
}

var dottedFixture = map[string]string{
	"Cargo.toml": `[workspace]
members = ["a", "b", "c"]
`,
	"a/Cargo.toml": `[package]
name = "a"
version = "0.1.0"

[dependencies]
b.path = "../b"
b.version = "^1.0"

[dev-dependencies]
c.path = "../c"
`,
	"b/Cargo.toml": `[package]
name = "b"
version = "1.0.0"
`,
	"c/Cargo.toml": `[package]
name = "c"
version = "0.2.0"
`,
}

func TestDottedKeyDependencies(t *testing.T) {
	t.Run("bump rewrites requirement", func(t *testing.T) {
		ws, root := load(t, dottedFixture)
		res, err := SetVersions(ws, named("b"), versioning.MustTransform(versioning.BumpMajor, ""), false, Options{})
		if err != nil {
			t.Fatalf("set versions: %v", err)
		}
		if len(res.Requirements) != 1 || res.Requirements[0].From != "^1.0" {
			t.Fatalf("unexpected requirement changes %+v", res.Requirements)
		}
		if a := read(t, root, "a/Cargo.toml"); !strings.Contains(a, "b.path = \"../b\"\nb.version = \"2.0.0\"\n") {
			t.Fatalf("requirement on b not rewritten:\n%s", a)
		}
	})
	t.Run("rename adds alias", func(t *testing.T) {
		ws, root := load(t, dottedFixture)
		if _, err := Rename(ws, map[string]string{"b": "b-core"}, Options{}); err != nil {
			t.Fatalf("rename: %v", err)
		}
		if a := read(t, root, "a/Cargo.toml"); !strings.Contains(a, "b.version = \"^1.0\"\nb.package = \"b-core\"\n") {
			t.Fatalf("alias not injected:\n%s", a)
		}
		reloaded, err := ws.Reload()
		if err != nil {
			t.Fatalf("reload: %v", err)
		}
		if reloaded.Package("b-core") == nil {
			t.Fatalf("reloaded workspace does not see the rename")
		}
	})
	t.Run("dev dependencies removed", func(t *testing.T) {
		ws, root := load(t, dottedFixture)
		if _, err := DeactivateDevDependencies(ws, all, Options{}); err != nil {
			t.Fatalf("de-dev-deps: %v", err)
		}
		if a := read(t, root, "a/Cargo.toml"); strings.Contains(a, "c.path") {
			t.Fatalf("dotted dev dependency left:\n%s", a)
		}
	})
}
