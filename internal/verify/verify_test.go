package verify

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"

	"github.com/example/dragons/internal/errdefs"
	"github.com/example/dragons/internal/fingerprint"
	"github.com/example/dragons/internal/tomledit"
	"github.com/example/dragons/internal/toolchain"
	"github.com/example/dragons/internal/ui"
	"github.com/example/dragons/internal/workspace"
)

const meta = `description = "x"
repository = "https://example.com/x"
license = "MIT"
`

var tree = map[string]string{
	"Cargo.toml": "[workspace]\nmembers = [\"a\", \"b\"]\n",
	"a/Cargo.toml": "[package]\nname = \"a\"\nversion = \"0.1.0\"\n" + meta + `
[dependencies]
b = { path = "../b", version = "1.0.0" }

[features]
default = ["b/std"]
`,
	"a/src/lib.rs": "pub fn a() {}\n",
	"b/Cargo.toml": "[package]\nname = \"b\"\nversion = \"1.0.0\"\n" + meta + `
[features]
std = []
`,
	"b/src/lib.rs": "pub fn b() {}\n",
}

func setup(t *testing.T, files map[string]string) *workspace.Workspace {
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
	ws, err := workspace.Load(root)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return ws
}

// fakeToolchain records requests together with the manifest it was asked
// to compile, and optionally writes into the compiled tree.
type fakeToolchain struct {
	mu        sync.Mutex
	requests  []toolchain.CompileRequest
	manifests map[string]string
	write     map[string]string // relative path -> content written into req.Dir
	fail      map[string]bool
}

func (f *fakeToolchain) Compile(_ context.Context, req toolchain.CompileRequest) (toolchain.CompileResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.manifests == nil {
		f.manifests = map[string]string{}
	}
	if data, err := os.ReadFile(req.Manifest); err == nil {
		f.manifests[req.Name] = string(data)
	}
	for rel, content := range f.write {
		if err := os.WriteFile(filepath.Join(req.Dir, rel), []byte(content), 0o644); err != nil {
			return toolchain.CompileResult{}, err
		}
	}
	if f.fail[req.Name] {
		return toolchain.CompileResult{Output: []byte("error[E0425]: cannot find value")}, errors.New("exit status 101")
	}
	return toolchain.CompileResult{Output: []byte("ok")}, nil
}

func newPipeline(t *testing.T, ws *workspace.Workspace, tc toolchain.Toolchain) *Pipeline {
	t.Helper()
	p := &Pipeline{
		Workspace:   ws,
		Toolchain:   tc,
		Packager:    toolchain.ArchivePackager{Workspace: ws, Log: logr.Discard()},
		Fingerprint: fingerprint.Options{Allow: fingerprint.DefaultAllow},
		ScratchDir:  t.TempDir(),
		Log:         logr.Discard(),
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func ordered(ws *workspace.Workspace, names ...string) []*workspace.Package {
	out := make([]*workspace.Package, len(names))
	for i, n := range names {
		out[i] = ws.Package(n)
	}
	return out
}

func TestCheckPackagesVerifiesBottomUp(t *testing.T) {
	ws := setup(t, tree)
	tc := &fakeToolchain{}
	rec := &ui.Recorder{}
	p := newPipeline(t, ws, tc)
	p.Reporter = rec

	replace, err := p.CheckPackages(context.Background(), ordered(ws, "b", "a"), toolchain.ModeCheck)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(tc.requests) != 2 || tc.requests[0].Name != "b" || tc.requests[1].Name != "a" {
		t.Fatalf("unexpected requests %v", tc.requests)
	}
	for _, req := range tc.requests {
		if req.Context != toolchain.Ephemeral || req.Mode != toolchain.ModeCheck {
			t.Fatalf("unexpected request %s", req)
		}
		if strings.HasPrefix(req.OutputDir, req.Dir) {
			t.Fatalf("output %s inside the compiled tree %s", req.OutputDir, req.Dir)
		}
		if strings.HasPrefix(req.Dir, ws.Root) {
			t.Fatalf("compiled inside the workspace: %s", req.Dir)
		}
	}
	if got := strings.Join(tc.requests[1].Features, ","); got != "default" {
		t.Fatalf("unexpected features %q", got)
	}
	bDir := replace["b"]
	if bDir == "" || filepath.Base(bDir) != "b-1.0.0" {
		t.Fatalf("unexpected replacement map %v", replace)
	}
	manifest := tc.manifests["a"]
	if !strings.Contains(manifest, "path = "+tomledit.FormatString(bDir)) {
		t.Fatalf("replacement not injected:\n%s", manifest)
	}
	if !strings.Contains(manifest, "\n[workspace]\n") {
		t.Fatalf("unpacked manifest is not its own workspace:\n%s", manifest)
	}
	if !rec.Contains("b (1.0.0)") {
		t.Fatalf("missing status lines: %v", rec.Lines())
	}
}

func TestEphemeralDetectsDrift(t *testing.T) {
	ws := setup(t, tree)
	tc := &fakeToolchain{write: map[string]string{"src/generated.rs": "// built\n"}}
	p := newPipeline(t, ws, tc)

	_, err := p.Ephemeral(context.Background(), Request{Package: ws.Package("b"), Mode: toolchain.ModeBuild})
	var drift *errdefs.DriftError
	if !errors.As(err, &drift) {
		t.Fatalf("expected drift, got %v", err)
	}
	if drift.Package != "b@1.0.0" || strings.Join(drift.Changed, ",") != "src/generated.rs" {
		t.Fatalf("unexpected drift %+v", drift)
	}
	if errdefs.ExitCode(err) != errdefs.ExitDrift {
		t.Fatalf("unexpected exit code %d", errdefs.ExitCode(err))
	}
}

func TestEphemeralAllowsLockfile(t *testing.T) {
	ws := setup(t, tree)
	tc := &fakeToolchain{write: map[string]string{"Cargo.lock": "version = 3\n"}}
	p := newPipeline(t, ws, tc)
	if _, err := p.Ephemeral(context.Background(), Request{Package: ws.Package("b"), Mode: toolchain.ModeBuild}); err != nil {
		t.Fatalf("lockfile counted as drift: %v", err)
	}
}

func TestCompileFailureKeepsDiagnostics(t *testing.T) {
	ws := setup(t, tree)
	tc := &fakeToolchain{fail: map[string]bool{"a": true}}
	p := newPipeline(t, ws, tc)

	_, err := p.CheckPackages(context.Background(), ordered(ws, "b", "a"), toolchain.ModeBuild)
	var vf *errdefs.VerificationFailure
	if !errors.As(err, &vf) || len(vf.Failures) != 1 {
		t.Fatalf("expected one failed cell, got %v", err)
	}
	f := vf.Failures[0]
	if f.Cell.Package != "a@0.1.0" || f.Cell.Mode != "build" || !strings.Contains(f.Diagnostics, "E0425") {
		t.Fatalf("unexpected failure %+v", f)
	}
}

func TestInPlaceCompilesAgainstRoot(t *testing.T) {
	ws := setup(t, tree)
	tc := &fakeToolchain{}
	p := newPipeline(t, ws, tc)
	if _, err := p.InPlace(context.Background(), Request{Package: ws.Package("a"), Mode: toolchain.ModeTest, Features: []string{"default"}}); err != nil {
		t.Fatalf("in place: %v", err)
	}
	req := tc.requests[0]
	if req.Manifest != ws.RootManifest || req.Spec() != "a@0.1.0" || req.OutputDir != filepath.Join(ws.Root, "target") {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestSoftChecksCollectEveryProblem(t *testing.T) {
	files := map[string]string{
		"Cargo.toml": "[workspace]\nmembers = [\"a\", \"b\"]\n",
		"a/Cargo.toml": `[package]
name = "a"
version = "0.1.0"
license = "MIT"
license-file = "LICENSE"
keywords = ["1", "2", "3", "4", "5", "6"]

[dependencies]
tool = { git = "https://example.com/tool" }
`,
		"b/Cargo.toml": "[package]\nname = \"b\"\nversion = \"1.0.0\"\n" + meta,
	}
	ws := setup(t, files)
	tc := &fakeToolchain{}
	p := newPipeline(t, ws, tc)

	_, err := p.CheckPackages(context.Background(), ordered(ws, "b", "a"), toolchain.ModeCheck)
	var soft *errdefs.SoftCheckError
	if !errors.As(err, &soft) {
		t.Fatalf("expected soft check error, got %v", err)
	}
	if len(tc.requests) != 0 {
		t.Fatalf("compiled before soft checks passed")
	}
	got := strings.Join(soft.Problems["a"], "|")
	for _, want := range []string{"description is missing", "repository is missing", "mutually exclusive", "keywords", "git dependencies without a version: tool"} {
		if !strings.Contains(got, want) {
			t.Fatalf("missing %q in %s", want, got)
		}
	}
	if _, ok := soft.Problems["b"]; ok {
		t.Fatalf("b reported: %v", soft.Problems["b"])
	}
}

func TestPrepareManifestKeepsExistingPaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Cargo.toml")
	src := "[package]\nname = \"x\"\nversion = \"0.1.0\"\n\n[workspace]\n\n[dependencies]\nb = \"1.0.0\"\nc = { path = \"vendor/c\", version = \"1\" }\n"
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := PrepareManifest(path, ReplacementMap{"b": "/s/b", "c": "/s/c"}, logr.Discard()); err != nil {
		t.Fatal(err)
	}
	got, _ := os.ReadFile(path)
	want := "[package]\nname = \"x\"\nversion = \"0.1.0\"\n\n[workspace]\n\n[dependencies]\nb = { version = \"1.0.0\", path = \"/s/b\" }\nc = { path = \"vendor/c\", version = \"1\" }\n"
	if string(got) != want {
		t.Fatalf("unexpected manifest:\n%s", got)
	}
}
