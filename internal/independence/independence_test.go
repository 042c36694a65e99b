package independence

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"

	"github.com/example/dragons/internal/errdefs"
	"github.com/example/dragons/internal/fingerprint"
	"github.com/example/dragons/internal/toolchain"
	"github.com/example/dragons/internal/verify"
	"github.com/example/dragons/internal/workspace"
)

var tree = map[string]string{
	"Cargo.toml": "[workspace]\nmembers = [\"x\"]\n",
	"x/Cargo.toml": `[package]
name = "x"
version = "0.1.0"

[features]
good = []
bad = []
`,
	"x/src/lib.rs": "\n",
}

func setup(t *testing.T) *workspace.Workspace {
	t.Helper()
	root := t.TempDir()
	for name, content := range tree {
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

type fakeToolchain struct {
	mu       sync.Mutex
	requests []toolchain.CompileRequest
}

func (f *fakeToolchain) Compile(_ context.Context, req toolchain.CompileRequest) (toolchain.CompileResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	for _, feat := range req.Features {
		if feat == "bad" {
			return toolchain.CompileResult{Output: []byte("error: bad feature")}, errors.New("exit status 101")
		}
	}
	return toolchain.CompileResult{}, nil
}

type countingPackager struct {
	toolchain.ArchivePackager
	mu    sync.Mutex
	calls int
}

func (c *countingPackager) Package(ctx context.Context, pkg *workspace.Package, out string) (string, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.ArchivePackager.Package(ctx, pkg, out)
}

func pipeline(t *testing.T, ws *workspace.Workspace, tc toolchain.Toolchain, pk toolchain.Packager) *verify.Pipeline {
	t.Helper()
	if pk == nil {
		pk = toolchain.ArchivePackager{Workspace: ws}
	}
	p := &verify.Pipeline{
		Workspace:   ws,
		Toolchain:   tc,
		Packager:    pk,
		Fingerprint: fingerprint.Options{Allow: fingerprint.DefaultAllow},
		ScratchDir:  t.TempDir(),
		Log:         logr.Discard(),
	}
	return p
}

func TestPowersetOrder(t *testing.T) {
	var got []string
	for _, s := range Powerset([]string{"c", "a", "b"}) {
		got = append(got, "["+strings.Join(s, " ")+"]")
	}
	want := "[] [a] [b] [c] [a b] [a c] [b c] [a b c]"
	if strings.Join(got, " ") != want {
		t.Fatalf("got %s", strings.Join(got, " "))
	}
	for k := 0; k <= 6; k++ {
		features := make([]string, k)
		for i := range features {
			features[i] = fmt.Sprintf("f%d", i)
		}
		if n := len(Powerset(features)); n != 1<<k {
			t.Fatalf("k=%d: %d subsets", k, n)
		}
	}
}

func TestRunAggregatesFailures(t *testing.T) {
	ws := setup(t)
	tc := &fakeToolchain{}
	report, err := Run(context.Background(), ws.Members(), Options{
		Pipeline: pipeline(t, ws, tc, nil),
		Context:  toolchain.InPlace,
		Modes:    []toolchain.Mode{toolchain.ModeCheck, toolchain.ModeTest},
		Jobs:     3,
		Log:      logr.Discard(),
	})
	var vf *errdefs.VerificationFailure
	if !errors.As(err, &vf) {
		t.Fatalf("expected verification failure, got %v", err)
	}
	if len(report.Cells) != 8 || len(tc.requests) != 8 {
		t.Fatalf("expected 8 cells, got %d cells and %d compiles", len(report.Cells), len(tc.requests))
	}
	if len(vf.Failures) != 4 {
		t.Fatalf("expected 4 failures, got %d", len(vf.Failures))
	}
	for _, f := range vf.Failures {
		if !strings.Contains(strings.Join(f.Cell.Features, ","), "bad") || f.Diagnostics != "error: bad feature" {
			t.Fatalf("unexpected failure %+v", f)
		}
	}
	dirs := map[string]bool{}
	for _, req := range tc.requests {
		dirs[req.OutputDir] = true
	}
	if len(dirs) != 8 {
		t.Fatalf("cells share output directories: %v", dirs)
	}
	var buf bytes.Buffer
	PrintSummary(&buf, report)
	if !strings.Contains(buf.String(), "FAILED") || !strings.Contains(buf.String(), "bad,good") {
		t.Fatalf("unexpected summary:\n%s", buf.String())
	}
}

func TestFailFastStopsTheMatrix(t *testing.T) {
	ws := setup(t)
	tc := &fakeToolchain{}
	report, err := Run(context.Background(), ws.Members(), Options{
		Pipeline: pipeline(t, ws, tc, nil),
		Context:  toolchain.InPlace,
		Jobs:     1,
		FailFast: true,
		Log:      logr.Discard(),
	})
	var vf *errdefs.VerificationFailure
	if !errors.As(err, &vf) || len(vf.Failures) != 1 {
		t.Fatalf("expected a single failure, got %v", err)
	}
	if len(tc.requests) != 2 {
		t.Fatalf("expected the matrix to stop after the failure, ran %d", len(tc.requests))
	}
	if !report.Cells[2].Skipped || !report.Cells[3].Skipped {
		t.Fatalf("remaining cells not skipped: %+v", report.Cells)
	}
}

// killedToolchain fails the `bad` cell at once and keeps every other cell
// running until its context is cancelled, then reports it like a killed process.
type killedToolchain struct{}

func (killedToolchain) Compile(ctx context.Context, req toolchain.CompileRequest) (toolchain.CompileResult, error) {
	if strings.Join(req.Features, ",") == "bad" {
		return toolchain.CompileResult{}, errors.New("exit status 101")
	}
	<-ctx.Done()
	return toolchain.CompileResult{}, errors.New("signal: killed")
}

func TestFailFastReportsKilledCellsAsSkipped(t *testing.T) {
	ws := setup(t)
	report, err := Run(context.Background(), ws.Members(), Options{
		Pipeline: pipeline(t, ws, killedToolchain{}, nil),
		Context:  toolchain.InPlace,
		Jobs:     4,
		FailFast: true,
		Log:      logr.Discard(),
	})
	var vf *errdefs.VerificationFailure
	if !errors.As(err, &vf) || len(vf.Failures) != 1 || strings.Join(vf.Failures[0].Cell.Features, ",") != "bad" {
		t.Fatalf("expected only the bad cell to fail, got %v", err)
	}
	for _, c := range report.Cells {
		if strings.Join(c.Cell.Features, ",") == "bad" {
			continue
		}
		if !c.Skipped || c.Err != nil {
			t.Fatalf("killed cell %s reported as %+v", c.Cell, c)
		}
	}
	var buf bytes.Buffer
	PrintSummary(&buf, report)
	if strings.Count(buf.String(), "FAILED") != 1 {
		t.Fatalf("unexpected summary:\n%s", buf.String())
	}
}

func TestSharedTargetAndEphemeralPackagesOnce(t *testing.T) {
	ws := setup(t)
	tc := &fakeToolchain{}
	pk := &countingPackager{ArchivePackager: toolchain.ArchivePackager{Workspace: ws}}
	p := pipeline(t, ws, tc, pk)
	p.TargetDir = filepath.Join(t.TempDir(), "shared")
	_, err := Run(context.Background(), ws.Members(), Options{
		Pipeline:     p,
		Context:      toolchain.Ephemeral,
		Jobs:         4,
		SharedTarget: true,
		Log:          logr.Discard(),
	})
	if err == nil {
		t.Fatalf("expected failures for the bad feature")
	}
	if pk.calls != 1 {
		t.Fatalf("packaged %d times", pk.calls)
	}
	seen := map[string]bool{}
	for _, req := range tc.requests {
		if req.OutputDir != p.TargetDir {
			t.Fatalf("cell not using the shared target: %s", req.OutputDir)
		}
		if seen[req.Dir] {
			t.Fatalf("cells share an unpacked tree: %s", req.Dir)
		}
		seen[req.Dir] = true
	}
}

func TestMaxFeatures(t *testing.T) {
	ws := setup(t)
	_, err := Run(context.Background(), ws.Members(), Options{
		Pipeline:    pipeline(t, ws, &fakeToolchain{}, nil),
		MaxFeatures: 1,
		Log:         logr.Discard(),
	})
	var ce *errdefs.ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("expected config error, got %v", err)
	}
}
