package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/example/dragons/internal/errdefs"
)

var workspaceFiles = map[string]string{
	"Cargo.toml": `[workspace]
members = ["a", "b", "c"]
`,
	"a/Cargo.toml": `[package]
name = "a"
version = "0.1.0"

[dependencies]
b = { path = "../b", version = "1.0.0" }

[dev-dependencies]
c = { path = "../c" }
`,
	"b/Cargo.toml": `[package]
name = "b"
version = "1.0.0"
`,
	"c/Cargo.toml": `[package]
name = "c"
version = "0.2.0"

[dependencies]
a = { path = "../a", version = "0.1.0" }
`,
}

func writeWorkspace(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range workspaceFiles {
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

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("DRAGONS_CONFIG", "")
	t.Setenv("NO_COLOR", "1")
	root := newRootCommand()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestToReleaseRemovesDevDependenciesAndPrintsOrder(t *testing.T) {
	root := writeWorkspace(t)
	dot := filepath.Join(t.TempDir(), "release.dot")
	out, errOut, err := execute(t, "to-release", "-m", root, "--dot-graph", dot, "--color", "never")
	if err != nil {
		t.Fatalf("to-release: %v\n%s", err, errOut)
	}
	if strings.TrimSpace(out) != "b (1.0.0), a (0.1.0), c (0.2.0)" {
		t.Fatalf("unexpected order %q", out)
	}
	if strings.Contains(readFile(t, filepath.Join(root, "a", "Cargo.toml")), "dev-dependencies") {
		t.Fatalf("dev-dependencies were not removed")
	}
	if !strings.Contains(readFile(t, dot), `"a@0.1.0" -> "b@1.0.0"`) {
		t.Fatalf("unexpected graph:\n%s", readFile(t, dot))
	}
}

func TestToReleaseReportsDevCycleWhenDevDependenciesKept(t *testing.T) {
	root := writeWorkspace(t)
	_, _, err := execute(t, "to-release", "-m", root, "--include-dev-deps")
	var ge *errdefs.GraphError
	if !errors.As(err, &ge) || len(ge.Cycle) == 0 {
		t.Fatalf("expected cycle error, got %v", err)
	}
	if errdefs.ExitCode(err) != errdefs.ExitGraph {
		t.Fatalf("unexpected exit code %d", errdefs.ExitCode(err))
	}
	var buf bytes.Buffer
	handleError(&buf, err)
	if !strings.Contains(buf.String(), "Hint:") {
		t.Fatalf("expected hint, got %q", buf.String())
	}
}

func TestToReleaseJSONOutput(t *testing.T) {
	root := writeWorkspace(t)
	out, _, err := execute(t, "to-release", "-m", root, "-p", "^b$", "-o", "json")
	if err != nil {
		t.Fatalf("to-release: %v", err)
	}
	if !strings.Contains(out, `"b@1.0.0"`) || strings.Contains(out, `"a@0.1.0"`) {
		t.Fatalf("unexpected description:\n%s", out)
	}
}

func TestSelectionConflictsAreConfigErrors(t *testing.T) {
	root := writeWorkspace(t)
	_, _, err := execute(t, "to-release", "-m", root, "-p", "a", "--skip", "b")
	if errdefs.ExitCode(err) != errdefs.ExitConfig {
		t.Fatalf("expected config error, got %v", err)
	}
	before := readFile(t, filepath.Join(root, "a", "Cargo.toml"))
	if before != workspaceFiles["a/Cargo.toml"] {
		t.Fatalf("manifest changed although selection was rejected")
	}
}

func TestEmptySelection(t *testing.T) {
	root := writeWorkspace(t)
	out, _, err := execute(t, "to-release", "-m", root, "-p", "^nothing$")
	if err != nil || out != "" {
		t.Fatalf("expected benign no-op, got %q %v", out, err)
	}
	_, _, err = execute(t, "to-release", "-m", root, "-p", "^nothing$", "--empty-package-is-failure")
	if errdefs.ExitCode(err) != errdefs.ExitConfig {
		t.Fatalf("expected failure, got %v", err)
	}
}

func TestVersionBumpRewritesRequirements(t *testing.T) {
	root := writeWorkspace(t)
	_, errOut, err := execute(t, "version", "bump-major", "-m", root, "-p", "^b$")
	if err != nil {
		t.Fatalf("bump: %v\n%s", err, errOut)
	}
	if !strings.Contains(readFile(t, filepath.Join(root, "b", "Cargo.toml")), `version = "2.0.0"`) {
		t.Fatalf("b not bumped")
	}
	if !strings.Contains(readFile(t, filepath.Join(root, "a", "Cargo.toml")), `b = { path = "../b", version = "2.0.0" }`) {
		t.Fatalf("requirement not rewritten:\n%s", readFile(t, filepath.Join(root, "a", "Cargo.toml")))
	}
	if !strings.Contains(errOut, "Bumping") {
		t.Fatalf("expected status output, got %q", errOut)
	}
}

func TestVersionDryRunPrintsDiff(t *testing.T) {
	root := writeWorkspace(t)
	out, _, err := execute(t, "version", "set", "1.1.0", "-m", root, "-p", "^b$", "--dry-run")
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if !strings.Contains(out, `+version = "1.1.0"`) {
		t.Fatalf("expected diff, got:\n%s", out)
	}
	if readFile(t, filepath.Join(root, "b", "Cargo.toml")) != workspaceFiles["b/Cargo.toml"] {
		t.Fatalf("dry run wrote the manifest")
	}
}

func TestInvalidVersionArgument(t *testing.T) {
	root := writeWorkspace(t)
	_, _, err := execute(t, "version", "set", "not-a-version", "-m", root)
	if errdefs.ExitCode(err) != errdefs.ExitConfig {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestSetRefusesName(t *testing.T) {
	root := writeWorkspace(t)
	_, _, err := execute(t, "set", "name", "x", "-m", root)
	if errdefs.ExitCode(err) != errdefs.ExitConfig {
		t.Fatalf("expected config error, got %v", err)
	}
	if _, _, err := execute(t, "set", "publish", "false", "-m", root, "-p", "^c$"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !strings.Contains(readFile(t, filepath.Join(root, "c", "Cargo.toml")), "publish = false") {
		t.Fatalf("field not set")
	}
}

func TestEnvironmentFillsFlags(t *testing.T) {
	root := writeWorkspace(t)
	t.Setenv("DRAGONS_MANIFEST_PATH", root)
	out, _, err := execute(t, "to-release", "--include-dev-deps", "-p", "^b$")
	if err != nil {
		t.Fatalf("to-release: %v", err)
	}
	if strings.TrimSpace(out) != "b (1.0.0)" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestRunsNeedsJournal(t *testing.T) {
	root := writeWorkspace(t)
	if _, _, err := execute(t, "runs", "-m", root); err == nil {
		t.Fatalf("expected an error without a journal")
	}
}

func TestCompletion(t *testing.T) {
	out, _, err := execute(t, "completion", "bash")
	if err != nil || !strings.Contains(out, "dragons") {
		t.Fatalf("unexpected completion output %v", err)
	}
}

func TestHandleErrorIgnoresNil(t *testing.T) {
	var buf bytes.Buffer
	handleError(&buf, nil)
	if buf.Len() != 0 {
		t.Fatalf("unexpected output %q", buf.String())
	}
	handleError(&buf, &errdefs.DriftError{Package: "a@1.0.0", Before: "x", After: "y", Changed: []string{"src/gen.rs"}})
	if !strings.Contains(buf.String(), "drift_allow") {
		t.Fatalf("expected drift hint, got %q", buf.String())
	}
}

func TestPackageNameCompletion(t *testing.T) {
	root := writeWorkspace(t)
	names, err := packageNames(root, "^")
	if err != nil {
		t.Fatalf("packageNames: %v", err)
	}
	if strings.Join(names, " ") != "^a$ ^b$ ^c$" {
		t.Fatalf("unexpected names %v", names)
	}
	out, _, err := execute(t, cobra.ShellCompRequestCmd, "to-release", "-m", root, "--packages", "b")
	if err != nil {
		t.Fatalf("__complete: %v", err)
	}
	if !strings.Contains(out, "^b$") || strings.Contains(out, "^a$") {
		t.Fatalf("unexpected completion output:\n%s", out)
	}
}
