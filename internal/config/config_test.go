package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/example/dragons/internal/errdefs"
)

func TestDefaults(t *testing.T) {
	t.Setenv("DRAGONS_CONFIG", "")
	cfg, err := Load(t.TempDir(), "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Path != "" {
		t.Fatalf("unexpected config path %s", cfg.Path)
	}
	if cfg.Publish.Delay != 21*time.Second || cfg.Publish.BurstThreshold != 30 || !cfg.Publish.Journal {
		t.Fatalf("unexpected publish defaults %+v", cfg.Publish)
	}
	if len(cfg.Verify.DriftAllow) != 1 || cfg.Verify.DriftAllow[0] != "Cargo.lock" || cfg.Verify.Fingerprint != "sha256" {
		t.Fatalf("unexpected verify defaults %+v", cfg.Verify)
	}
	if cfg.Independence.Jobs < 1 || cfg.Registry.API != "https://crates.io" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestFileAndEnvironmentOverrides(t *testing.T) {
	root := t.TempDir()
	content := `[toolchain]
timeout = "90s"

[toolchain.templates]
"ephemeral.check" = "cargo check --manifest-path {{.Manifest}}"

[verify]
drift_allow = ["Cargo.lock", "out/**"]
fingerprint = "blake3"
target_dir = "build"

[independence]
jobs = 2
shared_target = true
`
	if err := os.WriteFile(filepath.Join(root, FileName), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DRAGONS_CONFIG", "")
	t.Setenv("DRAGONS_INDEPENDENCE_JOBS", "7")
	t.Setenv("DRAGONS_PUBLISH_DELAY", "1s")

	cfg, err := Load(root, "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Path != filepath.Join(root, FileName) {
		t.Fatalf("unexpected path %s", cfg.Path)
	}
	if cfg.Toolchain.Timeout != 90*time.Second || cfg.Toolchain.Templates["ephemeral.check"] == "" {
		t.Fatalf("unexpected toolchain %+v", cfg.Toolchain)
	}
	if len(cfg.Verify.DriftAllow) != 2 || cfg.Verify.Fingerprint != "blake3" {
		t.Fatalf("unexpected verify %+v", cfg.Verify)
	}
	if cfg.Independence.Jobs != 7 || !cfg.Independence.SharedTarget {
		t.Fatalf("environment override not applied: %+v", cfg.Independence)
	}
	if cfg.Publish.Delay != time.Second {
		t.Fatalf("unexpected delay %s", cfg.Publish.Delay)
	}
	if err := cfg.Resolve(root); err != nil {
		t.Fatal(err)
	}
	if cfg.Verify.TargetDir != filepath.Join(root, "build") {
		t.Fatalf("target dir not resolved: %s", cfg.Verify.TargetDir)
	}
}

func TestInvalidConfiguration(t *testing.T) {
	root := t.TempDir()
	t.Setenv("DRAGONS_CONFIG", "")
	if err := os.WriteFile(filepath.Join(root, FileName), []byte("[verify]\nfingerprint = \"md5\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	var ce *errdefs.ConfigError
	if _, err := Load(root, ""); !errors.As(err, &ce) {
		t.Fatalf("expected config error, got %v", err)
	}
	if _, err := Load(root, filepath.Join(root, "missing.toml")); !errors.As(err, &ce) {
		t.Fatalf("expected missing explicit file to fail, got %v", err)
	}
}
