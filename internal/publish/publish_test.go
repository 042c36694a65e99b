package publish

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/go-logr/logr"
	"github.com/pkg/errors"

	"github.com/example/dragons/internal/errdefs"
	"github.com/example/dragons/internal/journal"
	"github.com/example/dragons/internal/registry"
	"github.com/example/dragons/internal/ui"
	"github.com/example/dragons/internal/workspace"
)

type fakeRegistry struct {
	mu        sync.Mutex
	published []string
	archives  map[string]bool
	fail      map[string]bool
	owners    map[string]string
}

func (f *fakeRegistry) Publish(_ context.Context, req registry.PublishRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[req.Package.Name] {
		return &errdefs.RegistryError{Op: "publish", Package: req.Package.ID(), StatusCode: 400, Detail: "crate version already uploaded"}
	}
	if _, err := os.Stat(req.Archive); err != nil {
		return err
	}
	if f.archives == nil {
		f.archives = map[string]bool{}
	}
	if f.archives[filepath.Dir(req.Archive)] {
		return fmt.Errorf("archive directory reused for %s", req.Package.Name)
	}
	f.archives[filepath.Dir(req.Archive)] = true
	f.published = append(f.published, req.Package.Name)
	return nil
}

func (f *fakeRegistry) AddOwner(_ context.Context, name, owner, _ string) error {
	if f.owners[name] == owner {
		return errors.Wrap(registry.ErrAlreadyOwner, owner)
	}
	if f.owners == nil {
		f.owners = map[string]string{}
	}
	f.owners[name] = owner
	return nil
}

type fakePackager struct{}

func (fakePackager) Package(_ context.Context, pkg *workspace.Package, out string) (string, error) {
	path := filepath.Join(out, pkg.Name+"-"+pkg.Version.String()+".crate")
	return path, os.WriteFile(path, []byte(pkg.ID()), 0o644)
}

func (fakePackager) Unpack(context.Context, string, string) (string, error) {
	return "", errors.New("not implemented")
}

func packages(n int) []*workspace.Package {
	out := make([]*workspace.Package, n)
	for i := range out {
		out[i] = &workspace.Package{Name: fmt.Sprintf("p%02d", i), Version: semver.MustParse("1.0.0")}
	}
	return out
}

type sleeper struct {
	calls  []time.Duration
	cancel int // call number (1-based) that reports cancellation
}

func (s *sleeper) sleep(_ context.Context, d time.Duration) error {
	s.calls = append(s.calls, d)
	if s.cancel > 0 && len(s.calls) == s.cancel {
		return context.Canceled
	}
	return nil
}

func options(reg registry.Client, s *sleeper) Options {
	return Options{
		Registry: reg,
		Packager: fakePackager{},
		WorkDir:  "",
		Log:      logr.Discard(),
		Sleep:    s.sleep,
	}
}

func TestSmallBatchesPublishBackToBack(t *testing.T) {
	reg := &fakeRegistry{}
	s := &sleeper{}
	opts := options(reg, s)
	opts.WorkDir = t.TempDir()
	report, err := Publish(context.Background(), packages(30), opts)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(s.calls) != 0 || len(reg.published) != 30 || len(report.Published) != 30 {
		t.Fatalf("unexpected run: %d waits, %d published", len(s.calls), len(reg.published))
	}
	if reg.published[0] != "p00" || reg.published[29] != "p29" {
		t.Fatalf("order not kept: %v", reg.published)
	}
}

func TestLargeBatchesWaitBetweenUploads(t *testing.T) {
	reg := &fakeRegistry{}
	s := &sleeper{}
	opts := options(reg, s)
	opts.WorkDir = t.TempDir()
	if _, err := Publish(context.Background(), packages(31), opts); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(s.calls) != 30 || s.calls[0] != DefaultDelay {
		t.Fatalf("unexpected waits %v", s.calls)
	}
}

func TestCancelledDelayReportsRemaining(t *testing.T) {
	reg := &fakeRegistry{}
	s := &sleeper{cancel: 2}
	opts := options(reg, s)
	opts.WorkDir = t.TempDir()
	report, err := Publish(context.Background(), packages(31), opts)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if len(report.Published) != 2 || len(report.Remaining) != 29 || report.Remaining[0].Name != "p02" {
		t.Fatalf("unexpected report %s", report.Summary())
	}
}

func TestRegistryErrorAbortsBatch(t *testing.T) {
	reg := &fakeRegistry{fail: map[string]bool{"p01": true}}
	opts := options(reg, &sleeper{})
	opts.WorkDir = t.TempDir()
	report, err := Publish(context.Background(), packages(3), opts)
	var re *errdefs.RegistryError
	if !errors.As(err, &re) {
		t.Fatalf("expected registry error, got %v", err)
	}
	if strings.Join(reg.published, ",") != "p00" {
		t.Fatalf("published past the failure: %v", reg.published)
	}
	want := "published: p00 (1.0.0)\nnot published: p01 (1.0.0), p02 (1.0.0)"
	if report.Summary() != want {
		t.Fatalf("unexpected summary:\n%s", report.Summary())
	}
}

func TestOwnerAlreadyPresentIsNotAnError(t *testing.T) {
	reg := &fakeRegistry{owners: map[string]string{"p00": "github:org:team"}}
	rec := &ui.Recorder{}
	opts := options(reg, &sleeper{})
	opts.WorkDir = t.TempDir()
	opts.Owner = "github:org:team"
	opts.Reporter = rec
	if _, err := Publish(context.Background(), packages(2), opts); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if !rec.Contains("github:org:team is already an owner of p00") || !rec.Contains("github:org:team added to p01") {
		t.Fatalf("unexpected lines %v", rec.Lines())
	}
}

func TestResumeSkipsJournaledPackages(t *testing.T) {
	store, err := journal.Open(t.TempDir(), false)
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	defer store.Close()
	pkgs := packages(3)

	reg := &fakeRegistry{fail: map[string]bool{"p01": true}}
	opts := options(reg, &sleeper{})
	opts.Journal = store
	if _, err := Publish(context.Background(), pkgs, opts); err == nil {
		t.Fatalf("expected the first run to fail")
	}

	reg.fail = nil
	opts.Resume = true
	report, err := Publish(context.Background(), pkgs, opts)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if len(report.Skipped) != 1 || report.Skipped[0].Name != "p00" {
		t.Fatalf("unexpected skipped %v", report.Skipped)
	}
	if strings.Join(reg.published, ",") != "p00,p01,p02" {
		t.Fatalf("unexpected uploads %v", reg.published)
	}
}

func TestSleepHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("sleep ignored cancellation")
	}
}
