// File: internal/publish/publish.go
// Brief: Ordered release of packages to the registry with rate limiting and resume.

// Package publish uploads packages in release order. Large batches wait a
// fixed delay between uploads; a failed or cancelled batch reports exactly
// which packages made it out.
package publish

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"

	"github.com/example/dragons/internal/journal"
	"github.com/example/dragons/internal/registry"
	"github.com/example/dragons/internal/toolchain"
	"github.com/example/dragons/internal/ui"
	"github.com/example/dragons/internal/workspace"
)

const (
	// DefaultDelay is the pause between uploads of a large batch.
	DefaultDelay = 21 * time.Second
	// DefaultBurstThreshold is the largest batch published back to back.
	DefaultBurstThreshold = 30
)

// Options configure a release.
type Options struct {
	Registry registry.Client
	Packager toolchain.Packager
	// WorkDir receives one disposable directory per package; a temporary
	// directory is used when empty.
	WorkDir string
	Token   string
	DryRun  bool
	// Owner is invited to every published package when set.
	Owner          string
	Delay          time.Duration
	BurstThreshold int
	// Journal records attempts; Resume skips packages it lists as published.
	Journal  *journal.Store
	Resume   bool
	Reporter ui.Reporter
	Log      logr.Logger
	// Sleep waits d or until ctx is done; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Report names what a release did. Remaining is in release order and starts
// with the package that failed, if any.
type Report struct {
	RunID     string
	Published []*workspace.Package
	Skipped   []*workspace.Package
	Remaining []*workspace.Package
}

// Summary renders the report for humans.
func (r *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "published: %s", names(r.Published))
	if len(r.Skipped) > 0 {
		fmt.Fprintf(&b, "\nskipped (already published): %s", names(r.Skipped))
	}
	if len(r.Remaining) > 0 {
		fmt.Fprintf(&b, "\nnot published: %s", names(r.Remaining))
	}
	return b.String()
}

func names(pkgs []*workspace.Package) string {
	if len(pkgs) == 0 {
		return "none"
	}
	out := make([]string, len(pkgs))
	for i, p := range pkgs {
		out[i] = p.String()
	}
	return strings.Join(out, ", ")
}

// Sleep waits for d unless ctx is cancelled first.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Publish releases pkgs strictly in the given order. It stops at the first
// failure or cancellation and always returns a report of the batch.
func Publish(ctx context.Context, pkgs []*workspace.Package, opts Options) (*Report, error) {
	rep := ui.Or(opts.Reporter)
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	if opts.BurstThreshold <= 0 {
		opts.BurstThreshold = DefaultBurstThreshold
	}
	if opts.Sleep == nil {
		opts.Sleep = Sleep
	}
	report := &Report{RunID: journal.NewRunID(time.Now())}

	queue := pkgs
	if opts.Resume && opts.Journal != nil {
		done, err := opts.Journal.Published(ctx)
		if err != nil {
			return report, errors.Wrap(err, "read publish journal")
		}
		queue = nil
		for _, p := range pkgs {
			if done[p.ID()] {
				rep.Status("Skipping", fmt.Sprintf("%s, already published", p))
				report.Skipped = append(report.Skipped, p)
				continue
			}
			queue = append(queue, p)
		}
	}
	if len(queue) == 0 {
		rep.Status("Done", "nothing to publish")
		return report, nil
	}

	workDir := opts.WorkDir
	if workDir == "" {
		dir, err := os.MkdirTemp("", "dragons-publish-")
		if err != nil {
			return report, errors.Wrap(err, "create publish directory")
		}
		defer os.RemoveAll(dir)
		workDir = dir
	}

	if opts.Journal != nil {
		ids := make([]string, len(queue))
		for i, p := range queue {
			ids[i] = p.ID()
		}
		if err := opts.Journal.BeginRun(ctx, report.RunID, ids); err != nil {
			return report, errors.Wrap(err, "record release")
		}
	}
	finish := func(status string) {
		if opts.Journal != nil {
			if err := opts.Journal.FinishRun(context.WithoutCancel(ctx), report.RunID, status); err != nil {
				opts.Log.Error(err, "recording release status failed")
			}
		}
	}

	throttle := len(queue) > opts.BurstThreshold && !opts.DryRun
	if throttle {
		rep.Status("Publishing", fmt.Sprintf("%d packages with %s between uploads", len(queue), opts.Delay))
	}
	for i, pkg := range queue {
		if i > 0 && throttle {
			rep.Status("Waiting", fmt.Sprintf("%s before publishing %s", opts.Delay, pkg))
			if err := opts.Sleep(ctx, opts.Delay); err != nil {
				report.Remaining = queue[i:]
				finish("cancelled")
				return report, err
			}
		}
		if err := publishOne(ctx, pkg, workDir, report.RunID, opts, rep); err != nil {
			report.Remaining = queue[i:]
			finish("failed")
			return report, err
		}
		report.Published = append(report.Published, pkg)
		if opts.Owner != "" && !opts.DryRun {
			if err := addOwner(ctx, opts.Registry, pkg.Name, opts.Owner, opts.Token, rep); err != nil {
				report.Remaining = queue[i+1:]
				finish("failed")
				return report, err
			}
		}
	}
	finish("succeeded")
	verb := "published"
	if opts.DryRun {
		verb = "checked (dry run)"
	}
	rep.Status("Done", fmt.Sprintf("%d packages %s", len(report.Published), verb))
	return report, nil
}

// publishOne packages pkg into its own directory and uploads that archive.
func publishOne(ctx context.Context, pkg *workspace.Package, workDir, runID string, opts Options, rep ui.Reporter) error {
	rep.Status("Publishing", pkg.String())
	dir, err := os.MkdirTemp(workDir, pkg.Name+"-")
	if err != nil {
		return errors.Wrap(err, "create package directory")
	}
	defer os.RemoveAll(dir)

	record := func(status string, err error) {
		if opts.Journal == nil {
			return
		}
		a := journal.Attempt{RunID: runID, Name: pkg.Name, Version: pkg.Version.String(), Status: status}
		if err != nil {
			a.Message = err.Error()
		}
		if jerr := opts.Journal.Record(context.WithoutCancel(ctx), a); jerr != nil {
			opts.Log.Error(jerr, "recording publish attempt failed", "package", pkg.ID())
		}
	}

	archive, err := opts.Packager.Package(ctx, pkg, dir)
	if err != nil {
		record(journal.StatusFailed, err)
		return errors.Wrapf(err, "package %s", pkg.Name)
	}
	err = opts.Registry.Publish(ctx, registry.PublishRequest{Package: pkg, Archive: archive, Token: opts.Token, DryRun: opts.DryRun})
	if err != nil {
		record(journal.StatusFailed, err)
		return err
	}
	if opts.DryRun {
		record(journal.StatusDryRun, nil)
	} else {
		record(journal.StatusPublished, nil)
	}
	opts.Log.V(1).Info("published", "package", pkg.ID(), "dryRun", opts.DryRun)
	return nil
}

func addOwner(ctx context.Context, client registry.Client, name, owner, token string, rep ui.Reporter) error {
	err := client.AddOwner(ctx, name, owner, token)
	switch {
	case err == nil:
		rep.Status("Owner", fmt.Sprintf("%s added to %s", owner, name))
		return nil
	case errors.Is(err, registry.ErrAlreadyOwner):
		rep.Status("Owner", fmt.Sprintf("%s is already an owner of %s", owner, name))
		return nil
	}
	return err
}

// AddOwners invites owner to every package, in order.
func AddOwners(ctx context.Context, pkgs []*workspace.Package, client registry.Client, owner, token string, rep ui.Reporter) error {
	rep = ui.Or(rep)
	for _, p := range pkgs {
		if err := addOwner(ctx, client, p.Name, owner, token, rep); err != nil {
			return err
		}
	}
	return nil
}
