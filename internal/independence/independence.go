// File: internal/independence/independence.go
// Brief: Feature powerset compile matrix over selected packages.

// Package independence compiles every selected package once per mode and
// per subset of its optional features, proving that each combination
// builds on its own.
package independence

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/example/dragons/internal/errdefs"
	"github.com/example/dragons/internal/toolchain"
	"github.com/example/dragons/internal/ui"
	"github.com/example/dragons/internal/verify"
	"github.com/example/dragons/internal/workspace"
)

// Options configure a matrix run.
type Options struct {
	Pipeline *verify.Pipeline
	Context  toolchain.Context
	Modes    []toolchain.Mode
	// Jobs bounds concurrently running cells; values below 1 mean 1.
	Jobs int
	// SharedTarget compiles every cell into one output directory and
	// serializes compiles around it.
	SharedTarget bool
	// MaxFeatures rejects packages with more optional features; zero
	// disables the limit.
	MaxFeatures int
	FailFast    bool
	Reporter    ui.Reporter
	Log         logr.Logger
}

// CellResult is the outcome of one cell.
type CellResult struct {
	Cell        errdefs.Cell
	Err         error
	Diagnostics string
	Duration    time.Duration
	// Skipped is set for cells that never ran because a failfast run was
	// cancelled.
	Skipped bool
}

// Report lists every cell in matrix order.
type Report struct {
	Cells []CellResult
}

// Failed returns the cells that ran and failed.
func (r *Report) Failed() []CellResult {
	var out []CellResult
	for _, c := range r.Cells {
		if c.Err != nil && !c.Skipped {
			out = append(out, c)
		}
	}
	return out
}

// Powerset returns every subset of features, ordered by size and then
// lexicographically. The empty set comes first.
func Powerset(features []string) [][]string {
	sorted := append([]string(nil), features...)
	sort.Strings(sorted)
	out := [][]string{{}}
	var pick func(start, size int, cur []string)
	pick = func(start, size int, cur []string) {
		if len(cur) == size {
			out = append(out, append([]string(nil), cur...))
			return
		}
		for i := start; i <= len(sorted)-(size-len(cur)); i++ {
			pick(i+1, size, append(cur, sorted[i]))
		}
	}
	for size := 1; size <= len(sorted); size++ {
		pick(0, size, nil)
	}
	return out
}

type cell struct {
	index    int
	pkg      *workspace.Package
	mode     toolchain.Mode
	features []string
}

// Run executes the matrix for pkgs. Without FailFast every cell runs and
// all failures are returned together as a VerificationFailure; with
// FailFast the first failure cancels the remaining cells.
func Run(ctx context.Context, pkgs []*workspace.Package, opts Options) (*Report, error) {
	rep := ui.Or(opts.Reporter)
	if len(opts.Modes) == 0 {
		opts.Modes = []toolchain.Mode{toolchain.ModeCheck}
	}
	var cells []cell
	for _, pkg := range pkgs {
		features := pkg.OptionalFeatures()
		if opts.MaxFeatures > 0 && len(features) > opts.MaxFeatures {
			return nil, errdefs.Configf("%s has %d optional features, more than the allowed %d (%d combinations)",
				pkg.Name, len(features), opts.MaxFeatures, 1<<len(features))
		}
		subsets := Powerset(features)
		for _, mode := range opts.Modes {
			rep.Status("Independence", fmt.Sprintf("%s: %d feature combinations in %s mode", pkg, len(subsets), mode))
			for _, s := range subsets {
				cells = append(cells, cell{index: len(cells), pkg: pkg, mode: mode, features: s})
			}
		}
	}
	rep.Status("Processing", fmt.Sprintf("%d cells for %d packages using the %s context", len(cells), len(pkgs), opts.Context))

	p := opts.Pipeline
	archives := map[string]string{}
	if opts.Context == toolchain.Ephemeral {
		for _, pkg := range pkgs {
			rep.Status("Packaging", pkg.String())
			archive, err := p.Package(ctx, pkg)
			if err != nil {
				return nil, err
			}
			archives[pkg.Name] = archive
		}
	}

	var cellRoot string
	if !opts.SharedTarget {
		scratch, err := p.Scratch()
		if err != nil {
			return nil, err
		}
		cellRoot = filepath.Join(scratch, "cells")
	}

	jobs := opts.Jobs
	if jobs < 1 {
		jobs = 1
	}
	results := make([]CellResult, len(cells))
	for i, c := range cells {
		results[i] = CellResult{Cell: errdefs.Cell{Package: c.pkg.ID(), Mode: string(c.mode), Features: c.features}, Skipped: true}
	}
	var compileMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for _, c := range cells {
		c := c
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			req := verify.Request{Package: c.pkg, Mode: c.mode, Features: c.features, Archive: archives[c.pkg.Name]}
			if cellRoot != "" {
				req.OutputDir = filepath.Join(cellRoot, fmt.Sprintf("%s-%s-%03d", c.pkg.Name, c.mode, c.index))
				if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
					return errors.Wrap(err, "create cell output directory")
				}
			} else {
				compileMu.Lock()
				defer compileMu.Unlock()
			}
			rep.Status(fmt.Sprintf("%s/%s", opts.Context, c.mode), fmt.Sprintf("%s with features [%s]", c.pkg.ID(), strings.Join(c.features, ", ")))
			start := time.Now()
			res, err := p.Run(gctx, opts.Context, req)
			r := &results[c.index]
			r.Duration = time.Since(start)
			r.Diagnostics = res.Diagnostics()
			// Cells torn down by an earlier failure count as skipped, whatever
			// error the killed toolchain produced.
			if err != nil && opts.FailFast && gctx.Err() != nil {
				return nil
			}
			r.Skipped = false
			r.Err = err
			if err != nil {
				rep.Error(fmt.Sprintf("%s failed: %v", r.Cell, err))
				opts.Log.V(1).Info("cell failed", "cell", r.Cell.String(), "diagnostics", r.Diagnostics)
				if opts.FailFast {
					return err
				}
			}
			return nil
		})
	}
	waitErr := g.Wait()
	report := &Report{Cells: results}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	failed := report.Failed()
	if len(failed) > 0 {
		vf := &errdefs.VerificationFailure{}
		for _, f := range failed {
			vf.Failures = append(vf.Failures, errdefs.CellFailure{Cell: f.Cell, Err: f.Err, Diagnostics: f.Diagnostics})
		}
		return report, vf
	}
	if waitErr != nil {
		return report, waitErr
	}
	rep.Status("Done", fmt.Sprintf("independence check succeeded for all %d packages", len(pkgs)))
	return report, nil
}

// PrintSummary renders one row per cell.
func PrintSummary(w io.Writer, r *Report) {
	rows := make([][]string, 0, len(r.Cells))
	for _, c := range r.Cells {
		status := "ok"
		switch {
		case c.Skipped:
			status = "skipped"
		case c.Err != nil:
			status = "FAILED"
		}
		features := strings.Join(c.Cell.Features, ",")
		if features == "" {
			features = "-"
		}
		rows = append(rows, []string{c.Cell.Package, c.Cell.Mode, features, status, c.Duration.Round(time.Millisecond).String()})
	}
	ui.PrintTable(w, []string{"PACKAGE", "MODE", "FEATURES", "RESULT", "TIME"}, rows)
}
