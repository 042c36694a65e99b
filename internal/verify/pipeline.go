// File: internal/verify/pipeline.go
// Brief: In-place and ephemeral compile verification of one package.

// Package verify checks that packages compile as published. The ephemeral
// context packages a member, unpacks the archive into a scratch directory
// outside the workspace and compiles it there, failing when the compile
// modified the unpacked sources.
package verify

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"

	"github.com/example/dragons/internal/errdefs"
	"github.com/example/dragons/internal/fingerprint"
	"github.com/example/dragons/internal/mutate"
	"github.com/example/dragons/internal/tomledit"
	"github.com/example/dragons/internal/toolchain"
	"github.com/example/dragons/internal/ui"
	"github.com/example/dragons/internal/workspace"
)

// ReplacementMap points package names at already verified scratch copies.
type ReplacementMap map[string]string

// Clone returns an independent copy of m.
func (m ReplacementMap) Clone() ReplacementMap {
	out := make(ReplacementMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Pipeline runs compile verification for packages of one workspace.
type Pipeline struct {
	Workspace *workspace.Workspace
	Toolchain toolchain.Toolchain
	Packager  toolchain.Packager
	// Fingerprint configures drift detection of unpacked sources.
	Fingerprint fingerprint.Options
	// ScratchDir holds unpacked packages and default build output; a
	// temporary directory is created when empty.
	ScratchDir string
	// TargetDir is the default compile output directory.
	TargetDir string
	// Keep leaves the scratch directory in place on Close.
	Keep     bool
	Reporter ui.Reporter
	Log      logr.Logger

	mu      sync.Mutex
	scratch string
	owned   bool
}

// Request is one verification run.
type Request struct {
	Package  *workspace.Package
	Mode     toolchain.Mode
	Features []string
	// Archive is an already built archive of Package; the package is
	// archived on demand when empty.
	Archive string
	Replace ReplacementMap
	// OutputDir overrides the compile output directory.
	OutputDir string
}

// Result describes a finished run.
type Result struct {
	// Dir is the unpacked package directory of an ephemeral run.
	Dir     string
	Compile toolchain.CompileResult
}

// Diagnostics returns the toolchain output of the run.
func (r Result) Diagnostics() string { return string(r.Compile.Output) }

// Scratch returns the scratch root, creating it on first use.
func (p *Pipeline) Scratch() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.scratch != "" {
		return p.scratch, nil
	}
	if p.ScratchDir != "" {
		if err := os.MkdirAll(p.ScratchDir, 0o755); err != nil {
			return "", errors.Wrap(err, "create scratch directory")
		}
		p.scratch = p.ScratchDir
		return p.scratch, nil
	}
	dir, err := os.MkdirTemp("", "dragons-verify-")
	if err != nil {
		return "", errors.Wrap(err, "create scratch directory")
	}
	p.scratch, p.owned = dir, true
	return dir, nil
}

// Close removes a scratch directory the pipeline created itself.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.scratch == "" || !p.owned || p.Keep {
		return nil
	}
	err := os.RemoveAll(p.scratch)
	p.scratch, p.owned = "", false
	return err
}

// Package archives pkg into the scratch directory.
func (p *Pipeline) Package(ctx context.Context, pkg *workspace.Package) (string, error) {
	root, err := p.Scratch()
	if err != nil {
		return "", err
	}
	out := filepath.Join(root, "archives")
	if err := os.MkdirAll(out, 0o755); err != nil {
		return "", errors.Wrap(err, "create archive directory")
	}
	return p.Packager.Package(ctx, pkg, out)
}

// Run dispatches req to the context's pipeline.
func (p *Pipeline) Run(ctx context.Context, c toolchain.Context, req Request) (Result, error) {
	if c == toolchain.Ephemeral {
		return p.Ephemeral(ctx, req)
	}
	return p.InPlace(ctx, req)
}

// InPlace compiles name@version against the workspace root manifest.
func (p *Pipeline) InPlace(ctx context.Context, req Request) (Result, error) {
	out := req.OutputDir
	if out == "" {
		out = p.TargetDir
	}
	if out == "" {
		out = filepath.Join(p.Workspace.Root, "target")
	}
	creq := toolchain.CompileRequest{
		Name:      req.Package.Name,
		Version:   req.Package.Version.String(),
		Manifest:  p.Workspace.RootManifest,
		Dir:       p.Workspace.Root,
		Context:   toolchain.InPlace,
		Mode:      req.Mode,
		Features:  req.Features,
		OutputDir: out,
	}
	p.Log.V(1).Info("compiling in place", "request", creq.String())
	res, err := p.Toolchain.Compile(ctx, creq)
	if err != nil {
		return Result{Compile: res}, errors.Wrapf(err, "compile %s", req.Package.ID())
	}
	return Result{Compile: res}, nil
}

// Ephemeral packages, unpacks and compiles req.Package as a standalone
// workspace, with path dependencies named in req.Replace pointing at their
// verified copies. A compile that changes the unpacked sources fails with
// a DriftError even when it succeeded.
func (p *Pipeline) Ephemeral(ctx context.Context, req Request) (Result, error) {
	pkg := req.Package
	root, err := p.Scratch()
	if err != nil {
		return Result{}, err
	}
	archive := req.Archive
	if archive == "" {
		if archive, err = p.Package(ctx, pkg); err != nil {
			return Result{}, err
		}
	}
	unpackDir, err := os.MkdirTemp(root, pkg.Name+"-")
	if err != nil {
		return Result{}, errors.Wrap(err, "create unpack directory")
	}
	dir, err := p.Packager.Unpack(ctx, archive, unpackDir)
	if err != nil {
		return Result{}, err
	}
	manifest := filepath.Join(dir, workspace.ManifestName)
	if err := PrepareManifest(manifest, req.Replace, p.Log); err != nil {
		return Result{Dir: dir}, err
	}

	before, err := fingerprint.Compute(ctx, dir, p.Fingerprint)
	if err != nil {
		return Result{Dir: dir}, err
	}

	out := req.OutputDir
	if out == "" {
		out = p.TargetDir
	}
	if out == "" {
		out = filepath.Join(root, "target")
	}
	creq := toolchain.CompileRequest{
		Name:      pkg.Name,
		Version:   pkg.Version.String(),
		Manifest:  manifest,
		Dir:       dir,
		Context:   toolchain.Ephemeral,
		Mode:      req.Mode,
		Features:  req.Features,
		OutputDir: out,
	}
	p.Log.V(1).Info("compiling ephemeral copy", "request", creq.String(), "dir", dir)
	compiled, compileErr := p.Toolchain.Compile(ctx, creq)
	res := Result{Dir: dir, Compile: compiled}

	after, err := fingerprint.Compute(ctx, dir, p.Fingerprint)
	if err != nil {
		return res, err
	}
	if !before.Equal(after) {
		return res, &errdefs.DriftError{
			Package: pkg.ID(),
			Before:  before.Digest.String(),
			After:   after.Digest.String(),
			Changed: fingerprint.Diff(before, after),
		}
	}
	if compileErr != nil {
		return res, errors.Wrapf(compileErr, "compile %s", pkg.ID())
	}
	return res, nil
}

// PrepareManifest turns an unpacked manifest into its own workspace root
// and points dependencies named in replace at their local copies. Entries
// that already carry a path are left alone.
func PrepareManifest(path string, replace ReplacementMap, log logr.Logger) error {
	w := mutate.Writer{Log: log}
	_, err := w.Edit(path, func(_ string, doc *tomledit.Document) error {
		if len(replace) > 0 {
			_, err := mutate.EachDependency(doc, mutate.WalkOptions{}, func(e *mutate.Entry) (mutate.Action, error) {
				dir, ok := replace[e.Name]
				if !ok || e.Has("path") {
					return mutate.Untouched, nil
				}
				if err := e.SetString("path", dir); err != nil {
					return mutate.Untouched, err
				}
				return mutate.Mutated, nil
			})
			if err != nil {
				return err
			}
		}
		if doc.Table("workspace") == nil {
			return doc.AppendTable([]string{"workspace"}, "")
		}
		return nil
	})
	return err
}
