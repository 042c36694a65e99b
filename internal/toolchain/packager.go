// File: internal/toolchain/packager.go
// Brief: Package collaborator: archive a package with a publishable manifest.

package toolchain

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-logr/logr"
	"github.com/moby/patternmatcher"
	"github.com/pkg/errors"

	"github.com/example/dragons/internal/errdefs"
	"github.com/example/dragons/internal/mutate"
	"github.com/example/dragons/internal/tomledit"
	"github.com/example/dragons/internal/workspace"
)

// Packager turns a package into its distributable archive and back.
type Packager interface {
	Package(ctx context.Context, pkg *workspace.Package, outDir string) (string, error)
	// Unpack extracts archive below dir and returns the package directory.
	Unpack(ctx context.Context, archive, dir string) (string, error)
}

// ArchivePackager writes `<name>-<version>.crate` tar.gz archives whose
// entries live under `<name>-<version>/`.
type ArchivePackager struct {
	Workspace *workspace.Workspace
	Log       logr.Logger
}

var skippedDirs = map[string]bool{"target": true, ".git": true, ".hg": true, ".svn": true, ".dragons": true}

// ArchiveName is the file name of the archive for pkg.
func ArchiveName(pkg *workspace.Package) string {
	return fmt.Sprintf("%s-%s%s", pkg.Name, pkg.Version, ArchiveExt)
}

// Package archives pkg into outDir. The manifest is rewritten for
// publishing and the original is kept as Cargo.toml.orig.
func (p ArchivePackager) Package(ctx context.Context, pkg *workspace.Package, outDir string) (string, error) {
	original, err := os.ReadFile(pkg.ManifestPath)
	if err != nil {
		return "", &errdefs.ManifestIOError{Path: pkg.ManifestPath, Err: err}
	}
	normalized, err := NormalizeManifest(p.Workspace, pkg, original)
	if err != nil {
		return "", err
	}
	files, err := p.collect(pkg)
	if err != nil {
		return "", errors.Wrapf(err, "collect files of %s", pkg.Name)
	}
	prefix := fmt.Sprintf("%s-%s/", pkg.Name, pkg.Version)
	entries := []tarFile{
		{Name: prefix + workspace.ManifestName, Data: normalized},
		{Name: prefix + workspace.ManifestName + ".orig", Data: original},
	}
	for _, rel := range files {
		entries = append(entries, tarFile{Name: prefix + rel, Path: filepath.Join(pkg.Dir, filepath.FromSlash(rel))})
	}
	dst := filepath.Join(outDir, ArchiveName(pkg))
	if err := writeDeterministicTarGz(ctx, dst, entries); err != nil {
		return "", errors.Wrapf(err, "write %s", dst)
	}
	p.Log.V(1).Info("packaged", "package", pkg.ID(), "archive", dst, "files", len(entries))
	return dst, nil
}

// collect lists the files of pkg relative to its directory. Build output,
// VCS directories and nested packages are skipped; package.include wins over
// package.exclude the way the toolchain treats them.
func (p ArchivePackager) collect(pkg *workspace.Package) ([]string, error) {
	include, err := patternmatcher.New(pkg.Metadata.Include)
	if err != nil {
		return nil, errdefs.Configf("invalid package.include of %s: %v", pkg.Name, err)
	}
	exclude, err := patternmatcher.New(pkg.Metadata.Exclude)
	if err != nil {
		return nil, errdefs.Configf("invalid package.exclude of %s: %v", pkg.Name, err)
	}
	var out []string
	err = filepath.WalkDir(pkg.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(pkg.Dir, path)
		if err != nil || rel == "." {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if skippedDirs[d.Name()] {
				return filepath.SkipDir
			}
			if _, err := os.Stat(filepath.Join(path, workspace.ManifestName)); err == nil {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || rel == workspace.ManifestName || rel == workspace.ManifestName+".orig" {
			return nil
		}
		if len(pkg.Metadata.Include) > 0 {
			if ok, _ := include.MatchesOrParentMatches(rel); !ok {
				return nil
			}
		} else if ok, _ := exclude.MatchesOrParentMatches(rel); ok {
			return nil
		}
		out = append(out, rel)
		return nil
	})
	sort.Strings(out)
	return out, err
}

// Unpack extracts archive into dir, replacing an earlier extraction of the
// same package.
func (p ArchivePackager) Unpack(ctx context.Context, archive, dir string) (string, error) {
	base := strings.TrimSuffix(filepath.Base(archive), ArchiveExt)
	dst := filepath.Join(dir, base)
	if err := os.RemoveAll(dst); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	tops, err := extractTarGz(ctx, archive, dir)
	if err != nil {
		return "", err
	}
	if len(tops) != 1 || tops[0] != base {
		return "", errors.Errorf("archive %s must contain exactly one %s/ directory, found %v", archive, base, tops)
	}
	return dst, nil
}

// NormalizeManifest rewrites a package manifest the way it is published:
// inherited fields and dependencies are resolved from the workspace, path
// dependencies lose their path (keeping the version), version-less path
// dev-dependencies are dropped and the [workspace] tables removed. A
// version-less path dependency in any other section cannot be published.
func NormalizeManifest(ws *workspace.Workspace, pkg *workspace.Package, src []byte) ([]byte, error) {
	doc, err := tomledit.Parse(src)
	if err != nil {
		return nil, &errdefs.ManifestIOError{Path: pkg.ManifestPath, Err: err}
	}
	if err := resolvePackageFields(doc, ws, pkg); err != nil {
		return nil, err
	}
	for {
		var wt *tomledit.Table
		for _, t := range doc.Tables() {
			if len(t.Path) > 0 && t.Path[0] == "workspace" {
				wt = t
				break
			}
		}
		if wt == nil {
			break
		}
		if err := doc.RemoveTable(wt); err != nil {
			return nil, err
		}
	}

	_, err = mutate.EachDependency(doc, mutate.WalkOptions{}, func(e *mutate.Entry) (mutate.Action, error) {
		if inherited, _ := e.GetBool("workspace"); inherited {
			if err := resolveInherited(ws, e); err != nil {
				return mutate.Untouched, errors.Wrapf(err, "%s: dependency %s", pkg.Name, e.Key)
			}
		}
		if !e.Has("path") {
			return mutate.Untouched, nil
		}
		if e.Has("version") {
			_, err := e.Remove("path")
			return mutate.Mutated, err
		}
		if e.Section == workspace.Dev {
			return mutate.Remove, nil
		}
		return mutate.Untouched, errors.Errorf("%s: %s dependency %s has a path but no version and cannot be published", pkg.Name, e.Section, e.Key)
	})
	if err != nil {
		return nil, err
	}
	out := doc.Bytes()
	if err := mutate.Validate(out); err != nil {
		return nil, &errdefs.ManifestIOError{Path: pkg.ManifestPath, Err: err}
	}
	return out, nil
}

func resolveInherited(ws *workspace.Workspace, e *mutate.Entry) error {
	if ws == nil {
		return errors.New("inherits from the workspace but no workspace is loaded")
	}
	pin, ok := ws.Pins[e.Key]
	if !ok {
		return errors.New("inherits from the workspace but [workspace.dependencies] has no entry")
	}
	if _, err := e.Remove("workspace"); err != nil {
		return err
	}
	if pin.Req != "" {
		if err := e.SetString("version", pin.Req); err != nil {
			return err
		}
	}
	if pin.Path != "" {
		if err := e.SetString("path", pin.Path); err != nil {
			return err
		}
	}
	if pin.Git != "" {
		if err := e.SetString("git", pin.Git); err != nil {
			return err
		}
	}
	if pin.Name != pin.Key && !e.Has("package") {
		if err := e.SetString("package", pin.Name); err != nil {
			return err
		}
	}
	if len(pin.Features) > 0 {
		return e.SetStrings("features", mergeFeatures(pin.Features, e))
	}
	return nil
}

func mergeFeatures(pinned []string, e *mutate.Entry) []string {
	out := append([]string(nil), pinned...)
	if existing, ok := e.Strings("features"); ok {
		seen := map[string]bool{}
		for _, f := range out {
			seen[f] = true
		}
		for _, f := range existing {
			if !seen[f] {
				out = append(out, f)
			}
		}
	}
	return out
}

// resolvePackageFields replaces `field.workspace = true` in [package] with
// the value from [workspace.package].
func resolvePackageFields(doc *tomledit.Document, ws *workspace.Workspace, pkg *workspace.Package) error {
	t := doc.Table("package")
	if t == nil {
		return &errdefs.ManifestIOError{Path: pkg.ManifestPath, Err: errors.New("missing [package] table")}
	}
	var keys []string
	for _, kv := range t.Entries {
		switch {
		case len(kv.Key) == 2 && kv.Key[1] == "workspace":
			keys = append(keys, kv.Key[0])
		case len(kv.Key) == 1 && kv.Value.Field("workspace") != nil:
			keys = append(keys, kv.Key[0])
		}
	}
	for _, key := range keys {
		var raw string
		if key == "version" {
			raw = tomledit.FormatString(pkg.Version.String())
		} else {
			if ws == nil {
				return errdefs.Configf("%s: package.%s inherits from the workspace but no workspace is loaded", pkg.Name, key)
			}
			v, ok := ws.Inherited(key)
			if !ok {
				return errdefs.Configf("%s: package.%s inherits from [workspace.package] which does not set it", pkg.Name, key)
			}
			if raw, ok = formatValue(v); !ok {
				return errdefs.Configf("%s: package.%s has an unsupported inherited value", pkg.Name, key)
			}
		}
		t = doc.Table("package")
		kv := t.Get(key, "workspace")
		if kv == nil {
			kv = t.Get(key)
		}
		line := tomledit.FormatKey(key) + " = " + raw + "\n"
		if err := doc.Splice(kv.Line, line); err != nil {
			return err
		}
	}
	return nil
}

func formatValue(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return tomledit.FormatString(x), true
	case bool:
		return fmt.Sprint(x), true
	case int64:
		return fmt.Sprint(x), true
	case []any:
		parts := make([]string, 0, len(x))
		for _, item := range x {
			s, ok := formatValue(item)
			if !ok {
				return "", false
			}
			parts = append(parts, s)
		}
		return "[" + strings.Join(parts, ", ") + "]", true
	}
	return "", false
}
