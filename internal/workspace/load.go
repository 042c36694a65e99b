// File: internal/workspace/load.go
// Brief: Manifest decoding and workspace member discovery.

package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"

	"github.com/example/dragons/internal/errdefs"
)

// Pin is an entry of the root [workspace.dependencies] table.
type Pin struct {
	Name     string
	Key      string
	Req      string
	Path     string
	Git      string
	Features []string
}

// Workspace is the loaded set of packages rooted at one manifest.
type Workspace struct {
	Root         string
	RootManifest string
	// Pins is keyed by the [workspace.dependencies] entry key.
	Pins map[string]Pin

	members   []*Package
	deep      []*Package
	byDir     map[string]*Package
	inherited map[string]any
	isVirtual bool
}

type rawManifest struct {
	Package           map[string]any            `toml:"package"`
	Workspace         *rawWorkspace             `toml:"workspace"`
	Dependencies      map[string]any            `toml:"dependencies"`
	DevDependencies   map[string]any            `toml:"dev-dependencies"`
	BuildDependencies map[string]any            `toml:"build-dependencies"`
	Target            map[string]map[string]any `toml:"target"`
	Features          map[string][]string       `toml:"features"`
}

type rawWorkspace struct {
	Members      []string       `toml:"members"`
	Exclude      []string       `toml:"exclude"`
	Dependencies map[string]any `toml:"dependencies"`
	Package      map[string]any `toml:"package"`
}

// ResolveManifestPath turns a file or directory argument into an absolute manifest path.
func ResolveManifestPath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		path = "."
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if fi, err := os.Stat(abs); err == nil && fi.IsDir() {
		abs = filepath.Join(abs, ManifestName)
	}
	return abs, nil
}

// Load reads the manifest at path (a file or a directory). A package manifest
// without a [workspace] table is resolved to the nearest enclosing workspace
// root when one lists it as a member.
func Load(path string) (*Workspace, error) {
	manifest, err := ResolveManifestPath(path)
	if err != nil {
		return nil, err
	}
	raw, err := readManifest(manifest)
	if err != nil {
		return nil, err
	}
	if raw.Workspace == nil {
		if root, ok := findEnclosingRoot(manifest); ok {
			manifest = root
			if raw, err = readManifest(manifest); err != nil {
				return nil, err
			}
		}
	}
	ws := &Workspace{
		Root:         filepath.Dir(manifest),
		RootManifest: manifest,
		Pins:         map[string]Pin{},
		byDir:        map[string]*Package{},
		inherited:    map[string]any{},
	}
	if err := ws.load(raw); err != nil {
		return nil, err
	}
	return ws, nil
}

// Reload re-reads every manifest from disk.
func (w *Workspace) Reload() (*Workspace, error) {
	return Load(w.RootManifest)
}

// Members returns the workspace members sorted by name.
func (w *Workspace) Members() []*Package { return append([]*Package(nil), w.members...) }

// Deep returns the members plus every package reachable through path
// dependencies, sorted by name.
func (w *Workspace) Deep() []*Package { return append([]*Package(nil), w.deep...) }

// Virtual reports whether the root manifest has no [package] of its own.
func (w *Workspace) Virtual() bool { return w.isVirtual }

// Package returns the loaded package with the given name.
func (w *Workspace) Package(name string) *Package {
	for _, p := range w.deep {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// PackageAt returns the package whose directory is dir.
func (w *Workspace) PackageAt(dir string) *Package {
	return w.byDir[filepath.Clean(dir)]
}

// InheritedString returns a string field of [workspace.package].
func (w *Workspace) InheritedString(key string) (string, bool) {
	s, ok := w.inherited[key].(string)
	return s, ok
}

// Inherited returns a raw field of [workspace.package] as decoded from TOML.
func (w *Workspace) Inherited(key string) (any, bool) {
	v, ok := w.inherited[key]
	return v, ok
}

func (w *Workspace) load(root *rawManifest) error {
	if root.Workspace != nil {
		w.inherited = root.Workspace.Package
		for key, val := range root.Workspace.Dependencies {
			dep, err := parseDependency(key, val, w.Root)
			if err != nil {
				return &errdefs.ManifestIOError{Path: w.RootManifest, Err: errors.Wrapf(err, "workspace dependency %s", key)}
			}
			w.Pins[key] = Pin{Name: dep.Name, Key: key, Req: dep.Req, Path: dep.Path, Git: dep.Git, Features: dep.Features}
		}
	}

	var memberDirs []string
	if root.Package != nil {
		memberDirs = append(memberDirs, w.Root)
	} else {
		w.isVirtual = true
	}
	if root.Workspace != nil {
		dirs, err := expandMembers(w.Root, root.Workspace.Members, root.Workspace.Exclude)
		if err != nil {
			return &errdefs.ManifestIOError{Path: w.RootManifest, Err: err}
		}
		memberDirs = append(memberDirs, dirs...)
	}

	for _, dir := range memberDirs {
		if _, ok := w.byDir[dir]; ok {
			continue
		}
		pkg, err := w.loadPackage(filepath.Join(dir, ManifestName))
		if err != nil {
			return err
		}
		pkg.Member = true
		w.members = append(w.members, pkg)
	}

	queue := append([]*Package(nil), w.members...)
	for len(queue) > 0 {
		pkg := queue[0]
		queue = queue[1:]
		for _, dep := range pkg.PathDependencies() {
			if _, ok := w.byDir[dep.Path]; ok {
				continue
			}
			target := filepath.Join(dep.Path, ManifestName)
			if _, err := os.Stat(target); err != nil {
				return &errdefs.GraphError{From: pkg.Name, Unresolved: dep.Path}
			}
			next, err := w.loadPackage(target)
			if err != nil {
				return err
			}
			queue = append(queue, next)
		}
	}

	for _, p := range w.byDir {
		w.deep = append(w.deep, p)
	}
	SortByName(w.deep)
	SortByName(w.members)
	return nil
}

func (w *Workspace) loadPackage(manifest string) (*Package, error) {
	raw, err := readManifest(manifest)
	if err != nil {
		return nil, err
	}
	if raw.Package == nil {
		return nil, &errdefs.ManifestIOError{Path: manifest, Err: errors.New("missing [package] table")}
	}
	dir := filepath.Dir(manifest)
	pkg, err := w.decodePackage(raw, dir)
	if err != nil {
		return nil, &errdefs.ManifestIOError{Path: manifest, Err: err}
	}
	pkg.ManifestPath = manifest
	pkg.Dir = dir
	w.byDir[dir] = pkg
	return pkg, nil
}

func (w *Workspace) decodePackage(raw *rawManifest, dir string) (*Package, error) {
	pkg := &Package{Features: raw.Features}
	if pkg.Features == nil {
		pkg.Features = map[string][]string{}
	}
	name, _ := raw.Package["name"].(string)
	if name == "" {
		return nil, errors.New("package.name is required")
	}
	pkg.Name = name

	versionText, ok := w.field(raw.Package, "version").(string)
	if !ok || versionText == "" {
		versionText = "0.0.0"
	}
	v, err := semver.StrictNewVersion(versionText)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid version %q", versionText)
	}
	pkg.Version = v

	switch pub := w.field(raw.Package, "publish").(type) {
	case bool:
		if !pub {
			pkg.Publish = PublishPolicy{Kind: PublishNowhere}
		}
	case []any:
		pkg.Publish = PublishPolicy{Kind: PublishNowhere}
		if len(pub) > 0 {
			pkg.Publish = PublishPolicy{Kind: PublishRestricted, Registries: toStrings(pub)}
		}
	}

	pkg.Metadata = Metadata{
		Description:   w.stringField(raw.Package, "description"),
		License:       w.stringField(raw.Package, "license"),
		LicenseFile:   w.stringField(raw.Package, "license-file"),
		Repository:    w.stringField(raw.Package, "repository"),
		Homepage:      w.stringField(raw.Package, "homepage"),
		Documentation: w.stringField(raw.Package, "documentation"),
		Links:         w.stringField(raw.Package, "links"),
		Keywords:      toStrings(w.field(raw.Package, "keywords")),
		Categories:    toStrings(w.field(raw.Package, "categories")),
		Authors:       toStrings(w.field(raw.Package, "authors")),
		Include:       toStrings(w.field(raw.Package, "include")),
		Exclude:       toStrings(w.field(raw.Package, "exclude")),
	}
	if readme, ok := w.field(raw.Package, "readme").(string); ok {
		pkg.Metadata.Readme = readme
	}

	add := func(section Section, target string, table map[string]any) error {
		keys := make([]string, 0, len(table))
		for k := range table {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, key := range keys {
			dep, err := parseDependency(key, table[key], dir)
			if err != nil {
				return errors.Wrapf(err, "%s %s", section.Key(), key)
			}
			dep.Section = section
			dep.Target = target
			if dep.Workspace {
				if err := w.inheritDependency(&dep); err != nil {
					return err
				}
			}
			pkg.Dependencies = append(pkg.Dependencies, dep)
		}
		return nil
	}
	for _, s := range Sections {
		if err := add(s, "", raw.sectionTable(s)); err != nil {
			return nil, err
		}
	}
	targets := make([]string, 0, len(raw.Target))
	for cfg := range raw.Target {
		targets = append(targets, cfg)
	}
	sort.Strings(targets)
	for _, cfg := range targets {
		for key, val := range raw.Target[cfg] {
			section, ok := SectionForKey(key)
			if !ok {
				continue
			}
			table, _ := val.(map[string]any)
			if err := add(section, cfg, table); err != nil {
				return nil, err
			}
		}
	}
	return pkg, nil
}

func (w *Workspace) inheritDependency(dep *Dependency) error {
	pin, ok := w.Pins[dep.Key]
	if !ok {
		return errors.Errorf("dependency %s is inherited but [workspace.dependencies] has no entry for it", dep.Key)
	}
	dep.Name = pin.Name
	dep.Req = pin.Req
	dep.Git = pin.Git
	dep.Path = pin.Path
	dep.Features = append(append([]string(nil), pin.Features...), dep.Features...)
	switch {
	case pin.Path != "":
		dep.Source = Path
	case pin.Git != "":
		dep.Source = Git
	default:
		dep.Source = Registry
	}
	return nil
}

// field returns key from the [package] table, following `key.workspace = true`.
func (w *Workspace) field(table map[string]any, key string) any {
	v := table[key]
	if m, ok := v.(map[string]any); ok {
		if inherit, _ := m["workspace"].(bool); inherit {
			return w.inherited[key]
		}
	}
	return v
}

func (w *Workspace) stringField(table map[string]any, key string) string {
	s, _ := w.field(table, key).(string)
	return s
}

func (r *rawManifest) sectionTable(s Section) map[string]any {
	switch s {
	case Dev:
		return r.DevDependencies
	case Build:
		return r.BuildDependencies
	}
	return r.Dependencies
}

func parseDependency(key string, val any, dir string) (Dependency, error) {
	dep := Dependency{Name: key, Key: key}
	switch v := val.(type) {
	case string:
		dep.Req = v
		return dep, nil
	case map[string]any:
		if name, ok := v["package"].(string); ok && name != "" {
			dep.Name = name
		}
		dep.Req, _ = v["version"].(string)
		dep.Git, _ = v["git"].(string)
		dep.Registry, _ = v["registry"].(string)
		dep.Optional, _ = v["optional"].(bool)
		dep.Workspace, _ = v["workspace"].(bool)
		dep.Features = toStrings(v["features"])
		if df, ok := v["default-features"].(bool); ok {
			dep.NoDefault = !df
		}
		if p, ok := v["path"].(string); ok && p != "" {
			dep.Source = Path
			dep.Path = filepath.Clean(filepath.Join(dir, filepath.FromSlash(p)))
		} else if dep.Git != "" {
			dep.Source = Git
		}
		return dep, nil
	}
	return dep, fmt.Errorf("unsupported dependency value of type %T", val)
}

func readManifest(path string) (*rawManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errdefs.ManifestIOError{Path: path, Err: err}
	}
	var raw rawManifest
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, &errdefs.ManifestIOError{Path: path, Err: err}
	}
	return &raw, nil
}

func expandMembers(root string, members, exclude []string) ([]string, error) {
	excluded := func(dir string) bool {
		rel, err := filepath.Rel(root, dir)
		if err != nil {
			return false
		}
		rel = filepath.ToSlash(rel)
		for _, pattern := range exclude {
			pattern = strings.TrimSuffix(filepath.ToSlash(pattern), "/")
			if ok, _ := doublestar.Match(pattern, rel); ok || strings.HasPrefix(rel, pattern+"/") {
				return true
			}
		}
		return false
	}
	var dirs []string
	seen := map[string]bool{}
	for _, pattern := range members {
		matches, err := doublestar.FilepathGlob(filepath.Join(root, filepath.FromSlash(pattern)))
		if err != nil {
			return nil, errors.Wrapf(err, "workspace member pattern %q", pattern)
		}
		if len(matches) == 0 && !strings.ContainsAny(pattern, "*?[{") {
			return nil, errors.Errorf("workspace member %q does not exist", pattern)
		}
		sort.Strings(matches)
		for _, m := range matches {
			m = filepath.Clean(m)
			if seen[m] || excluded(m) {
				continue
			}
			if _, err := os.Stat(filepath.Join(m, ManifestName)); err != nil {
				continue
			}
			seen[m] = true
			dirs = append(dirs, m)
		}
	}
	return dirs, nil
}

func findEnclosingRoot(manifest string) (string, bool) {
	pkgDir := filepath.Dir(manifest)
	for dir := filepath.Dir(pkgDir); ; dir = filepath.Dir(dir) {
		candidate := filepath.Join(dir, ManifestName)
		if raw, err := readManifest(candidate); err == nil && raw.Workspace != nil {
			members, err := expandMembers(dir, raw.Workspace.Members, raw.Workspace.Exclude)
			if err == nil {
				for _, m := range members {
					if m == pkgDir {
						return candidate, true
					}
				}
			}
			return "", false
		}
		if parent := filepath.Dir(dir); parent == dir {
			return "", false
		}
	}
}

func toStrings(v any) []string {
	items, ok := v.([]any)
	if !ok {
		if ss, ok := v.([]string); ok {
			return append([]string(nil), ss...)
		}
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
