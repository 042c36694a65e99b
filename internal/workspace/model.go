// File: internal/workspace/model.go
// Brief: Package, dependency and workspace types.

package workspace

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// ManifestName is the manifest file looked up inside package directories.
const ManifestName = "Cargo.toml"

// Section is the dependency table an entry was declared in.
type Section int

const (
	Regular Section = iota
	Dev
	Build
)

// Sections lists every section in manifest order.
var Sections = []Section{Regular, Dev, Build}

// Key returns the manifest table name of the section.
func (s Section) Key() string {
	switch s {
	case Dev:
		return "dev-dependencies"
	case Build:
		return "build-dependencies"
	}
	return "dependencies"
}

func (s Section) String() string {
	switch s {
	case Dev:
		return "dev"
	case Build:
		return "build"
	}
	return "normal"
}

// SectionForKey maps a manifest table name to its Section.
func SectionForKey(key string) (Section, bool) {
	switch key {
	case "dependencies":
		return Regular, true
	case "dev-dependencies", "dev_dependencies":
		return Dev, true
	case "build-dependencies", "build_dependencies":
		return Build, true
	}
	return 0, false
}

// Source says where a dependency is fetched from.
type Source int

const (
	Registry Source = iota
	Path
	Git
)

func (s Source) String() string {
	switch s {
	case Path:
		return "path"
	case Git:
		return "git"
	}
	return "registry"
}

// Dependency is one declared dependency of a package.
type Dependency struct {
	// Name is the package the entry resolves to: the `package` field when
	// present, otherwise the entry key.
	Name string
	// Key is the entry key as written in the manifest.
	Key string
	// Req is the version requirement text; empty means unconstrained.
	Req       string
	Section   Section
	Source    Source
	Path      string // absolute directory for path dependencies
	Git       string
	Target    string // cfg expression for target-specific dependencies
	Optional  bool
	Workspace bool // inherited from [workspace.dependencies]
	Features  []string
	Registry  string
	NoDefault bool
}

// Renamed reports whether the entry key differs from the resolved package name.
func (d Dependency) Renamed() bool { return d.Key != d.Name }

// PublishKind is the publish policy of a package.
type PublishKind int

const (
	PublishEverywhere PublishKind = iota
	PublishNowhere
	PublishRestricted
)

// PublishPolicy says where a package may be published.
type PublishPolicy struct {
	Kind       PublishKind
	Registries []string
}

// Allowed reports whether publishing to the default registry is permitted.
func (p PublishPolicy) Allowed() bool { return p.Kind == PublishEverywhere }

func (p PublishPolicy) String() string {
	switch p.Kind {
	case PublishNowhere:
		return "false"
	case PublishRestricted:
		return "[" + strings.Join(p.Registries, ", ") + "]"
	}
	return "true"
}

// Metadata holds the descriptive package fields registries care about.
type Metadata struct {
	Description   string
	License       string
	LicenseFile   string
	Repository    string
	Homepage      string
	Documentation string
	Readme        string
	Keywords      []string
	Categories    []string
	Authors       []string
	Links         string
	Include       []string
	Exclude       []string
}

// Package is one manifest with a [package] table.
type Package struct {
	Name         string
	Version      *semver.Version
	Publish      PublishPolicy
	ManifestPath string
	Dir          string
	Dependencies []Dependency
	Features     map[string][]string
	Metadata     Metadata
	Member       bool
}

// ID is the `name@version` identifier used in graphs and toolchain specs.
func (p *Package) ID() string {
	return fmt.Sprintf("%s@%s", p.Name, p.Version)
}

func (p *Package) String() string {
	return fmt.Sprintf("%s (%s)", p.Name, p.Version)
}

// IsPreRelease reports whether the version carries a pre-release tag.
func (p *Package) IsPreRelease() bool { return p.Version != nil && p.Version.Prerelease() != "" }

// PathDependencies returns the path-sourced dependencies in declaration order.
func (p *Package) PathDependencies() []Dependency {
	var out []Dependency
	for _, d := range p.Dependencies {
		if d.Source == Path {
			out = append(out, d)
		}
	}
	return out
}

// OptionalFeatures returns every feature name the package can be compiled
// with: declared features plus implicit features of optional dependencies
// that no feature references through `dep:`.
func (p *Package) OptionalFeatures() []string {
	seen := map[string]bool{}
	hidden := map[string]bool{}
	for name, entries := range p.Features {
		seen[name] = true
		for _, e := range entries {
			if strings.HasPrefix(e, "dep:") {
				hidden[strings.TrimPrefix(e, "dep:")] = true
			}
		}
	}
	for _, d := range p.Dependencies {
		if d.Optional && d.Section != Dev && !hidden[d.Key] {
			seen[d.Key] = true
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// SortByName orders packages by name, then version.
func SortByName(pkgs []*Package) {
	sort.SliceStable(pkgs, func(i, j int) bool {
		if pkgs[i].Name != pkgs[j].Name {
			return pkgs[i].Name < pkgs[j].Name
		}
		return pkgs[i].Version.LessThan(pkgs[j].Version)
	})
}
