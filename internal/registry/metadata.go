package registry

import (
	"github.com/example/dragons/internal/workspace"
)

// Dependency is a dependency as the publish endpoint describes it.
type Dependency struct {
	Name               string   `json:"name"`
	VersionReq         string   `json:"version_req"`
	Features           []string `json:"features"`
	Optional           bool     `json:"optional"`
	DefaultFeatures    bool     `json:"default_features"`
	Target             *string  `json:"target"`
	Kind               string   `json:"kind"`
	Registry           *string  `json:"registry"`
	ExplicitNameInToml *string  `json:"explicit_name_in_toml"`
}

// Metadata is the JSON document sent ahead of the archive.
type Metadata struct {
	Name          string              `json:"name"`
	Vers          string              `json:"vers"`
	Deps          []Dependency        `json:"deps"`
	Features      map[string][]string `json:"features"`
	Authors       []string            `json:"authors"`
	Description   *string             `json:"description"`
	Documentation *string             `json:"documentation"`
	Homepage      *string             `json:"homepage"`
	Readme        *string             `json:"readme"`
	ReadmeFile    *string             `json:"readme_file"`
	Keywords      []string            `json:"keywords"`
	Categories    []string            `json:"categories"`
	License       *string             `json:"license"`
	LicenseFile   *string             `json:"license_file"`
	Repository    *string             `json:"repository"`
	Badges        map[string]any      `json:"badges"`
	Links         *string             `json:"links"`
}

// NewMetadata describes pkg for upload. Path dependencies without a version
// are left out; packaging already rejected or dropped them.
func NewMetadata(pkg *workspace.Package) Metadata {
	m := pkg.Metadata
	out := Metadata{
		Name:          pkg.Name,
		Vers:          pkg.Version.String(),
		Deps:          []Dependency{},
		Features:      pkg.Features,
		Authors:       nonNil(m.Authors),
		Description:   optional(m.Description),
		Documentation: optional(m.Documentation),
		Homepage:      optional(m.Homepage),
		ReadmeFile:    optional(m.Readme),
		Keywords:      nonNil(m.Keywords),
		Categories:    nonNil(m.Categories),
		License:       optional(m.License),
		LicenseFile:   optional(m.LicenseFile),
		Repository:    optional(m.Repository),
		Badges:        map[string]any{},
		Links:         optional(m.Links),
	}
	if out.Features == nil {
		out.Features = map[string][]string{}
	}
	for _, d := range pkg.Dependencies {
		if d.Source == workspace.Path && d.Req == "" {
			continue
		}
		req := d.Req
		if req == "" {
			req = "*"
		}
		dep := Dependency{
			Name:            d.Name,
			VersionReq:      req,
			Features:        nonNil(d.Features),
			Optional:        d.Optional,
			DefaultFeatures: !d.NoDefault,
			Target:          optional(d.Target),
			Kind:            kind(d.Section),
			Registry:        optional(d.Registry),
		}
		if d.Renamed() {
			dep.ExplicitNameInToml = optional(d.Key)
		}
		out.Deps = append(out.Deps, dep)
	}
	return out
}

func kind(s workspace.Section) string {
	switch s {
	case workspace.Dev:
		return "dev"
	case workspace.Build:
		return "build"
	}
	return "normal"
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
