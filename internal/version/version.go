// Package version reports the build that produced the dragons binary.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Release builds set these with -ldflags "-X ...". Builds made with
// `go install` fall back to the VCS stamps of the module build info.
var (
	Version      = "dev"
	GitCommit    = "unknown"
	GitTreeState = "unknown" // clean|dirty|unknown
	BuildDate    = "unknown"
)

// Template renders `dragons --version`.
var Template = `{{.Name}} {{.Version}}` + "\n"

type Info struct {
	Version      string
	GitCommit    string
	GitTreeState string
	BuildDate    string
	GoVersion    string
	Platform     string
}

func Get() Info {
	info := Info{
		Version:      Version,
		GitCommit:    GitCommit,
		GitTreeState: GitTreeState,
		BuildDate:    BuildDate,
		GoVersion:    runtime.Version(),
		Platform:     fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info.fill(bi)
	}
	return info
}

// fill copies module and VCS details the linker flags left unset.
func (i *Info) fill(bi *debug.BuildInfo) {
	if i.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		i.Version = strings.TrimPrefix(bi.Main.Version, "v")
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if i.GitCommit == "unknown" {
				i.GitCommit = s.Value
				if len(i.GitCommit) > 12 {
					i.GitCommit = i.GitCommit[:12]
				}
			}
		case "vcs.modified":
			if i.GitTreeState == "unknown" {
				i.GitTreeState = "clean"
				if s.Value == "true" {
					i.GitTreeState = "dirty"
				}
			}
		case "vcs.time":
			if i.BuildDate == "unknown" {
				i.BuildDate = s.Value
			}
		}
	}
}

// String joins the version with whatever build details are known.
func (i Info) String() string {
	parts := []string{i.Version}
	if i.GitCommit != "" && i.GitCommit != "unknown" {
		commit := i.GitCommit
		if i.GitTreeState == "dirty" {
			commit += "-dirty"
		}
		parts = append(parts, "commit "+commit)
	}
	if i.BuildDate != "" && i.BuildDate != "unknown" {
		parts = append(parts, "built "+i.BuildDate)
	}
	parts = append(parts, i.GoVersion, i.Platform)
	return strings.Join(parts, ", ")
}
