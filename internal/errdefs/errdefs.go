// File: internal/errdefs/errdefs.go
// Brief: Error classes shared by every engine and mapped to exit codes by the CLI.

package errdefs

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ConfigError reports invalid user input: conflicting selection options,
// malformed patterns, unparsable versions or configuration values.
type ConfigError struct {
	Msg string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Configf builds a ConfigError from a format string.
func Configf(format string, args ...any) error {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// GraphError reports a dependency cycle (Cycle set, first element repeated
// at the end) or a path dependency that does not resolve to a package.
type GraphError struct {
	Cycle      []string
	Unresolved string
	From       string
}

func (e *GraphError) Error() string {
	if len(e.Cycle) > 0 {
		return "dependency cycle detected: " + strings.Join(e.Cycle, " -> ")
	}
	return fmt.Sprintf("package %s depends on %s which cannot be resolved to a package", e.From, e.Unresolved)
}

// ManifestIOError wraps a read, parse, validation or write failure for one manifest.
type ManifestIOError struct {
	Path string
	Err  error
}

func (e *ManifestIOError) Error() string {
	return fmt.Sprintf("manifest %s: %v", e.Path, e.Err)
}

func (e *ManifestIOError) Unwrap() error { return e.Err }

// Cell identifies one unit of verification work.
type Cell struct {
	Package  string
	Mode     string
	Features []string
}

func (c Cell) String() string {
	features := "<none>"
	if len(c.Features) > 0 {
		features = strings.Join(c.Features, ",")
	}
	if c.Mode == "" {
		return fmt.Sprintf("%s [features: %s]", c.Package, features)
	}
	return fmt.Sprintf("%s (%s) [features: %s]", c.Package, c.Mode, features)
}

// CellFailure pairs a cell with the error and collaborator diagnostics it produced.
type CellFailure struct {
	Cell        Cell
	Err         error
	Diagnostics string
}

// VerificationFailure aggregates every failed cell of a verification run.
type VerificationFailure struct {
	Failures []CellFailure
}

func (e *VerificationFailure) Error() string {
	if len(e.Failures) == 1 {
		f := e.Failures[0]
		return fmt.Sprintf("verification failed for %s: %v", f.Cell, f.Err)
	}
	lines := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		lines = append(lines, fmt.Sprintf("  %s: %v", f.Cell, f.Err))
	}
	sort.Strings(lines)
	return fmt.Sprintf("verification failed for %d cells:\n%s", len(e.Failures), strings.Join(lines, "\n"))
}

// Unwrap exposes the cell errors so errors.As can find nested drift errors.
func (e *VerificationFailure) Unwrap() []error {
	out := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		if f.Err != nil {
			out = append(out, f.Err)
		}
	}
	return out
}

// DriftError reports that a build step modified its own source tree.
type DriftError struct {
	Package string
	Before  string
	After   string
	Changed []string
}

func (e *DriftError) Error() string {
	msg := fmt.Sprintf("source of %s was modified during build (%s != %s)", e.Package, e.Before, e.After)
	if len(e.Changed) > 0 {
		msg += ": " + strings.Join(e.Changed, ", ")
	}
	return msg
}

// RegistryError reports a rejected or failed registry operation.
type RegistryError struct {
	Op         string
	Package    string
	StatusCode int
	Detail     string
	Err        error
}

func (e *RegistryError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "registry %s", e.Op)
	if e.Package != "" {
		fmt.Fprintf(&b, " %s", e.Package)
	}
	b.WriteString(" failed")
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Detail != "" {
		fmt.Fprintf(&b, ": %s", e.Detail)
	} else if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *RegistryError) Unwrap() error { return e.Err }

// SoftCheckError collects metadata problems found before packaging.
type SoftCheckError struct {
	Problems map[string][]string
}

func (e *SoftCheckError) Error() string {
	names := make([]string, 0, len(e.Problems))
	for name := range e.Problems {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	fmt.Fprintf(&b, "soft checks failed for %d packages:", len(names))
	for _, name := range names {
		fmt.Fprintf(&b, "\n  %s:", name)
		for _, p := range e.Problems[name] {
			fmt.Fprintf(&b, "\n    - %s", p)
		}
	}
	return b.String()
}

// Exit codes per error class.
const (
	ExitGeneric      = 1
	ExitConfig       = 2
	ExitGraph        = 3
	ExitManifest     = 4
	ExitVerification = 5
	ExitDrift        = 6
	ExitRegistry     = 7
)

// ExitCode maps an error to the process exit code of its class.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var (
		cfg   *ConfigError
		graph *GraphError
		mio   *ManifestIOError
		drift *DriftError
		vf    *VerificationFailure
		soft  *SoftCheckError
		reg   *RegistryError
	)
	switch {
	case errors.As(err, &cfg):
		return ExitConfig
	case errors.As(err, &graph):
		return ExitGraph
	case errors.As(err, &mio):
		return ExitManifest
	case errors.As(err, &drift):
		return ExitDrift
	case errors.As(err, &vf), errors.As(err, &soft):
		return ExitVerification
	case errors.As(err, &reg):
		return ExitRegistry
	}
	return ExitGeneric
}
