// File: internal/toolchain/toolchain.go
// Brief: Compile collaborator contract shared by verification and independence.

package toolchain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/example/dragons/internal/errdefs"
)

// Mode is what a compile run produces.
type Mode string

const (
	ModeCheck Mode = "check"
	ModeBuild Mode = "build"
	ModeTest  Mode = "test"
)

// ParseMode accepts check, build or test.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeCheck, ModeBuild, ModeTest:
		return m, nil
	}
	return "", errdefs.Configf("unknown compile mode %q (expected check, build or test)", s)
}

// Context is where a package is compiled.
type Context string

const (
	// InPlace compiles name@version inside the original workspace.
	InPlace Context = "inplace"
	// Ephemeral compiles the unpacked package archive as a standalone workspace.
	Ephemeral Context = "ephemeral"
)

// ParseContext accepts inplace (also in-place, in_place) or ephemeral.
func ParseContext(s string) (Context, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "inplace", "in-place", "in_place", "":
		return InPlace, nil
	case "ephemeral":
		return Ephemeral, nil
	}
	return "", errdefs.Configf("unknown context %q (expected inplace or ephemeral)", s)
}

// CompileRequest describes one compile run. Features is the exact feature
// set; default features are never added implicitly.
type CompileRequest struct {
	Name    string
	Version string
	// Manifest is the manifest compiled against: the workspace root for
	// InPlace, the unpacked package manifest for Ephemeral.
	Manifest  string
	Dir       string
	Context   Context
	Mode      Mode
	Features  []string
	OutputDir string
}

// Spec is the explicit `name@version` package reference.
func (r CompileRequest) Spec() string { return r.Name + "@" + r.Version }

func (r CompileRequest) String() string {
	return fmt.Sprintf("%s %s/%s [%s]", r.Spec(), r.Context, r.Mode, strings.Join(r.Features, ","))
}

// CompileResult carries the toolchain output of a run.
type CompileResult struct {
	Args     []string
	Output   []byte
	Duration time.Duration
}

// Toolchain compiles packages. A compile failure is returned as an error
// together with the result holding the diagnostics.
type Toolchain interface {
	Compile(ctx context.Context, req CompileRequest) (CompileResult, error)
}

// CommandError is a toolchain process that exited unsuccessfully.
type CommandError struct {
	Args     []string
	ExitCode int
	TimedOut bool
	Err      error
}

func (e *CommandError) Error() string {
	cmd := strings.Join(e.Args, " ")
	if e.TimedOut {
		return fmt.Sprintf("%s: timed out", cmd)
	}
	if e.ExitCode > 0 {
		return fmt.Sprintf("%s: exit status %d", cmd, e.ExitCode)
	}
	return fmt.Sprintf("%s: %v", cmd, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }
