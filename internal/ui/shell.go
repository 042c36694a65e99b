// File: internal/ui/shell.go
// Brief: Status line reporter shared by every engine.

package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"golang.org/x/term"
)

// Reporter receives human-facing progress lines. Engines never write to
// stdout or stderr directly.
type Reporter interface {
	Status(verb, msg string)
	Warn(msg string)
	Error(msg string)
}

// Shell renders cargo-style status lines: a right-aligned coloured verb
// followed by the message.
type Shell struct {
	mu    sync.Mutex
	out   io.Writer
	quiet bool

	verb *color.Color
	warn *color.Color
	fail *color.Color
}

// ShellOptions tune a Shell.
type ShellOptions struct {
	// Color is one of auto, always, never.
	Color string
	Quiet bool
}

// NewShell returns a Shell writing to out.
func NewShell(out io.Writer, opts ShellOptions) *Shell {
	s := &Shell{
		out:   out,
		quiet: opts.Quiet,
		verb:  color.New(color.FgGreen, color.Bold),
		warn:  color.New(color.FgYellow, color.Bold),
		fail:  color.New(color.FgRed, color.Bold),
	}
	enabled := IsTerminal(out)
	switch strings.ToLower(strings.TrimSpace(opts.Color)) {
	case "always":
		enabled = true
	case "never":
		enabled = false
	}
	for _, c := range []*color.Color{s.verb, s.warn, s.fail} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return s
}

func (s *Shell) Status(verb, msg string) {
	if s == nil || s.quiet {
		return
	}
	s.print(s.verb, verb, msg)
}

func (s *Shell) Warn(msg string) {
	if s == nil {
		return
	}
	s.print(s.warn, "warning", msg)
}

func (s *Shell) Error(msg string) {
	if s == nil {
		return
	}
	s.print(s.fail, "error", msg)
}

func (s *Shell) print(c *color.Color, verb, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if verb == "warning" || verb == "error" {
		fmt.Fprintf(s.out, "%s: %s\n", c.Sprint(verb), msg)
		return
	}
	fmt.Fprintf(s.out, "%s %s\n", c.Sprint(fmt.Sprintf("%12s", verb)), msg)
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

type discard struct{}

func (discard) Status(string, string) {}
func (discard) Warn(string)           {}
func (discard) Error(string)          {}

// Discard drops every line.
func Discard() Reporter { return discard{} }

// Or returns r, or Discard when r is nil.
func Or(r Reporter) Reporter {
	if r == nil {
		return Discard()
	}
	return r
}
