// File: internal/vcs/git.go
// Brief: Git helpers for change-based selection.

package vcs

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// DiffProvider lists files changed since a reference.
type DiffProvider interface {
	// ChangedFiles returns absolute paths of files that differ between ref and HEAD.
	ChangedFiles(ctx context.Context, ref string) ([]string, error)
}

// Git shells out to the git binary inside Dir.
type Git struct {
	Dir string
	Bin string
}

func (g Git) bin() string {
	if g.Bin != "" {
		return g.Bin
	}
	return "git"
}

// TopLevel returns the repository root containing Dir.
func (g Git) TopLevel(ctx context.Context) (string, error) {
	out, err := g.output(ctx, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", err
	}
	return filepath.Clean(strings.TrimSpace(out)), nil
}

// ChangedFiles compares the committed tree of ref with HEAD.
func (g Git) ChangedFiles(ctx context.Context, ref string) ([]string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, nil
	}
	top, err := g.TopLevel(ctx)
	if err != nil {
		return nil, err
	}
	out, err := g.output(ctx, "diff", "--name-only", "--no-renames", ref, "HEAD", "--")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		files = append(files, filepath.Join(top, filepath.FromSlash(line)))
	}
	return files, nil
}

func (g Git) output(ctx context.Context, args ...string) (string, error) {
	full := append([]string{"-C", g.Dir}, args...)
	cmd := exec.CommandContext(ctx, g.bin(), full...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), msg)
		}
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return stdout.String(), nil
}

// Static is a DiffProvider returning a fixed list, used when the changed
// files are already known.
type Static []string

func (s Static) ChangedFiles(context.Context, string) ([]string, error) {
	return append([]string(nil), s...), nil
}
