// File: internal/mutate/write.go
// Brief: Read-edit-validate-write cycle for manifests.

package mutate

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-logr/logr"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/example/dragons/internal/errdefs"
	"github.com/example/dragons/internal/tomledit"
)

// EditFunc edits one parsed manifest in memory.
type EditFunc func(path string, doc *tomledit.Document) error

// Writer applies edits to manifests on disk. Files are written one at a time;
// a failure part-way leaves earlier files rewritten.
type Writer struct {
	// DryRun prints a unified diff to Diff instead of writing.
	DryRun bool
	Diff   io.Writer
	Log    logr.Logger
}

// Edit reads path, runs fn and writes the result back when it differs from
// the original bytes. It reports whether the file changed.
func (w Writer) Edit(path string, fn EditFunc) (bool, error) {
	before, err := os.ReadFile(path)
	if err != nil {
		return false, &errdefs.ManifestIOError{Path: path, Err: err}
	}
	doc, err := tomledit.Parse(before)
	if err != nil {
		return false, &errdefs.ManifestIOError{Path: path, Err: err}
	}
	if err := fn(path, doc); err != nil {
		var mio *errdefs.ManifestIOError
		if errors.As(err, &mio) {
			return false, err
		}
		return false, errors.Wrapf(err, "edit %s", path)
	}
	after := doc.Bytes()
	if string(after) == string(before) {
		return false, nil
	}
	if err := Validate(after); err != nil {
		return false, &errdefs.ManifestIOError{Path: path, Err: err}
	}
	if w.DryRun {
		return true, w.printDiff(path, before, after)
	}
	if err := writeAtomic(path, after); err != nil {
		return false, &errdefs.ManifestIOError{Path: path, Err: err}
	}
	w.Log.V(1).Info("manifest written", "path", path, "bytes", len(after))
	return true, nil
}

// EditEach runs Edit for every path in order and returns the changed paths.
func (w Writer) EditEach(paths []string, fn EditFunc) ([]string, error) {
	var changed []string
	for _, p := range paths {
		ok, err := w.Edit(p, fn)
		if err != nil {
			return changed, err
		}
		if ok {
			changed = append(changed, p)
		}
	}
	return changed, nil
}

// Validate checks that data is a well-formed TOML document.
func Validate(data []byte) error {
	var v map[string]any
	if err := toml.Unmarshal(data, &v); err != nil {
		return errors.Wrap(err, "edited manifest is not valid TOML")
	}
	return nil
}

func (w Writer) printDiff(path string, before, after []byte) error {
	if w.Diff == nil {
		return nil
	}
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(before)),
		B:        difflib.SplitLines(string(after)),
		FromFile: path,
		ToFile:   path + " (edited)",
		Context:  2,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(w.Diff, text)
	return err
}

func writeAtomic(path string, data []byte) error {
	mode := os.FileMode(0o644)
	if fi, err := os.Stat(path); err == nil {
		mode = fi.Mode().Perm()
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
