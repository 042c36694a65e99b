// File: internal/mutate/entry.go
// Brief: Uniform handle over bare, inline, dotted and full-table dependency entries.

package mutate

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/example/dragons/internal/tomledit"
	"github.com/example/dragons/internal/workspace"
)

// Action is what a visitor did with an entry.
type Action int

const (
	Untouched Action = iota
	Mutated
	Remove
)

// EntryKind is the syntactic form of a dependency entry.
type EntryKind int

const (
	// Bare is `name = "1.0"`.
	Bare EntryKind = iota
	// Inline is `name = { version = "1.0" }`.
	Inline
	// Table is a `[dependencies.name]` section.
	Table
	// Dotted is `name.version = "1.0"` lines inside a dependency table.
	Dotted
)

func (k EntryKind) String() string {
	switch k {
	case Inline:
		return "inline"
	case Table:
		return "table"
	case Dotted:
		return "dotted"
	}
	return "bare"
}

// Entry is a handle on one dependency entry of a document. It locates its
// entry again on every call, so it stays valid across edits to the document.
type Entry struct {
	// Key is the entry key, the name the dependency is known by in code.
	Key string
	// Name is the package the entry resolves to.
	Name    string
	Section workspace.Section
	Target  string

	kind  EntryKind
	doc   *tomledit.Document
	table []string
	pos   int
}

// Kind returns the current syntactic form.
func (e *Entry) Kind() EntryKind { return e.kind }

// Alias returns the entry key when it differs from the resolved name.
func (e *Entry) Alias() string {
	if e.Key == e.Name {
		return ""
	}
	return e.Key
}

func (e *Entry) lookup() (*tomledit.Table, *tomledit.KeyValue, error) {
	t := e.doc.Table(e.table...)
	if t == nil {
		return nil, nil, errors.Errorf("dependency %s no longer present", e.Key)
	}
	switch e.kind {
	case Table:
		return t, nil, nil
	case Dotted:
		if dottedLines(t, e.Key) == nil {
			return nil, nil, errors.Errorf("dependency %s no longer present", e.Key)
		}
		return t, nil, nil
	}
	kv := t.Get(e.Key)
	if kv == nil {
		return nil, nil, errors.Errorf("dependency %s no longer present", e.Key)
	}
	return t, kv, nil
}

func (e *Entry) field(name string) *tomledit.KeyValue {
	t, kv, err := e.lookup()
	if err != nil {
		return nil
	}
	switch e.kind {
	case Bare:
		if name == "version" {
			return kv
		}
		return nil
	case Inline:
		return kv.Value.Field(name)
	case Dotted:
		return t.Get(e.Key, name)
	}
	return t.Get(name)
}

// dottedLines returns the `key.*` entries of t in document order.
func dottedLines(t *tomledit.Table, key string) []*tomledit.KeyValue {
	var out []*tomledit.KeyValue
	for _, kv := range t.Entries {
		if len(kv.Key) > 1 && kv.Key[0] == key {
			out = append(out, kv)
		}
	}
	return out
}

// Has reports whether the entry sets field.
func (e *Entry) Has(field string) bool { return e.field(field) != nil }

// Get returns a string field.
func (e *Entry) Get(field string) (string, bool) {
	kv := e.field(field)
	if kv == nil || kv.Value.Kind != tomledit.KindString {
		return "", false
	}
	return kv.Value.Str, true
}

// GetBool returns a boolean field.
func (e *Entry) GetBool(field string) (bool, bool) {
	kv := e.field(field)
	if kv == nil || kv.Value.Kind != tomledit.KindBool {
		return false, false
	}
	return kv.Value.Bool, true
}

// Strings returns an array-of-strings field.
func (e *Entry) Strings(field string) ([]string, bool) {
	kv := e.field(field)
	if kv == nil || kv.Value.Kind != tomledit.KindArray {
		return nil, false
	}
	out := make([]string, 0, len(kv.Value.Items))
	for _, it := range kv.Value.Items {
		if it.Value.Kind != tomledit.KindString {
			return nil, false
		}
		out = append(out, it.Value.Str)
	}
	return out, true
}

// SetString sets a string field, converting a bare entry to an inline table
// unless the field is its version.
func (e *Entry) SetString(field, value string) error {
	return e.setRaw(field, tomledit.FormatString(value))
}

// SetBool sets a boolean field.
func (e *Entry) SetBool(field string, value bool) error {
	return e.setRaw(field, strconv.FormatBool(value))
}

// SetStrings sets a field to an array of strings.
func (e *Entry) SetStrings(field string, values []string) error {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = tomledit.FormatString(v)
	}
	return e.setRaw(field, "["+strings.Join(parts, ", ")+"]")
}

func (e *Entry) setRaw(field, raw string) error {
	t, kv, err := e.lookup()
	if err != nil {
		return err
	}
	switch e.kind {
	case Bare:
		if field == "version" {
			return e.doc.Splice(kv.Value.Span, raw)
		}
		fields := []tomledit.Field{{Key: "version", Raw: e.doc.Text(kv.Value.Span)}, {Key: tomledit.FormatKey(field), Raw: raw}}
		if err := e.doc.Splice(kv.Value.Span, tomledit.FormatInline(fields)); err != nil {
			return err
		}
		e.kind = Inline
		return nil
	case Inline:
		if f := kv.Value.Field(field); f != nil {
			return e.doc.Splice(f.Value.Span, raw)
		}
		fields := append(e.doc.InlineFields(kv.Value), tomledit.Field{Key: tomledit.FormatKey(field), Raw: raw})
		return e.doc.Splice(kv.Value.Span, tomledit.FormatInline(fields))
	case Dotted:
		return e.doc.SetRawPath(t, []string{e.Key, field}, raw)
	}
	return e.doc.SetRaw(t, field, raw)
}

// Remove deletes field and reports whether it was present. Removing the
// version of a bare entry leaves an empty inline table.
func (e *Entry) Remove(field string) (bool, error) {
	t, kv, err := e.lookup()
	if err != nil {
		return false, err
	}
	switch e.kind {
	case Bare:
		if field != "version" {
			return false, nil
		}
		if err := e.doc.Splice(kv.Value.Span, "{}"); err != nil {
			return false, err
		}
		e.kind = Inline
		return true, nil
	case Inline:
		if kv.Value.Field(field) == nil {
			return false, nil
		}
		var kept []tomledit.Field
		for i, f := range e.doc.InlineFields(kv.Value) {
			if k := kv.Value.Fields[i].Key; len(k) == 1 && k[0] == field {
				continue
			}
			kept = append(kept, f)
		}
		return true, e.doc.Splice(kv.Value.Span, tomledit.FormatInline(kept))
	case Dotted:
		f := t.Get(e.Key, field)
		if f == nil {
			return false, nil
		}
		lines := dottedLines(t, e.Key)
		if len(lines) == 1 {
			// The last field gives way to `key = {}` so the dependency stays declared.
			if err := e.doc.Splice(f.Line, tomledit.FormatKey(e.Key)+" = {}\n"); err != nil {
				return false, err
			}
			e.kind = Inline
			return true, nil
		}
		return true, e.doc.RemoveEntry(f)
	}
	f := t.Get(field)
	if f == nil {
		return false, nil
	}
	return true, e.doc.RemoveEntry(f)
}

// MoveFirst reorders the entry so field is its first key.
func (e *Entry) MoveFirst(field string) error {
	t, kv, err := e.lookup()
	if err != nil {
		return err
	}
	switch e.kind {
	case Bare:
		return nil
	case Inline:
		fields := e.doc.InlineFields(kv.Value)
		idx := -1
		for i := range kv.Value.Fields {
			if k := kv.Value.Fields[i].Key; len(k) == 1 && k[0] == field {
				idx = i
			}
		}
		if idx <= 0 {
			return nil
		}
		reordered := append([]tomledit.Field{fields[idx]}, append(fields[:idx:idx], fields[idx+1:]...)...)
		return e.doc.Splice(kv.Value.Span, tomledit.FormatInline(reordered))
	case Dotted:
		f := t.Get(e.Key, field)
		if f == nil {
			return nil
		}
		return e.doc.MoveEntryBefore(f, dottedLines(t, e.Key)[0])
	}
	f := t.Get(field)
	if f == nil {
		return nil
	}
	return e.doc.MoveEntryFirst(t, f)
}

func (e *Entry) remove() error {
	t, kv, err := e.lookup()
	if err != nil {
		return err
	}
	switch e.kind {
	case Table:
		return e.doc.RemoveTable(t)
	case Dotted:
		for {
			lines := dottedLines(e.doc.Table(e.table...), e.Key)
			if len(lines) == 0 {
				return nil
			}
			if err := e.doc.RemoveEntry(lines[0]); err != nil {
				return err
			}
		}
	}
	return e.doc.RemoveEntry(kv)
}
