// File: internal/mutate/walk.go
// Brief: Dependency walker with removal and feature cleanup.

package mutate

import (
	"bytes"
	"sort"
	"strings"

	"github.com/example/dragons/internal/tomledit"
	"github.com/example/dragons/internal/workspace"
)

// Visitor inspects or edits one dependency entry.
type Visitor func(e *Entry) (Action, error)

// WalkOptions select which tables are walked.
type WalkOptions struct {
	// Sections limits the walk; empty means every section.
	Sections []workspace.Section
	// SkipTargets leaves `[target.<cfg>.*]` tables alone.
	SkipTargets bool
	// Workspace also walks the root [workspace.dependencies] table, reported
	// as the Regular section.
	Workspace bool
}

func (o WalkOptions) wants(s workspace.Section) bool {
	if len(o.Sections) == 0 {
		return true
	}
	for _, want := range o.Sections {
		if want == s {
			return true
		}
	}
	return false
}

// Entries lists the dependency entries of doc in document order.
func Entries(doc *tomledit.Document, opts WalkOptions) []*Entry {
	var out []*Entry
	collect := func(prefix []string, section workspace.Section, target string) {
		if t := doc.Table(prefix...); t != nil {
			dotted := map[string]bool{}
			for _, kv := range t.Entries {
				if len(kv.Key) > 1 {
					key := kv.Key[0]
					if dotted[key] {
						continue
					}
					dotted[key] = true
					e := &Entry{Key: key, Name: key, Section: section, Target: target, kind: Dotted, doc: doc, table: prefix, pos: kv.Line.Start}
					if f := t.Get(key, "package"); f != nil && f.Value.Kind == tomledit.KindString {
						e.Name = f.Value.Str
					}
					out = append(out, e)
					continue
				}
				e := &Entry{Key: kv.Key[0], Name: kv.Key[0], Section: section, Target: target, doc: doc, table: prefix, pos: kv.Line.Start}
				switch kv.Value.Kind {
				case tomledit.KindString:
					e.kind = Bare
				case tomledit.KindInlineTable:
					e.kind = Inline
					if f := kv.Value.Field("package"); f != nil && f.Value.Kind == tomledit.KindString {
						e.Name = f.Value.Str
					}
				default:
					continue
				}
				out = append(out, e)
			}
		}
		for _, t := range doc.Tables() {
			if t.ArrayOfTables || len(t.Path) != len(prefix)+1 || !hasPrefix(t.Path, prefix) {
				continue
			}
			key := t.Path[len(prefix)]
			e := &Entry{Key: key, Name: key, Section: section, Target: target, kind: Table, doc: doc, table: append([]string(nil), t.Path...), pos: t.Header.Start}
			if f := t.Get("package"); f != nil && f.Value.Kind == tomledit.KindString {
				e.Name = f.Value.Str
			}
			out = append(out, e)
		}
	}

	for _, s := range workspace.Sections {
		if opts.wants(s) {
			collect([]string{s.Key()}, s, "")
		}
	}
	if !opts.SkipTargets {
		seen := map[string]bool{}
		for _, t := range doc.Tables() {
			if len(t.Path) < 3 || t.Path[0] != "target" {
				continue
			}
			s, ok := workspace.SectionForKey(t.Path[2])
			if !ok || !opts.wants(s) {
				continue
			}
			id := t.Path[1] + "\x00" + t.Path[2]
			if seen[id] {
				continue
			}
			seen[id] = true
			collect(append([]string(nil), t.Path[:3]...), s, t.Path[1])
		}
	}
	if opts.Workspace && opts.wants(workspace.Regular) {
		collect([]string{"workspace", "dependencies"}, workspace.Regular, "")
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].pos < out[j].pos })
	return out
}

// EachDependency calls visit for every dependency entry of doc. Entries the
// visitor asks to remove are deleted, and feature arrays stop referring to
// them once no other entry of the document declares the same key. It
// reports whether the document changed.
func EachDependency(doc *tomledit.Document, opts WalkOptions, visit Visitor) (bool, error) {
	before := doc.Bytes()
	var removed []string
	for _, e := range Entries(doc, opts) {
		action, err := visit(e)
		if err != nil {
			return false, err
		}
		if action == Remove {
			if err := e.remove(); err != nil {
				return false, err
			}
			removed = append(removed, e.Key)
		}
	}
	if len(removed) > 0 {
		remaining := map[string]bool{}
		for _, e := range Entries(doc, WalkOptions{Workspace: false}) {
			remaining[e.Key] = true
		}
		var gone []string
		for _, k := range removed {
			if !remaining[k] {
				gone = append(gone, k)
			}
		}
		if err := RemoveFeatureReferences(doc, gone); err != nil {
			return false, err
		}
	}
	return !bytes.Equal(before, doc.Bytes()), nil
}

// RemoveFeatureReferences deletes from every [features] array the elements
// naming one of keys: `key`, `key/feature`, `key?/feature` and `dep:key`.
func RemoveFeatureReferences(doc *tomledit.Document, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	refers := func(s string) bool {
		for _, k := range keys {
			if s == k || s == "dep:"+k || strings.HasPrefix(s, k+"/") || strings.HasPrefix(s, k+"?/") {
				return true
			}
		}
		return false
	}
	t := doc.Table("features")
	if t == nil {
		return nil
	}
	var names [][]string
	for _, kv := range t.Entries {
		names = append(names, kv.Key)
	}
	for _, name := range names {
		for {
			kv := doc.Table("features").Get(name...)
			if kv == nil || kv.Value.Kind != tomledit.KindArray {
				break
			}
			idx := -1
			for i := len(kv.Value.Items) - 1; i >= 0; i-- {
				it := kv.Value.Items[i].Value
				if it.Kind == tomledit.KindString && refers(it.Str) {
					idx = i
					break
				}
			}
			if idx < 0 {
				break
			}
			if err := doc.RemoveArrayItem(kv.Value, idx); err != nil {
				return err
			}
		}
	}
	return nil
}

func hasPrefix(path, prefix []string) bool {
	if len(path) < len(prefix) {
		return false
	}
	for i := range prefix {
		if path[i] != prefix[i] {
			return false
		}
	}
	return true
}
