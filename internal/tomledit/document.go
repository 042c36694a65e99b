// File: internal/tomledit/document.go
// Brief: Document navigation and byte-splice edits.

package tomledit

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Document is a parsed TOML file. Every edit splices the source and re-parses,
// so spans obtained before an edit are stale afterwards: look entries up again.
type Document struct {
	src    []byte
	tables []*Table
}

// Bytes returns a copy of the current source.
func (d *Document) Bytes() []byte { return append([]byte(nil), d.src...) }

func (d *Document) String() string { return string(d.src) }

// Text returns the source text covered by s.
func (d *Document) Text(s Span) string { return string(d.src[s.Start:s.End]) }

// Tables returns every table in document order; the first is the root table.
func (d *Document) Tables() []*Table { return d.tables }

// Root returns the implicit table holding key/values before the first header.
func (d *Document) Root() *Table { return d.tables[0] }

// Table returns the first `[path]` table, or the root table for an empty path.
func (d *Document) Table(path ...string) *Table {
	if len(path) == 0 {
		return d.Root()
	}
	for _, t := range d.tables[1:] {
		if !t.ArrayOfTables && equalPath(t.Path, path) {
			return t
		}
	}
	return nil
}

// Splice replaces the bytes in s with text and re-parses the document. On a
// parse failure the document is left unchanged.
func (d *Document) Splice(s Span, text string) error {
	if s.Start < 0 || s.End > len(d.src) || s.Start > s.End {
		return fmt.Errorf("splice %d..%d out of range", s.Start, s.End)
	}
	next := make([]byte, 0, len(d.src)-(s.End-s.Start)+len(text))
	next = append(next, d.src[:s.Start]...)
	next = append(next, text...)
	next = append(next, d.src[s.End:]...)
	tables, err := parseTables(next)
	if err != nil {
		return fmt.Errorf("edit produced invalid document: %w", err)
	}
	d.src, d.tables = next, tables
	return nil
}

// SetRaw sets key in t to an already formatted value, replacing the existing
// value in place or appending a new line after the last entry of the table.
func (d *Document) SetRaw(t *Table, key, raw string) error {
	return d.SetRawPath(t, []string{key}, raw)
}

// SetRawPath is SetRaw for a dotted key. A new dotted key is appended after
// the last entry sharing its first key part, so `dep.x` lines stay together.
func (d *Document) SetRawPath(t *Table, key []string, raw string) error {
	if len(key) == 0 {
		return fmt.Errorf("empty key")
	}
	if kv := t.Get(key...); kv != nil {
		return d.Splice(kv.Value.Span, raw)
	}
	parts := make([]string, len(key))
	for i, k := range key {
		parts[i] = FormatKey(k)
	}
	line := strings.Join(parts, ".") + " = " + raw + "\n"
	at := t.Body.Start
	if n := len(t.Entries); n > 0 {
		at = t.Entries[n-1].Line.End
	}
	if len(key) > 1 {
		for _, kv := range t.Entries {
			if len(kv.Key) > 1 && kv.Key[0] == key[0] {
				at = kv.Line.End
			}
		}
	}
	return d.Splice(Span{at, at}, d.lineBreakBefore(at)+line)
}

// SetString sets key in t to a basic string.
func (d *Document) SetString(t *Table, key, value string) error {
	return d.SetRaw(t, key, FormatString(value))
}

// SetBool sets key in t to a boolean.
func (d *Document) SetBool(t *Table, key string, value bool) error {
	return d.SetRaw(t, key, strconv.FormatBool(value))
}

// RemoveEntry deletes the whole line holding kv.
func (d *Document) RemoveEntry(kv *KeyValue) error {
	return d.Splice(kv.Line, "")
}

// MoveEntryFirst moves the line holding kv directly below the table header.
func (d *Document) MoveEntryFirst(t *Table, kv *KeyValue) error {
	if len(t.Entries) == 0 || t.Entries[0] == kv {
		return nil
	}
	line := d.Text(kv.Line)
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	start := t.Body.Start
	var b strings.Builder
	b.WriteString(line)
	b.Write(d.src[start:kv.Line.Start])
	b.Write(d.src[kv.Line.End:t.Body.End])
	return d.Splice(Span{start, t.Body.End}, b.String())
}

// MoveEntryBefore moves the line holding kv so it directly precedes the
// line holding before. kv must come after before in the document.
func (d *Document) MoveEntryBefore(kv, before *KeyValue) error {
	if kv == before || kv.Line.Start <= before.Line.Start {
		return nil
	}
	line := d.Text(kv.Line)
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	var b strings.Builder
	b.WriteString(line)
	b.Write(d.src[before.Line.Start:kv.Line.Start])
	return d.Splice(Span{before.Line.Start, kv.Line.End}, b.String())
}

// RemoveTable deletes a table header and its body.
func (d *Document) RemoveTable(t *Table) error {
	if t.IsRoot() {
		return fmt.Errorf("cannot remove the root table")
	}
	return d.Splice(Span{t.Header.Start, t.Body.End}, "")
}

// AppendTable adds `[path]` with the given body lines at the end of the document.
func (d *Document) AppendTable(path []string, body string) error {
	parts := make([]string, len(path))
	for i, p := range path {
		parts[i] = FormatKey(p)
	}
	var b strings.Builder
	if len(d.src) > 0 {
		if d.src[len(d.src)-1] != '\n' {
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("[" + strings.Join(parts, ".") + "]\n")
	b.WriteString(body)
	if body != "" && !strings.HasSuffix(body, "\n") {
		b.WriteString("\n")
	}
	end := len(d.src)
	return d.Splice(Span{end, end}, b.String())
}

// RemoveArrayItem deletes element i of an array value together with its
// separator. An element alone on its line takes the line with it.
func (d *Document) RemoveArrayItem(v *Value, i int) error {
	if v.Kind != KindArray || i < 0 || i >= len(v.Items) {
		return fmt.Errorf("array item %d out of range", i)
	}
	it := v.Items[i]
	if it.Comma >= 0 {
		end := it.Comma + 1
		for end < len(d.src) && (d.src[end] == ' ' || d.src[end] == '\t') {
			end++
		}
		start := it.Value.Span.Start
		ls := lineStart(d.src, start)
		if isBlank(d.src[ls:start]) && (end >= len(d.src) || d.src[end] == '\n' || d.src[end] == '\r') {
			start = ls
			if end < len(d.src) && d.src[end] == '\r' {
				end++
			}
			if end < len(d.src) && d.src[end] == '\n' {
				end++
			}
		}
		return d.Splice(Span{start, end}, "")
	}
	if i == 0 {
		return d.Splice(it.Value.Span, "")
	}
	prev := v.Items[i-1]
	return d.Splice(Span{prev.Value.Span.End, it.Value.Span.End}, "")
}

// Field is a key and an already formatted value of an inline table.
type Field struct {
	Key string
	Raw string
}

// InlineFields returns the fields of an inline table value in order.
func (d *Document) InlineFields(v *Value) []Field {
	out := make([]Field, 0, len(v.Fields))
	for _, kv := range v.Fields {
		parts := make([]string, len(kv.Key))
		for i, k := range kv.Key {
			parts[i] = FormatKey(k)
		}
		out = append(out, Field{Key: strings.Join(parts, "."), Raw: d.Text(kv.Value.Span)})
	}
	return out
}

// FormatInline renders fields as a single-line inline table.
func FormatInline(fields []Field) string {
	if len(fields) == 0 {
		return "{}"
	}
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = f.Key + " = " + f.Raw
	}
	return "{ " + strings.Join(parts, ", ") + " }"
}

var bareKey = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// FormatKey renders a single key part, quoting it when it is not a bare key.
func FormatKey(key string) string {
	if bareKey.MatchString(key) {
		return key
	}
	return FormatString(key)
}

// FormatString renders s as a TOML basic string.
func FormatString(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		case '\r':
			b.WriteString(`\r`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		default:
			if r < 0x20 || r == 0x7f || r == utf8.RuneError {
				fmt.Fprintf(&b, `\u%04X`, r)
				continue
			}
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

func (d *Document) lineBreakBefore(at int) string {
	if at > 0 && d.src[at-1] != '\n' {
		return "\n"
	}
	return ""
}

func lineStart(src []byte, pos int) int {
	for pos > 0 && src[pos-1] != '\n' {
		pos--
	}
	return pos
}

func isBlank(b []byte) bool {
	for _, c := range b {
		if c != ' ' && c != '\t' {
			return false
		}
	}
	return true
}
