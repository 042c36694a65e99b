// File: internal/tomledit/parse.go
// Brief: Lossless TOML parser recording byte spans for tables, keys and values.

// Package tomledit edits TOML documents in place. A Document keeps the source
// bytes untouched and records where every table, key and value lives, so edits
// are byte splices that leave comments, ordering and whitespace of everything
// else exactly as written.
package tomledit

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Span is a half-open byte range into the document source.
type Span struct {
	Start int
	End   int
}

// Kind classifies a value.
type Kind int

const (
	KindString Kind = iota
	KindBool
	KindScalar // integers, floats and date-times, kept verbatim
	KindArray
	KindInlineTable
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindScalar:
		return "scalar"
	case KindArray:
		return "array"
	case KindInlineTable:
		return "inline-table"
	}
	return "unknown"
}

// Value is a parsed value with its exact source span.
type Value struct {
	Kind Kind
	Span Span
	Str  string
	Bool bool

	Items  []*Item
	Fields []*KeyValue
}

// Item is one array element. Comma is the offset of the separator that
// follows it, or -1.
type Item struct {
	Value *Value
	Comma int
}

// KeyValue is a `key = value` pair. For table bodies Line covers the whole
// source line including indentation, trailing comment and newline; for inline
// table fields it covers the key through the end of the value.
type KeyValue struct {
	Key     []string
	KeySpan Span
	Value   *Value
	Line    Span
}

// Name returns the dotted key.
func (kv *KeyValue) Name() string { return strings.Join(kv.Key, ".") }

// Table is the root table or a `[header]` / `[[header]]` section. Body runs
// from the end of the header line to the start of the next header line.
type Table struct {
	Path          []string
	ArrayOfTables bool
	Header        Span
	Body          Span
	Entries       []*KeyValue
}

// IsRoot reports whether t holds the key/values before the first header.
func (t *Table) IsRoot() bool { return len(t.Path) == 0 && !t.ArrayOfTables && t.Header == (Span{}) }

// Get returns the entry with exactly the given dotted key.
func (t *Table) Get(key ...string) *KeyValue {
	for _, kv := range t.Entries {
		if equalPath(kv.Key, key) {
			return kv
		}
	}
	return nil
}

// Field returns the inline table field with a single-part key.
func (v *Value) Field(key string) *KeyValue {
	if v == nil || v.Kind != KindInlineTable {
		return nil
	}
	for _, kv := range v.Fields {
		if len(kv.Key) == 1 && kv.Key[0] == key {
			return kv
		}
	}
	return nil
}

// ParseError locates a syntax error.
type ParseError struct {
	Line int
	Col  int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("toml: line %d, column %d: %s", e.Line, e.Col, e.Msg)
}

type parser struct {
	src []byte
	pos int
}

// Parse builds a Document over src. The slice is copied.
func Parse(src []byte) (*Document, error) {
	buf := append([]byte(nil), src...)
	tables, err := parseTables(buf)
	if err != nil {
		return nil, err
	}
	return &Document{src: buf, tables: tables}, nil
}

func parseTables(src []byte) ([]*Table, error) {
	p := &parser{src: src}
	cur := &Table{}
	tables := []*Table{cur}
	for p.pos < len(p.src) {
		lineStart := p.pos
		p.skipSpaces()
		if p.eof() {
			break
		}
		switch c := p.src[p.pos]; {
		case c == '\n':
			p.pos++
			continue
		case c == '\r' && p.peek(1) == '\n':
			p.pos += 2
			continue
		case c == '#':
			p.skipComment()
			if err := p.endOfLine(); err != nil {
				return nil, err
			}
			continue
		case c == '[':
			cur.Body.End = lineStart
			t, err := p.parseHeader(lineStart)
			if err != nil {
				return nil, err
			}
			tables = append(tables, t)
			cur = t
		default:
			kv, err := p.parseKeyValue()
			if err != nil {
				return nil, err
			}
			p.skipSpaces()
			p.skipComment()
			if err := p.endOfLine(); err != nil {
				return nil, err
			}
			kv.Line = Span{lineStart, p.pos}
			cur.Entries = append(cur.Entries, kv)
		}
	}
	cur.Body.End = len(p.src)
	return tables, nil
}

func (p *parser) parseHeader(lineStart int) (*Table, error) {
	t := &Table{}
	p.pos++
	if p.peek(0) == '[' {
		t.ArrayOfTables = true
		p.pos++
	}
	p.skipSpaces()
	path, _, err := p.parseKey()
	if err != nil {
		return nil, err
	}
	t.Path = path
	p.skipSpaces()
	if !p.consume(']') {
		return nil, p.errorf("expected ']' to close table header")
	}
	if t.ArrayOfTables && !p.consume(']') {
		return nil, p.errorf("expected ']]' to close array of tables header")
	}
	p.skipSpaces()
	p.skipComment()
	if err := p.endOfLine(); err != nil {
		return nil, err
	}
	t.Header = Span{lineStart, p.pos}
	t.Body = Span{p.pos, p.pos}
	return t, nil
}

func (p *parser) parseKeyValue() (*KeyValue, error) {
	key, keySpan, err := p.parseKey()
	if err != nil {
		return nil, err
	}
	p.skipSpaces()
	if !p.consume('=') {
		return nil, p.errorf("expected '=' after key %q", strings.Join(key, "."))
	}
	p.skipSpaces()
	v, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	return &KeyValue{Key: key, KeySpan: keySpan, Value: v}, nil
}

func (p *parser) parseKey() ([]string, Span, error) {
	start := p.pos
	var parts []string
	for {
		part, err := p.parseSimpleKey()
		if err != nil {
			return nil, Span{}, err
		}
		parts = append(parts, part)
		end := p.pos
		p.skipSpaces()
		if p.peek(0) != '.' {
			p.pos = end
			return parts, Span{start, end}, nil
		}
		p.pos++
		p.skipSpaces()
	}
}

func (p *parser) parseSimpleKey() (string, error) {
	switch p.peek(0) {
	case '"':
		return p.parseBasicString()
	case '\'':
		return p.parseLiteralString()
	}
	start := p.pos
	for !p.eof() && isBareKeyChar(p.src[p.pos]) {
		p.pos++
	}
	if p.pos == start {
		return "", p.errorf("expected a key")
	}
	return string(p.src[start:p.pos]), nil
}

func (p *parser) parseValue() (*Value, error) {
	start := p.pos
	if p.eof() {
		return nil, p.errorf("expected a value")
	}
	v := &Value{}
	var err error
	switch c := p.src[p.pos]; c {
	case '"':
		v.Kind = KindString
		if p.hasPrefix(`"""`) {
			v.Str, err = p.parseMultilineBasic()
		} else {
			v.Str, err = p.parseBasicString()
		}
	case '\'':
		v.Kind = KindString
		if p.hasPrefix(`'''`) {
			v.Str, err = p.parseMultilineLiteral()
		} else {
			v.Str, err = p.parseLiteralString()
		}
	case '[':
		v.Kind = KindArray
		err = p.parseArray(v)
	case '{':
		v.Kind = KindInlineTable
		err = p.parseInlineTable(v)
	default:
		if p.keyword("true") {
			v.Kind, v.Bool = KindBool, true
			break
		}
		if p.keyword("false") {
			v.Kind = KindBool
			break
		}
		v.Kind = KindScalar
		err = p.parseScalar()
	}
	if err != nil {
		return nil, err
	}
	v.Span = Span{start, p.pos}
	return v, nil
}

func (p *parser) parseArray(v *Value) error {
	p.pos++
	for {
		if err := p.skipBlank(); err != nil {
			return err
		}
		if p.consume(']') {
			return nil
		}
		item, err := p.parseValue()
		if err != nil {
			return err
		}
		it := &Item{Value: item, Comma: -1}
		v.Items = append(v.Items, it)
		if err := p.skipBlank(); err != nil {
			return err
		}
		if p.peek(0) == ',' {
			it.Comma = p.pos
			p.pos++
			continue
		}
		if p.consume(']') {
			return nil
		}
		return p.errorf("expected ',' or ']' in array")
	}
}

func (p *parser) parseInlineTable(v *Value) error {
	p.pos++
	for {
		if err := p.skipBlank(); err != nil {
			return err
		}
		if p.consume('}') {
			return nil
		}
		fieldStart := p.pos
		kv, err := p.parseKeyValue()
		if err != nil {
			return err
		}
		kv.Line = Span{fieldStart, p.pos}
		v.Fields = append(v.Fields, kv)
		if err := p.skipBlank(); err != nil {
			return err
		}
		if p.consume(',') {
			continue
		}
		if p.consume('}') {
			return nil
		}
		return p.errorf("expected ',' or '}' in inline table")
	}
}

func (p *parser) parseScalar() error {
	start := p.pos
	for !p.eof() {
		c := p.src[p.pos]
		if c == ',' || c == ']' || c == '}' || c == '#' || c == '\n' || c == '\r' {
			break
		}
		if c == ' ' || c == '\t' {
			// date and time separated by a space
			if isDigit(p.peek(1)) && p.pos > start && isDigit(p.src[p.pos-1]) && bytes.Count(p.src[start:p.pos], []byte("-")) >= 2 {
				p.pos++
				continue
			}
			break
		}
		p.pos++
	}
	if p.pos == start {
		return p.errorf("expected a value")
	}
	return nil
}

func (p *parser) parseBasicString() (string, error) {
	p.pos++
	var b strings.Builder
	for {
		if p.eof() {
			return "", p.errorf("unterminated string")
		}
		c := p.src[p.pos]
		switch c {
		case '"':
			p.pos++
			return b.String(), nil
		case '\n', '\r':
			return "", p.errorf("newline in single-line string")
		case '\\':
			if err := p.parseEscape(&b); err != nil {
				return "", err
			}
		default:
			b.WriteByte(c)
			p.pos++
		}
	}
}

func (p *parser) parseMultilineBasic() (string, error) {
	p.pos += 3
	p.skipNewline()
	var b strings.Builder
	for {
		if p.eof() {
			return "", p.errorf("unterminated multi-line string")
		}
		if p.hasPrefix(`"""`) {
			n := p.countRun('"')
			if n > 5 {
				return "", p.errorf("too many quotes closing multi-line string")
			}
			b.WriteString(strings.Repeat(`"`, n-3))
			p.pos += n
			return b.String(), nil
		}
		c := p.src[p.pos]
		if c == '\\' {
			save := p.pos
			p.pos++
			p.skipSpaces()
			if p.peek(0) == '\n' || (p.peek(0) == '\r' && p.peek(1) == '\n') {
				for !p.eof() && isBlankByte(p.src[p.pos]) {
					p.pos++
				}
				continue
			}
			p.pos = save
			if err := p.parseEscape(&b); err != nil {
				return "", err
			}
			continue
		}
		b.WriteByte(c)
		p.pos++
	}
}

func (p *parser) parseLiteralString() (string, error) {
	p.pos++
	start := p.pos
	for {
		if p.eof() {
			return "", p.errorf("unterminated literal string")
		}
		switch p.src[p.pos] {
		case '\'':
			s := string(p.src[start:p.pos])
			p.pos++
			return s, nil
		case '\n', '\r':
			return "", p.errorf("newline in single-line literal string")
		}
		p.pos++
	}
}

func (p *parser) parseMultilineLiteral() (string, error) {
	p.pos += 3
	p.skipNewline()
	start := p.pos
	for {
		if p.eof() {
			return "", p.errorf("unterminated multi-line literal string")
		}
		if p.hasPrefix(`'''`) {
			n := p.countRun('\'')
			if n > 5 {
				return "", p.errorf("too many quotes closing multi-line literal string")
			}
			s := string(p.src[start:p.pos]) + strings.Repeat("'", n-3)
			p.pos += n
			return s, nil
		}
		p.pos++
	}
}

func (p *parser) parseEscape(b *strings.Builder) error {
	p.pos++
	if p.eof() {
		return p.errorf("unterminated escape sequence")
	}
	c := p.src[p.pos]
	p.pos++
	switch c {
	case 'b':
		b.WriteByte('\b')
	case 't':
		b.WriteByte('\t')
	case 'n':
		b.WriteByte('\n')
	case 'f':
		b.WriteByte('\f')
	case 'r':
		b.WriteByte('\r')
	case 'e':
		b.WriteByte(0x1b)
	case '"':
		b.WriteByte('"')
	case '\\':
		b.WriteByte('\\')
	case 'x', 'u', 'U':
		n := map[byte]int{'x': 2, 'u': 4, 'U': 8}[c]
		if p.pos+n > len(p.src) {
			return p.errorf("short unicode escape")
		}
		code, err := strconv.ParseUint(string(p.src[p.pos:p.pos+n]), 16, 32)
		if err != nil || !utf8.ValidRune(rune(code)) {
			return p.errorf("invalid unicode escape %q", p.src[p.pos-2:p.pos+n])
		}
		b.WriteRune(rune(code))
		p.pos += n
	default:
		return p.errorf("invalid escape sequence \\%c", c)
	}
	return nil
}

// skipBlank skips whitespace, newlines and comments inside arrays and inline tables.
func (p *parser) skipBlank() error {
	for !p.eof() {
		switch c := p.src[p.pos]; {
		case isBlankByte(c):
			p.pos++
		case c == '#':
			p.skipComment()
		default:
			return nil
		}
	}
	return p.errorf("unexpected end of document")
}

func (p *parser) skipSpaces() {
	for !p.eof() && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t') {
		p.pos++
	}
}

func (p *parser) skipComment() {
	if p.peek(0) != '#' {
		return
	}
	for !p.eof() && p.src[p.pos] != '\n' {
		p.pos++
	}
	if p.pos > 0 && p.src[p.pos-1] == '\r' {
		p.pos--
	}
}

func (p *parser) skipNewline() {
	if p.peek(0) == '\n' {
		p.pos++
	} else if p.peek(0) == '\r' && p.peek(1) == '\n' {
		p.pos += 2
	}
}

func (p *parser) endOfLine() error {
	if p.eof() {
		return nil
	}
	if p.peek(0) == '\n' || (p.peek(0) == '\r' && p.peek(1) == '\n') {
		p.skipNewline()
		return nil
	}
	return p.errorf("expected end of line, found %q", p.src[p.pos])
}

func (p *parser) keyword(word string) bool {
	if !p.hasPrefix(word) {
		return false
	}
	next := p.peek(len(word))
	if isBareKeyChar(next) || next == '.' || next == ':' {
		return false
	}
	p.pos += len(word)
	return true
}

func (p *parser) countRun(c byte) int {
	n := 0
	for p.pos+n < len(p.src) && p.src[p.pos+n] == c {
		n++
	}
	return n
}

func (p *parser) consume(c byte) bool {
	if p.peek(0) == c {
		p.pos++
		return true
	}
	return false
}

func (p *parser) hasPrefix(s string) bool { return bytes.HasPrefix(p.src[p.pos:], []byte(s)) }

func (p *parser) peek(off int) byte {
	if p.pos+off >= len(p.src) || p.pos+off < 0 {
		return 0
	}
	return p.src[p.pos+off]
}

func (p *parser) eof() bool { return p.pos >= len(p.src) }

func (p *parser) errorf(format string, args ...any) error {
	line := 1 + bytes.Count(p.src[:min(p.pos, len(p.src))], []byte("\n"))
	col := p.pos - bytes.LastIndexByte(p.src[:min(p.pos, len(p.src))], '\n')
	return &ParseError{Line: line, Col: col, Msg: fmt.Sprintf(format, args...)}
}

func isBareKeyChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || isDigit(c) || c == '_' || c == '-'
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isBlankByte(c byte) bool { return c == ' ' || c == '\t' || c == '\n' || c == '\r' }

func equalPath(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
