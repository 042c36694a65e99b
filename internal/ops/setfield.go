// File: internal/ops/setfield.go
// Brief: Set an arbitrary manifest field on selected members.

package ops

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/example/dragons/internal/errdefs"
	"github.com/example/dragons/internal/tomledit"
	"github.com/example/dragons/internal/workspace"
)

// FormatFieldValue renders a command-line value as TOML: booleans and
// integers keep their type, everything else becomes a string.
func FormatFieldValue(value string) string {
	if value == "true" || value == "false" {
		return value
	}
	if i, err := strconv.ParseInt(value, 10, 64); err == nil {
		return strconv.FormatInt(i, 10)
	}
	return tomledit.FormatString(value)
}

// SetField sets `[table] name = value` on every member pred selects,
// creating the table when it is missing. Package names are changed through
// Rename only.
func SetField(ws *workspace.Workspace, pred func(*workspace.Package) bool, table, name, value string, opts Options) ([]string, error) {
	table = strings.TrimSpace(table)
	if table == "" {
		table = "package"
	}
	if table == "package" && name == "name" {
		return nil, errdefs.Configf("use rename to change a package name")
	}
	if strings.TrimSpace(name) == "" {
		return nil, errdefs.Configf("field name must not be empty")
	}
	path := strings.Split(table, ".")
	raw := FormatFieldValue(value)
	rep := opts.reporter()

	var paths []string
	owners := map[string]string{}
	for _, p := range ws.Members() {
		if pred(p) {
			paths = append(paths, p.ManifestPath)
			owners[p.ManifestPath] = p.Name
		}
	}
	return opts.writer().EditEach(paths, func(manifest string, doc *tomledit.Document) error {
		rep.Status("Setting", fmt.Sprintf("%s: %s.%s = %s", owners[manifest], table, name, raw))
		t := doc.Table(path...)
		if t == nil {
			return doc.AppendTable(path, tomledit.FormatKey(name)+" = "+raw+"\n")
		}
		return doc.SetRaw(t, name, raw)
	})
}
