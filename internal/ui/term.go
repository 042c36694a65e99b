// File: internal/ui/term.go
// Brief: Terminal width detection and column-aligned tables.

package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"
	"golang.org/x/term"
)

func TerminalWidth(w io.Writer) (int, bool) {
	type fdProvider interface {
		Fd() uintptr
	}
	if v, ok := w.(fdProvider); ok {
		if cols, _, err := term.GetSize(int(v.Fd())); err == nil {
			return cols, true
		}
	}
	return 0, false
}

// PrintTable writes rows with columns padded to their widest cell. Cells in
// the last column are truncated to the terminal width when one is known.
func PrintTable(w io.Writer, header []string, rows [][]string) {
	cols := len(header)
	widths := make([]int, cols)
	for i, h := range header {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range rows {
		for i := 0; i < cols && i < len(row); i++ {
			if n := runewidth.StringWidth(row[i]); n > widths[i] {
				widths[i] = n
			}
		}
	}
	maxWidth, limited := TerminalWidth(w)
	line := func(cells []string) {
		var b strings.Builder
		for i := 0; i < cols; i++ {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			if i == cols-1 {
				if limited {
					if room := maxWidth - runewidth.StringWidth(b.String()); room > 3 {
						cell = runewidth.Truncate(cell, room, "...")
					}
				}
				b.WriteString(cell)
				break
			}
			b.WriteString(runewidth.FillRight(cell, widths[i]))
			b.WriteString("  ")
		}
		fmt.Fprintln(w, strings.TrimRight(b.String(), " "))
	}
	line(header)
	for _, row := range rows {
		line(row)
	}
}
