package cli

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"
)

// ansi matches the SGR sequences paint emits.
var ansi = regexp.MustCompile("\x1b\\[[0-9;]*m")

// Table renders column-aligned rows. Rows are buffered until Flush so
// column widths can be measured on visible text: colored status cells
// carry escape sequences that take no space on a terminal. Headers and a
// dash divider are written only when there is at least one row.
type Table struct {
	out     io.Writer
	headers []string
	rows    [][]string
	prefix  string
}

// NewTable creates a table on stdout with the given column headers.
func NewTable(headers ...string) *Table {
	return NewTableTo(os.Stdout, headers...)
}

// NewTableTo creates a table that writes to out.
func NewTableTo(out io.Writer, headers ...string) *Table {
	return &Table{out: out, headers: headers}
}

// WithPrefix sets a string prepended to each line (headers, divider, rows).
func (t *Table) WithPrefix(prefix string) *Table {
	t.prefix = prefix
	return t
}

// Row adds a row. Missing trailing cells render empty; extra cells are kept.
func (t *Table) Row(values ...string) {
	t.rows = append(t.rows, values)
}

// Flush writes the table and resets it. An empty table prints nothing.
func (t *Table) Flush() {
	if len(t.rows) == 0 {
		return
	}
	dividers := make([]string, len(t.headers))
	for i, h := range t.headers {
		dividers[i] = strings.Repeat("-", len(h))
	}
	all := append([][]string{t.headers, dividers}, t.rows...)

	var widths []int
	for _, row := range all {
		for i, cell := range row {
			if i == len(widths) {
				widths = append(widths, 0)
			}
			if w := visibleWidth(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var b strings.Builder
	for _, row := range all {
		b.Reset()
		b.WriteString(t.prefix)
		for i, cell := range row {
			b.WriteString(cell)
			if i < len(row)-1 {
				b.WriteString(strings.Repeat(" ", widths[i]-visibleWidth(cell)+2))
			}
		}
		fmt.Fprintln(t.out, strings.TrimRight(b.String(), " "))
	}
	t.rows = nil
}

func visibleWidth(s string) int {
	return utf8.RuneCountInString(ansi.ReplaceAllString(s, ""))
}
