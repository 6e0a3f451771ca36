package ui

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"
)

// Table renders aligned columns with a colored header
type Table struct {
	writer  io.Writer
	headers []string
	rows    []tableRow
	noColor bool
}

type tableRow struct {
	cells []string
	color *color.Color
}

// TableOptions configures table behavior
type TableOptions struct {
	NoColor bool
}

// NewTable creates a new table with the given headers
func NewTable(w io.Writer, headers []string, opts *TableOptions) *Table {
	t := &Table{writer: w, headers: headers}
	if opts != nil {
		t.noColor = opts.NoColor
	}
	return t
}

// AddRow adds a plain row
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, tableRow{cells: cells})
}

// AddColoredRow adds a row printed entirely in c
func (t *Table) AddColoredRow(c *color.Color, cells ...string) {
	t.rows = append(t.rows, tableRow{cells: cells, color: c})
}

// Len returns the number of rows added
func (t *Table) Len() int {
	return len(t.rows)
}

// Render writes the table. Cells beyond the header count are dropped.
func (t *Table) Render() {
	if len(t.headers) == 0 {
		return
	}

	widths := make([]int, len(t.headers))
	for i, header := range t.headers {
		widths[i] = width(header)
	}
	for _, row := range t.rows {
		for i, cell := range row.cells {
			if i < len(widths) && width(cell) > widths[i] {
				widths[i] = width(cell)
			}
		}
	}

	bold := t.style(color.Bold, color.FgCyan)
	t.line(bold, t.headers, widths)

	gray := t.style(color.FgHiBlack)
	sep := make([]string, len(widths))
	for i, w := range widths {
		sep[i] = strings.Repeat("─", w)
	}
	t.line(gray, sep, widths)

	for _, row := range t.rows {
		c := row.color
		if c == nil || t.noColor {
			c = t.style()
		}
		t.line(c, row.cells, widths)
	}
}

func (t *Table) line(c *color.Color, cells []string, widths []int) {
	n := len(cells)
	if n > len(widths) {
		n = len(widths)
	}
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		if i == n-1 {
			parts[i] = cells[i]
			continue
		}
		parts[i] = padRight(cells[i], widths[i])
	}
	c.Fprintln(t.writer, strings.Join(parts, "  "))
}

func (t *Table) style(attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if t.noColor {
		c.DisableColor()
	}
	return c
}

func width(s string) int {
	return utf8.RuneCountInString(s)
}

// padRight pads s with spaces to width display columns
func padRight(s string, w int) string {
	if width(s) >= w {
		return s
	}
	return s + strings.Repeat(" ", w-width(s))
}

// KeyValueTable renders aligned "key: value" lines
type KeyValueTable struct {
	writer  io.Writer
	rows    [][2]string
	noColor bool
}

// NewKeyValueTable creates a new key-value table
func NewKeyValueTable(w io.Writer, noColor bool) *KeyValueTable {
	return &KeyValueTable{writer: w, noColor: noColor}
}

// AddRow adds a key-value pair to the table
func (t *KeyValueTable) AddRow(key, value string) {
	t.rows = append(t.rows, [2]string{key, value})
}

// Render renders the key-value table
func (t *KeyValueTable) Render() {
	keyWidth := 0
	for _, row := range t.rows {
		if width(row[0]) > keyWidth {
			keyWidth = width(row[0])
		}
	}

	cyan := color.New(color.FgCyan, color.Bold)
	if t.noColor {
		cyan.DisableColor()
	}
	for _, row := range t.rows {
		cyan.Fprint(t.writer, padRight(row[0]+":", keyWidth+1))
		fmt.Fprintf(t.writer, " %s\n", row[1])
	}
}

// Header renders a title underlined to its own width
func Header(w io.Writer, title string, noColor bool) {
	bold := color.New(color.Bold, color.FgCyan)
	gray := color.New(color.FgHiBlack)
	if noColor {
		bold.DisableColor()
		gray.DisableColor()
	}
	bold.Fprintln(w, title)
	gray.Fprintln(w, strings.Repeat("─", width(title)))
}
