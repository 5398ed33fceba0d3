package markdown

import (
	"regexp"
	"strings"
)

// Alignment is the column alignment carried by a delimiter row.
type Alignment int

// Column alignments.
const (
	AlignNone Alignment = iota
	AlignLeft
	AlignCenter
	AlignRight
)

// maxSpan mirrors the HTML limit on colspan and keeps malformed input bounded.
const maxSpan = 1000

// Cell is one source cell; spans of 0 or 1 mean no merge.
type Cell struct {
	Text    string
	ColSpan int
	RowSpan int
}

// Table is structured cell data. The first row is rendered as the header.
type Table struct {
	Rows  [][]Cell
	Align []Alignment
}

// Grid expands merged cells by copying their text into every covered
// position and pads short rows, so every returned row has the same length.
// Row spans never extend past the last source row.
func (t Table) Grid() [][]string {
	grid := make([][]string, len(t.Rows))
	filled := make([][]bool, len(t.Rows))
	place := func(r, c int, text string) {
		for len(grid[r]) <= c {
			grid[r] = append(grid[r], "")
			filled[r] = append(filled[r], false)
		}
		if !filled[r][c] {
			grid[r][c] = text
			filled[r][c] = true
		}
	}
	for r, row := range t.Rows {
		c := 0
		for _, cell := range row {
			for c < len(filled[r]) && filled[r][c] {
				c++
			}
			colSpan := clampSpan(cell.ColSpan)
			rowSpan := clampSpan(cell.RowSpan)
			for dr := 0; dr < rowSpan && r+dr < len(t.Rows); dr++ {
				for dc := 0; dc < colSpan; dc++ {
					place(r+dr, c+dc, cell.Text)
				}
			}
			c += colSpan
		}
	}
	width := 0
	for _, row := range grid {
		width = max(width, len(row))
	}
	for r := range grid {
		for len(grid[r]) < width {
			grid[r] = append(grid[r], "")
		}
	}
	return grid
}

func clampSpan(n int) int {
	if n < 1 {
		return 1
	}
	return min(n, maxSpan)
}

// RenderTable emits a GitHub flavored pipe table. Empty tables render as "".
func RenderTable(t Table) string {
	grid := t.Grid()
	if len(grid) == 0 || len(grid[0]) == 0 {
		return ""
	}
	width := len(grid[0])
	var b strings.Builder
	writeRow(&b, grid[0])
	b.WriteString("|")
	for i := 0; i < width; i++ {
		align := AlignNone
		if i < len(t.Align) {
			align = t.Align[i]
		}
		b.WriteString(" " + delimiterCell(align) + " |")
	}
	b.WriteString("\n")
	for _, row := range grid[1:] {
		writeRow(&b, row)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func writeRow(b *strings.Builder, cells []string) {
	b.WriteString("|")
	for _, cell := range cells {
		b.WriteString(" ")
		b.WriteString(escapeCell(cell))
		b.WriteString(" |")
	}
	b.WriteString("\n")
}

func delimiterCell(a Alignment) string {
	switch a {
	case AlignLeft:
		return ":---"
	case AlignCenter:
		return ":---:"
	case AlignRight:
		return "---:"
	default:
		return "---"
	}
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// escapeCell flattens a cell onto one line and escapes bare pipes. Already
// escaped pipes are left alone so re-rendering is stable.
func escapeCell(text string) string {
	text = strings.TrimSpace(whitespaceRun.ReplaceAllString(text, " "))
	var b strings.Builder
	escaped := false
	for _, r := range text {
		if r == '|' && !escaped {
			b.WriteString(`\|`)
			continue
		}
		escaped = r == '\\' && !escaped
		b.WriteRune(r)
	}
	return b.String()
}

// splitRow breaks a pipe table line into trimmed cells, honouring \| escapes.
func splitRow(line string) []string {
	s := strings.TrimSpace(line)
	s = strings.TrimPrefix(s, "|")
	if strings.HasSuffix(s, "|") && !strings.HasSuffix(s, `\|`) {
		s = s[:len(s)-1]
	}
	var (
		cells   []string
		cur     strings.Builder
		escaped bool
	)
	for _, r := range s {
		if r == '|' && !escaped {
			cells = append(cells, strings.TrimSpace(cur.String()))
			cur.Reset()
			continue
		}
		escaped = r == '\\' && !escaped
		cur.WriteRune(r)
	}
	return append(cells, strings.TrimSpace(cur.String()))
}

var delimiterPattern = regexp.MustCompile(`^:?-+:?$`)

// parseDelimiter returns the alignments of a delimiter row, or false when the
// line is not one.
func parseDelimiter(line string) ([]Alignment, bool) {
	if !strings.HasPrefix(strings.TrimSpace(line), "|") {
		return nil, false
	}
	cells := splitRow(line)
	aligns := make([]Alignment, len(cells))
	for i, cell := range cells {
		if !delimiterPattern.MatchString(cell) {
			return nil, false
		}
		left := strings.HasPrefix(cell, ":")
		right := strings.HasSuffix(cell, ":") && len(cell) > 1
		switch {
		case left && right:
			aligns[i] = AlignCenter
		case left:
			aligns[i] = AlignLeft
		case right:
			aligns[i] = AlignRight
		}
	}
	return aligns, true
}

// parsePipeTable rebuilds a Table from header, delimiter and body lines.
func parsePipeTable(lines []string) Table {
	aligns, _ := parseDelimiter(lines[1])
	t := Table{Align: aligns}
	for i, line := range lines {
		if i == 1 {
			continue
		}
		cells := splitRow(line)
		row := make([]Cell, len(cells))
		for j, text := range cells {
			row[j] = Cell{Text: text}
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}
