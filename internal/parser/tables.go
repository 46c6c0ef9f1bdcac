package parser

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"financerag/models"
)

const (
	// approximate glyph width in points; positioned rows carry no widths
	approxCharWidth = 4.5
	// horizontal gap, in points, that separates two cells
	cellGap       = 12.0
	maxTitleRunes = 80
)

var columnSplit = regexp.MustCompile(`\t+|\s{2,}`)

type textRun struct {
	X float64
	S string
}

// rowCells merges left-to-right text runs into cells, starting a new cell
// wherever the gap to the previous run is wide.
func rowCells(runs []textRun) []string {
	var (
		cells []string
		cur   strings.Builder
		end   float64
	)
	for i, r := range runs {
		if i > 0 {
			gap := r.X - end
			switch {
			case gap > cellGap:
				cells = append(cells, cur.String())
				cur.Reset()
			case gap > approxCharWidth*0.8:
				cur.WriteByte(' ')
			}
		}
		cur.WriteString(r.S)
		end = r.X + float64(utf8.RuneCountInString(r.S))*approxCharWidth
	}
	cells = append(cells, cur.String())

	out := cells[:0]
	for _, c := range cells {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

// splitColumns splits a plain text line on tabs or runs of two or more spaces.
func splitColumns(line string) []string {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	return columnSplit.Split(line, -1)
}

// tablesFromPlainText detects tables in text whose columns are aligned with
// whitespace.
func tablesFromPlainText(text string, page, start int) []models.Table {
	var lines [][]string
	for _, l := range strings.Split(text, "\n") {
		if cells := splitColumns(l); len(cells) > 0 {
			lines = append(lines, cells)
		}
	}
	return detectTables(lines, page, start)
}

// detectTables groups consecutive lines with the same number of cells (at
// least two cells over at least two lines) into tables. The first line is the
// header. start is the number of tables already found in the document.
func detectTables(lines [][]string, page, start int) []models.Table {
	var tables []models.Table
	for i := 0; i < len(lines); {
		n := len(lines[i])
		if n < 2 {
			i++
			continue
		}
		j := i + 1
		for j < len(lines) && len(lines[j]) == n {
			j++
		}
		if j-i >= 2 {
			idx := start + len(tables)
			title := tableTitle(lines, i)
			if title == "" {
				title = fmt.Sprintf("Table %d (page %d)", idx+1, page)
			}
			tables = append(tables, models.Table{
				Page:   page,
				Index:  idx,
				Title:  title,
				Header: lines[i],
				Rows:   lines[i+1 : j],
			})
		}
		i = j
	}
	return tables
}

// tableTitle returns the nearest short single-cell line above row i.
func tableTitle(lines [][]string, i int) string {
	for k := i - 1; k >= 0 && k >= i-2; k-- {
		if len(lines[k]) != 1 {
			return ""
		}
		if s := strings.TrimSpace(lines[k][0]); s != "" && utf8.RuneCountInString(s) <= maxTitleRunes {
			return s
		}
	}
	return ""
}
