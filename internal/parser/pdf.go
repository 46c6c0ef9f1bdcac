package parser

import (
	"bytes"
	"fmt"
	"strings"

	"financerag/internal/logger"
	"financerag/models"

	"github.com/ledongthuc/pdf"
)

var pdfMagic = []byte("%PDF")

// ParsePDF extracts per-page text and tables from PDF bytes.
func ParsePDF(content []byte) (parsed *Parsed, err error) {
	if !bytes.HasPrefix(content, pdfMagic) {
		return nil, &models.ParseError{Kind: models.SourcePDF, Reason: "missing %PDF header"}
	}

	// the pdf reader panics on some malformed cross-reference tables
	defer func() {
		if r := recover(); r != nil {
			parsed = nil
			err = &models.ParseError{Kind: models.SourcePDF, Reason: "malformed pdf", Err: fmt.Errorf("%v", r)}
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, &models.ParseError{Kind: models.SourcePDF, Reason: "unreadable pdf", Err: err}
	}

	pages := reader.NumPage()
	texts := make([]string, 0, pages)
	var tables []models.Table

	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		fonts := make(map[string]*pdf.Font)
		text, err := page.GetPlainText(fonts)
		if err != nil {
			logger.Warn("failed to extract text from page", "page", i, "error", err)
			continue
		}
		if t := strings.TrimSpace(text); t != "" {
			texts = append(texts, t)
		}

		tables = append(tables, pageTables(page, text, i, len(tables))...)
	}

	full := strings.Join(texts, "\n\n")
	if strings.TrimSpace(full) == "" {
		return nil, &models.ParseError{Kind: models.SourcePDF, Reason: "no extractable text"}
	}

	return &Parsed{
		Text:      full,
		Tables:    tables,
		PageCount: pages,
		WordCount: countWords(full),
	}, nil
}

// pageTables prefers positioned rows and falls back to the page's plain text.
func pageTables(page pdf.Page, plain string, pageNum, start int) []models.Table {
	rows, err := page.GetTextByRow()
	if err == nil && len(rows) > 0 {
		lines := make([][]string, 0, len(rows))
		for _, row := range rows {
			runs := make([]textRun, 0, len(row.Content))
			for _, t := range row.Content {
				runs = append(runs, textRun{X: t.X, S: t.S})
			}
			if cells := rowCells(runs); len(cells) > 0 {
				lines = append(lines, cells)
			}
		}
		if tables := detectTables(lines, pageNum, start); len(tables) > 0 {
			return tables
		}
	}
	return tablesFromPlainText(plain, pageNum, start)
}
