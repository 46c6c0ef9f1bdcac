package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"financerag/internal/logger"
	"financerag/models"

	"github.com/xuri/excelize/v2"
)

const (
	ExportExcel = "xlsx"
	ExportJSON  = "json"

	exportPageSize = 100
	maxExportRows  = 50000
)

// HistoryExport is the JSON form of an export.
type HistoryExport struct {
	ExportDate time.Time            `json:"export_date"`
	Filter     ExportFilterInfo     `json:"filter"`
	Stats      *models.HistoryStats `json:"stats"`
	Items      []models.HistoryItem `json:"items"`
}

type ExportFilterInfo struct {
	CompanyID string `json:"company_id,omitempty"`
	Category  string `json:"category,omitempty"`
	Search    string `json:"search,omitempty"`
}

// ExportHistory writes every history item matching f to w in format and
// returns the number of items written.
func (h *HistoryService) ExportHistory(ctx context.Context, f models.HistoryFilter, format string, w io.Writer) (int, error) {
	items, err := h.collect(ctx, f)
	if err != nil {
		return 0, err
	}
	stats, err := h.Stats(ctx, f.CompanyID)
	if err != nil {
		return 0, err
	}
	data := &HistoryExport{
		ExportDate: time.Now().UTC(),
		Filter:     ExportFilterInfo{CompanyID: f.CompanyID, Category: f.Category, Search: f.Search},
		Stats:      stats,
		Items:      items,
	}

	switch format {
	case ExportJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return len(items), enc.Encode(data)
	case ExportExcel, "":
		return len(items), writeExcel(data, w)
	default:
		return 0, &models.ValidationError{Field: "format", Reason: "must be xlsx or json"}
	}
}

func (h *HistoryService) collect(ctx context.Context, f models.HistoryFilter) ([]models.HistoryItem, error) {
	f.Limit = exportPageSize
	var all []models.HistoryItem
	for page := 1; ; page++ {
		f.Page = page
		items, total, err := h.Search(ctx, f)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
		if len(items) < exportPageSize || int64(len(all)) >= total || len(all) >= maxExportRows {
			break
		}
	}
	return all, nil
}

// writeExcel writes a workbook with a History and a Summary sheet.
func writeExcel(data *HistoryExport, w io.Writer) error {
	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			logger.Error("Error closing Excel file", "error", err)
		}
	}()

	sheetName := "History"
	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}

	headers := []string{
		"ID", "Company", "Category", "Question", "Answer", "Sources",
		"Context Found", "Model", "Response Time (ms)", "Created At", "Source Origins",
	}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheetName, cell, header)
	}
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		last, _ := excelize.CoordinatesToCellName(len(headers), 1)
		f.SetCellStyle(sheetName, "A1", last, style)
	}

	for i, item := range data.Items {
		row := i + 2
		origins := make([]string, 0, len(item.Sources))
		for _, s := range item.Sources {
			origins = append(origins, s.Origin)
		}
		values := []interface{}{
			item.ID,
			item.CompanyName,
			item.Category,
			item.Question,
			item.Answer,
			item.SourcesCount,
			item.ContextFound,
			item.Model,
			item.ResponseTimeMS,
			item.CreatedAt.Format("2006-01-02 15:04:05"),
			strings.Join(origins, "\n"),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			f.SetCellValue(sheetName, cell, v)
		}
	}
	f.SetColWidth(sheetName, "A", "C", 15)
	f.SetColWidth(sheetName, "D", "E", 60)
	f.SetColWidth(sheetName, "F", "K", 18)

	summarySheetName := "Summary"
	if _, err := f.NewSheet(summarySheetName); err != nil {
		return fmt.Errorf("failed to create summary sheet: %w", err)
	}
	summaryData := [][]interface{}{
		{"Export Information", ""},
		{"Export Date", data.ExportDate.Format("2006-01-02 15:04:05")},
		{"Total Records", len(data.Items)},
		{"Company", data.Filter.CompanyID},
		{"Category", data.Filter.Category},
		{"Search", data.Filter.Search},
		{"", ""},
		{"Summary Statistics", ""},
		{"Total Queries", data.Stats.Total},
		{"Answered With Context", data.Stats.WithContext},
		{"Avg Response Time (ms)", data.Stats.AvgResponseTimeMS},
		{"", ""},
		{"Category", "Count"},
	}
	for _, c := range models.Categories {
		summaryData = append(summaryData, []interface{}{c, data.Stats.ByCategory[c]})
	}
	for i, row := range summaryData {
		for j, v := range row {
			cell, _ := excelize.CoordinatesToCellName(j+1, i+1)
			f.SetCellValue(summarySheetName, cell, v)
		}
	}
	f.SetColWidth(summarySheetName, "A", "A", 28)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write Excel file: %w", err)
	}
	return nil
}
