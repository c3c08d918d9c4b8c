// xlsx.go - Spreadsheet export of batch results

package export

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/bosocmputer/identity_ocr_gemini/internal/extractor"
	"github.com/bosocmputer/identity_ocr_gemini/internal/identity"
	"github.com/xuri/excelize/v2"
)

// Sheet names
const (
	ResultsSheet = "Results"
	SummarySheet = "Summary"
)

// ResultHeaders returns the results sheet header row.
func ResultHeaders() []string {
	headers := []string{"#", "Status", "File"}
	headers = append(headers, identity.FieldNames...)
	return append(headers, "Provider", "Error Class", "Error")
}

// WriteBatchXLSX renders one row per input plus a summary sheet.
func WriteBatchXLSX(w io.Writer, res extractor.BatchResult, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", ResultsSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(SummarySheet); err != nil {
		return fmt.Errorf("add summary sheet: %w", err)
	}

	headers := ResultHeaders()
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(ResultsSheet, cell, h)
	}

	for i, item := range res.Results {
		row := i + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(ResultsSheet, cell, v)
		}

		write(1, item.Index+1)
		write(2, status(item))
		write(3, item.FileName)

		col := 4
		values := map[string]any{}
		provider := ""
		if item.Record != nil {
			values = item.Record.Fields.ToMap()
			provider = item.Record.Provenance.Provider
		}
		for _, name := range identity.FieldNames {
			if v, ok := values[name]; ok && v != nil {
				write(col, v)
			}
			col++
		}
		write(col, provider)
		write(col+1, item.ErrorClass)
		write(col+2, item.Error)
	}

	lastCol, _ := excelize.ColumnNumberToName(len(headers))
	_ = f.SetColWidth(ResultsSheet, "C", "C", 28)
	_ = f.SetColWidth(ResultsSheet, "D", lastCol, 18)
	_ = f.SetPanes(ResultsSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	summary := [][2]any{
		{"Status", res.Status},
		{"Total", res.Summary.Total},
		{"Successful", res.Summary.Successful},
		{"Failed", res.Summary.Failed},
		{"Total Time (s)", res.Summary.TotalTime.Seconds()},
		{"Average Time (s)", res.Summary.AverageTime.Seconds()},
	}
	for i, kv := range summary {
		_ = f.SetCellValue(SummarySheet, fmt.Sprintf("A%d", i+1), kv[0])
		_ = f.SetCellValue(SummarySheet, fmt.Sprintf("B%d", i+1), kv[1])
	}
	_ = f.SetColWidth(SummarySheet, "A", "A", 20)

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	logger.Info("export.xlsx.done", "rows", len(res.Results), "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func status(item extractor.ItemResult) string {
	if item.Success {
		return "success"
	}
	return "failed"
}
