// Package report renders the offline queue as a spreadsheet for dispatch.
package report

import (
	"fmt"
	"io"
	"time"

	"fleetsync/internal/models"

	"github.com/xuri/excelize/v2"
)

const SheetName = "Pending"

var headers = []string{"Local ID", "Trip ID", "Status", "Created At", "Retry Count", "Exhausted", "Last Error"}

// WritePendingReport writes items as an .xlsx workbook to w. Rows whose
// retries are exhausted are highlighted.
func WritePendingReport(w io.Writer, items []models.PendingSubmission, maxRetries int) error {
	f := excelize.NewFile()
	defer f.Close()

	if _, err := f.NewSheet(SheetName); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	_ = f.DeleteSheet("Sheet1")
	if index, err := f.GetSheetIndex(SheetName); err == nil {
		f.SetActiveSheet(index)
	}

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	exhaustedStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#F8CBAD"}, Pattern: 1},
	})

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(SheetName, cell, h)
		_ = f.SetCellStyle(SheetName, cell, cell, headerStyle)
	}

	for i, item := range items {
		row := i + 2
		lastError := ""
		if item.LastError != nil {
			lastError = *item.LastError
		}
		exhausted := item.Exhausted(maxRetries)

		values := []any{
			item.LocalID,
			item.Payload.TripID,
			string(item.Payload.Request.Status),
			item.CreatedAt.UTC().Format(time.RFC3339),
			item.RetryCount,
			yesNo(exhausted),
			lastError,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(SheetName, cell, v)
		}

		if exhausted {
			first, _ := excelize.CoordinatesToCellName(1, row)
			last, _ := excelize.CoordinatesToCellName(len(headers), row)
			_ = f.SetCellStyle(SheetName, first, last, exhaustedStyle)
		}
	}

	_ = f.SetColWidth(SheetName, "A", "A", 44)
	_ = f.SetColWidth(SheetName, "B", "D", 22)
	_ = f.SetColWidth(SheetName, "G", "G", 50)

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
