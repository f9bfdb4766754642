package export

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/campusops/batchline/internal/domain/reports"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type excelWriter struct{}

// Write renders the table as an xlsx workbook with a single sheet. Group
// keys render as bold banner rows spanning the first column.
func (excelWriter) Write(table reports.Table) ([]byte, string, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	if table.Title != "" {
		if err := f.SetSheetName(sheet, sanitizeSheetName(table.Title)); err == nil {
			sheet = sanitizeSheetName(table.Title)
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, "", fmt.Errorf("creating xlsx style: %w", err)
	}

	rowNum := 1
	if err := setRow(f, sheet, rowNum, table.Columns); err != nil {
		return nil, "", err
	}
	if err := styleRow(f, sheet, rowNum, len(table.Columns), bold); err != nil {
		return nil, "", err
	}
	rowNum++

	for _, group := range table.Groups {
		if group.Key != "" {
			if err := setRow(f, sheet, rowNum, []string{group.Key}); err != nil {
				return nil, "", err
			}
			if err := styleRow(f, sheet, rowNum, 1, bold); err != nil {
				return nil, "", err
			}
			rowNum++
		}
		for _, row := range group.Rows {
			if err := setRow(f, sheet, rowNum, row); err != nil {
				return nil, "", err
			}
			rowNum++
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, "", fmt.Errorf("serializing xlsx workbook: %w", err)
	}
	return buf.Bytes(), xlsxContentType, nil
}

func setRow(f *excelize.File, sheet string, rowNum int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		return fmt.Errorf("computing xlsx cell: %w", err)
	}
	row := make([]any, len(values))
	for i, v := range values {
		row[i] = v
	}
	if err := f.SetSheetRow(sheet, cell, &row); err != nil {
		return fmt.Errorf("writing xlsx row: %w", err)
	}
	return nil
}

func styleRow(f *excelize.File, sheet string, rowNum, width, style int) error {
	start, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		return fmt.Errorf("computing xlsx cell: %w", err)
	}
	end, err := excelize.CoordinatesToCellName(width, rowNum)
	if err != nil {
		return fmt.Errorf("computing xlsx cell: %w", err)
	}
	if err := f.SetCellStyle(sheet, start, end, style); err != nil {
		return fmt.Errorf("styling xlsx row: %w", err)
	}
	return nil
}

// sanitizeSheetName trims the title to Excel's 31-character sheet name limit
// and strips characters Excel forbids.
func sanitizeSheetName(title string) string {
	out := make([]rune, 0, len(title))
	for _, r := range title {
		switch r {
		case ':', '\\', '/', '?', '*', '[', ']':
			continue
		}
		out = append(out, r)
		if len(out) == 31 {
			break
		}
	}
	if len(out) == 0 {
		return "Report"
	}
	return string(out)
}
