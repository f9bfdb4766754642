package export

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"

	"github.com/campusops/batchline/internal/domain/reports"
)

type pdfWriter struct{}

// Write renders the table as a landscape A4 PDF with a repeated header row
// and a shaded banner per group.
func (pdfWriter) Write(table reports.Table) ([]byte, string, error) {
	pdf := fpdf.New("L", "mm", "A4", "")
	pdf.SetAutoPageBreak(true, 15)
	pdf.AddPage()

	if table.Title != "" {
		pdf.SetFont("Helvetica", "B", 14)
		pdf.CellFormat(0, 10, table.Title, "", 1, "L", false, 0, "")
		pdf.Ln(2)
	}

	pageWidth, _ := pdf.GetPageSize()
	left, _, right, _ := pdf.GetMargins()
	usable := pageWidth - left - right
	colWidth := usable / float64(len(table.Columns))

	writeHeader := func() {
		pdf.SetFont("Helvetica", "B", 9)
		pdf.SetFillColor(230, 230, 230)
		for _, col := range table.Columns {
			pdf.CellFormat(colWidth, 7, col, "1", 0, "L", true, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Helvetica", "", 9)
	}
	writeHeader()

	for _, group := range table.Groups {
		if group.Key != "" {
			pdf.SetFont("Helvetica", "B", 9)
			pdf.SetFillColor(245, 245, 245)
			pdf.CellFormat(usable, 7, group.Key, "1", 1, "L", true, 0, "")
			pdf.SetFont("Helvetica", "", 9)
		}
		for _, row := range group.Rows {
			for i := 0; i < len(table.Columns); i++ {
				v := ""
				if i < len(row) {
					v = row[i]
				}
				pdf.CellFormat(colWidth, 6, v, "1", 0, "L", false, 0, "")
			}
			pdf.Ln(-1)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, "", fmt.Errorf("serializing pdf report: %w", err)
	}
	return buf.Bytes(), "application/pdf", nil
}
