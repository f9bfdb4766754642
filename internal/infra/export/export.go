// Package export renders assembled report tables into downloadable file
// formats.
package export

import (
	"fmt"

	"github.com/campusops/batchline/internal/domain/reports"
)

// Writer renders a report table into one output format.
type Writer interface {
	// Write serializes the table, returning the file bytes and content type.
	Write(table reports.Table) ([]byte, string, error)
}

var writers = map[reports.ExportFormat]Writer{
	reports.FormatCSV:   csvWriter{},
	reports.FormatJSON:  jsonWriter{},
	reports.FormatExcel: excelWriter{},
	reports.FormatPDF:   pdfWriter{},
}

// For returns the writer for an export format.
func For(format reports.ExportFormat) (Writer, error) {
	w, ok := writers[format]
	if !ok {
		return nil, fmt.Errorf("%w: unknown export format %q", reports.ErrInvalidConfig, format)
	}
	return w, nil
}
