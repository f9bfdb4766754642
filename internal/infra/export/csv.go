package export

import (
	"bytes"
	"encoding/csv"
	"fmt"

	"github.com/campusops/batchline/internal/domain/reports"
)

type csvWriter struct{}

// Write renders the table as CSV. Grouped tables get one banner row per
// group ahead of its data rows; ungrouped tables are a plain header plus
// data rows.
func (csvWriter) Write(table reports.Table) ([]byte, string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(table.Columns); err != nil {
		return nil, "", fmt.Errorf("writing csv header: %w", err)
	}

	for _, group := range table.Groups {
		if group.Key != "" {
			banner := make([]string, len(table.Columns))
			banner[0] = group.Key
			if err := w.Write(banner); err != nil {
				return nil, "", fmt.Errorf("writing csv group row: %w", err)
			}
		}
		for _, row := range group.Rows {
			if err := w.Write(row); err != nil {
				return nil, "", fmt.Errorf("writing csv row: %w", err)
			}
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, "", fmt.Errorf("flushing csv: %w", err)
	}
	return buf.Bytes(), "text/csv", nil
}
