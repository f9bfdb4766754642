package export

import (
	"encoding/json"
	"fmt"

	"github.com/campusops/batchline/internal/domain/reports"
)

type jsonWriter struct{}

// Write renders the table as pretty-printed JSON, preserving group
// structure: grouped tables serialize as {group: rows} objects, ungrouped
// tables as a flat array of column-keyed rows.
func (jsonWriter) Write(table reports.Table) ([]byte, string, error) {
	var doc any
	if len(table.Groups) == 1 && table.Groups[0].Key == "" {
		doc = rowsToObjects(table.Columns, table.Groups[0].Rows)
	} else {
		grouped := make(map[string][]map[string]string, len(table.Groups))
		for _, g := range table.Groups {
			grouped[g.Key] = rowsToObjects(table.Columns, g.Rows)
		}
		doc = grouped
	}

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("marshaling json report: %w", err)
	}
	return out, "application/json", nil
}

func rowsToObjects(columns []string, rows [][]string) []map[string]string {
	objects := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		obj := make(map[string]string, len(columns))
		for i, col := range columns {
			if i < len(row) {
				obj[col] = row[i]
			}
		}
		objects = append(objects, obj)
	}
	return objects
}
