package reports

import "context"

// Table is the assembled tabular output of a report: ordered columns and one
// or more row groups. Ungrouped reports produce a single group with an empty
// key.
type Table struct {
	Title   string   `json:"title"`
	Columns []string `json:"columns"`
	Groups  []Group  `json:"groups"`
}

// Group is a run of rows sharing a group-by value.
type Group struct {
	Key  string     `json:"key,omitempty"`
	Rows [][]string `json:"rows"`
}

// RowCount returns the total number of data rows across all groups.
func (t *Table) RowCount() int {
	n := 0
	for _, g := range t.Groups {
		n += len(g.Rows)
	}
	return n
}

// Datasource queries scoped rows for a report type. Implementations must
// never return rows outside the requested scope.
type Datasource interface {
	Query(ctx context.Context, scopeID string, cfg Config) ([]map[string]string, error)
}
