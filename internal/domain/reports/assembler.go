package reports

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Assemble shapes raw scoped rows into a Table per the configuration:
// equality filters first, then column projection, then grouping, then sort.
// It is pure; the datasource query and the artifact write happen around it.
func Assemble(cfg Config, rows []map[string]string) (*Table, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	filtered := rows[:0:0]
	for _, row := range rows {
		if matchesFilters(cfg.Filters, row) {
			filtered = append(filtered, row)
		}
	}

	table := &Table{
		Title:   cfg.ReportType,
		Columns: cfg.Columns,
	}

	if cfg.GroupBy == "" {
		group := Group{Rows: projectRows(cfg, filtered)}
		sortRows(cfg, group.Rows, columnIndex(cfg.Columns, cfg.SortBy))
		table.Groups = []Group{group}
		return table, nil
	}

	// Bucket rows by their group-by value, keeping group keys ordered.
	buckets := make(map[string][]map[string]string)
	var keys []string
	for _, row := range filtered {
		key := row[cfg.GroupBy]
		if _, ok := buckets[key]; !ok {
			keys = append(keys, key)
		}
		buckets[key] = append(buckets[key], row)
	}
	sort.Strings(keys)

	sortIdx := columnIndex(cfg.Columns, cfg.SortBy)
	for _, key := range keys {
		group := Group{Key: key, Rows: projectRows(cfg, buckets[key])}
		sortRows(cfg, group.Rows, sortIdx)
		table.Groups = append(table.Groups, group)
	}

	return table, nil
}

func matchesFilters(filters map[string]string, row map[string]string) bool {
	for col, want := range filters {
		if !strings.EqualFold(row[col], want) {
			return false
		}
	}
	return true
}

func projectRows(cfg Config, rows []map[string]string) [][]string {
	out := make([][]string, 0, len(rows))
	for _, row := range rows {
		projected := make([]string, len(cfg.Columns))
		for i, col := range cfg.Columns {
			projected[i] = row[col]
		}
		out = append(out, projected)
	}
	return out
}

func columnIndex(columns []string, name string) int {
	for i, col := range columns {
		if col == name {
			return i
		}
	}
	return -1
}

func sortRows(cfg Config, rows [][]string, idx int) {
	if idx < 0 {
		return
	}
	desc := cfg.SortOrder == SortDesc
	sort.SliceStable(rows, func(i, j int) bool {
		cmp := compareValues(rows[i][idx], rows[j][idx])
		if desc {
			return cmp > 0
		}
		return cmp < 0
	})
}

// compareValues orders numerically when both sides parse as numbers,
// lexicographically otherwise.
func compareValues(a, b string) int {
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	if errA == nil && errB == nil {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(a, b)
}

// GroupLabel formats a group's display heading.
func GroupLabel(cfg Config, g Group) string {
	if g.Key == "" {
		return ""
	}
	return fmt.Sprintf("%s: %s", cfg.GroupBy, g.Key)
}
