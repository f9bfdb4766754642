// Package reports models on-demand report generation: the report
// configuration carried in a job payload and the pure assembly of scoped
// rows into a tabular result honoring column selection, filters, grouping,
// and sort.
package reports

import (
	"errors"
	"fmt"
)

// ExportFormat enumerates the supported artifact formats.
type ExportFormat string

const (
	FormatExcel ExportFormat = "excel"
	FormatCSV   ExportFormat = "csv"
	FormatPDF   ExportFormat = "pdf"
	FormatJSON  ExportFormat = "json"
)

// SortOrder controls row ordering within a report.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// ErrInvalidConfig indicates a report configuration that cannot be executed.
var ErrInvalidConfig = errors.New("invalid report config")

// Config is the payload of a GENERATE_REPORT job: which dataset to query and
// how to shape the output.
type Config struct {
	ReportType   string            `json:"reportType"`
	Columns      []string          `json:"columns"`
	Filters      map[string]string `json:"filters,omitempty"`
	GroupBy      string            `json:"groupBy,omitempty"`
	SortBy       string            `json:"sortBy,omitempty"`
	SortOrder    SortOrder         `json:"sortOrder,omitempty"`
	ExportFormat ExportFormat      `json:"exportFormat"`
}

// Validate checks the configuration is executable before a job is admitted.
func (c Config) Validate() error {
	if c.ReportType == "" {
		return fmt.Errorf("%w: report type is required", ErrInvalidConfig)
	}
	if len(c.Columns) == 0 {
		return fmt.Errorf("%w: at least one column is required", ErrInvalidConfig)
	}
	switch c.ExportFormat {
	case FormatExcel, FormatCSV, FormatPDF, FormatJSON:
	default:
		return fmt.Errorf("%w: unknown export format %q", ErrInvalidConfig, c.ExportFormat)
	}
	switch c.SortOrder {
	case "", SortAsc, SortDesc:
	default:
		return fmt.Errorf("%w: unknown sort order %q", ErrInvalidConfig, c.SortOrder)
	}
	if c.SortBy != "" && !c.hasColumn(c.SortBy) {
		return fmt.Errorf("%w: sort column %q is not selected", ErrInvalidConfig, c.SortBy)
	}
	if c.GroupBy != "" && !c.hasColumn(c.GroupBy) {
		return fmt.Errorf("%w: group column %q is not selected", ErrInvalidConfig, c.GroupBy)
	}
	return nil
}

func (c Config) hasColumn(name string) bool {
	for _, col := range c.Columns {
		if col == name {
			return true
		}
	}
	return false
}
