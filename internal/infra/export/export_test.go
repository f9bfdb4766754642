package export

import (
	"encoding/csv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusops/batchline/internal/domain/reports"
)

func sampleTable() reports.Table {
	return reports.Table{
		Title:   "Students by Department",
		Columns: []string{"student_number", "last_name"},
		Groups: []reports.Group{
			{Key: "Engineering", Rows: [][]string{
				{"S-100", "Adams"},
				{"S-101", "Baker"},
			}},
			{Key: "Humanities", Rows: [][]string{
				{"S-200", "Clark"},
			}},
		},
	}
}

func TestForUnknownFormat(t *testing.T) {
	t.Parallel()

	_, err := For(reports.ExportFormat("xml"))
	assert.ErrorIs(t, err, reports.ErrInvalidConfig)
}

func TestCSVWriterGroupBanners(t *testing.T) {
	t.Parallel()

	w, err := For(reports.FormatCSV)
	require.NoError(t, err)

	data, contentType, err := w.Write(sampleTable())
	require.NoError(t, err)
	assert.Equal(t, "text/csv", contentType)

	rows, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 6)
	assert.Equal(t, []string{"student_number", "last_name"}, rows[0])
	assert.Equal(t, "Engineering", rows[1][0])
	assert.Equal(t, []string{"S-100", "Adams"}, rows[2])
	assert.Equal(t, "Humanities", rows[4][0])
	assert.Equal(t, []string{"S-200", "Clark"}, rows[5])
}

func TestCSVWriterUngrouped(t *testing.T) {
	t.Parallel()

	table := reports.Table{
		Columns: []string{"a", "b"},
		Groups:  []reports.Group{{Rows: [][]string{{"1", "2"}}}},
	}

	data, _, err := csvWriter{}.Write(table)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(data))
}

func TestJSONWriterGrouped(t *testing.T) {
	t.Parallel()

	data, contentType, err := jsonWriter{}.Write(sampleTable())
	require.NoError(t, err)
	assert.Equal(t, "application/json", contentType)
	assert.JSONEq(t, `{
		"Engineering": [
			{"student_number": "S-100", "last_name": "Adams"},
			{"student_number": "S-101", "last_name": "Baker"}
		],
		"Humanities": [
			{"student_number": "S-200", "last_name": "Clark"}
		]
	}`, string(data))
}

func TestJSONWriterUngrouped(t *testing.T) {
	t.Parallel()

	table := reports.Table{
		Columns: []string{"a"},
		Groups:  []reports.Group{{Rows: [][]string{{"1"}, {"2"}}}},
	}

	data, _, err := jsonWriter{}.Write(table)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"a":"1"},{"a":"2"}]`, string(data))
}

func TestExcelWriterProducesWorkbook(t *testing.T) {
	t.Parallel()

	data, contentType, err := excelWriter{}.Write(sampleTable())
	require.NoError(t, err)
	assert.Equal(t, xlsxContentType, contentType)
	// xlsx files are zip archives.
	assert.Equal(t, "PK", string(data[:2]))
}

func TestPDFWriterProducesDocument(t *testing.T) {
	t.Parallel()

	data, contentType, err := pdfWriter{}.Write(sampleTable())
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", contentType)
	assert.True(t, strings.HasPrefix(string(data), "%PDF"))
}

func TestSanitizeSheetName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Report", sanitizeSheetName("[:/]"))
	assert.Equal(t, "Q3 Numbers", sanitizeSheetName("Q3: Numbers"))
	assert.Len(t, sanitizeSheetName(strings.Repeat("x", 60)), 31)
}
