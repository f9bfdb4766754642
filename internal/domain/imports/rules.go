package imports

import (
	"github.com/campusops/batchline/internal/domain/jobs"
)

// fieldFormat names the format constraint applied to a field's value.
type fieldFormat int

const (
	formatNone fieldFormat = iota
	formatEmail
	formatPhone
)

// fieldRule describes one column of an import type's schema. Rules on
// secondary fields downgrade format violations to warnings; rules on
// identifying or otherwise mandatory fields produce hard errors.
type fieldRule struct {
	name      string
	required  bool
	format    fieldFormat
	secondary bool
}

// importSchema is the explicit required-field table for one import type. The
// table makes the engine's contract total: every supported job type has a
// schema, and every rule is data rather than ad hoc property lookups.
type importSchema struct {
	// identifierField is the column holding the natural key used for
	// case-insensitive deduplication.
	identifierField string

	// entityName feeds the duplicate diagnostic ("Duplicate student entry in
	// file").
	entityName string

	fields []fieldRule
}

var schemas = map[jobs.JobType]importSchema{
	jobs.JobTypeImportStudents: {
		identifierField: "student_number",
		entityName:      "student",
		fields: []fieldRule{
			{name: "student_number", required: true},
			{name: "first_name", required: true},
			{name: "last_name", required: true},
			{name: "email", required: true, format: formatEmail},
			{name: "phone", format: formatPhone, secondary: true},
		},
	},
	jobs.JobTypeImportStaff: {
		identifierField: "staff_number",
		entityName:      "staff",
		fields: []fieldRule{
			{name: "staff_number", required: true},
			{name: "first_name", required: true},
			{name: "last_name", required: true},
			{name: "email", required: true, format: formatEmail},
			{name: "phone", format: formatPhone, secondary: true},
		},
	},
	jobs.JobTypeImportSelfInternships: {
		identifierField: "student_number",
		entityName:      "internship",
		fields: []fieldRule{
			{name: "student_number", required: true},
			{name: "company_name", required: true},
			{name: "position", required: true},
			{name: "hr_email", format: formatEmail, secondary: true},
			{name: "hr_phone", format: formatPhone, secondary: true},
		},
	},
}

// SchemaFields returns the column names of an import type's schema, in
// order. Useful for building upload templates.
func SchemaFields(jobType jobs.JobType) []string {
	schema, ok := schemas[jobType]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(schema.fields))
	for _, f := range schema.fields {
		names = append(names, f.name)
	}
	return names
}
