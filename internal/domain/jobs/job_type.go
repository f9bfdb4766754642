package jobs

// JobType identifies the kind of asynchronous work a job performs. Import
// types process a validated record batch record-by-record; report jobs run a
// single query-assemble-export pass.
type JobType string

const (
	// JobTypeImportStudents imports a batch of student records.
	JobTypeImportStudents JobType = "IMPORT_STUDENTS"

	// JobTypeImportStaff imports a batch of staff records.
	JobTypeImportStaff JobType = "IMPORT_STAFF"

	// JobTypeImportSelfInternships imports self-identified internship records.
	JobTypeImportSelfInternships JobType = "IMPORT_SELF_INTERNSHIPS"

	// JobTypeGenerateReport produces a downloadable report artifact.
	JobTypeGenerateReport JobType = "GENERATE_REPORT"
)

func (t JobType) String() string { return string(t) }

// IsImport reports whether jobs of this type process record batches.
func (t JobType) IsImport() bool {
	return t == JobTypeImportStudents || t == JobTypeImportStaff || t == JobTypeImportSelfInternships
}

// ParseJobType converts a string to a JobType. It returns an empty JobType
// for unrecognized values.
func ParseJobType(s string) JobType {
	switch s {
	case "IMPORT_STUDENTS":
		return JobTypeImportStudents
	case "IMPORT_STAFF":
		return JobTypeImportStaff
	case "IMPORT_SELF_INTERNSHIPS":
		return JobTypeImportSelfInternships
	case "GENERATE_REPORT":
		return JobTypeGenerateReport
	default:
		return ""
	}
}
