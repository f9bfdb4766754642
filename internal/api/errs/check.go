package errs

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var check = validator.New(validator.WithRequiredStructEnabled())

// Check validates the provided model against its declared validate tags.
func Check(val any) error {
	if err := check.Struct(val); err != nil {
		var verrors validator.ValidationErrors
		if !errors.As(err, &verrors) {
			return err
		}

		var fields FieldErrors
		for _, verror := range verrors {
			field := FieldError{
				Field: strings.ToLower(verror.Field()),
				Err:   verror.Tag(),
			}
			fields = append(fields, field)
		}
		return fields
	}

	return nil
}

// FieldError is used to indicate an error with a specific request field.
type FieldError struct {
	Field string `json:"field"`
	Err   string `json:"error"`
}

// FieldErrors represents a collection of field errors.
type FieldErrors []FieldError

// Error implements the error interface.
func (fe FieldErrors) Error() string {
	var sb strings.Builder
	for i, field := range fe {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s: %s", field.Field, field.Err)
	}
	return sb.String()
}
