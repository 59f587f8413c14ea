// Package validation wraps a shared go-playground validator that reports
// failures by JSON field name.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// FieldError is the first rule a request payload broke.
type FieldError struct {
	Field string
	Tag   string
	Param string
}

func (e *FieldError) Error() string {
	switch e.Tag {
	case "required":
		return e.Field + " is required"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", e.Field, e.Param)
	case "gte", "min":
		return fmt.Sprintf("%s must be at least %s", e.Field, e.Param)
	case "lte":
		return fmt.Sprintf("%s must be at most %s", e.Field, e.Param)
	default:
		return fmt.Sprintf("%s is invalid (%s)", e.Field, e.Tag)
	}
}

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// Struct validates s and returns a *FieldError for the first failing field.
func Struct(s any) error {
	err := getValidator().Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &FieldError{Field: fe.Field(), Tag: fe.Tag(), Param: fe.Param()}
	}
	return fmt.Errorf("validation failed: %w", err)
}
