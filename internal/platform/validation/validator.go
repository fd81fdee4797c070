// Package validation plugs go-playground/validator into echo and adds the
// scheduling formats: clock times, calendar dates and weekday names.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/vetcare/vetcare/pkg/timerange"
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type Errors []FieldError

func (e Errors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, fe := range e {
		msgs = append(msgs, fe.Error())
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Validator implements echo.Validator.
type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"json", "query", "param"} {
			name, _, _ := strings.Cut(f.Tag.Get(tag), ",")
			if name != "" && name != "-" {
				return name
			}
		}
		return f.Name
	})

	for tag, fn := range map[string]validator.Func{
		"clock":   validateClock,
		"date":    validateDate,
		"weekday": validateWeekday,
	} {
		// Registration only fails on an empty tag or nil func.
		if err := v.RegisterValidation(tag, fn); err != nil {
			panic(err)
		}
	}
	return &Validator{validate: v}
}

func validateClock(fl validator.FieldLevel) bool {
	_, err := timerange.ParseClock(fl.Field().String())
	return err == nil
}

func validateDate(fl validator.FieldLevel) bool {
	_, err := time.Parse(timerange.DateLayout, strings.TrimSpace(fl.Field().String()))
	return err == nil
}

var weekdays = map[string]bool{
	"monday": true, "tuesday": true, "wednesday": true, "thursday": true,
	"friday": true, "saturday": true, "sunday": true,
}

func validateWeekday(fl validator.FieldLevel) bool {
	return weekdays[strings.ToLower(strings.TrimSpace(fl.Field().String()))]
}

// Validate checks a bound request struct and returns Errors on failure.
func (v *Validator) Validate(i interface{}) error {
	err := v.validate.Struct(i)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	out := make(Errors, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{Field: fe.Field(), Message: message(fe)})
	}
	return out
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "uuid", "uuid4":
		return "must be a UUID"
	case "clock":
		return "must be a time in HH:MM or HH:MM:SS format"
	case "date":
		return "must be a date in YYYY-MM-DD format"
	case "weekday":
		return "must be a weekday name such as monday"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	}
	return fmt.Sprintf("failed %q validation", fe.Tag())
}
