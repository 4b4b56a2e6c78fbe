package service

import (
	stderrors "errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/vaidashi/rachma-marketplace/pkg/errors"
)

// newValidator reports fields by their JSON names
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// toFieldErrors converts a validator error into per-field messages
func toFieldErrors(err error) errors.FieldErrors {
	fields := errors.FieldErrors{}

	var validationErrors validator.ValidationErrors
	if !stderrors.As(err, &validationErrors) {
		fields.Add("request", err.Error())
		return fields
	}

	for _, e := range validationErrors {
		fields.Add(e.Field(), validationMessage(e))
	}
	return fields
}

func validationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "This field is required"
	case "required_if":
		return "This field is required when " + strings.ToLower(strings.Replace(e.Param(), " ", " is ", 1))
	case "oneof":
		return "Must be one of: " + e.Param()
	case "min":
		if e.Kind() == reflect.String {
			return "Must be at least " + e.Param() + " characters"
		}
		return "Must be at least " + e.Param()
	case "max":
		if e.Kind() == reflect.String {
			return "Must be at most " + e.Param() + " characters"
		}
		return "Must be at most " + e.Param()
	case "gt":
		return "Must be greater than " + e.Param()
	default:
		return "Invalid value"
	}
}
