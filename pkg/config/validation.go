package config

import (
	"reflect"

	sserr "github.com/StricklySoft/stricklysoft-analytics/pkg/errors"
)

// Validator is implemented by configuration structs that need checks
// beyond `required:"true"`. Validate runs after required-field checks
// pass; non-platform errors are wrapped with [sserr.CodeValidation].
type Validator interface {
	Validate() error
}

func validate(cfg any, rv reflect.Value) error {
	if err := validateRequired(rv, ""); err != nil {
		return err
	}
	v, ok := cfg.(Validator)
	if !ok {
		return nil
	}
	if err := v.Validate(); err != nil {
		if _, isPlatform := sserr.AsError(err); isPlatform {
			return err
		}
		return sserr.Wrap(err, sserr.CodeValidation, "config: validation failed")
	}
	return nil
}

// validateRequired walks nested structs and reports the dotted path of the
// first required field still holding its zero value.
func validateRequired(rv reflect.Value, path string) error {
	rt := rv.Type()
	for i := range rt.NumField() {
		field, sf := rv.Field(i), rt.Field(i)
		if !field.CanSet() {
			continue
		}
		fieldPath := sf.Name
		if path != "" {
			fieldPath = path + "." + sf.Name
		}
		if field.Kind() == reflect.Struct {
			if err := validateRequired(field, fieldPath); err != nil {
				return err
			}
			continue
		}
		if sf.Tag.Get("required") == "true" && field.IsZero() {
			return sserr.Newf(sserr.CodeValidationRequired,
				"config: required field %q is empty", fieldPath)
		}
	}
	return nil
}
