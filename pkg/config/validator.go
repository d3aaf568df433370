package config

import (
	"fmt"
	"reflect"
	"strings"
)

// Validator validates a loaded configuration.
type Validator interface {
	Validate(config interface{}) error
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(config interface{}) error

func (f ValidatorFunc) Validate(config interface{}) error { return f(config) }

// ValidateAll runs every validator and returns the first failure.
func ValidateAll(config interface{}, validators ...Validator) error {
	for _, v := range validators {
		if err := v.Validate(config); err != nil {
			return err
		}
	}
	return nil
}

// RequiredFields validates that the named fields are non-zero. Nested fields
// use dot notation ("Metrics.Addr").
func RequiredFields(fields ...string) Validator {
	return ValidatorFunc(func(config interface{}) error {
		val := structValue(config)
		if !val.IsValid() {
			return fmt.Errorf("config: not a struct")
		}
		var missing []string
		for _, name := range fields {
			fv := fieldByPath(val, name)
			if !fv.IsValid() {
				return fmt.Errorf("config: field %s not found", name)
			}
			if fv.IsZero() {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("config: required fields missing: %s", strings.Join(missing, ", "))
		}
		return nil
	})
}

// RangeValidator validates that a numeric field lies within [min, max].
func RangeValidator(name string, min, max float64) Validator {
	return ValidatorFunc(func(config interface{}) error {
		fv := fieldByPath(structValue(config), name)
		if !fv.IsValid() {
			return fmt.Errorf("config: field %s not found", name)
		}
		var n float64
		switch fv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			n = float64(fv.Int())
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			n = float64(fv.Uint())
		case reflect.Float32, reflect.Float64:
			n = fv.Float()
		default:
			return fmt.Errorf("config: field %s is not numeric", name)
		}
		if n < min || n > max {
			return fmt.Errorf("config: field %s value %v out of range [%v, %v]", name, n, min, max)
		}
		return nil
	})
}

// OneOf validates that a string field holds one of the allowed values.
func OneOf(name string, allowed ...string) Validator {
	return ValidatorFunc(func(config interface{}) error {
		fv := fieldByPath(structValue(config), name)
		if !fv.IsValid() || fv.Kind() != reflect.String {
			return fmt.Errorf("config: field %s not found or not a string", name)
		}
		got := fv.String()
		for _, a := range allowed {
			if got == a {
				return nil
			}
		}
		return fmt.Errorf("config: field %s value %q not one of %s", name, got, strings.Join(allowed, "|"))
	})
}

func structValue(config interface{}) reflect.Value {
	val := reflect.ValueOf(config)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return reflect.Value{}
	}
	return val
}

func fieldByPath(val reflect.Value, path string) reflect.Value {
	cur := val
	for _, part := range strings.Split(path, ".") {
		if cur.Kind() == reflect.Ptr {
			cur = cur.Elem()
		}
		if cur.Kind() != reflect.Struct {
			return reflect.Value{}
		}
		cur = cur.FieldByName(part)
		if !cur.IsValid() {
			return reflect.Value{}
		}
	}
	return cur
}
