package interpolation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// TagName marks fields to expand: `env_interpolation:"yes"`.
const TagName = "env_interpolation"

// InterpolateStruct expands environment references in place on the tagged fields of the
// struct v points to. Tagged string, []string and map[string]string fields are expanded;
// tagged struct and *struct fields are walked recursively. Errors name the field path.
func InterpolateStruct(v any) error {
	if v == nil {
		return nil
	}

	val := reflect.ValueOf(v)
	if val.Kind() != reflect.Ptr {
		return fmt.Errorf("expected pointer to struct, got %T", v)
	}
	if val.IsNil() {
		return nil
	}
	val = val.Elem()
	if val.Kind() != reflect.Struct {
		return fmt.Errorf("expected pointer to struct, got %T", v)
	}
	return interpolateValue(val, "")
}

func interpolateValue(val reflect.Value, prefix string) error {
	typ := val.Type()
	var errs []error

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		info := typ.Field(i)
		if !field.CanSet() || !strings.EqualFold(info.Tag.Get(TagName), "yes") {
			continue
		}
		name := prefix + info.Name

		switch field.Kind() {
		case reflect.String:
			out, err := ExpandEnvVars(field.String())
			if err != nil {
				errs = append(errs, fmt.Errorf("field %s: %w", name, err))
				continue
			}
			field.SetString(out)

		case reflect.Slice:
			if field.Type().Elem().Kind() != reflect.String {
				continue
			}
			for j := 0; j < field.Len(); j++ {
				elem := field.Index(j)
				out, err := ExpandEnvVars(elem.String())
				if err != nil {
					errs = append(errs, fmt.Errorf("field %s[%d]: %w", name, j, err))
					continue
				}
				elem.SetString(out)
			}

		case reflect.Map:
			if field.IsNil() || field.Type().Key().Kind() != reflect.String ||
				field.Type().Elem().Kind() != reflect.String {
				continue
			}
			for _, key := range field.MapKeys() {
				out, err := ExpandEnvVars(field.MapIndex(key).String())
				if err != nil {
					errs = append(errs, fmt.Errorf("field %s[%s]: %w", name, key.String(), err))
					continue
				}
				field.SetMapIndex(key, reflect.ValueOf(out).Convert(field.Type().Elem()))
			}

		case reflect.Struct:
			errs = append(errs, interpolateValue(field, name+"."))

		case reflect.Ptr:
			if field.IsNil() || field.Elem().Kind() != reflect.Struct {
				continue
			}
			errs = append(errs, interpolateValue(field.Elem(), name+"."))
		}
	}

	return errors.Join(errs...)
}
