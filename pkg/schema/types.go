package schema

import (
	"fmt"
	"reflect"
	"strings"
)

// Type validates a single value.
type Type interface {
	// Name returns the type as written in a schema, e.g. "string" or "[int]".
	Name() string
	Validate(value any) error
}

type stringType struct{}

func (stringType) Name() string { return "string" }

func (stringType) Validate(value any) error {
	if _, ok := value.(string); !ok {
		return fmt.Errorf("expected string, got %T", value)
	}
	return nil
}

type intType struct{}

func (intType) Name() string { return "int" }

func (intType) Validate(value any) error {
	switch v := value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return nil
	case float64:
		// JSON numbers decode as float64
		if v == float64(int64(v)) {
			return nil
		}
		return fmt.Errorf("expected int, got %v", v)
	default:
		return fmt.Errorf("expected int, got %T", value)
	}
}

type floatType struct{}

func (floatType) Name() string { return "float" }

func (floatType) Validate(value any) error {
	switch value.(type) {
	case float32, float64, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return nil
	default:
		return fmt.Errorf("expected float, got %T", value)
	}
}

type boolType struct{}

func (boolType) Name() string { return "bool" }

func (boolType) Validate(value any) error {
	if _, ok := value.(bool); !ok {
		return fmt.Errorf("expected bool, got %T", value)
	}
	return nil
}

type mapType struct{}

func (mapType) Name() string { return "map" }

func (mapType) Validate(value any) error {
	if value == nil || reflect.ValueOf(value).Kind() != reflect.Map {
		return fmt.Errorf("expected map, got %T", value)
	}
	return nil
}

type anyType struct{}

func (anyType) Name() string { return "any" }

func (anyType) Validate(value any) error {
	if value == nil {
		return fmt.Errorf("expected a value, got null")
	}
	return nil
}

type sliceType struct {
	elem Type
}

func (t sliceType) Name() string { return "[" + t.elem.Name() + "]" }

func (t sliceType) Validate(value any) error {
	rv := reflect.ValueOf(value)
	if value == nil || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return fmt.Errorf("expected %s, got %T", t.Name(), value)
	}
	for i := 0; i < rv.Len(); i++ {
		if err := t.elem.Validate(rv.Index(i).Interface()); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	return nil
}

// optionalType lets a field be absent or null.
type optionalType struct {
	Type
}

func (t optionalType) Name() string { return t.Type.Name() + "?" }

func String() Type { return stringType{} }
func Int() Type    { return intType{} }
func Float() Type  { return floatType{} }
func Bool() Type   { return boolType{} }
func Map() Type    { return mapType{} }
func Any() Type    { return anyType{} }

// Slice accepts lists whose elements are all of elem.
func Slice(elem Type) Type { return sliceType{elem: elem} }

// Optional accepts a missing or null value, or any value t accepts.
func Optional(t Type) Type {
	if _, ok := t.(optionalType); ok {
		return t
	}
	return optionalType{Type: t}
}

// IsOptional reports whether t was built with Optional.
func IsOptional(t Type) bool {
	_, ok := t.(optionalType)
	return ok
}

// ParseType converts a type name to a Type.
func ParseType(name string) (Type, error) {
	name = strings.TrimSpace(name)
	if rest, ok := strings.CutSuffix(name, "?"); ok {
		t, err := ParseType(rest)
		if err != nil {
			return nil, err
		}
		return Optional(t), nil
	}
	if len(name) > 2 && name[0] == '[' && name[len(name)-1] == ']' {
		elem, err := ParseType(name[1 : len(name)-1])
		if err != nil {
			return nil, err
		}
		if IsOptional(elem) {
			return nil, fmt.Errorf("unsupported type: %s", name)
		}
		return Slice(elem), nil
	}

	switch name {
	case "string":
		return String(), nil
	case "int":
		return Int(), nil
	case "float":
		return Float(), nil
	case "bool":
		return Bool(), nil
	case "map":
		return Map(), nil
	case "any":
		return Any(), nil
	default:
		return nil, fmt.Errorf("unsupported type: %s", name)
	}
}

// Parse converts field names to type names into a Schema.
func Parse(fields map[string]string) (Schema, error) {
	s := make(Schema, len(fields))
	for key, name := range fields {
		t, err := ParseType(name)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", key, err)
		}
		s[key] = t
	}
	return s, nil
}
