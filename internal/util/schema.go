package util

import (
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"strings"
)

// ValidationError reports the first argument that does not match a schema.
type ValidationError struct {
	Field   string `json:"field"`
	Value   any    `json:"value"`
	Message string `json:"message"`
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// EmptySchema returns an object schema without properties.
func EmptySchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

// SchemaOf is SchemaForType for the dynamic type of v.
func SchemaOf(v any) map[string]any {
	return SchemaForType(reflect.TypeOf(v))
}

// SchemaForType creates the object schema of the struct type t (or pointer
// to struct); any other type yields EmptySchema.
//
// Exported fields become properties named after their json tag. The
// description tag sets the property description and a comma separated enum
// tag restricts string values. Fields without omitempty that are not
// pointers are required. Nested structs, slices and maps are described
// recursively.
func SchemaForType(t reflect.Type) map[string]any {
	t = deref(t)
	if t == nil || t.Kind() != reflect.Struct {
		return EmptySchema()
	}
	return structSchema(t, map[reflect.Type]bool{})
}

func structSchema(t reflect.Type, visiting map[reflect.Type]bool) map[string]any {
	properties := map[string]any{}
	var required []string

	// Recursive types are cut at the second visit.
	if !visiting[t] {
		visiting[t] = true
		defer delete(visiting, t)

		for _, field := range reflect.VisibleFields(t) {
			if !field.IsExported() || field.Anonymous {
				continue
			}
			name, omitEmpty, skip := jsonName(field)
			if skip {
				continue
			}

			prop := typeSchema(field.Type, visiting)
			if desc := field.Tag.Get("description"); desc != "" {
				prop["description"] = desc
			}
			if enum := field.Tag.Get("enum"); enum != "" {
				values := strings.Split(enum, ",")
				for i := range values {
					values[i] = strings.TrimSpace(values[i])
				}
				prop["enum"] = values
			}
			properties[name] = prop

			if !omitEmpty && field.Type.Kind() != reflect.Ptr {
				required = append(required, name)
			}
		}
	}

	schema := map[string]any{"type": "object", "properties": properties}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func typeSchema(t reflect.Type, visiting map[reflect.Type]bool) map[string]any {
	t = deref(t)
	switch t.Kind() {
	case reflect.String:
		return map[string]any{"type": "string"}
	case reflect.Bool:
		return map[string]any{"type": "boolean"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return map[string]any{"type": "integer"}
	case reflect.Float32, reflect.Float64:
		return map[string]any{"type": "number"}
	case reflect.Slice, reflect.Array:
		return map[string]any{"type": "array", "items": typeSchema(t.Elem(), visiting)}
	case reflect.Struct:
		return structSchema(t, visiting)
	case reflect.Map, reflect.Interface:
		return map[string]any{"type": "object"}
	default:
		return map[string]any{"type": "string"}
	}
}

func deref(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

// jsonName resolves the property name of field from its json tag.
func jsonName(field reflect.StructField) (name string, omitEmpty, skip bool) {
	tag := field.Tag.Get("json")
	if tag == "-" {
		return "", false, true
	}
	name, opts, _ := strings.Cut(tag, ",")
	if name == "" {
		name = field.Name
	}
	for _, opt := range strings.Split(opts, ",") {
		if strings.TrimSpace(opt) == "omitempty" {
			omitEmpty = true
		}
	}
	return name, omitEmpty, false
}

// ValidateParameters checks params against schema: required properties must
// be present and known properties must match their type and enum. Unknown
// properties are accepted. Nested objects and array items are checked the
// same way, with dotted and indexed field paths in the error.
func ValidateParameters(params map[string]any, schema map[string]any) error {
	return validateObject("", params, schema)
}

func validateObject(path string, obj map[string]any, schema map[string]any) error {
	for _, name := range stringList(schema["required"]) {
		if _, ok := obj[name]; !ok {
			return &ValidationError{Field: join(path, name), Message: "required field is missing"}
		}
	}

	properties, _ := schema["properties"].(map[string]any)
	for name, value := range obj {
		prop, ok := properties[name].(map[string]any)
		if !ok {
			continue
		}
		if err := validateValue(join(path, name), value, prop); err != nil {
			return err
		}
	}
	return nil
}

func validateValue(field string, value any, schema map[string]any) error {
	if value == nil {
		return nil
	}

	expected, _ := schema["type"].(string)
	if !matchesType(value, expected) {
		return &ValidationError{Field: field, Value: value, Message: fmt.Sprintf("expected type %s, got %T", expected, value)}
	}

	if enum := stringList(schema["enum"]); len(enum) > 0 {
		if s, _ := value.(string); !slices.Contains(enum, s) {
			return &ValidationError{Field: field, Value: value, Message: "must be one of " + strings.Join(enum, ", ")}
		}
	}

	switch v := value.(type) {
	case map[string]any:
		if _, nested := schema["properties"]; nested {
			return validateObject(field, v, schema)
		}
	case []any:
		if items, ok := schema["items"].(map[string]any); ok {
			for i, item := range v {
				if err := validateValue(fmt.Sprintf("%s[%d]", field, i), item, items); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

// matchesType reports whether a decoded JSON value fits a schema type.
// Unknown or empty types accept anything.
func matchesType(value any, expected string) bool {
	switch expected {
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "integer":
		switch v := value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		case float64:
			return v == float64(int64(v))
		}
		return false
	case "number":
		switch value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
			return true
		}
		return false
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	default:
		return true
	}
}

// stringList accepts both []string (reflected schemas) and []any (decoded
// JSON schemas).
func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// DecodeArguments converts a validated argument map into the struct pointed
// to by dst using its json tags.
func DecodeArguments(args map[string]any, dst any) error {
	b, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode arguments: %w", err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	return nil
}
