package tools

import "fmt"

// ValidateArgs checks the model-supplied arguments against a schema.
// Only the subset of JSON Schema the tools actually use is enforced:
// required fields, primitive types, enums, and array item types.
func ValidateArgs(schema Schema, args map[string]interface{}) error {
	if schema.Type != "object" {
		return fmt.Errorf("schema type must be 'object', got %q", schema.Type)
	}

	for _, required := range schema.Required {
		if _, ok := args[required]; !ok {
			return fmt.Errorf("missing required field: %s", required)
		}
	}

	for name, def := range schema.Properties {
		value, ok := args[name]
		if !ok || value == nil {
			continue
		}
		if err := validateProperty(name, def, value); err != nil {
			return err
		}
	}

	// A schema with no declared properties (some MCP servers publish
	// these) accepts arbitrary arguments.
	if len(schema.Properties) > 0 {
		for name := range args {
			if _, ok := schema.Properties[name]; !ok {
				return fmt.Errorf("unknown field: %s", name)
			}
		}
	}

	return nil
}

func validateProperty(name string, def PropertyDef, value interface{}) error {
	if err := validateType(name, def.Type, value); err != nil {
		return err
	}

	if len(def.Enum) > 0 {
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("field %q: enum values must be strings, got %T", name, value)
		}
		for _, e := range def.Enum {
			if str == e {
				return nil
			}
		}
		return fmt.Errorf("field %q: value %q not in allowed values %v", name, str, def.Enum)
	}

	if def.Type == "array" && def.Items != nil {
		arr, ok := value.([]interface{})
		if ok {
			for i, item := range arr {
				if err := validateProperty(fmt.Sprintf("%s[%d]", name, i), *def.Items, item); err != nil {
					return err
				}
			}
		}
	}

	if def.Type == "object" && len(def.Properties) > 0 {
		obj, ok := value.(map[string]interface{})
		if ok {
			nested := Schema{Type: "object", Properties: def.Properties, Required: def.Required}
			if err := ValidateArgs(nested, obj); err != nil {
				return fmt.Errorf("field %q: %w", name, err)
			}
		}
	}

	return nil
}

func validateType(name, typ string, value interface{}) error {
	ok := true
	switch typ {
	case "string":
		_, ok = value.(string)
	case "number":
		_, ok = value.(float64)
		if !ok {
			_, ok = value.(int)
		}
	case "integer":
		switch v := value.(type) {
		case float64:
			ok = v == float64(int64(v))
		case int:
		default:
			ok = false
		}
	case "boolean":
		_, ok = value.(bool)
	case "array":
		_, ok = value.([]interface{})
	case "object":
		_, ok = value.(map[string]interface{})
	case "":
		// Untyped property accepts anything.
	default:
		return fmt.Errorf("field %q: unsupported schema type %q", name, typ)
	}
	if !ok {
		return fmt.Errorf("field %q: expected %s, got %T", name, typ, value)
	}
	return nil
}
