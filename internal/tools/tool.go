// Package tools defines the tool surface exposed to the model: the
// Tool interface, parameter schemas with validation, the registry, and
// the dispatcher that contains all tool-level failures.
package tools

import "context"

// Tool is a single capability the model can invoke.
type Tool interface {
	Name() string
	Description() string
	Schema() Schema
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// Schema is a JSON-Schema object describing a tool's parameters.
type Schema struct {
	Type       string                 `json:"type"`
	Properties map[string]PropertyDef `json:"properties,omitempty"`
	Required   []string               `json:"required,omitempty"`
}

// PropertyDef describes one parameter.
type PropertyDef struct {
	Type        string                 `json:"type"`
	Description string                 `json:"description,omitempty"`
	Enum        []string               `json:"enum,omitempty"`
	Items       *PropertyDef           `json:"items,omitempty"`
	Properties  map[string]PropertyDef `json:"properties,omitempty"`
	Required    []string               `json:"required,omitempty"`
}

// ObjectSchema is a shorthand constructor for the common case.
func ObjectSchema(props map[string]PropertyDef, required ...string) Schema {
	return Schema{Type: "object", Properties: props, Required: required}
}

// ToMap renders the schema in the wire form providers expect.
func (s Schema) ToMap() map[string]interface{} {
	m := map[string]interface{}{"type": s.Type}
	if len(s.Properties) > 0 {
		props := make(map[string]interface{}, len(s.Properties))
		for name, def := range s.Properties {
			props[name] = def.toMap()
		}
		m["properties"] = props
	}
	if len(s.Required) > 0 {
		m["required"] = s.Required
	}
	return m
}

func (d PropertyDef) toMap() map[string]interface{} {
	m := map[string]interface{}{"type": d.Type}
	if d.Description != "" {
		m["description"] = d.Description
	}
	if len(d.Enum) > 0 {
		m["enum"] = d.Enum
	}
	if d.Items != nil {
		m["items"] = d.Items.toMap()
	}
	if len(d.Properties) > 0 {
		props := make(map[string]interface{}, len(d.Properties))
		for name, def := range d.Properties {
			props[name] = def.toMap()
		}
		m["properties"] = props
	}
	if len(d.Required) > 0 {
		m["required"] = d.Required
	}
	return m
}
