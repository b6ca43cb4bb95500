package tool

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ParamType is the JSON type of a tool parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeInteger ParamType = "integer"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
	TypeObject  ParamType = "object"
)

// Parameter describes one named tool parameter.
type Parameter struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Description string    `json:"description"`
	Required    bool      `json:"required"`
	Enum        []any     `json:"enum,omitempty"`
	Default     any       `json:"default,omitempty"`
}

// Spec is the advertisement of a tool to a language model.
type Spec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// JSONSchema renders params as a JSON Schema object document.
func JSONSchema(params []Parameter) map[string]any {
	props := make(map[string]any, len(params))
	required := make([]any, 0, len(params))
	for _, p := range params {
		prop := map[string]any{"type": string(p.Type)}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// compileSchema compiles the parameter schema of a tool. The document is
// round-tripped through encoding/json so numbers reach the compiler in
// the same representation instances are validated in.
func compileSchema(name string, params []Parameter) (*jsonschema.Schema, error) {
	doc, err := jsonRoundTrip(JSONSchema(params))
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource for %q: %w", name, err)
	}
	return c.Compile("schema.json")
}

func jsonRoundTrip(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// applyDefaults returns a copy of params with declared defaults filled in
// for absent parameters.
func applyDefaults(decl []Parameter, params map[string]any) map[string]any {
	out := make(map[string]any, len(params)+len(decl))
	for k, v := range params {
		out[k] = v
	}
	for _, p := range decl {
		if _, ok := out[p.Name]; !ok && p.Default != nil {
			out[p.Name] = p.Default
		}
	}
	return out
}
