package util

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	invopop "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// SchemaForType derives a JSON schema for a Go type. Definitions are inlined
// so the result is self-contained, and $schema/$id keys are removed.
func SchemaForType(t reflect.Type) (map[string]any, error) {
	base := t
	for base.Kind() == reflect.Ptr {
		base = base.Elem()
	}
	// Expanding a non-struct type leaves no definition to inline.
	r := &invopop.Reflector{
		DoNotReference: true,
		ExpandedStruct: base.Kind() == reflect.Struct,
		Anonymous:      true,
	}
	data, err := json.Marshal(r.ReflectFromType(t))
	if err != nil {
		return nil, fmt.Errorf("marshal schema for %s: %w", t, err)
	}
	// Unconstrained types (interfaces) reflect to the boolean schema true.
	if bytes.Equal(bytes.TrimSpace(data), []byte("true")) {
		return map[string]any{}, nil
	}
	var schema map[string]any
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("decode schema for %s: %w", t, err)
	}
	delete(schema, "$schema")
	StripSchemaIDs(schema)
	return schema, nil
}

// SchemaFor derives a JSON schema for the type of v.
func SchemaFor(v any) (map[string]any, error) {
	return SchemaForType(reflect.TypeOf(v))
}

// WalkSchema recursively visits every map node in the schema tree.
func WalkSchema(schema map[string]any, visit func(map[string]any)) {
	if schema == nil {
		return
	}
	visit(schema)
	for _, val := range schema {
		switch v := val.(type) {
		case map[string]any:
			WalkSchema(v, visit)
		case []any:
			for _, item := range v {
				if m, ok := item.(map[string]any); ok {
					WalkSchema(m, visit)
				}
			}
		}
	}
}

// StripSchemaIDs removes id and $id so compilation does not try to resolve them.
func StripSchemaIDs(schema map[string]any) {
	WalkSchema(schema, func(n map[string]any) {
		delete(n, "id")
		delete(n, "$id")
	})
}

// CompileSchema compiles a schema map into a validator.
func CompileSchema(schema map[string]any) (*jsonschema.Schema, error) {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	const url = "mem://schema.json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return sch, nil
}

// ValidateJSON validates a raw JSON document against a compiled schema.
func ValidateJSON(sch *jsonschema.Schema, raw []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return sch.Validate(inst)
}
