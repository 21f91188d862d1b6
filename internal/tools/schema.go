package tools

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// FieldType is the scalar kind of one arg_schema field.
type FieldType string

const (
	FieldString FieldType = "string"
	FieldNumber FieldType = "number"
	FieldBool   FieldType = "bool"
	FieldObject FieldType = "object"
	FieldArray  FieldType = "array"
	FieldAny    FieldType = "any"
)

// Field describes one named parameter of a tool's arg_schema.
type Field struct {
	Name        string
	Type        FieldType
	Required    bool
	Description string
}

// ArgSchema is the tagged-variant schema value type used for minimal,
// dependency-free validation: required fields present, scalar types match.
type ArgSchema struct {
	Fields []Field

	// JSONSchema, when non-nil, is the tool's raw JSON-schema document (as
	// supplied by an MCP server's inputSchema). When present it is compiled
	// once at registration and used for a deeper structural validation pass
	// beyond the Fields check above.
	JSONSchema json.RawMessage

	compiled *jsonschema.Schema
}

// compile parses and compiles JSONSchema, if present, so Validate does not
// pay compilation cost on every call.
func (s *ArgSchema) compile(toolName string) error {
	if len(s.JSONSchema) == 0 {
		return nil
	}
	compiler := jsonschema.NewCompiler()
	resource := "mem://" + toolName + "/arg_schema.json"
	if err := compiler.AddResource(resource, bytes.NewReader(s.JSONSchema)); err != nil {
		return fmt.Errorf("add json schema resource: %w", err)
	}
	schema, err := compiler.Compile(resource)
	if err != nil {
		return fmt.Errorf("compile json schema: %w", err)
	}
	s.compiled = schema
	return nil
}

// Validate checks args against the schema's required/type fields, then
// against the compiled JSON schema if one was supplied. The first violation
// found is returned as an *ArgError naming the offending field.
func (s *ArgSchema) Validate(toolName string, args json.RawMessage) error {
	var obj map[string]any
	if len(args) == 0 {
		args = []byte("{}")
	}
	if err := json.Unmarshal(args, &obj); err != nil {
		return &ArgError{Tool: toolName, Field: "<root>", Msg: "args is not a JSON object: " + err.Error()}
	}

	for _, f := range s.Fields {
		v, present := obj[f.Name]
		if !present {
			if f.Required {
				return &ArgError{Tool: toolName, Field: f.Name, Msg: "required field missing"}
			}
			continue
		}
		if !matchesType(v, f.Type) {
			return &ArgError{Tool: toolName, Field: f.Name, Msg: fmt.Sprintf("expected %s", f.Type)}
		}
	}

	if s.compiled != nil {
		var decoded any
		if err := json.Unmarshal(args, &decoded); err != nil {
			return &ArgError{Tool: toolName, Field: "<root>", Msg: err.Error()}
		}
		if err := s.compiled.Validate(decoded); err != nil {
			return &ArgError{Tool: toolName, Field: "<schema>", Msg: err.Error()}
		}
	}

	return nil
}

func matchesType(v any, t FieldType) bool {
	switch t {
	case FieldString:
		_, ok := v.(string)
		return ok
	case FieldNumber:
		_, ok := v.(float64)
		return ok
	case FieldBool:
		_, ok := v.(bool)
		return ok
	case FieldObject:
		_, ok := v.(map[string]any)
		return ok
	case FieldArray:
		_, ok := v.([]any)
		return ok
	default:
		return true
	}
}
