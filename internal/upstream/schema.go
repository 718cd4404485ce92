package upstream

import (
	"encoding/json"
	"strings"

	"github.com/opengemini/gemproxy/internal/agent"
)

// ToTools converts registered tools' JSON-Schema parameter schemas to the
// upstream's native Tool/FunctionDeclaration/Schema shape. Grounded
// directly on toolconv.ToGeminiTools/ToGeminiSchema, substituting this
// system's hand-rolled upstream.Schema type for the genai SDK's.
func ToTools(tools []agent.Tool) []Tool {
	if len(tools) == 0 {
		return nil
	}
	declarations := make([]FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		var schemaMap map[string]any
		if raw := t.ParameterSchema(); len(raw) > 0 {
			if err := json.Unmarshal(raw, &schemaMap); err != nil {
				continue
			}
		}
		declarations = append(declarations, FunctionDeclaration{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  toSchema(schemaMap),
		})
	}
	if len(declarations) == 0 {
		return nil
	}
	return []Tool{{FunctionDeclarations: declarations}}
}

func toSchema(schemaMap map[string]any) *Schema {
	if schemaMap == nil {
		return nil
	}
	schema := &Schema{}

	if t, ok := schemaMap["type"].(string); ok {
		schema.Type = SchemaType(strings.ToUpper(t))
	}
	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}
	if enum, ok := schemaMap["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	if props, ok := schemaMap["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*Schema, len(props))
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				schema.Properties[name] = toSchema(propMap)
			}
		}
	}
	if required, ok := schemaMap["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if items, ok := schemaMap["items"].(map[string]any); ok {
		schema.Items = toSchema(items)
	}
	return schema
}
