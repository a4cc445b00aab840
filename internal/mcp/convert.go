package mcp

import (
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// ToolProp describes a single JSON-Schema property of a tool's input,
// flattened out of the MCP SDK's raw schema map so the RPC tool-bridge
// can expose it without re-parsing JSON Schema.
type ToolProp struct {
	Type        string              `json:"type"`
	Description string              `json:"description,omitempty"`
	Enum        []string            `json:"enum,omitempty"`
	Items       *ToolProp           `json:"items,omitempty"`
	Properties  map[string]ToolProp `json:"properties,omitempty"`
	Required    []string            `json:"required,omitempty"`
}

// ToolSpec is the namespaced, flattened description of a single MCP tool,
// the shape the RPC Dispatcher's tool.list method returns instead of the
// raw mcpsdk.Tool. Hook contexts carry the raw *mcpsdk.Tool, not a ToolSpec.
type ToolSpec struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Properties  map[string]ToolProp `json:"properties,omitempty"`
	Required    []string            `json:"required,omitempty"`
}

// ToToolSpec converts an MCP Tool to a namespaced ToolSpec. The
// InputSchema (typically map[string]any from JSON unmarshalling) is
// flattened into a ToolProp map.
func ToToolSpec(serverName string, tool *mcpsdk.Tool) ToolSpec {
	spec := ToolSpec{
		Name:        NamespacedName(serverName, tool.Name),
		Description: tool.Description,
	}

	schema, ok := tool.InputSchema.(map[string]any)
	if !ok {
		// If InputSchema isn't a map, return spec with no properties.
		return spec
	}

	props, required := extractProperties(schema)
	spec.Properties = props
	spec.Required = required
	return spec
}

// extractProperties extracts properties and required fields from a JSON Schema map.
func extractProperties(schema map[string]any) (map[string]ToolProp, []string) {
	props := map[string]ToolProp{}

	if propsMap, ok := schema["properties"].(map[string]any); ok {
		for name, raw := range propsMap {
			propMap, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			props[name] = convertProp(propMap)
		}
	}

	var required []string
	if reqList, ok := schema["required"].([]any); ok {
		for _, r := range reqList {
			if s, ok := r.(string); ok {
				required = append(required, s)
			}
		}
	}

	return props, required
}

// convertProp converts a single JSON Schema property map to a ToolProp.
func convertProp(propMap map[string]any) ToolProp {
	tp := ToolProp{}

	if t, ok := propMap["type"].(string); ok {
		tp.Type = t
	} else {
		// Fallback for complex types (oneOf, anyOf, allOf).
		tp.Type = "object"
	}

	if d, ok := propMap["description"].(string); ok {
		tp.Description = d
	}

	if enumList, ok := propMap["enum"].([]any); ok {
		for _, e := range enumList {
			tp.Enum = append(tp.Enum, fmt.Sprintf("%v", e))
		}
	}

	// Handle array items
	if tp.Type == "array" {
		if items, ok := propMap["items"].(map[string]any); ok {
			itemProp := convertProp(items)
			tp.Items = &itemProp
		}
	}

	// Handle nested object properties
	if tp.Type == "object" {
		if nested, ok := propMap["properties"].(map[string]any); ok {
			tp.Properties = map[string]ToolProp{}
			for name, raw := range nested {
				if pm, ok := raw.(map[string]any); ok {
					tp.Properties[name] = convertProp(pm)
				}
			}
		}
		if reqList, ok := propMap["required"].([]any); ok {
			for _, r := range reqList {
				if s, ok := r.(string); ok {
					tp.Required = append(tp.Required, s)
				}
			}
		}
	}

	return tp
}
