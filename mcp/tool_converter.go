// Package mcp converts tool definitions, expressed as mcp-go tools, into the
// schema shape each vendor SDK expects.
package mcp

import (
	"encoding/json"
	"sort"

	"github.com/anthropics/anthropic-sdk-go"
	mcptypes "github.com/mark3labs/mcp-go/mcp"
	"github.com/ollama/ollama/api"
	"github.com/openai/openai-go/v3"
)

// NameFunc rewrites a tool name for vendors with stricter naming rules.
type NameFunc func(string) string

// JSONSchema returns the tool's input schema as a plain JSON-schema map.
// "type" defaults to "object" and empty sections are omitted.
func JSONSchema(tool mcptypes.Tool) map[string]any {
	schemaType := tool.InputSchema.Type
	if schemaType == "" {
		schemaType = "object"
	}
	properties := tool.InputSchema.Properties
	if properties == nil {
		properties = map[string]any{}
	}
	schema := map[string]any{
		"type":       schemaType,
		"properties": properties,
	}
	if len(tool.InputSchema.Required) > 0 {
		schema["required"] = tool.InputSchema.Required
	}
	if tool.InputSchema.Defs != nil {
		schema["$defs"] = tool.InputSchema.Defs
	}
	return schema
}

// MissingRequired lists required properties absent from args, sorted.
func MissingRequired(tool mcptypes.Tool, args map[string]any) []string {
	var missing []string
	for _, name := range tool.InputSchema.Required {
		if v, ok := args[name]; !ok || v == nil {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}

// ToAnthropic converts tools to Anthropic ToolUnionParams.
func ToAnthropic(tools []mcptypes.Tool) []anthropic.ToolUnionParam {
	if len(tools) == 0 {
		return nil
	}

	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, tool := range tools {
		// Type is elided and marshals as "object".
		schema := anthropic.ToolInputSchemaParam{
			Properties: tool.InputSchema.Properties,
		}
		if len(tool.InputSchema.Required) > 0 {
			schema.Required = tool.InputSchema.Required
		}
		if tool.InputSchema.Defs != nil {
			schema.ExtraFields = map[string]any{"$defs": tool.InputSchema.Defs}
		}

		out[i] = anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if tool.Description != "" {
			out[i].OfTool.Description = anthropic.String(tool.Description)
		}
	}
	return out
}

// ToOpenAI converts tools to OpenAI function tools. The same shape is used by
// every OpenAI-compatible endpoint; rename may be nil.
func ToOpenAI(tools []mcptypes.Tool, rename NameFunc) []openai.ChatCompletionToolUnionParam {
	if len(tools) == 0 {
		return nil
	}

	out := make([]openai.ChatCompletionToolUnionParam, len(tools))
	for i, tool := range tools {
		name := tool.Name
		if rename != nil {
			name = rename(name)
		}
		def := openai.FunctionDefinitionParam{
			Name:       name,
			Parameters: openai.FunctionParameters(JSONSchema(tool)),
		}
		if tool.Description != "" {
			def.Description = openai.String(tool.Description)
		}
		out[i] = openai.ChatCompletionFunctionTool(def)
	}
	return out
}

// ToOllama converts tools to Ollama API tools.
func ToOllama(tools []mcptypes.Tool) []api.Tool {
	if len(tools) == 0 {
		return nil
	}

	out := make([]api.Tool, 0, len(tools))
	for _, tool := range tools {
		params := api.ToolFunctionParameters{
			Type:       "object",
			Required:   tool.InputSchema.Required,
			Properties: make(map[string]api.ToolProperty, len(tool.InputSchema.Properties)),
		}
		if tool.InputSchema.Type != "" {
			params.Type = tool.InputSchema.Type
		}
		if tool.InputSchema.Defs != nil {
			params.Defs = tool.InputSchema.Defs
		}
		for name, prop := range tool.InputSchema.Properties {
			params.Properties[name] = ollamaProperty(prop)
		}

		out = append(out, api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

// ollamaProperty maps one JSON-schema property onto api.ToolProperty.
// Values that are not maps are round-tripped through JSON first.
func ollamaProperty(raw any) api.ToolProperty {
	var prop api.ToolProperty

	m, ok := raw.(map[string]any)
	if !ok {
		data, err := json.Marshal(raw)
		if err != nil || json.Unmarshal(data, &m) != nil {
			return prop
		}
	}

	switch t := m["type"].(type) {
	case string:
		prop.Type = api.PropertyType{t}
	case []string:
		prop.Type = api.PropertyType(t)
	case []any:
		types := make([]string, 0, len(t))
		for _, v := range t {
			if s, ok := v.(string); ok {
				types = append(types, s)
			}
		}
		prop.Type = api.PropertyType(types)
	}

	if desc, ok := m["description"].(string); ok {
		prop.Description = desc
	}

	switch enum := m["enum"].(type) {
	case []any:
		prop.Enum = enum
	case []string:
		prop.Enum = make([]any, len(enum))
		for i, v := range enum {
			prop.Enum[i] = v
		}
	}

	if items, ok := m["items"]; ok {
		prop.Items = items
	}

	if anyOf, ok := m["anyOf"].([]any); ok {
		prop.AnyOf = make([]api.ToolProperty, 0, len(anyOf))
		for _, item := range anyOf {
			prop.AnyOf = append(prop.AnyOf, ollamaProperty(item))
		}
	}

	return prop
}
