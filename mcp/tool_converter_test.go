package mcp

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/ollama/ollama/api"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
)

func caseTool() mcptypes.Tool {
	return mcptypes.NewTool("create_case",
		mcptypes.WithDescription("Open a return or warranty case"),
		mcptypes.WithString("kind", mcptypes.Required(), mcptypes.Enum("return", "warranty")),
		mcptypes.WithString("purchase_id", mcptypes.Description("Purchase the case is about")),
		mcptypes.WithNumber("amount"),
	)
}

func TestToOllama(t *testing.T) {
	tests := []struct {
		name     string
		input    []mcptypes.Tool
		validate func(t *testing.T, result []api.Tool)
	}{
		{
			name:  "empty tools",
			input: nil,
			validate: func(t *testing.T, result []api.Tool) {
				if result != nil {
					t.Errorf("expected nil, got %d tools", len(result))
				}
			},
		},
		{
			name:  "builder tool",
			input: []mcptypes.Tool{caseTool()},
			validate: func(t *testing.T, result []api.Tool) {
				if len(result) != 1 {
					t.Fatalf("expected 1 tool, got %d", len(result))
				}
				fn := result[0].Function
				if result[0].Type != "function" {
					t.Errorf("expected type 'function', got %q", result[0].Type)
				}
				if fn.Name != "create_case" {
					t.Errorf("expected name 'create_case', got %q", fn.Name)
				}
				if fn.Parameters.Type != "object" {
					t.Errorf("expected object parameters, got %q", fn.Parameters.Type)
				}
				if !reflect.DeepEqual(fn.Parameters.Required, []string{"kind"}) {
					t.Errorf("expected required [kind], got %v", fn.Parameters.Required)
				}
				kind := fn.Parameters.Properties["kind"]
				if len(kind.Enum) != 2 || kind.Enum[0] != "return" {
					t.Errorf("expected string enum to convert, got %v", kind.Enum)
				}
				if got := fn.Parameters.Properties["purchase_id"].Description; got != "Purchase the case is about" {
					t.Errorf("expected description, got %q", got)
				}
				if got := fn.Parameters.Properties["amount"].Type; !reflect.DeepEqual(got, api.PropertyType{"number"}) {
					t.Errorf("expected number type, got %v", got)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.validate(t, ToOllama(tt.input))
		})
	}
}

func TestOllamaProperty(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		wantType api.PropertyType
	}{
		{"string type", map[string]any{"type": "string"}, api.PropertyType{"string"}},
		{"union type any slice", map[string]any{"type": []any{"string", "null"}}, api.PropertyType{"string", "null"}},
		{"union type string slice", map[string]any{"type": []string{"integer"}}, api.PropertyType{"integer"}},
		{"struct value via json", struct {
			Type string `json:"type"`
		}{Type: "boolean"}, api.PropertyType{"boolean"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ollamaProperty(tt.input)
			if !reflect.DeepEqual(got.Type, tt.wantType) {
				t.Errorf("got %v, want %v", got.Type, tt.wantType)
			}
		})
	}

	t.Run("anyOf", func(t *testing.T) {
		got := ollamaProperty(map[string]any{
			"anyOf": []any{map[string]any{"type": "string"}, map[string]any{"type": "number"}},
		})
		if len(got.AnyOf) != 2 {
			t.Fatalf("expected 2 anyOf entries, got %d", len(got.AnyOf))
		}
	})
}

func TestToOpenAI(t *testing.T) {
	result := ToOpenAI([]mcptypes.Tool{caseTool()}, func(s string) string {
		return strings.ReplaceAll(s, "_", "-")
	})
	if len(result) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(result))
	}

	data, err := json.Marshal(result[0])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded struct {
		Type     string `json:"type"`
		Function struct {
			Name        string         `json:"name"`
			Description string         `json:"description"`
			Parameters  map[string]any `json:"parameters"`
		} `json:"function"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if decoded.Type != "function" {
		t.Errorf("expected type function, got %q", decoded.Type)
	}
	if decoded.Function.Name != "create-case" {
		t.Errorf("expected renamed tool, got %q", decoded.Function.Name)
	}
	if decoded.Function.Description != "Open a return or warranty case" {
		t.Errorf("unexpected description %q", decoded.Function.Description)
	}
	if decoded.Function.Parameters["type"] != "object" {
		t.Errorf("expected object schema, got %v", decoded.Function.Parameters["type"])
	}
	if ToOpenAI(nil, nil) != nil {
		t.Error("expected nil for no tools")
	}
}

func TestToAnthropic(t *testing.T) {
	result := ToAnthropic([]mcptypes.Tool{caseTool()})
	if len(result) != 1 || result[0].OfTool == nil {
		t.Fatalf("expected one tool param, got %+v", result)
	}

	data, err := json.Marshal(result[0])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		InputSchema struct {
			Type       string         `json:"type"`
			Properties map[string]any `json:"properties"`
			Required   []string       `json:"required"`
		} `json:"input_schema"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if decoded.Name != "create_case" {
		t.Errorf("expected name create_case, got %q", decoded.Name)
	}
	if decoded.InputSchema.Type != "object" {
		t.Errorf("expected object input schema, got %q", decoded.InputSchema.Type)
	}
	if len(decoded.InputSchema.Properties) != 3 {
		t.Errorf("expected 3 properties, got %d", len(decoded.InputSchema.Properties))
	}
	if !reflect.DeepEqual(decoded.InputSchema.Required, []string{"kind"}) {
		t.Errorf("expected required [kind], got %v", decoded.InputSchema.Required)
	}
}

func TestJSONSchemaAndMissingRequired(t *testing.T) {
	bare := mcptypes.Tool{Name: "noop"}
	schema := JSONSchema(bare)
	if schema["type"] != "object" {
		t.Errorf("expected default object type, got %v", schema["type"])
	}
	if _, ok := schema["required"]; ok {
		t.Error("expected no required key for empty schema")
	}

	tool := mcptypes.NewTool("t",
		mcptypes.WithString("b", mcptypes.Required()),
		mcptypes.WithString("a", mcptypes.Required()),
	)
	tests := []struct {
		name string
		args map[string]any
		want []string
	}{
		{"all missing", map[string]any{}, []string{"a", "b"}},
		{"nil counts as missing", map[string]any{"a": nil, "b": "x"}, []string{"a"}},
		{"none missing", map[string]any{"a": 1, "b": "x"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MissingRequired(tool, tt.args)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
