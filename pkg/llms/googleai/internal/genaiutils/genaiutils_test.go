package genaiutils

import (
	"encoding/json"
	"testing"

	"github.com/effective-security/mcpsse/pkg/llms"
	"github.com/invopop/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"google.golang.org/genai"
)

func TestConvertSchema(t *testing.T) {
	t.Parallel()

	res, err := ConvertSchema(nil)
	require.NoError(t, err)
	assert.Nil(t, res)

	tests := []struct {
		name       string
		definition *jsonschema.Schema
		validate   func(t *testing.T, result *genai.Schema)
	}{
		{
			name: "add_numbers arguments",
			definition: &jsonschema.Schema{
				Type: "object",
				Properties: orderedmap.New[string, *jsonschema.Schema](
					orderedmap.WithInitialData(
						orderedmap.Pair[string, *jsonschema.Schema]{
							Key:   "a",
							Value: &jsonschema.Schema{Type: "number", Description: "First number."},
						},
						orderedmap.Pair[string, *jsonschema.Schema]{
							Key:   "b",
							Value: &jsonschema.Schema{Type: "number", Description: "Second number."},
						},
					),
				),
				Required: []string{"a", "b"},
			},
			validate: func(t *testing.T, result *genai.Schema) {
				assert.Equal(t, genai.TypeObject, result.Type)
				assert.Equal(t, []string{"a", "b"}, result.Required)
				assert.Equal(t, []string{"a", "b"}, result.PropertyOrdering)
				require.Len(t, result.Properties, 2)
				assert.Equal(t, genai.TypeNumber, result.Properties["a"].Type)
				assert.Equal(t, "Second number.", result.Properties["b"].Description)
			},
		},
		{
			name: "array with items",
			definition: &jsonschema.Schema{
				Type: "array",
				Items: &jsonschema.Schema{
					Type:        "string",
					Description: "Array item",
					Enum:        []any{"basic", "advanced"},
				},
			},
			validate: func(t *testing.T, result *genai.Schema) {
				assert.Equal(t, genai.TypeArray, result.Type)
				require.NotNil(t, result.Items)
				assert.Equal(t, genai.TypeString, result.Items.Type)
				assert.Equal(t, []string{"basic", "advanced"}, result.Items.Enum)
			},
		},
		{
			name: "nested object",
			definition: &jsonschema.Schema{
				Type: "object",
				Properties: orderedmap.New[string, *jsonschema.Schema](
					orderedmap.WithInitialData(
						orderedmap.Pair[string, *jsonschema.Schema]{
							Key: "result",
							Value: &jsonschema.Schema{
								Type: "object",
								Properties: orderedmap.New[string, *jsonschema.Schema](
									orderedmap.WithInitialData(
										orderedmap.Pair[string, *jsonschema.Schema]{
											Key:   "stdout",
											Value: &jsonschema.Schema{Type: "string"},
										},
										orderedmap.Pair[string, *jsonschema.Schema]{
											Key:   "exit_code",
											Value: &jsonschema.Schema{Type: "integer"},
										},
									),
								),
							},
						},
					),
				),
			},
			validate: func(t *testing.T, result *genai.Schema) {
				require.Len(t, result.Properties, 1)
				nested := result.Properties["result"]
				assert.Equal(t, genai.TypeObject, nested.Type)
				require.Len(t, nested.Properties, 2)
				assert.Equal(t, genai.TypeString, nested.Properties["stdout"].Type)
				assert.Equal(t, genai.TypeInteger, nested.Properties["exit_code"].Type)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			result, err := ConvertSchema(tt.definition)
			require.NoError(t, err)
			tt.validate(t, result)
		})
	}
}

func TestConvertSchema_Types(t *testing.T) {
	t.Parallel()

	for name, exp := range map[string]genai.Type{
		"":        genai.TypeUnspecified,
		"object":  genai.TypeObject,
		"string":  genai.TypeString,
		"number":  genai.TypeNumber,
		"integer": genai.TypeInteger,
		"boolean": genai.TypeBoolean,
		"array":   genai.TypeArray,
	} {
		res, err := ConvertSchema(&jsonschema.Schema{Type: name})
		require.NoError(t, err)
		assert.Equal(t, exp, res.Type, name)
	}

	_, err := ConvertSchema(&jsonschema.Schema{Type: "null"})
	assert.EqualError(t, err, `unsupported schema type "null"`)

	_, err = ConvertSchema(&jsonschema.Schema{
		Type:  "array",
		Items: &jsonschema.Schema{Type: "null"},
	})
	assert.EqualError(t, err, `items: unsupported schema type "null"`)
}

func TestConvertTools(t *testing.T) {
	t.Parallel()

	searchDef := `{
		"properties": {
			"query": {
				"type": "string",
				"description": "The query to search the web for."
			}
		},
		"type": "object",
		"required": [
			"query"
		]
	}`

	var sc jsonschema.Schema
	require.NoError(t, json.Unmarshal([]byte(searchDef), &sc))

	result, err := ConvertTools([]llms.Tool{
		llms.NewFunctionTool("web_search", "Searches the web.", &sc),
		llms.NewFunctionTool("ping", "No arguments.", nil),
	})
	require.NoError(t, err)
	require.Len(t, result, 1)

	require.Len(t, result[0].FunctionDeclarations, 2)
	decl := result[0].FunctionDeclarations[0]
	assert.Equal(t, "web_search", decl.Name)
	assert.Equal(t, "Searches the web.", decl.Description)
	require.NotNil(t, decl.Parameters)
	assert.Equal(t, genai.TypeObject, decl.Parameters.Type)
	assert.Equal(t, []string{"query"}, decl.Parameters.Required)
	assert.Equal(t, genai.TypeString, decl.Parameters.Properties["query"].Type)

	assert.Equal(t, "ping", result[0].FunctionDeclarations[1].Name)
	assert.Nil(t, result[0].FunctionDeclarations[1].Parameters)

	result, err = ConvertTools(nil)
	require.NoError(t, err)
	assert.Nil(t, result)

	_, err = ConvertTools([]llms.Tool{{Type: "unsupported", Function: &llms.FunctionDefinition{Name: "test"}}})
	assert.EqualError(t, err, `tool [0]: unsupported type "unsupported", want 'function'`)

	_, err = ConvertTools([]llms.Tool{{Type: llms.ToolTypeFunction}})
	assert.EqualError(t, err, "tool [0]: function definition is missing")
}

func TestPtrHelpers(t *testing.T) {
	assert.Nil(t, Float32Ptr(0))
	assert.Equal(t, float32(0.5), *Float32Ptr(0.5))
}
