package schema_test

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/effective-security/mcpsse/pkg/llmutils"
	"github.com/effective-security/mcpsse/pkg/schema"
	"github.com/invopop/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type SearchType string

// Search represents a search request with various parameters.
type Search struct {
	Topic string     `json:"topic,omitempty" jsonschema:"title=Topic,description=Topic of the search\\, with coma.,example=golang"`
	Query string     `json:"query" jsonschema:"title=Query,description=Query to search for relevant content,example=what is golang"`
	Type  SearchType `json:"type"  jsonschema:"title=Type,description=Type of search,default=web,enum=web,enum=image,enum=video"`
	Args  []*KVPair  `json:"args,omitempty" jsonschema:"title=Args,description=Arguments for the search"`
	Prov  *KVPair    `json:"prov,omitempty" jsonschema:"title=Prov,description=Provider for the search"`
}

// KVPair represents a key-value pair.
type KVPair struct {
	Key   string `json:"key" jsonschema:"title=Key,description=Key of the pair"`
	Value string `json:"value" jsonschema:"title=Value,description=Value of the pair"`
}

type Empty struct{}

func TestSchema(t *testing.T) {
	t.Parallel()

	t.Run("Search", func(t *testing.T) {
		t.Parallel()
		s, err := schema.New(reflect.TypeOf(Search{}))
		require.NoError(t, err)

		exp := `{
	"properties": {
		"topic": {
			"type": "string",
			"title": "Topic",
			"description": "Topic of the search, with coma.",
			"examples": [
				"golang"
			]
		},
		"query": {
			"type": "string",
			"title": "Query",
			"description": "Query to search for relevant content",
			"examples": [
				"what is golang"
			]
		},
		"type": {
			"type": "string",
			"enum": [
				"web",
				"image",
				"video"
			],
			"title": "Type",
			"description": "Type of search",
			"default": "web"
		},
		"args": {
			"items": {
				"properties": {
					"key": {
						"type": "string",
						"title": "Key",
						"description": "Key of the pair"
					},
					"value": {
						"type": "string",
						"title": "Value",
						"description": "Value of the pair"
					}
				},
				"type": "object",
				"required": [
					"key",
					"value"
				]
			},
			"type": "array",
			"title": "Args",
			"description": "Arguments for the search"
		},
		"prov": {
			"properties": {
				"key": {
					"type": "string",
					"title": "Key",
					"description": "Key of the pair"
				},
				"value": {
					"type": "string",
					"title": "Value",
					"description": "Value of the pair"
				}
			},
			"type": "object",
			"required": [
				"key",
				"value"
			],
			"title": "Prov",
			"description": "Provider for the search"
		}
	},
	"type": "object",
	"required": [
		"query",
		"type"
	]
}`
		assert.Equal(t, exp, s.String())
		assert.Equal(t, exp, llmutils.ToJSONIndent(s.Parameters))

		// pointer types share the cached schema
		s2, err := schema.New(reflect.TypeOf(&Search{}))
		require.NoError(t, err)
		assert.Same(t, s, s2)
	})

	t.Run("Weather", func(t *testing.T) {
		t.Parallel()

		type weatherRequest struct {
			Location string `json:"location" jsonschema:"description=City name"`
			Unit     string `json:"unit" jsonschema:"description=Unit of measurement,enum=celsius,enum=fahrenheit"`
		}

		s, err := schema.New(reflect.TypeOf(weatherRequest{}))
		require.NoError(t, err)
		exp := `{
	"properties": {
		"location": {
			"type": "string",
			"description": "City name"
		},
		"unit": {
			"type": "string",
			"enum": [
				"celsius",
				"fahrenheit"
			],
			"description": "Unit of measurement"
		}
	},
	"type": "object",
	"required": [
		"location",
		"unit"
	]
}`
		assert.Equal(t, exp, s.String())

		var sc jsonschema.Schema
		err = json.Unmarshal([]byte(exp), &sc)
		require.NoError(t, err)
		assert.Equal(t, 2, sc.Properties.Len())
	})

	t.Run("Empty", func(t *testing.T) {
		t.Parallel()
		s, err := schema.New(reflect.TypeOf(Empty{}))
		require.NoError(t, err)
		require.NotNil(t, s.Parameters.Properties)
		assert.Equal(t, 0, s.Parameters.Properties.Len())
		assert.Equal(t, "object", s.Parameters.Type)
	})
}

func TestSchemaFromAny(t *testing.T) {
	t.Parallel()

	sc, err := schema.FromAny(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type": "string",
			},
		},
		"required": []string{"query"},
	})
	require.NoError(t, err)

	exp := `{
	"properties": {
		"query": {
			"type": "string"
		}
	},
	"type": "object",
	"required": [
		"query"
	]
}`
	assert.Equal(t, exp, llmutils.ToJSONIndent(sc))

	_, err = schema.FromAny(func() {})
	assert.Error(t, err)
}

func TestStripTitles(t *testing.T) {
	t.Parallel()

	assert.Nil(t, schema.StripTitles(nil))

	s, err := schema.New(reflect.TypeOf(Search{}))
	require.NoError(t, err)

	// strip a copy, the cached schema stays intact
	sc, err := schema.FromAny(s.Parameters)
	require.NoError(t, err)
	schema.StripTitles(sc)

	js := llmutils.ToJSON(sc)
	assert.NotContains(t, js, `"title"`)
	assert.Contains(t, s.String(), `"title": "Query"`)

	prov, ok := sc.Properties.Get("prov")
	require.True(t, ok)
	assert.Empty(t, prov.Title)
	assert.Equal(t, "Provider for the search", prov.Description)

	args, ok := sc.Properties.Get("args")
	require.True(t, ok)
	key, ok := args.Items.Properties.Get("key")
	require.True(t, ok)
	assert.Empty(t, key.Title)

	titled, err := schema.FromAny(map[string]any{
		"type":  "object",
		"title": "Book",
		"properties": map[string]any{
			"title": map[string]any{"type": "string", "title": "Title"},
		},
	})
	require.NoError(t, err)
	schema.StripTitles(titled)
	assert.Equal(t, `{"properties":{"title":{"type":"string"}},"type":"object"}`, llmutils.ToJSON(titled))
}
