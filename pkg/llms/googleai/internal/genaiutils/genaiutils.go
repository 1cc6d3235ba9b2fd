// Package genaiutils converts tool declarations to the genai types.
package genaiutils

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpsse/pkg/llms"
	"github.com/invopop/jsonschema"
	"google.golang.org/genai"
)

// ConvertTools returns a single genai tool holding one function declaration
// per tool, or nil when the list is empty.
func ConvertTools(tools []llms.Tool) ([]*genai.Tool, error) {
	if len(tools) == 0 {
		return nil, nil
	}

	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for i, tool := range tools {
		if tool.Type != llms.ToolTypeFunction {
			return nil, errors.Errorf("tool [%d]: unsupported type %q, want 'function'", i, tool.Type)
		}
		fn := tool.Function
		if fn == nil {
			return nil, errors.Errorf("tool [%d]: function definition is missing", i)
		}

		params, err := ConvertSchema(fn.Parameters)
		if err != nil {
			return nil, errors.Wrapf(err, "tool [%d]", i)
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        fn.Name,
			Description: fn.Description,
			Parameters:  params,
		})
	}

	return []*genai.Tool{{FunctionDeclarations: decls}}, nil
}

// ConvertSchema converts a JSON schema to genai.Schema, keeping the property order.
func ConvertSchema(js *jsonschema.Schema) (*genai.Schema, error) {
	if js == nil {
		return nil, nil
	}

	typ := genai.TypeUnspecified
	if js.Type != "" {
		t, ok := schemaTypes[js.Type]
		if !ok {
			return nil, errors.Errorf("unsupported schema type %q", js.Type)
		}
		typ = t
	}

	res := &genai.Schema{
		Type:        typ,
		Title:       js.Title,
		Description: js.Description,
		Format:      js.Format,
		Required:    js.Required,
	}
	for _, e := range js.Enum {
		res.Enum = append(res.Enum, fmt.Sprint(e))
	}

	if js.Properties != nil && js.Properties.Len() > 0 {
		res.Properties = make(map[string]*genai.Schema, js.Properties.Len())
		for pair := js.Properties.Oldest(); pair != nil; pair = pair.Next() {
			prop, err := ConvertSchema(pair.Value)
			if err != nil {
				return nil, errors.Wrapf(err, "property [%s]", pair.Key)
			}
			res.Properties[pair.Key] = prop
			res.PropertyOrdering = append(res.PropertyOrdering, pair.Key)
		}
	}

	if js.Items != nil {
		items, err := ConvertSchema(js.Items)
		if err != nil {
			return nil, errors.Wrap(err, "items")
		}
		res.Items = items
	}

	return res, nil
}

var schemaTypes = map[string]genai.Type{
	"object":  genai.TypeObject,
	"string":  genai.TypeString,
	"number":  genai.TypeNumber,
	"integer": genai.TypeInteger,
	"boolean": genai.TypeBoolean,
	"array":   genai.TypeArray,
}

// Float32Ptr returns nil for zero, so the API default applies
func Float32Ptr(f float32) *float32 {
	if f == 0 {
		return nil
	}
	return &f
}
