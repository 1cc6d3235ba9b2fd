package llms_test

import (
	"testing"

	"github.com/effective-security/mcpsse/pkg/llms"
	"github.com/effective-security/mcpsse/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptions(t *testing.T) {
	params, err := schema.FromAny(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string"},
		},
	})
	require.NoError(t, err)

	tools := []llms.Tool{
		llms.NewFunctionTool("web_search", "Searches the web.", params),
	}

	o := llms.CallOptions{TopK: 10}
	for _, opt := range []llms.CallOption{
		llms.WithModel("gemini-test"),
		llms.WithMaxTokens(100),
		llms.WithTemperature(0.5),
		llms.WithTools(tools),
	} {
		opt(&o)
	}

	assert.Equal(t, "gemini-test", o.Model)
	assert.Equal(t, 100, o.MaxTokens)
	assert.Equal(t, 0.5, o.Temperature)
	assert.Equal(t, 10, o.TopK)
	require.Len(t, o.Tools, 1)
	assert.Equal(t, llms.ToolTypeFunction, o.Tools[0].Type)
	assert.Equal(t, "web_search", o.Tools[0].Function.Name)
	assert.Same(t, params, o.Tools[0].Function.Parameters)
}
