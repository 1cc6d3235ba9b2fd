package tavily_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/cockroachdb/errors"
	tavilyModels "github.com/diverged/tavily-go/models"
	"github.com/effective-security/mcpsse/mcp"
	"github.com/effective-security/mcpsse/pkg/llmutils"
	"github.com/effective-security/mcpsse/tools"
	"github.com/effective-security/mcpsse/tools/tavily"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeTavily(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)

		var req tavilyModels.SearchRequest
		err := json.NewDecoder(r.Body).Decode(&req)
		assert.NoError(t, err)

		if req.Query == "fail" {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("internal error"))
			return
		}

		assert.Equal(t, "What is capital of France", req.Query)
		assert.Equal(t, "basic", req.SearchDepth)

		resp := tavily.SearchResult{
			Results: []tavilyModels.SearchResult{
				{Title: "Test Result", URL: "https://example.com", Content: "Test content", Score: 0.9},
			},
		}
		if req.IncludeAnswer {
			resp.Answer = "Paris"
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(server.Close)
	return server
}

func Test_New(t *testing.T) {
	_, err := tavily.New("")
	assert.EqualError(t, err, "TAVILY_API_KEY is not set")
}

func Test_Tool(t *testing.T) {
	server := fakeTavily(t)
	ctx := context.Background()

	tool, err := tavily.New("testkey")
	require.NoError(t, err)
	tool.WithBaseURL(server.URL).WithHTTPClient(server.Client())

	assert.Equal(t, tavily.ToolName, tool.Name())
	assert.Contains(t, tool.Description(), "Search the web")

	expParams := `{
	"properties": {
		"query": {
			"type": "string",
			"description": "The search query string."
		}
	},
	"type": "object",
	"required": [
		"query"
	]
}`
	assert.Equal(t, expParams, llmutils.ToJSONIndent(tool.Parameters()))

	res, err := tool.Run(ctx, &tavily.SearchRequest{Query: "What is capital of France"})
	require.NoError(t, err)
	assert.Equal(t, "Paris", res.Answer)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "https://example.com", res.Results[0].URL)

	exp := `ANSWER: Paris
- URL: https://example.com
  TITLE: Test Result
  SCORE: 0.900000
  CONTENT: Test content
`
	assert.Equal(t, exp, res.String())

	out, err := tool.Call(ctx, "```json\n{\"query\": \"What is capital of France\"}\n```")
	require.NoError(t, err)
	assert.Contains(t, out, `"answer":"Paris"`)

	_, err = tool.Call(ctx, "plain string")
	assert.True(t, errors.Is(err, tools.ErrFailedUnmarshalInput))

	resp, err := tool.RunMCP(ctx, &tavily.SearchRequest{Query: "What is capital of France"})
	require.NoError(t, err)
	var decoded tavily.SearchResult
	require.NoError(t, json.Unmarshal([]byte(resp.Text()), &decoded))
	assert.Equal(t, "Paris", decoded.Answer)
	assert.Equal(t, "Test Result", decoded.Results[0].Title)

	_, err = tool.Run(ctx, &tavily.SearchRequest{})
	assert.EqualError(t, err, "invalid request: empty query")

	_, err = tool.RunMCP(ctx, &tavily.SearchRequest{Query: "fail"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to perform search")
}

func Test_RegisterMCP(t *testing.T) {
	tool, err := tavily.New("testkey")
	require.NoError(t, err)

	server := mcp.NewServer()
	require.NoError(t, tools.RegisterAll(server, tool))
	assert.Equal(t, []string{tavily.ToolName}, server.ToolNames())
}

func Test_Real(t *testing.T) {
	apiKey := os.Getenv("TAVILY_API_KEY")
	if apiKey == "" {
		t.Skip("TAVILY_API_KEY not set")
	}

	tool, err := tavily.New(apiKey)
	require.NoError(t, err)

	res, err := tool.Run(context.Background(), &tavily.SearchRequest{Query: "What is capital of France"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Results)
}
