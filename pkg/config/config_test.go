package config_test

import (
	"testing"

	"github.com/effective-security/mcpsse/pkg/config"
	"github.com/effective-security/mcpsse/pkg/llmfactory"
	"github.com/effective-security/mcpsse/pkg/llms"
	"github.com/effective-security/mcpsse/pkg/llms/googleai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolHost_Defaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("TAVILY_API_KEY", "")

	cfg, err := config.LoadToolHost("")
	require.NoError(t, err)
	assert.Equal(t, config.DefaultHost, cfg.Host)
	assert.Equal(t, config.DefaultPort, cfg.Port)
	assert.Equal(t, config.DefaultWorkspace, cfg.Workspace)
	assert.Equal(t, "0.0.0.0:8081", cfg.Addr())
	assert.EqualError(t, cfg.Validate(), "TAVILY_API_KEY is not set")

	t.Setenv("TAVILY_API_KEY", "tvly-test")
	t.Setenv("PORT", "9000")
	cfg, err = config.LoadToolHost("")
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "tvly-test", cfg.TavilyAPIKey)
	assert.NoError(t, cfg.Validate())

	t.Setenv("PORT", "abc")
	_, err = config.LoadToolHost("")
	assert.EqualError(t, err, "invalid PORT: abc")
}

func TestToolHost_Load(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("TAVILY_API_KEY", "tvly-test")

	cfg, err := config.LoadToolHost("testdata/toolhost.yaml")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "/tmp/mcp_workspace", cfg.Workspace)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.NotEmpty(t, cfg.TavilyAPIKey)
	assert.NoError(t, cfg.Validate())

	cfg.Port = 70000
	assert.Error(t, cfg.Validate())

	cfg.Port = 8081
	cfg.LogLevel = "LOUD"
	assert.Error(t, cfg.Validate())

	_, err = config.LoadToolHost("testdata/missing.yaml")
	assert.Error(t, err)
}

func TestQueryAgent(t *testing.T) {
	cfg, err := config.LoadQueryAgent("")
	require.NoError(t, err)
	assert.Equal(t, config.DefaultServerURL, cfg.ServerURL)
	require.NotNil(t, cfg.LLM)
	p := cfg.LLM.GetDefaultProvider()
	require.NotNil(t, p)
	assert.Equal(t, googleai.DefaultModel, p.DefaultModel)
	assert.NoError(t, cfg.Validate())

	cfg.ServerURL = "not a url"
	assert.Error(t, cfg.Validate())

	cfg.ServerURL = config.DefaultServerURL
	cfg.LLM = &llmfactory.Config{}
	assert.EqualError(t, cfg.Validate(), "no LLM providers configured")
}

func TestQueryAgent_Load(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "fakekey")

	cfg, err := config.LoadQueryAgent("testdata/queryagent.yaml")
	require.NoError(t, err)
	assert.Equal(t, "http://toolhost:8081/sse", cfg.ServerURL)
	assert.Equal(t, 30, cfg.RequestTimeout)
	assert.Equal(t, 0.2, cfg.Temperature)
	assert.Equal(t, 1024, cfg.MaxTokens)
	require.NoError(t, cfg.Validate())

	var o llms.CallOptions
	for _, opt := range cfg.CallOptions() {
		opt(&o)
	}
	assert.Equal(t, 0.2, o.Temperature)
	assert.Equal(t, 1024, o.MaxTokens)

	assert.Equal(t, "gemini-2.5-pro", cfg.Model)
	p := cfg.LLM.GetDefaultProvider()
	assert.Equal(t, "gemini", p.Name)
	assert.NotEmpty(t, p.Token)

	_, err = config.LoadQueryAgent("testdata/missing.yaml")
	assert.Error(t, err)
}
