// Package config provides the configuration of the Tool Host and the query agent.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpsse/pkg/llmfactory"
	"github.com/effective-security/mcpsse/pkg/llms"
	"github.com/effective-security/x/configloader"
	"github.com/effective-security/x/values"
	"github.com/go-playground/validator/v10"
)

const (
	// DefaultHost is the Tool Host bind address
	DefaultHost = "0.0.0.0"
	// DefaultPort is the Tool Host port, PORT env overrides it
	DefaultPort = 8081
	// DefaultWorkspace is the working directory of run_command
	DefaultWorkspace = "mcp_workspace"
	// DefaultServerURL is the Tool Host SSE endpoint used by the query agent
	DefaultServerURL = "http://localhost:8081/sse"
)

// ToolHost is the Tool Host configuration
type ToolHost struct {
	Host         string `json:"host" yaml:"host" validate:"required"`
	Port         int    `json:"port" yaml:"port" validate:"min=1,max=65535"`
	Workspace    string `json:"workspace" yaml:"workspace" validate:"required"`
	TavilyAPIKey string `json:"tavily_api_key,omitempty" yaml:"tavily_api_key,omitempty" validate:"required"`
	LogLevel     string `json:"log_level,omitempty" yaml:"log_level,omitempty" validate:"omitempty,oneof=DEBUG INFO WARNING ERROR"`
}

// QueryAgent is the query agent configuration
type QueryAgent struct {
	ServerURL string `json:"server_url" yaml:"server_url" validate:"required,url"`
	// Model overrides the default model of the default provider
	Model string `json:"model,omitempty" yaml:"model,omitempty"`
	// RequestTimeout is the MCP request timeout in seconds
	RequestTimeout int `json:"request_timeout,omitempty" yaml:"request_timeout,omitempty" validate:"min=0"`
	// Temperature and MaxTokens are passed to the model when set
	Temperature float64            `json:"temperature,omitempty" yaml:"temperature,omitempty" validate:"min=0,max=2"`
	MaxTokens   int                `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty" validate:"min=0"`
	LogLevel    string             `json:"log_level,omitempty" yaml:"log_level,omitempty" validate:"omitempty,oneof=DEBUG INFO WARNING ERROR"`
	LLM         *llmfactory.Config `json:"llm,omitempty" yaml:"llm,omitempty"`
}

var validate = validator.New()

// LoadToolHost returns the Tool Host config from file,
// the file is optional and missing values are set to the defaults.
func LoadToolHost(file string) (*ToolHost, error) {
	cfg := new(ToolHost)
	if file != "" {
		if err := configloader.UnmarshalAndExpand(file, cfg); err != nil {
			return nil, errors.WithMessagef(err, "failed to load config %s", file)
		}
	}
	if err := cfg.SetDefaults(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SetDefaults sets the missing values
func (c *ToolHost) SetDefaults() error {
	port := 0
	if env := os.Getenv("PORT"); env != "" {
		p, err := strconv.Atoi(env)
		if err != nil {
			return errors.Errorf("invalid PORT: %s", env)
		}
		port = p
	}

	c.Host = values.StringsCoalesce(c.Host, DefaultHost)
	c.Port = values.NumbersCoalesce(c.Port, port, DefaultPort)
	c.Workspace = values.StringsCoalesce(c.Workspace, DefaultWorkspace)
	c.TavilyAPIKey = values.StringsCoalesce(c.TavilyAPIKey, os.Getenv("TAVILY_API_KEY"))
	c.LogLevel = strings.ToUpper(c.LogLevel)
	return nil
}

// Validate returns error if the config is invalid
func (c *ToolHost) Validate() error {
	if c.TavilyAPIKey == "" {
		return errors.New("TAVILY_API_KEY is not set")
	}
	return errors.WithStack(validate.Struct(c))
}

// Addr returns the listen address
func (c *ToolHost) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// LoadQueryAgent returns the query agent config from file,
// the file is optional and missing values are set to the defaults.
func LoadQueryAgent(file string) (*QueryAgent, error) {
	cfg := new(QueryAgent)
	if file != "" {
		if err := configloader.UnmarshalAndExpand(file, cfg); err != nil {
			return nil, errors.WithMessagef(err, "failed to load config %s", file)
		}
	}
	cfg.SetDefaults()
	return cfg, nil
}

// SetDefaults sets the missing values
func (c *QueryAgent) SetDefaults() {
	c.ServerURL = values.StringsCoalesce(c.ServerURL, DefaultServerURL)
	c.LogLevel = strings.ToUpper(c.LogLevel)
	if c.LLM == nil || len(c.LLM.Providers) == 0 {
		c.LLM = llmfactory.DefaultConfig()
	}
}

// Validate returns error if the config is invalid
func (c *QueryAgent) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.WithStack(err)
	}
	if c.LLM.GetDefaultProvider() == nil {
		return errors.New("no LLM providers configured")
	}
	return nil
}

// CallOptions returns the model options set in the config
func (c *QueryAgent) CallOptions() []llms.CallOption {
	var opts []llms.CallOption
	if c.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(c.Temperature))
	}
	if c.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(c.MaxTokens))
	}
	return opts
}
