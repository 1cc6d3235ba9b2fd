package tools

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpsse/mcp"
)

// ErrFailedUnmarshalInput is returned by Call when the input does not match the tool parameters
var ErrFailedUnmarshalInput = errors.New("failed to unmarshal input: check the schema and try again")

// Registrar accepts tool handlers, implemented by mcp.Server
type Registrar interface {
	RegisterTool(name string, description string, handler any, opts ...mcp.ToolOption) error
}

var _ Registrar = (*mcp.Server)(nil)

// Descriptor is what a client sees in tools/list
type Descriptor interface {
	Name() string
	Description() string
	// Parameters returns the JSON schema of the input
	Parameters() any
}

// Tool can be called in-process with typed or JSON input
type Tool[I any, O any] interface {
	Descriptor
	// Call parses the JSON input and returns the JSON result.
	// ErrFailedUnmarshalInput is returned when the input can not be parsed.
	Call(ctx context.Context, input string) (string, error)
	Run(ctx context.Context, req *I) (*O, error)
}

// Registerable is a tool that can be served over MCP
type Registerable interface {
	Descriptor
	RegisterMCP(registrar Registrar) error
}

// MCPTool is the MCP handler of a tool
type MCPTool[I any] interface {
	Registerable
	RunMCP(ctx context.Context, req *I) (*mcp.ToolResponse, error)
}

// RegisterAll registers the tools in order, stopping at the first failure
func RegisterAll(registrar Registrar, list ...Registerable) error {
	for _, tool := range list {
		if err := tool.RegisterMCP(registrar); err != nil {
			return errors.Wrapf(err, "failed to register tool %s", tool.Name())
		}
	}
	return nil
}
