// Package arith provides the add_numbers tool.
package arith

import (
	"context"
	"encoding/json"
	"reflect"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpsse/mcp"
	"github.com/effective-security/mcpsse/pkg/llmutils"
	"github.com/effective-security/mcpsse/pkg/schema"
	"github.com/effective-security/mcpsse/tools"
)

const ToolName = "add_numbers"

// AddRequest is the tool input
type AddRequest struct {
	A float64 `json:"a" yaml:"a" jsonschema:"description=First number."`
	B float64 `json:"b" yaml:"b" jsonschema:"description=Second number."`
}

// AddResult is the tool output
type AddResult struct {
	Sum float64 `json:"sum" yaml:"sum" jsonschema:"description=The sum of a and b."`
}

// Tool adds two numbers
type Tool struct {
	name        string
	description string
	funcParams  any
}

var (
	_ tools.Tool[AddRequest, AddResult] = (*Tool)(nil)
	_ tools.MCPTool[AddRequest]         = (*Tool)(nil)
)

func New() (*Tool, error) {
	sc, err := schema.New(reflect.TypeOf(AddRequest{}))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create schema")
	}
	return &Tool{
		name:        ToolName,
		description: "Adds two numbers together and returns the sum of a and b.",
		funcParams:  sc.Parameters,
	}, nil
}

func (t *Tool) Name() string {
	return t.name
}

func (t *Tool) Description() string {
	return t.description
}

func (t *Tool) Parameters() any {
	return t.funcParams
}

func (t *Tool) Run(_ context.Context, req *AddRequest) (*AddResult, error) {
	return &AddResult{Sum: req.A + req.B}, nil
}

func (t *Tool) Call(ctx context.Context, input string) (string, error) {
	var req AddRequest
	if err := json.Unmarshal(llmutils.CleanJSON([]byte(input)), &req); err != nil {
		return "", errors.WithStack(tools.ErrFailedUnmarshalInput)
	}
	out, err := t.Run(ctx, &req)
	if err != nil {
		return "", err
	}
	return llmutils.ToJSON(out), nil
}

func (t *Tool) RegisterMCP(registrar tools.Registrar) error {
	return registrar.RegisterTool(t.name, t.description, t.RunMCP, mcp.WithOutputType(AddResult{}))
}

// RunMCP returns the sum formatted the shortest way, 579 rather than 579.000000
func (t *Tool) RunMCP(ctx context.Context, req *AddRequest) (*mcp.ToolResponse, error) {
	out, err := t.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResponse(mcp.NewTextContent(strconv.FormatFloat(out.Sum, 'f', -1, 64))), nil
}
