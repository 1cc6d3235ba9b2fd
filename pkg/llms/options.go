package llms

import (
	"github.com/invopop/jsonschema"
)

// CallOption configures a GenerateContent call
type CallOption func(*CallOptions)

// CallOptions of a GenerateContent call, zero values mean the provider default
type CallOptions struct {
	Model          string
	CandidateCount int
	MaxTokens      int
	Temperature    float64
	TopK           int
	TopP           float64

	// Tools the model may call
	Tools []Tool
}

// ToolTypeFunction is the only supported tool type
const ToolTypeFunction = "function"

// Tool is a function declaration sent to the model
type Tool struct {
	Type     string              `json:"type"`
	Function *FunctionDefinition `json:"function,omitempty"`
}

// FunctionDefinition describes a function the model can call
type FunctionDefinition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	// Parameters is the JSON schema of the function arguments
	Parameters *jsonschema.Schema `json:"parameters,omitempty"`
}

// NewFunctionTool returns a function tool
func NewFunctionTool(name, description string, parameters *jsonschema.Schema) Tool {
	return Tool{
		Type: ToolTypeFunction,
		Function: &FunctionDefinition{
			Name:        name,
			Description: description,
			Parameters:  parameters,
		},
	}
}

// WithModel overrides the default model
func WithModel(model string) CallOption {
	return func(o *CallOptions) {
		o.Model = model
	}
}

// WithMaxTokens limits the number of generated tokens
func WithMaxTokens(maxTokens int) CallOption {
	return func(o *CallOptions) {
		o.MaxTokens = maxTokens
	}
}

// WithTemperature sets the sampling temperature, between 0 and 1
func WithTemperature(temperature float64) CallOption {
	return func(o *CallOptions) {
		o.Temperature = temperature
	}
}

// WithTools sets the tools the model may call
func WithTools(tools []Tool) CallOption {
	return func(o *CallOptions) {
		o.Tools = tools
	}
}
