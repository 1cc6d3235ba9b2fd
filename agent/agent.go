// Package agent implements the query agent: it exposes the tools of an MCP
// Tool Host to a LLM and answers user queries one turn at a time.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpsse/mcp"
	"github.com/effective-security/mcpsse/pkg/llms"
	"github.com/effective-security/mcpsse/pkg/llmutils"
	"github.com/effective-security/mcpsse/pkg/metricskey"
	"github.com/effective-security/mcpsse/pkg/schema"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
	"github.com/google/uuid"
)

//go:generate mockgen -destination=../mocks/mockllms/llm_mock.gen.go -package mockllms github.com/effective-security/mcpsse/pkg/llms Model

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpsse", "agent")

const (
	// DefaultName is the agent name used in metrics and logs
	DefaultName = "queryagent"

	// ToolDescriptionSuffix is appended to every tool description sent to the model
	ToolDescriptionSuffix = " The tool returns its result as a string."
)

// ToolHost is the remote side providing the tools, implemented by mcp.Client
type ToolHost interface {
	ListAllTools(ctx context.Context) ([]mcp.ToolRetType, error)
	CallTool(ctx context.Context, name string, arguments any) (*mcp.ToolResponse, error)
}

var _ ToolHost = (*mcp.Client)(nil)

// Turn is the result of one processed query
type Turn struct {
	ID    uuid.UUID
	Query string
	// ToolCalls are the tool calls requested by the model, in order
	ToolCalls []llms.ToolCall
	// ToolResults are the textual results of ToolCalls
	ToolResults []string
	// Answer is the final answer, parts joined by new line
	Answer   string
	Duration time.Duration
}

// Option configures the Agent
type Option func(*Agent)

// WithName sets the agent name
func WithName(name string) Option {
	return func(a *Agent) {
		a.name = values.StringsCoalesce(name, a.name)
	}
}

// WithCallback sets the callback handler
func WithCallback(cb Callback) Option {
	return func(a *Agent) {
		if cb != nil {
			a.callback = cb
		}
	}
}

// WithOutput sets the writer for the tool call echo lines
func WithOutput(w io.Writer) Option {
	return func(a *Agent) {
		if w != nil {
			a.out = w
		}
	}
}

// WithCallOptions sets the options passed to every model call
func WithCallOptions(opts ...llms.CallOption) Option {
	return func(a *Agent) {
		a.callOpts = append(a.callOpts, opts...)
	}
}

// Agent answers queries with a LLM and the tools of a ToolHost.
// It is not safe for concurrent queries.
type Agent struct {
	llm      llms.Model
	host     ToolHost
	name     string
	callback Callback
	out      io.Writer
	callOpts []llms.CallOption

	loaded    bool
	tools     []llms.Tool
	toolNames map[string]bool
}

// New returns the agent
func New(llm llms.Model, host ToolHost, opts ...Option) *Agent {
	a := &Agent{
		llm:      llm,
		host:     host,
		name:     DefaultName,
		callback: noop{},
		out:      io.Discard,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns the agent name
func (a *Agent) Name() string {
	return a.name
}

// Tools returns the function declarations sent to the model
func (a *Agent) Tools() []llms.Tool {
	return a.tools
}

// LoadTools fetches the tool list from the host and converts it to
// function declarations.
func (a *Agent) LoadTools(ctx context.Context) error {
	list, err := a.host.ListAllTools(ctx)
	if err != nil {
		return errors.WithMessage(err, "failed to list tools")
	}

	converted, err := ConvertTools(list)
	if err != nil {
		return err
	}

	a.tools = converted
	a.toolNames = make(map[string]bool, len(converted))
	names := make([]string, 0, len(converted))
	for _, t := range converted {
		a.toolNames[t.Function.Name] = true
		names = append(names, t.Function.Name)
	}
	a.loaded = true

	sort.Strings(names)
	logger.ContextKV(ctx, xlog.INFO,
		"agent", a.name,
		"status", "tools_loaded",
		"tools", names,
	)
	return nil
}

// ConvertTools converts MCP tool descriptors to model function declarations.
// Titles are removed from the input schemas and the description
// is suffixed with ToolDescriptionSuffix.
func ConvertTools(list []mcp.ToolRetType) ([]llms.Tool, error) {
	res := make([]llms.Tool, 0, len(list))
	for _, t := range list {
		if t.Name == "" {
			return nil, errors.New("tool name is empty")
		}

		var input any = map[string]any{"type": "object"}
		if t.InputSchema != nil {
			input = t.InputSchema
		}
		params, err := schema.FromAny(input)
		if err != nil {
			return nil, errors.WithMessagef(err, "invalid input schema for tool %s", t.Name)
		}
		schema.StripTitles(params)
		if params.Type == "" {
			params.Type = "object"
		}

		res = append(res, llms.NewFunctionTool(t.Name, t.Description+ToolDescriptionSuffix, params))
	}
	return res, nil
}

// ProcessQuery answers the query. Tools requested by the model are called on
// the host, and the model is asked again with the tool result to produce
// the final answer.
func (a *Agent) ProcessQuery(ctx context.Context, query string) (*Turn, error) {
	started := time.Now()
	defer metricskey.PerfAgentTurn.MeasureSince(started, a.name)

	turn := &Turn{
		ID:    uuid.New(),
		Query: query,
	}
	ctx = WithTurnID(ctx, turn.ID.String())

	a.callback.OnQueryStart(ctx, a.name, query)

	err := a.process(ctx, turn)
	turn.Duration = time.Since(started)
	if err != nil {
		metricskey.StatsAgentTurnsFailed.IncrCounter(1, a.name)
		logger.ContextKV(ctx, xlog.ERROR,
			"agent", a.name,
			"turn", turn.ID.String(),
			"err", err.Error(),
		)
		a.callback.OnQueryError(ctx, a.name, query, err)
		return nil, err
	}

	metricskey.StatsAgentTurnsSucceeded.IncrCounter(1, a.name)
	logger.ContextKV(ctx, xlog.DEBUG,
		"agent", a.name,
		"turn", turn.ID.String(),
		"tool_calls", len(turn.ToolCalls),
		"duration", turn.Duration.String(),
	)
	a.callback.OnQueryEnd(ctx, a.name, turn)
	return turn, nil
}

func (a *Agent) process(ctx context.Context, turn *Turn) error {
	if !a.loaded {
		if err := a.LoadTools(ctx); err != nil {
			return err
		}
	}

	userMsg := llms.MessageFromTextParts(llms.RoleHuman, turn.Query)

	resp, err := a.generate(ctx, []llms.Message{userMsg}, llms.WithTools(a.tools))
	if err != nil {
		return err
	}

	var answer []string
	for _, choice := range resp.Choices {
		if choice.Content != "" {
			answer = append(answer, choice.Content)
		}

		for _, tc := range choice.ToolCalls {
			if tc.FunctionCall == nil {
				return errors.Errorf("tool call %s without function", tc.ID)
			}

			fmt.Fprintf(a.out, "\n[Gemini requested tool call: %s with args %s]\n", tc.FunctionCall.Name, tc.FunctionCall.Arguments)

			result, err := a.callTool(ctx, tc)
			if err != nil {
				return err
			}
			turn.ToolCalls = append(turn.ToolCalls, tc)
			turn.ToolResults = append(turn.ToolResults, result)

			messages := []llms.Message{
				userMsg,
				llms.MessageFromToolCalls(llms.RoleAI, tc),
				llms.MessageFromToolResponse(llms.RoleTool, llms.ToolCallResponse{
					ToolCallID: tc.ID,
					Name:       tc.FunctionCall.Name,
					Content:    result,
				}),
			}

			final, err := a.generate(ctx, messages, llms.WithTools(a.tools))
			if err != nil {
				return err
			}

			first := final.Choices[0]
			if len(first.ToolCalls) > 0 {
				logger.ContextKV(ctx, xlog.WARNING,
					"agent", a.name,
					"status", "follow_up_tool_calls_ignored",
					"count", len(first.ToolCalls),
				)
			}
			if first.Content != "" {
				answer = append(answer, first.Content)
			}
		}
	}

	turn.Answer = strings.Join(answer, "\n")
	return nil
}

// generate calls the model and reports the call to the callback and metrics
func (a *Agent) generate(ctx context.Context, messages []llms.Message, opts ...llms.CallOption) (*llms.ContentResponse, error) {
	modelName := a.llm.GetName()

	a.callback.OnLLMCallStart(ctx, a.name, a.llm, messages)
	metricskey.StatsLLMMessagesSent.IncrCounter(float64(len(messages)), a.name, modelName)

	callOpts := make([]llms.CallOption, 0, len(a.callOpts)+len(opts))
	callOpts = append(callOpts, a.callOpts...)
	callOpts = append(callOpts, opts...)

	started := time.Now()
	resp, err := a.llm.GenerateContent(ctx, messages, callOpts...)
	metricskey.PerfLLMCall.MeasureSince(started, a.name, modelName)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to generate content from LLM")
	}

	a.callback.OnLLMCallEnd(ctx, a.name, a.llm, resp)

	tokensIn, tokensOut, tokensTotal := llmutils.CountTokens(resp)
	metricskey.StatsLLMInputTokens.IncrCounter(float64(tokensIn), a.name, modelName)
	metricskey.StatsLLMOutputTokens.IncrCounter(float64(tokensOut), a.name, modelName)
	metricskey.StatsLLMTotalTokens.IncrCounter(float64(tokensTotal), a.name, modelName)

	if len(resp.Choices) == 0 {
		return nil, errors.Errorf("%s: LLM returned empty response", a.name)
	}
	return resp, nil
}

// callTool invokes the tool on the host. A tool failure reported by the host
// is returned as text for the model; a failure to reach the host is an error.
func (a *Agent) callTool(ctx context.Context, tc llms.ToolCall) (string, error) {
	toolName := tc.FunctionCall.Name
	input := tc.FunctionCall.Arguments

	if !a.toolNames[toolName] {
		metricskey.StatsToolCallsNotFound.IncrCounter(1, toolName)
		a.callback.OnToolNotFound(ctx, a.name, toolName)
		return "", errors.Errorf("tool %s not found", toolName)
	}

	args := map[string]any{}
	if strings.TrimSpace(input) != "" {
		if err := json.Unmarshal([]byte(input), &args); err != nil {
			return "", errors.Wrapf(err, "invalid arguments for %s", toolName)
		}
	}

	a.callback.OnToolStart(ctx, a.name, toolName, input)

	started := time.Now()
	resp, err := a.host.CallTool(ctx, toolName, args)
	metricskey.PerfToolCall.MeasureSince(started, toolName)
	if err != nil {
		metricskey.StatsToolCallsFailed.IncrCounter(1, toolName)
		a.callback.OnToolError(ctx, a.name, toolName, input, err)
		return "", errors.WithMessagef(err, "failed to call tool %s", toolName)
	}

	output := resp.Text()
	if resp.IsError {
		metricskey.StatsToolCallsFailed.IncrCounter(1, toolName)
		a.callback.OnToolError(ctx, a.name, toolName, input, errors.New(output))
		return output, nil
	}

	metricskey.StatsToolCallsSucceeded.IncrCounter(1, toolName)
	a.callback.OnToolEnd(ctx, a.name, toolName, input, output)
	return output, nil
}
