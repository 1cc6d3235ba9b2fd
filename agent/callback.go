package agent

import (
	"context"

	"github.com/effective-security/mcpsse/pkg/llms"
)

// Callback receives the agent events
type Callback interface {
	OnQueryStart(ctx context.Context, agentName, query string)
	OnQueryEnd(ctx context.Context, agentName string, turn *Turn)
	OnQueryError(ctx context.Context, agentName, query string, err error)

	OnLLMCallStart(ctx context.Context, agentName string, llm llms.Model, payload []llms.Message)
	OnLLMCallEnd(ctx context.Context, agentName string, llm llms.Model, resp *llms.ContentResponse)

	OnToolStart(ctx context.Context, agentName, tool, input string)
	OnToolEnd(ctx context.Context, agentName, tool, input, output string)
	OnToolError(ctx context.Context, agentName, tool, input string, err error)
	OnToolNotFound(ctx context.Context, agentName, tool string)
}

type noop struct{}

func (noop) OnQueryStart(context.Context, string, string)                            {}
func (noop) OnQueryEnd(context.Context, string, *Turn)                               {}
func (noop) OnQueryError(context.Context, string, string, error)                     {}
func (noop) OnLLMCallStart(context.Context, string, llms.Model, []llms.Message)      {}
func (noop) OnLLMCallEnd(context.Context, string, llms.Model, *llms.ContentResponse) {}
func (noop) OnToolStart(context.Context, string, string, string)                     {}
func (noop) OnToolEnd(context.Context, string, string, string, string)               {}
func (noop) OnToolError(context.Context, string, string, string, error)              {}
func (noop) OnToolNotFound(context.Context, string, string)                          {}

type contextKey int

const (
	keyTurnID contextKey = iota
)

// WithTurnID returns a new context with the turn ID
func WithTurnID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyTurnID, id)
}

// TurnID returns the ID of the turn being processed,
// or empty string if the context has none.
func TurnID(ctx context.Context) string {
	if v, ok := ctx.Value(keyTurnID).(string); ok {
		return v
	}
	return ""
}
