// Package callbacks provides handlers for the query agent events.
package callbacks

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/effective-security/mcpsse/agent"
	"github.com/effective-security/mcpsse/pkg/llms"
	"github.com/effective-security/mcpsse/pkg/llmutils"
	"github.com/effective-security/xlog"
)

// ensure that the callbacks implement the correct interfaces
var (
	_ agent.Callback = (*Noop)(nil)
	_ agent.Callback = (*Printer)(nil)
	_ agent.Callback = (*PackageLogger)(nil)
	_ agent.Callback = (*Fanout)(nil)
	_ agent.Callback = (*Scratchpad)(nil)
)

// Mode defines the mode for callback printing
type Mode int

const (
	// ModeDefault is the default mode for callback printing
	ModeDefault Mode = iota
	// ModeVerbose is the verbose mode for callback printing
	ModeVerbose
)

// Fanout is a callback handler that forwards the events to multiple callbacks.
type Fanout struct {
	callbacks []agent.Callback
}

func NewFanout(callbacks ...agent.Callback) *Fanout {
	return &Fanout{callbacks: callbacks}
}

func (l *Fanout) Add(callback agent.Callback) {
	l.callbacks = append(l.callbacks, callback)
}

func (l *Fanout) OnQueryStart(ctx context.Context, agentName, query string) {
	for _, callback := range l.callbacks {
		callback.OnQueryStart(ctx, agentName, query)
	}
}

func (l *Fanout) OnQueryEnd(ctx context.Context, agentName string, turn *agent.Turn) {
	for _, callback := range l.callbacks {
		callback.OnQueryEnd(ctx, agentName, turn)
	}
}

func (l *Fanout) OnQueryError(ctx context.Context, agentName, query string, err error) {
	for _, callback := range l.callbacks {
		callback.OnQueryError(ctx, agentName, query, err)
	}
}

func (l *Fanout) OnLLMCallStart(ctx context.Context, agentName string, llm llms.Model, payload []llms.Message) {
	for _, callback := range l.callbacks {
		callback.OnLLMCallStart(ctx, agentName, llm, payload)
	}
}

func (l *Fanout) OnLLMCallEnd(ctx context.Context, agentName string, llm llms.Model, resp *llms.ContentResponse) {
	for _, callback := range l.callbacks {
		callback.OnLLMCallEnd(ctx, agentName, llm, resp)
	}
}

func (l *Fanout) OnToolStart(ctx context.Context, agentName, tool, input string) {
	for _, callback := range l.callbacks {
		callback.OnToolStart(ctx, agentName, tool, input)
	}
}

func (l *Fanout) OnToolEnd(ctx context.Context, agentName, tool, input, output string) {
	for _, callback := range l.callbacks {
		callback.OnToolEnd(ctx, agentName, tool, input, output)
	}
}

func (l *Fanout) OnToolError(ctx context.Context, agentName, tool, input string, err error) {
	for _, callback := range l.callbacks {
		callback.OnToolError(ctx, agentName, tool, input, err)
	}
}

func (l *Fanout) OnToolNotFound(ctx context.Context, agentName, tool string) {
	for _, callback := range l.callbacks {
		callback.OnToolNotFound(ctx, agentName, tool)
	}
}

// Noop does nothing.
type Noop struct{}

func NewNoop() *Noop {
	return &Noop{}
}

func (l *Noop) OnQueryStart(ctx context.Context, agentName, query string)            {}
func (l *Noop) OnQueryEnd(ctx context.Context, agentName string, turn *agent.Turn)   {}
func (l *Noop) OnQueryError(ctx context.Context, agentName, query string, err error) {}
func (l *Noop) OnToolStart(ctx context.Context, agentName, tool, input string)       {}
func (l *Noop) OnToolEnd(ctx context.Context, agentName, tool, input, output string) {}
func (l *Noop) OnToolNotFound(ctx context.Context, agentName, tool string)           {}
func (l *Noop) OnToolError(ctx context.Context, agentName, tool, input string, err error) {
}
func (l *Noop) OnLLMCallStart(ctx context.Context, agentName string, llm llms.Model, payload []llms.Message) {
}
func (l *Noop) OnLLMCallEnd(ctx context.Context, agentName string, llm llms.Model, resp *llms.ContentResponse) {
}

// Printer is a callback handler that prints to the Writer.
type Printer struct {
	Out  io.Writer
	Mode Mode

	lock sync.Mutex
}

func NewPrinter(out io.Writer, mode Mode) *Printer {
	return &Printer{Out: out, Mode: mode}
}

func (l *Printer) OnQueryStart(ctx context.Context, agentName, query string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Query Start: %s\n", agentName)
	fmt.Fprintf(l.Out, "Input: %s\n", query)
}

func (l *Printer) OnQueryEnd(ctx context.Context, agentName string, turn *agent.Turn) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Query End: %s, %d tool calls, %s\n", agentName, len(turn.ToolCalls), turn.Duration)
	if l.Mode == ModeVerbose && turn.Answer != "" {
		fmt.Fprintln(l.Out, turn.Answer)
	}
}

func (l *Printer) OnQueryError(ctx context.Context, agentName, query string, err error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Query Error: %s: %s\n", agentName, err.Error())
}

func (l *Printer) OnLLMCallStart(ctx context.Context, agentName string, llm llms.Model, payload []llms.Message) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "LLM Call: %s: %s model, %d messages\n", agentName, llm.GetName(), len(payload))
	if l.Mode == ModeVerbose {
		llmutils.PrintMessages(l.Out, payload)
	}
}

func (l *Printer) OnLLMCallEnd(ctx context.Context, agentName string, llm llms.Model, resp *llms.ContentResponse) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "LLM Call End: %s: %s model, %d choices\n", agentName, llm.GetName(), len(resp.Choices))
}

func (l *Printer) OnToolStart(ctx context.Context, agentName, tool, input string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Tool Start: %s (%s)\n", tool, agentName)
	fmt.Fprintf(l.Out, "Input: %s\n", input)
}

func (l *Printer) OnToolEnd(ctx context.Context, agentName, tool, input, output string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Tool End: %s (%s)\n", tool, agentName)
	if l.Mode == ModeVerbose {
		fmt.Fprintf(l.Out, "Output: %s\n", output)
	}
}

func (l *Printer) OnToolError(ctx context.Context, agentName, tool, input string, err error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Tool Error: %s (%s): %s\n", tool, agentName, err.Error())
}

func (l *Printer) OnToolNotFound(ctx context.Context, agentName, tool string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Tool Not Found: %s\n", tool)
}

// PackageLogger is a callback handler that prints to the logger.
type PackageLogger struct {
	logger *xlog.PackageLogger
}

func NewPackageLogger(logger *xlog.PackageLogger) *PackageLogger {
	return &PackageLogger{logger: logger}
}

func (l *PackageLogger) OnQueryStart(ctx context.Context, agentName, query string) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "query_start",
		"agent", agentName,
		"turn", agent.TurnID(ctx),
		"input", query,
	)
}

func (l *PackageLogger) OnQueryEnd(ctx context.Context, agentName string, turn *agent.Turn) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "query_end",
		"agent", agentName,
		"turn", turn.ID.String(),
		"tool_calls", len(turn.ToolCalls),
		"duration", turn.Duration.String(),
	)
}

func (l *PackageLogger) OnQueryError(ctx context.Context, agentName, query string, err error) {
	l.logger.ContextKV(ctx, xlog.ERROR,
		"event", "query_error",
		"agent", agentName,
		"turn", agent.TurnID(ctx),
		"err", err.Error(),
	)
}

func (l *PackageLogger) OnLLMCallStart(ctx context.Context, agentName string, llm llms.Model, payload []llms.Message) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "llm_call_start",
		"agent", agentName,
		"model", llm.GetName(),
		"messages", len(payload),
	)
}

func (l *PackageLogger) OnLLMCallEnd(ctx context.Context, agentName string, llm llms.Model, resp *llms.ContentResponse) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "llm_call_end",
		"agent", agentName,
		"model", llm.GetName(),
		"choices", len(resp.Choices),
	)
}

func (l *PackageLogger) OnToolStart(ctx context.Context, agentName, tool, input string) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "tool_start",
		"agent", agentName,
		"tool", tool,
		"input", input,
	)
}

func (l *PackageLogger) OnToolEnd(ctx context.Context, agentName, tool, input, output string) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "tool_end",
		"agent", agentName,
		"tool", tool,
		"output", output,
	)
}

func (l *PackageLogger) OnToolError(ctx context.Context, agentName, tool, input string, err error) {
	l.logger.ContextKV(ctx, xlog.ERROR,
		"event", "tool_error",
		"agent", agentName,
		"tool", tool,
		"err", err.Error(),
	)
}

func (l *PackageLogger) OnToolNotFound(ctx context.Context, agentName, tool string) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "tool_not_found",
		"agent", agentName,
		"tool", tool,
	)
}
