package callbacks

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/effective-security/mcpsse/agent"
	"github.com/effective-security/mcpsse/pkg/llms"
	"github.com/effective-security/mcpsse/pkg/llmutils"
)

// TimeNowFn stamps the scratchpad lines
var TimeNowFn = time.Now

// RunStats are the counters of one query turn, or the totals of a session
type RunStats struct {
	TurnID string

	Duration            time.Duration
	Turns               uint32
	TurnsFailed         uint32
	TotalMessages       uint32
	LLMCalls            uint32
	LLMBytesOut         uint64
	LLMBytesIn          uint64
	LLMInputTokens      uint64
	LLMOutputTokens     uint64
	LLMTotalTokens      uint64
	ToolsCalls          uint32
	ToolsCallsSucceeded uint32
	ToolsCallsFailed    uint32
	ToolNotFound        uint32
}

func (s *RunStats) add(o *RunStats) {
	s.Duration += o.Duration
	s.Turns += o.Turns
	s.TurnsFailed += o.TurnsFailed
	s.TotalMessages += o.TotalMessages
	s.LLMCalls += o.LLMCalls
	s.LLMBytesOut += o.LLMBytesOut
	s.LLMBytesIn += o.LLMBytesIn
	s.LLMInputTokens += o.LLMInputTokens
	s.LLMOutputTokens += o.LLMOutputTokens
	s.LLMTotalTokens += o.LLMTotalTokens
	s.ToolsCalls += o.ToolsCalls
	s.ToolsCallsSucceeded += o.ToolsCallsSucceeded
	s.ToolsCallsFailed += o.ToolsCallsFailed
	s.ToolNotFound += o.ToolNotFound
}

func (s *RunStats) summary() []string {
	return []string{
		fmt.Sprintf("Tool calls: %d, Failed: %d, Not Found: %d",
			s.ToolsCalls, s.ToolsCallsFailed, s.ToolNotFound),
		fmt.Sprintf("LLM calls: %d, Messages: %d, Bytes Out: %d, Bytes In: %d, Bytes Total: %d, Input Tokens: %d, Output Tokens: %d, Total Tokens: %d",
			s.LLMCalls, s.TotalMessages,
			s.LLMBytesOut, s.LLMBytesIn, s.LLMBytesOut+s.LLMBytesIn,
			s.LLMInputTokens, s.LLMOutputTokens, s.LLMTotalTokens),
	}
}

// Scratchpad keeps a timestamped log and the counters of every query turn.
// A run lasts from the query to its answer or error,
// its log is flushed to Out when it ends.
type Scratchpad struct {
	Out io.Writer

	mode Mode

	lock   sync.Mutex
	runs   map[string]*run
	totals RunStats
}

// NewScratchpad returns a scratchpad writing finished runs to out, which may be nil
func NewScratchpad(out io.Writer, mode Mode) *Scratchpad {
	return &Scratchpad{
		Out:  out,
		mode: mode,
		runs: make(map[string]*run),
	}
}

// Totals returns the statistics of all ended runs
func (l *Scratchpad) Totals() RunStats {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.totals
}

// StartRun opens a run for the turn of ctx, if any
func (l *Scratchpad) StartRun(ctx context.Context) {
	turnID := agent.TurnID(ctx)
	if turnID == "" {
		return
	}

	r := &run{
		turnID:  turnID,
		started: time.Now(),
		stats:   RunStats{TurnID: turnID, Turns: 1},
	}

	l.lock.Lock()
	l.runs[turnID] = r
	l.lock.Unlock()

	r.print("*** Run Started ***")
}

// EndRun closes the run of ctx and returns its statistics and log,
// or nil when there is no open run.
func (l *Scratchpad) EndRun(ctx context.Context) (*RunStats, []byte) {
	turnID := agent.TurnID(ctx)

	l.lock.Lock()
	r := l.runs[turnID]
	delete(l.runs, turnID)
	l.lock.Unlock()

	if r == nil {
		return nil, nil
	}

	r.lock.Lock()
	stats := r.stats
	r.lock.Unlock()
	stats.Duration = time.Since(r.started)

	for _, line := range stats.summary() {
		r.print(line)
	}
	r.print(fmt.Sprintf("*** Run Ended. Duration: %s ***", stats.Duration))

	l.lock.Lock()
	l.totals.add(&stats)
	l.lock.Unlock()

	return &stats, r.w.Bytes()
}

func (l *Scratchpad) flush(ctx context.Context) {
	_, log := l.EndRun(ctx)
	if l.Out != nil && len(log) > 0 {
		_, _ = l.Out.Write(log)
	}
}

// with calls fn with the open run of ctx, if any
func (l *Scratchpad) with(ctx context.Context, fn func(r *run)) {
	turnID := agent.TurnID(ctx)
	if turnID == "" {
		return
	}

	l.lock.Lock()
	r := l.runs[turnID]
	l.lock.Unlock()

	if r != nil {
		fn(r)
	}
}

func (l *Scratchpad) OnQueryStart(ctx context.Context, agentName, query string) {
	l.StartRun(ctx)
	l.with(ctx, func(r *run) {
		r.print(agentName, "*** Query Start ***")
		r.print(agentName, "Input:", query)
	})
}

func (l *Scratchpad) OnQueryEnd(ctx context.Context, agentName string, turn *agent.Turn) {
	ended := false
	l.with(ctx, func(r *run) {
		if l.mode == ModeVerbose {
			r.print(agentName, "Output:", turn.Answer)
		}
		r.print(agentName, "*** Query End ***")
		ended = true
	})
	if ended {
		l.flush(ctx)
	}
}

func (l *Scratchpad) OnQueryError(ctx context.Context, agentName, _ string, err error) {
	ended := false
	l.with(ctx, func(r *run) {
		r.count(func(s *RunStats) { s.TurnsFailed++ })
		r.print(agentName, "*** Error ***", err.Error())
		ended = true
	})
	if ended {
		l.flush(ctx)
	}
}

func (l *Scratchpad) OnLLMCallStart(ctx context.Context, agentName string, llm llms.Model, payload []llms.Message) {
	l.with(ctx, func(r *run) {
		r.count(func(s *RunStats) {
			s.LLMCalls++
			s.TotalMessages += uint32(len(payload))
			s.LLMBytesOut += llmutils.CountMessagesContentSize(payload)
		})
		r.print(agentName, "*** LLM Call ***", fmt.Sprintf("%s model, %d messages", llm.GetName(), len(payload)))
		if l.mode == ModeVerbose {
			var buf strings.Builder
			llmutils.PrintMessages(&buf, payload)
			r.print(agentName, "Messages:\n"+buf.String())
		}
	})
}

func (l *Scratchpad) OnLLMCallEnd(ctx context.Context, agentName string, llm llms.Model, resp *llms.ContentResponse) {
	l.with(ctx, func(r *run) {
		in, out, total := llmutils.CountTokens(resp)
		r.count(func(s *RunStats) {
			s.LLMBytesIn += llmutils.CountResponseContentSize(resp)
			s.LLMInputTokens += uint64(in)
			s.LLMOutputTokens += uint64(out)
			s.LLMTotalTokens += uint64(total)
		})
		r.print(agentName, "*** LLM Call End ***",
			fmt.Sprintf("%s model, %d input tokens, %d output tokens, %d total tokens", llm.GetName(), in, out, total))
	})
}

func (l *Scratchpad) OnToolStart(ctx context.Context, agentName, tool, input string) {
	l.with(ctx, func(r *run) {
		r.count(func(s *RunStats) { s.ToolsCalls++ })
		r.print(agentName, tool, "*** Tool Start ***")
		r.print(agentName, tool, "Input:", input)
	})
}

func (l *Scratchpad) OnToolEnd(ctx context.Context, agentName, tool, _, output string) {
	l.with(ctx, func(r *run) {
		r.count(func(s *RunStats) { s.ToolsCallsSucceeded++ })
		if l.mode == ModeVerbose {
			r.print(agentName, tool, "Output:", output)
		}
		r.print(agentName, tool, "*** Tool End ***")
	})
}

func (l *Scratchpad) OnToolError(ctx context.Context, agentName, tool, _ string, err error) {
	l.with(ctx, func(r *run) {
		r.count(func(s *RunStats) { s.ToolsCallsFailed++ })
		r.print(agentName, tool, "*** Tool Error ***", err.Error())
	})
}

func (l *Scratchpad) OnToolNotFound(ctx context.Context, agentName, tool string) {
	l.with(ctx, func(r *run) {
		r.count(func(s *RunStats) { s.ToolNotFound++ })
		r.print(agentName, "*** Tool Not Found ***", tool)
	})
}

type run struct {
	turnID  string
	started time.Time

	lock  sync.Mutex
	w     bytes.Buffer
	stats RunStats
}

func (r *run) count(fn func(s *RunStats)) {
	r.lock.Lock()
	fn(&r.stats)
	r.lock.Unlock()
}

// print appends one line: "<timestamp> <turnID> <entries joined by space>"
func (r *run) print(entries ...string) {
	line := TimeNowFn().Format(time.DateTime) + " " + r.turnID + " " + strings.Join(entries, " ") + "\n"

	r.lock.Lock()
	_, _ = r.w.WriteString(line)
	r.lock.Unlock()
}
