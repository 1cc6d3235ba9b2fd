// Package llmutils provides helpers to render and measure LLM messages.
package llmutils

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/effective-security/mcpsse/pkg/llms"
	"github.com/effective-security/x/values"
	"gopkg.in/yaml.v3"
)

// CleanJSON returns the JSON object or array found in bs,
// text before the first opening and after the last closing bracket is dropped.
// For example, the model may reply with "Here you go: ```json {...} ```".
func CleanJSON(bs []byte) []byte {
	start := firstIndex(bytes.IndexByte(bs, '{'), bytes.IndexByte(bs, '['))
	if start < 0 {
		return bs
	}
	bs = bs[start:]

	end := max(bytes.LastIndexByte(bs, '}'), bytes.LastIndexByte(bs, ']'))
	if end < 0 {
		return bs
	}
	return bs[:end+1]
}

// firstIndex returns the smallest non-negative index, or -1
func firstIndex(a, b int) int {
	switch {
	case a < 0:
		return b
	case b < 0:
		return a
	default:
		return min(a, b)
	}
}

// ToJSON returns compact JSON of val, or empty string on error
func ToJSON(val any) string {
	js, _ := json.Marshal(val)
	return string(js)
}

// ToJSONIndent returns tab indented JSON of val
func ToJSONIndent(val any) string {
	js, _ := json.MarshalIndent(val, "", "\t")
	return string(js)
}

// ToYAML returns YAML of val
func ToYAML(val any) string {
	y, _ := yaml.Marshal(val)
	return string(y)
}

// BackticksJSON wraps js into a markdown json block
func BackticksJSON(js string) string {
	return "\n```json\n" + strings.TrimSpace(js) + "\n```\n"
}

// PrintMessages is a debugging helper that writes one line per message part.
func PrintMessages(w io.Writer, msgs []llms.Message) {
	for _, mc := range msgs {
		fmt.Fprintf(w, "%s: ", strings.ToUpper(string(mc.Role)))
		if len(mc.Parts) == 0 {
			fmt.Fprintln(w)
		}
		for _, p := range mc.Parts {
			switch pp := p.(type) {
			case llms.TextContent:
				fmt.Fprintln(w, pp.Text)
			case llms.ToolCall:
				if pp.FunctionCall == nil {
					fmt.Fprintf(w, "ToolCall ID=%s\n", pp.ID)
					continue
				}
				fmt.Fprintf(w, "ToolCall ID=%s, Func=%s(%s)\n", pp.ID, pp.FunctionCall.Name, pp.FunctionCall.Arguments)
			case llms.ToolCallResponse:
				fmt.Fprintf(w, "ToolCallResponse ID=%s, Name=%s, Content=%s\n", pp.ToolCallID, pp.Name, pp.Content)
			}
		}
	}
}

// CountMessagesContentSize returns the number of bytes sent to the model
func CountMessagesContentSize(msgs []llms.Message) uint64 {
	var size int
	for _, mc := range msgs {
		size += len(mc.Role)
		for _, p := range mc.Parts {
			switch pp := p.(type) {
			case llms.TextContent:
				size += len(pp.Text)
			case llms.ToolCall:
				size += toolCallSize(pp)
			case llms.ToolCallResponse:
				size += len(pp.ToolCallID) + len(pp.Name) + len(pp.Content)
			}
		}
	}
	return uint64(size)
}

// CountResponseContentSize returns the number of bytes received from the model
func CountResponseContentSize(resp *llms.ContentResponse) uint64 {
	var size int
	for _, choice := range resp.Choices {
		size += len(choice.Content)
		for _, tc := range choice.ToolCalls {
			size += toolCallSize(tc)
		}
	}
	return uint64(size)
}

func toolCallSize(tc llms.ToolCall) int {
	size := len(tc.ID) + len(tc.Type)
	if tc.FunctionCall != nil {
		size += len(tc.FunctionCall.Name) + len(tc.FunctionCall.Arguments)
	}
	return size
}

// CountTokens sums the token usage reported in the choices GenerationInfo
func CountTokens(resp *llms.ContentResponse) (in, out, total int64) {
	for _, choice := range resp.Choices {
		ma := values.MapAny(choice.GenerationInfo)
		in += ma.Int64("InputTokens")
		out += ma.Int64("OutputTokens")
		total += ma.Int64("TotalTokens")
	}
	return
}
