package llms

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role of a message author
type Role string

// Roles
const (
	RoleAI      Role = "ai"
	RoleHuman   Role = "human"
	RoleSystem  Role = "system"
	RoleGeneric Role = "generic"
	RoleTool    Role = "tool"
)

// Message is one turn of the conversation sent to a model,
// for example a user query is a RoleHuman message with one TextContent part.
type Message struct {
	Role  Role          `json:"role"`
	Parts []ContentPart `json:"parts"`
}

// ContentPart is a part of a message: TextContent, ToolCall or ToolCallResponse
type ContentPart interface {
	isPart()
}

// TextContent is a text part
type TextContent struct {
	Text string `json:"text"`
}

// TextPart returns a text part
func TextPart(s string) TextContent {
	return TextContent{Text: s}
}

func (tc TextContent) String() string {
	return tc.Text
}

func (TextContent) isPart() {}

// FunctionCall is the function name and its JSON encoded arguments
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall is a tool invocation requested by the model
type ToolCall struct {
	// ID may be empty, Gemini does not assign call ids
	ID           string        `json:"id"`
	Type         string        `json:"type"`
	FunctionCall *FunctionCall `json:"function,omitempty"`
}

func (tc ToolCall) String() string {
	if tc.FunctionCall == nil {
		return "ToolCall: " + tc.ID
	}
	return fmt.Sprintf("ToolCall: %s (%s), input: %s", tc.ID, tc.FunctionCall.Name, tc.FunctionCall.Arguments)
}

func (ToolCall) isPart() {}

// ToolCallResponse is the result of a tool call sent back to the model
type ToolCallResponse struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Content    string `json:"content"`
}

func (tc ToolCallResponse) String() string {
	return fmt.Sprintf("ToolCallResponse: %s (%s), response size: %d", tc.ToolCallID, tc.Name, len(tc.Content))
}

func (ToolCallResponse) isPart() {}

// ContentResponse is the reply of GenerateContent, one choice per candidate
type ContentResponse struct {
	Choices []*ContentChoice
}

// ContentChoice is one candidate reply
type ContentChoice struct {
	Content    string `json:"content"`
	StopReason string `json:"stop_reason"`

	// GenerationInfo is provider specific, token usage is reported
	// as InputTokens, OutputTokens and TotalTokens.
	GenerationInfo map[string]any `json:"generation_info"`

	ToolCalls []ToolCall `json:"tool_calls"`
}

// MessageFromTextParts returns a message with one text part per string
func MessageFromTextParts(role Role, parts ...string) Message {
	msg := Message{
		Role:  role,
		Parts: make([]ContentPart, 0, len(parts)),
	}
	for _, part := range parts {
		msg.Parts = append(msg.Parts, TextPart(part))
	}
	return msg
}

// MessageFromToolCalls returns a message with copies of the tool calls
func MessageFromToolCalls(role Role, toolCalls ...ToolCall) Message {
	msg := Message{
		Role:  role,
		Parts: make([]ContentPart, 0, len(toolCalls)),
	}
	for _, tc := range toolCalls {
		if tc.FunctionCall != nil {
			fc := *tc.FunctionCall
			tc.FunctionCall = &fc
		}
		msg.Parts = append(msg.Parts, tc)
	}
	return msg
}

// MessageFromToolResponse returns a message with the tool response
func MessageFromToolResponse(role Role, resp ToolCallResponse) Message {
	return Message{
		Role:  role,
		Parts: []ContentPart{resp},
	}
}

// GetContent returns the message as text, one part per line.
// Tool calls and responses are rendered as JSON.
func (m Message) GetContent() string {
	var buf strings.Builder
	for _, p := range m.Parts {
		switch typ := p.(type) {
		case TextContent:
			buf.WriteString(typ.Text)
			if !strings.HasSuffix(typ.Text, "\n") {
				buf.WriteString("\n")
			}
		case ToolCall:
			js, _ := json.Marshal(typ)
			fmt.Fprintf(&buf, "Tool Call: %s\n", js)
		case ToolCallResponse:
			js, _ := json.Marshal(typ)
			fmt.Fprintf(&buf, "Response: %s\n", js)
		}
	}
	return buf.String()
}
