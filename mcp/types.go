package mcp

import (
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
)

// ProtocolVersion is the MCP revision implemented by this package
const ProtocolVersion = "2024-11-05"

// ContentType is the type of a content block
type ContentType string

const (
	// ContentTypeText is a plain text block
	ContentTypeText ContentType = "text"
)

// TextContent is a text content block
type TextContent struct {
	Text string `json:"text"`
}

// Content is a block of a tool result
type Content struct {
	Type        ContentType
	TextContent *TextContent
}

// NewTextContent returns a text content block
func NewTextContent(content string) *Content {
	return &Content{
		Type:        ContentTypeText,
		TextContent: &TextContent{Text: content},
	}
}

// MarshalJSON flattens the block into {"type":..., "text":...}
func (c *Content) MarshalJSON() ([]byte, error) {
	switch c.Type {
	case ContentTypeText:
		if c.TextContent == nil {
			return nil, errors.New("text content is nil")
		}
		return json.Marshal(struct {
			Type ContentType `json:"type"`
			Text string      `json:"text"`
		}{
			Type: c.Type,
			Text: c.TextContent.Text,
		})
	}
	return nil, errors.Errorf("unsupported content type: %q", c.Type)
}

// UnmarshalJSON parses a flattened block. Blocks of unknown type keep only the type.
func (c *Content) UnmarshalJSON(b []byte) error {
	var raw struct {
		Type ContentType `json:"type"`
		Text *string     `json:"text"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return errors.Wrap(err, "invalid content")
	}
	c.Type = raw.Type
	if raw.Type == ContentTypeText {
		if raw.Text == nil {
			return errors.New("text content is missing text")
		}
		c.TextContent = &TextContent{Text: *raw.Text}
	}
	return nil
}

// ToolResponse is the result of a tool call
type ToolResponse struct {
	Content []*Content `json:"content"`
	// IsError is set when the tool ran but failed,
	// the error description is in Content
	IsError bool `json:"isError,omitempty"`
}

// NewToolResponse returns a successful tool result
func NewToolResponse(content ...*Content) *ToolResponse {
	return &ToolResponse{
		Content: content,
	}
}

// NewToolErrorResponse returns a tool result flagged as failed
func NewToolErrorResponse(content ...*Content) *ToolResponse {
	return &ToolResponse{
		Content: content,
		IsError: true,
	}
}

// Text returns the text blocks joined by new line
func (r *ToolResponse) Text() string {
	if r == nil {
		return ""
	}
	var parts []string
	for _, c := range r.Content {
		if c != nil && c.TextContent != nil {
			parts = append(parts, c.TextContent.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ToolRetType describes a tool in tools/list
type ToolRetType struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	// InputSchema is the JSON schema of the tool arguments
	InputSchema any `json:"inputSchema"`
	// OutputSchema is the JSON schema of the structured result, if any
	OutputSchema any `json:"outputSchema,omitempty"`
}

// ToolsResponse is the result of tools/list
type ToolsResponse struct {
	Tools      []ToolRetType `json:"tools"`
	NextCursor *string       `json:"nextCursor,omitempty"`
}

// ListToolsRequestParams is the params of tools/list
type ListToolsRequestParams struct {
	Cursor *string `json:"cursor,omitempty"`
}

// CallToolRequestParams is the params of tools/call
type CallToolRequestParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Implementation describes the name and version of an MCP peer
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ToolsCapability is advertised by servers that offer tools
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ServerCapabilities is advertised in the initialize result
type ServerCapabilities struct {
	Tools *ToolsCapability `json:"tools,omitempty"`
}

// InitializeRequestParams is the params of initialize
type InitializeRequestParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      Implementation `json:"clientInfo"`
}

// InitializeResponse is the result of initialize
type InitializeResponse struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Implementation     `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}
