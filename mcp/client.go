package mcp

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpsse/mcp/internal/protocol"
	"github.com/effective-security/mcpsse/mcp/transport"
	"github.com/effective-security/xlog"
)

// ClientOption configures the Client
type ClientOption func(*Client)

// WithClientInfo sets the client name and version sent in initialize
func WithClientInfo(name, version string) ClientOption {
	return func(c *Client) {
		c.info = Implementation{Name: name, Version: version}
	}
}

// WithRequestTimeout overrides the default request timeout
func WithRequestTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.protocolOptions = &protocol.ProtocolOptions{RequestTimeout: timeout}
	}
}

// WithToolsChangedHandler sets a callback for notifications/tools/list_changed
func WithToolsChangedHandler(handler func()) ClientOption {
	return func(c *Client) {
		c.onToolsChanged = handler
	}
}

// Client is an MCP client over a single transport
type Client struct {
	transport       transport.Transport
	protocol        *protocol.Protocol
	protocolOptions *protocol.ProtocolOptions
	info            Implementation
	onToolsChanged  func()

	lock        sync.RWMutex
	initialized bool
	server      *InitializeResponse
}

// NewClient returns a client for tr. Call Initialize before any other method.
func NewClient(tr transport.Transport, opts ...ClientOption) *Client {
	c := &Client{
		transport: tr,
		info: Implementation{
			Name:    "mcpsse-client",
			Version: "1.0.0",
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.protocol = protocol.NewProtocol(c.protocolOptions)
	c.protocol.SetNotificationHandler("notifications/tools/list_changed", func(*transport.BaseJSONRPCNotification) error {
		logger.KV(xlog.DEBUG, "status", "tools_changed")
		if c.onToolsChanged != nil {
			c.onToolsChanged()
		}
		return nil
	})
	return c
}

// Initialize connects the transport and performs the initialize handshake
func (c *Client) Initialize(ctx context.Context) (*InitializeResponse, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.initialized {
		return nil, errors.New("client already initialized")
	}

	if err := c.protocol.Connect(ctx, c.transport); err != nil {
		return nil, errors.Wrap(err, "failed to connect")
	}

	raw, err := c.protocol.Request(ctx, "initialize", InitializeRequestParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      c.info,
	}, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize")
	}

	var res InitializeResponse
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal initialize response")
	}

	if err := c.protocol.Notification("notifications/initialized", nil); err != nil {
		return nil, errors.Wrap(err, "failed to send initialized notification")
	}

	c.initialized = true
	c.server = &res

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "initialized",
		"server", res.ServerInfo.Name,
		"server_version", res.ServerInfo.Version,
		"protocol", res.ProtocolVersion,
	)
	return &res, nil
}

// ServerInfo returns the initialize result, nil before Initialize
func (c *Client) ServerInfo() *InitializeResponse {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.server
}

func (c *Client) checkInitialized() error {
	c.lock.RLock()
	defer c.lock.RUnlock()
	if !c.initialized {
		return errors.New("client not initialized")
	}
	return nil
}

// ListTools returns one page of tools, starting after cursor
func (c *Client) ListTools(ctx context.Context, cursor *string) (*ToolsResponse, error) {
	if err := c.checkInitialized(); err != nil {
		return nil, err
	}

	raw, err := c.protocol.Request(ctx, "tools/list", ListToolsRequestParams{Cursor: cursor}, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list tools")
	}

	var res ToolsResponse
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal tools response")
	}
	return &res, nil
}

// ListAllTools follows the cursors and returns every tool
func (c *Client) ListAllTools(ctx context.Context) ([]ToolRetType, error) {
	var (
		all    []ToolRetType
		cursor *string
	)
	for {
		page, err := c.ListTools(ctx, cursor)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Tools...)
		if page.NextCursor == nil {
			return all, nil
		}
		cursor = page.NextCursor
	}
}

// CallTool invokes a tool. A tool that ran and failed returns a response
// with IsError set, and a nil error.
func (c *Client) CallTool(ctx context.Context, name string, arguments any) (*ToolResponse, error) {
	if err := c.checkInitialized(); err != nil {
		return nil, err
	}

	params := CallToolRequestParams{Name: name}
	if arguments != nil {
		if raw, ok := arguments.(json.RawMessage); ok {
			params.Arguments = raw
		} else {
			js, err := json.Marshal(arguments)
			if err != nil {
				return nil, errors.Wrap(err, "failed to marshal arguments")
			}
			params.Arguments = js
		}
	}

	raw, err := c.protocol.Request(ctx, "tools/call", params, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to call tool %s", name)
	}

	var res ToolResponse
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal tool response")
	}
	return &res, nil
}

// Ping checks that the server is responsive
func (c *Client) Ping(ctx context.Context) error {
	if err := c.checkInitialized(); err != nil {
		return err
	}
	_, err := c.protocol.Request(ctx, "ping", nil, nil)
	return errors.Wrap(err, "ping failed")
}

// Close closes the transport
func (c *Client) Close() error {
	return c.protocol.Close()
}
