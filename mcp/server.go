package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpsse/mcp/internal/protocol"
	"github.com/effective-security/mcpsse/mcp/transport"
	"github.com/effective-security/mcpsse/pkg/metricskey"
	"github.com/effective-security/mcpsse/pkg/schema"
	"github.com/effective-security/xlog"
	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpsse", "mcp")

var (
	contextType      = reflect.TypeOf((*context.Context)(nil)).Elem()
	toolResponseType = reflect.TypeOf((*ToolResponse)(nil))
	errorType        = reflect.TypeOf((*error)(nil)).Elem()
)

// ServerOption configures the Server
type ServerOption func(*Server)

// WithName sets the server name and version reported in initialize
func WithName(name, version string) ServerOption {
	return func(s *Server) {
		s.info = Implementation{Name: name, Version: version}
	}
}

// WithInstructions sets the instructions reported in initialize
func WithInstructions(instructions string) ServerOption {
	return func(s *Server) {
		s.instructions = instructions
	}
}

// WithPaginationLimit sets the page size of tools/list
func WithPaginationLimit(limit int) ServerOption {
	return func(s *Server) {
		s.paginationLimit = &limit
	}
}

// ToolOption configures a registered tool
type ToolOption func(*tool) error

// WithOutputType advertises the JSON schema of v as the tool output schema
func WithOutputType(v any) ToolOption {
	return func(t *tool) error {
		sc, err := schema.New(reflect.TypeOf(v))
		if err != nil {
			return errors.Wrap(err, "failed to create output schema")
		}
		t.OutputSchema = sc.Parameters
		return nil
	}
}

type toolHandler func(ctx context.Context, arguments json.RawMessage) (*toolResponseSent, error)

type tool struct {
	Name         string
	Description  string
	InputSchema  *jsonschema.Schema
	OutputSchema *jsonschema.Schema
	handler      toolHandler
}

// toolResponseSent is the result of a dispatched tool call,
// a non nil Error is reported to the client as a failed tool result
type toolResponseSent struct {
	Response *ToolResponse
	Error    error
}

// MarshalJSON writes the tool result, or the error as a failed tool result
func (c toolResponseSent) MarshalJSON() ([]byte, error) {
	if c.Error != nil {
		return json.Marshal(NewToolErrorResponse(NewTextContent(c.Error.Error())))
	}
	if c.Response == nil {
		return json.Marshal(NewToolResponse())
	}
	return json.Marshal(c.Response)
}

// Server is the MCP server holding the tool registry.
// One server is shared by all connected sessions.
type Server struct {
	info            Implementation
	instructions    string
	paginationLimit *int
	validate        *validator.Validate

	lock     sync.RWMutex
	tools    map[string]*tool
	sessions map[*protocol.Protocol]struct{}
}

// NewServer returns a server without tools
func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		info: Implementation{
			Name:    "mcpsse",
			Version: "1.0.0",
		},
		validate: validator.New(),
		tools:    make(map[string]*tool),
		sessions: make(map[*protocol.Protocol]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect serves a new session over tr, and starts the transport
func (s *Server) Connect(ctx context.Context, tr transport.Transport) error {
	p := protocol.NewProtocol(nil)
	p.SetRequestHandler("initialize", s.handleInitialize)
	p.SetRequestHandler("ping", s.handlePing)
	p.SetRequestHandler("tools/list", s.handleListTools)
	p.SetRequestHandler("tools/call", s.handleToolCalls)
	p.OnClose = func() {
		s.lock.Lock()
		delete(s.sessions, p)
		s.lock.Unlock()
	}

	s.lock.Lock()
	s.sessions[p] = struct{}{}
	s.lock.Unlock()

	if err := p.Connect(ctx, tr); err != nil {
		s.lock.Lock()
		delete(s.sessions, p)
		s.lock.Unlock()
		return errors.Wrap(err, "failed to start transport")
	}

	metricskey.StatsSessionsOpened.IncrCounter(1, s.info.Name)
	return nil
}

// SessionCount returns the number of connected sessions
func (s *Server) SessionCount() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return len(s.sessions)
}

// ToolNames returns the sorted names of the registered tools
func (s *Server) ToolNames() []string {
	s.lock.RLock()
	defer s.lock.RUnlock()
	names := make([]string, 0, len(s.tools))
	for name := range s.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterTool registers a tool handler.
// The handler must be func(args T) (*ToolResponse, error) or
// func(ctx context.Context, args T) (*ToolResponse, error),
// where T is a struct or a pointer to struct describing the arguments.
// Registering an existing name replaces the tool.
func (s *Server) RegisterTool(name string, description string, handler any, opts ...ToolOption) error {
	if name == "" {
		return errors.New("tool name is required")
	}

	argType, call, err := s.inspectHandler(handler)
	if err != nil {
		return errors.Wrapf(err, "invalid handler for tool %s", name)
	}

	sc, err := schema.New(argType)
	if err != nil {
		return errors.Wrapf(err, "failed to create input schema for tool %s", name)
	}

	t := &tool{
		Name:        name,
		Description: description,
		InputSchema: sc.Parameters,
		handler:     call,
	}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return errors.Wrapf(err, "invalid option for tool %s", name)
		}
	}

	s.lock.Lock()
	s.tools[name] = t
	s.lock.Unlock()

	logger.KV(xlog.DEBUG, "status", "registered", "tool", name)
	s.sendToolListChangedNotification()
	return nil
}

// DeregisterTool removes a tool
func (s *Server) DeregisterTool(name string) error {
	s.lock.Lock()
	_, ok := s.tools[name]
	delete(s.tools, name)
	s.lock.Unlock()

	if !ok {
		return errors.Errorf("tool not found: %s", name)
	}

	s.sendToolListChangedNotification()
	return nil
}

func (s *Server) sendToolListChangedNotification() {
	s.lock.RLock()
	sessions := make([]*protocol.Protocol, 0, len(s.sessions))
	for p := range s.sessions {
		sessions = append(sessions, p)
	}
	s.lock.RUnlock()

	for _, p := range sessions {
		if err := p.Notification("notifications/tools/list_changed", nil); err != nil {
			logger.KV(xlog.DEBUG, "status", "notification_failed", "err", err.Error())
		}
	}
}

// inspectHandler validates the handler signature,
// and returns the argument type and a generic dispatcher
func (s *Server) inspectHandler(handler any) (reflect.Type, toolHandler, error) {
	hv := reflect.ValueOf(handler)
	ht := hv.Type()
	if hv.Kind() != reflect.Func {
		return nil, nil, errors.Errorf("handler must be a function, got %s", ht)
	}

	withContext := false
	switch ht.NumIn() {
	case 1:
	case 2:
		if ht.In(0) != contextType {
			return nil, nil, errors.New("first argument must be context.Context")
		}
		withContext = true
	default:
		return nil, nil, errors.New("handler must take (args) or (context.Context, args)")
	}

	if ht.NumOut() != 2 || ht.Out(0) != toolResponseType || ht.Out(1) != errorType {
		return nil, nil, errors.New("handler must return (*ToolResponse, error)")
	}

	argType := ht.In(ht.NumIn() - 1)
	isPtr := argType.Kind() == reflect.Pointer
	structType := argType
	if isPtr {
		structType = argType.Elem()
	}
	if structType.Kind() != reflect.Struct {
		return nil, nil, errors.Errorf("arguments must be a struct, got %s", argType)
	}

	call := func(ctx context.Context, arguments json.RawMessage) (res *toolResponseSent, err error) {
		argPtr := reflect.New(structType)
		if len(arguments) > 0 && string(arguments) != "null" {
			if err := json.Unmarshal(arguments, argPtr.Interface()); err != nil {
				return nil, errors.Errorf("failed to unmarshal arguments: %s", err.Error())
			}
		}
		if err := s.validate.Struct(argPtr.Interface()); err != nil {
			return nil, errors.Errorf("invalid arguments: %s", err.Error())
		}

		in := make([]reflect.Value, 0, 2)
		if withContext {
			in = append(in, reflect.ValueOf(ctx))
		}
		if isPtr {
			in = append(in, argPtr)
		} else {
			in = append(in, argPtr.Elem())
		}

		defer func() {
			if r := recover(); r != nil {
				logger.ContextKV(ctx, xlog.ERROR, "status", "panic", "reason", r)
				res = &toolResponseSent{Error: errors.Errorf("internal error: %v", r)}
				err = nil
			}
		}()

		out := hv.Call(in)
		if e, _ := out[1].Interface().(error); e != nil {
			return &toolResponseSent{Error: e}, nil
		}
		resp, _ := out[0].Interface().(*ToolResponse)
		return &toolResponseSent{Response: resp}, nil
	}

	return argType, call, nil
}

func (s *Server) handleInitialize(ctx context.Context, req *transport.BaseJSONRPCRequest, _ protocol.RequestHandlerExtra) (transport.JsonRpcBody, error) {
	var params InitializeRequestParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, errors.Errorf("failed to unmarshal arguments: %s", err.Error())
		}
	}

	logger.ContextKV(ctx, xlog.INFO,
		"status", "initialize",
		"client", params.ClientInfo.Name,
		"client_version", params.ClientInfo.Version,
		"protocol", params.ProtocolVersion,
	)

	return InitializeResponse{
		ProtocolVersion: ProtocolVersion,
		Capabilities: ServerCapabilities{
			Tools: &ToolsCapability{ListChanged: true},
		},
		ServerInfo:   s.info,
		Instructions: s.instructions,
	}, nil
}

func (s *Server) handlePing(_ context.Context, _ *transport.BaseJSONRPCRequest, _ protocol.RequestHandlerExtra) (transport.JsonRpcBody, error) {
	return map[string]any{}, nil
}

func (s *Server) handleListTools(ctx context.Context, req *transport.BaseJSONRPCRequest, _ protocol.RequestHandlerExtra) (transport.JsonRpcBody, error) {
	var params ListToolsRequestParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, errors.Errorf("failed to unmarshal arguments: %s", err.Error())
		}
	}

	s.lock.RLock()
	list := make([]*tool, 0, len(s.tools))
	for _, t := range s.tools {
		list = append(list, t)
	}
	s.lock.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		return list[i].Name < list[j].Name
	})

	start := 0
	if params.Cursor != nil {
		c, err := base64.StdEncoding.DecodeString(*params.Cursor)
		if err != nil {
			return nil, errors.Errorf("invalid cursor: %s", *params.Cursor)
		}
		after := string(c)
		start = sort.Search(len(list), func(i int) bool {
			return list[i].Name > after
		})
	}

	end := len(list)
	if s.paginationLimit != nil && *s.paginationLimit > 0 && start+*s.paginationLimit < end {
		end = start + *s.paginationLimit
	}

	res := ToolsResponse{
		Tools: make([]ToolRetType, 0, end-start),
	}
	for _, t := range list[start:end] {
		rt := ToolRetType{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		}
		if t.OutputSchema != nil {
			rt.OutputSchema = t.OutputSchema
		}
		res.Tools = append(res.Tools, rt)
	}

	if end < len(list) {
		cursor := base64.StdEncoding.EncodeToString([]byte(list[end-1].Name))
		res.NextCursor = &cursor
	}

	logger.ContextKV(ctx, xlog.DEBUG, "tools", len(res.Tools), "has_more", res.NextCursor != nil)
	return res, nil
}

func (s *Server) handleToolCalls(ctx context.Context, req *transport.BaseJSONRPCRequest, _ protocol.RequestHandlerExtra) (transport.JsonRpcBody, error) {
	var params CallToolRequestParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, errors.Errorf("failed to unmarshal arguments: %s", err.Error())
	}

	s.lock.RLock()
	t := s.tools[params.Name]
	s.lock.RUnlock()

	if t == nil {
		metricskey.StatsToolCallsNotFound.IncrCounter(1, params.Name)
		return nil, errors.Errorf("unknown tool: %s", params.Name)
	}

	started := time.Now()
	defer metricskey.PerfToolCall.MeasureSince(started, t.Name)

	res, err := t.handler(ctx, params.Arguments)
	if err != nil {
		metricskey.StatsToolCallsFailed.IncrCounter(1, t.Name)
		return nil, err
	}

	if res.Error != nil || (res.Response != nil && res.Response.IsError) {
		metricskey.StatsToolCallsFailed.IncrCounter(1, t.Name)
		reason := ""
		if res.Error != nil {
			reason = res.Error.Error()
		}
		logger.ContextKV(ctx, xlog.WARNING,
			"status", "tool_failed",
			"tool", t.Name,
			"reason", reason,
			"elapsed", time.Since(started).String(),
		)
	} else {
		metricskey.StatsToolCallsSucceeded.IncrCounter(1, t.Name)
		logger.ContextKV(ctx, xlog.DEBUG,
			"status", "tool_called",
			"tool", t.Name,
			"elapsed", time.Since(started).String(),
		)
	}

	return res, nil
}

// String returns a short description of the registry
func (s *Server) String() string {
	return fmt.Sprintf("%s/%s tools=%v", s.info.Name, s.info.Version, s.ToolNames())
}
