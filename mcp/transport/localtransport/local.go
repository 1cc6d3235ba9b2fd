// Package localtransport provides an in-process transport pair:
// a stateless server Transport that answers one message at a time,
// and a client transport that calls it through the Handler interface.
package localtransport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpsse/mcp/transport"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpsse/mcp/transport", "localtransport")

// Transport is the server side of the local transport.
// Server initiated requests and notifications have no channel to travel on,
// and are dropped.
type Transport struct {
	messageHandler func(ctx context.Context, message *transport.BaseJsonRpcMessage)
	errorHandler   func(error)
	closeHandler   func()
	mu             sync.RWMutex
	responseMap    map[int64]chan *transport.BaseJsonRpcMessage
	atomicCounter  int64
	closeOnce      sync.Once
}

func New() *Transport {
	return &Transport{
		responseMap: make(map[int64]chan *transport.BaseJsonRpcMessage),
	}
}

func (s *Transport) Start(ctx context.Context) error {
	return nil
}

// Close closes the connection.
func (s *Transport) Close() error {
	s.mu.RLock()
	handler := s.closeHandler
	s.mu.RUnlock()

	s.closeOnce.Do(func() {
		if handler != nil {
			handler()
		}
	})
	return nil
}

func (s *Transport) SetErrorHandler(handler func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorHandler = handler
}

func (s *Transport) SetCloseHandler(handler func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeHandler = handler
}

func (s *Transport) SetMessageHandler(handler func(ctx context.Context, message *transport.BaseJsonRpcMessage)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messageHandler = handler
}

// Send routes a response to the HandleMessage call waiting for it
func (s *Transport) Send(ctx context.Context, message *transport.BaseJsonRpcMessage) error {
	switch message.Type {
	case transport.BaseMessageTypeJSONRPCResponseType, transport.BaseMessageTypeJSONRPCErrorType:
	default:
		logger.ContextKV(ctx, xlog.DEBUG, "status", "dropped", "type", message.Type)
		return nil
	}

	key := int64(message.MessageID())

	s.mu.RLock()
	responseChannel := s.responseMap[key]
	s.mu.RUnlock()

	if responseChannel == nil {
		return errors.Errorf("no response channel found for key: %d", key)
	}
	select {
	case responseChannel <- message:
	default:
		return errors.Errorf("duplicate response for key: %d", key)
	}
	return nil
}

// HandleMessage processes an incoming message and returns the response.
// Notifications and responses return nil message.
func (s *Transport) HandleMessage(ctx context.Context, body []byte) (*transport.BaseJsonRpcMessage, error) {
	msg, err := transport.ParseMessage(body)
	if err != nil {
		s.mu.RLock()
		errorHandler := s.errorHandler
		s.mu.RUnlock()
		if errorHandler != nil {
			errorHandler(err)
		}
		return nil, err
	}

	s.mu.RLock()
	handler := s.messageHandler
	s.mu.RUnlock()
	if handler == nil {
		return nil, errors.New("not connected")
	}

	if msg.Type != transport.BaseMessageTypeJSONRPCRequestType {
		handler(ctx, msg)
		return nil, nil
	}

	key := atomic.AddInt64(&s.atomicCounter, 1)
	ch := make(chan *transport.BaseJsonRpcMessage, 1)

	s.mu.Lock()
	s.responseMap[key] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.responseMap, key)
		s.mu.Unlock()
	}()

	prevID := msg.JsonRpcRequest.Id
	msg.JsonRpcRequest.Id = transport.RequestId(key)
	handler(ctx, msg)

	var res *transport.BaseJsonRpcMessage
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, errors.WithStack(ctx.Err())
	}

	switch res.Type {
	case transport.BaseMessageTypeJSONRPCResponseType:
		r := *res.JsonRpcResponse
		r.Id = prevID
		return transport.NewBaseMessageResponse(&r), nil
	default:
		e := *res.JsonRpcError
		e.Id = prevID
		return transport.NewBaseMessageError(&e), nil
	}
}

// HandleMCP implements Handler
func (s *Transport) HandleMCP(ctx context.Context, req *McpProxyRequest) (*McpProxyResponse, error) {
	res, err := s.HandleMessage(ctx, req.Body)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return &McpProxyResponse{Status: http.StatusAccepted}, nil
	}

	body, err := json.Marshal(res)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal response")
	}
	return &McpProxyResponse{
		Type:   res.Type,
		Status: http.StatusOK,
		Body:   body,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}, nil
}
