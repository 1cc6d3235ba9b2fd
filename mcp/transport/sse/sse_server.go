// Package sse implements the MCP HTTP+SSE transport.
//
// The server keeps one long-lived GET stream per session. The first event on
// the stream is `endpoint`, carrying the URL the client must POST its
// JSON-RPC messages to. Every server to client message is sent as a `message`
// event.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpsse/mcp/transport"
	"github.com/effective-security/xlog"
	"github.com/google/uuid"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpsse/mcp/transport", "sse")

// MaxMessageSize is the largest JSON-RPC message accepted on the POST endpoint
const MaxMessageSize = 4 * 1024 * 1024

// SSEServerTransport is the server side of a single SSE session
type SSEServerTransport struct {
	endpoint  string
	sessionID string
	w         http.ResponseWriter
	flusher   http.Flusher

	mu      sync.Mutex
	ctx     context.Context
	started bool
	closed  bool
	done    chan struct{}

	messageHandler func(ctx context.Context, message *transport.BaseJsonRpcMessage)
	errorHandler   func(error)
	closeHandler   func()
}

// NewSSEServerTransport creates a transport that streams to w.
// The endpoint is the path the client will POST messages to,
// the session ID is appended as the session_id query parameter.
func NewSSEServerTransport(endpoint string, w http.ResponseWriter) (*SSEServerTransport, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming not supported")
	}

	return &SSEServerTransport{
		endpoint:  endpoint,
		sessionID: uuid.NewString(),
		w:         w,
		flusher:   flusher,
		done:      make(chan struct{}),
	}, nil
}

// SessionID returns the unique session identifier
func (t *SSEServerTransport) SessionID() string {
	return t.sessionID
}

// Done is closed when the transport is closed
func (t *SSEServerTransport) Done() <-chan struct{} {
	return t.done
}

// Start writes the SSE headers and the endpoint event.
// The context is kept for the lifetime of the session and is passed to
// the message handler for every posted message.
func (t *SSEServerTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started {
		return errors.New("SSE transport already started")
	}
	if t.closed {
		return errors.New("SSE transport closed")
	}
	t.started = true
	t.ctx = ctx

	h := t.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("Access-Control-Allow-Origin", "*")
	t.w.WriteHeader(http.StatusOK)

	endpoint := fmt.Sprintf("%s?session_id=%s", t.endpoint, t.sessionID)
	if _, err := fmt.Fprintf(t.w, "event: endpoint\ndata: %s\n\n", endpoint); err != nil {
		return errors.Wrap(err, "failed to write endpoint event")
	}
	t.flusher.Flush()

	logger.ContextKV(ctx, xlog.DEBUG, "status", "started", "session", t.sessionID)
	return nil
}

// HandlePostMessage reads a JSON-RPC message from the POST request body
// and delivers it to the message handler
func (t *SSEServerTransport) HandlePostMessage(r *http.Request) error {
	if r.Method != http.MethodPost {
		return errors.Errorf("method not allowed: %s", r.Method)
	}

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return errors.Errorf("unsupported Content type: %q", r.Header.Get("Content-Type"))
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxMessageSize+1))
	if err != nil {
		err = errors.Wrap(err, "failed to read request body")
		t.reportError(err)
		return err
	}
	if len(body) > MaxMessageSize {
		err = errors.Errorf("message exceeds %d bytes", MaxMessageSize)
		t.reportError(err)
		return err
	}

	msg, err := transport.ParseMessage(body)
	if err != nil {
		t.reportError(err)
		return err
	}

	t.mu.Lock()
	ctx := t.ctx
	handler := t.messageHandler
	t.mu.Unlock()

	if ctx == nil {
		ctx = r.Context()
	}
	if handler != nil {
		handler(ctx, msg)
	}
	return nil
}

// Send writes the message as a `message` event
func (t *SSEServerTransport) Send(ctx context.Context, message *transport.BaseJsonRpcMessage) error {
	data, err := json.Marshal(message)
	if err != nil {
		return errors.Wrap(err, "failed to marshal message")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.started || t.closed {
		return errors.New("not connected")
	}

	if _, err := fmt.Fprintf(t.w, "event: message\ndata: %s\n\n", data); err != nil {
		return errors.Wrap(err, "failed to write message event")
	}
	t.flusher.Flush()
	return nil
}

// Close ends the session. The close handler is called once.
func (t *SSEServerTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	handler := t.closeHandler
	t.mu.Unlock()

	logger.KV(xlog.DEBUG, "status", "closed", "session", t.sessionID)
	if handler != nil {
		handler()
	}
	return nil
}

func (t *SSEServerTransport) SetCloseHandler(handler func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeHandler = handler
}

func (t *SSEServerTransport) SetErrorHandler(handler func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errorHandler = handler
}

func (t *SSEServerTransport) SetMessageHandler(handler func(ctx context.Context, message *transport.BaseJsonRpcMessage)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messageHandler = handler
}

func (t *SSEServerTransport) reportError(err error) {
	t.mu.Lock()
	handler := t.errorHandler
	t.mu.Unlock()
	if handler != nil {
		handler(err)
	}
}
