package sse

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpsse/mcp/transport"
	"github.com/effective-security/xlog"
)

// ClientOption configures SSEClientTransport
type ClientOption func(*SSEClientTransport)

// WithHTTPClient sets the HTTP client used for the stream and the POSTs
func WithHTTPClient(client *http.Client) ClientOption {
	return func(t *SSEClientTransport) {
		t.httpClient = client
	}
}

// WithHeader adds a header to every request
func WithHeader(key, value string) ClientOption {
	return func(t *SSEClientTransport) {
		t.headers[key] = value
	}
}

// SSEClientTransport is the client side of the SSE transport.
// It reads server messages from the GET stream and POSTs its own messages
// to the endpoint advertised by the server.
type SSEClientTransport struct {
	url        string
	httpClient *http.Client
	headers    map[string]string

	mu        sync.Mutex
	endpoint  string
	started   bool
	closed    bool
	cancel    context.CancelFunc
	closeOnce sync.Once

	messageHandler func(ctx context.Context, message *transport.BaseJsonRpcMessage)
	errorHandler   func(error)
	closeHandler   func()
}

// NewSSEClientTransport returns a transport for the server SSE URL,
// for example http://localhost:8081/sse
func NewSSEClientTransport(serverURL string, opts ...ClientOption) *SSEClientTransport {
	t := &SSEClientTransport{
		url:        serverURL,
		httpClient: http.DefaultClient,
		headers:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Endpoint returns the message endpoint advertised by the server,
// empty until Start returns
func (t *SSEClientTransport) Endpoint() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.endpoint
}

// Start opens the event stream and waits for the endpoint event.
// The stream outlives ctx and is stopped by Close.
func (t *SSEClientTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return errors.New("SSE transport already started")
	}
	t.started = true
	t.mu.Unlock()

	base, err := url.Parse(t.url)
	if err != nil {
		return errors.Wrapf(err, "invalid server URL: %s", t.url)
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.url, nil)
	if err != nil {
		cancel()
		return errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	type dialResult struct {
		resp *http.Response
		err  error
	}
	dialed := make(chan dialResult, 1)
	go func() {
		resp, err := t.httpClient.Do(req)
		dialed <- dialResult{resp: resp, err: err}
	}()

	var resp *http.Response
	select {
	case <-ctx.Done():
		cancel()
		return errors.WithStack(ctx.Err())
	case res := <-dialed:
		if res.err != nil {
			cancel()
			return errors.Wrapf(res.err, "failed to connect to %s", t.url)
		}
		resp = res.resp
	}

	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		cancel()
		return errors.Errorf("unexpected status from %s: %s", t.url, resp.Status)
	}

	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	endpointCh := make(chan string, 1)
	go t.readStream(streamCtx, resp.Body, endpointCh)

	select {
	case <-ctx.Done():
		_ = t.Close()
		return errors.WithStack(ctx.Err())
	case data, ok := <-endpointCh:
		if !ok {
			return errors.New("stream closed before endpoint event")
		}
		ref, err := url.Parse(data)
		if err != nil {
			_ = t.Close()
			return errors.Wrapf(err, "invalid endpoint: %s", data)
		}
		endpoint := base.ResolveReference(ref).String()

		t.mu.Lock()
		t.endpoint = endpoint
		t.mu.Unlock()

		logger.ContextKV(ctx, xlog.DEBUG, "status", "connected", "endpoint", endpoint)
		return nil
	}
}

// readStream parses events until the stream ends.
// The first endpoint event is delivered to endpointCh, which is closed
// if the stream ends before it.
func (t *SSEClientTransport) readStream(ctx context.Context, body io.ReadCloser, endpointCh chan<- string) {
	defer body.Close()

	endpointSent := false
	defer func() {
		if !endpointSent {
			close(endpointCh)
		}
	}()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxMessageSize+1024)

	var event string
	var data []string

	dispatch := func() {
		defer func() {
			event = ""
			data = data[:0]
		}()
		if len(data) == 0 {
			return
		}
		payload := strings.Join(data, "\n")

		switch event {
		case "endpoint":
			if !endpointSent {
				endpointSent = true
				endpointCh <- payload
			}
		case "", "message":
			msg, err := transport.ParseMessage([]byte(payload))
			if err != nil {
				t.reportError(err)
				return
			}
			t.mu.Lock()
			handler := t.messageHandler
			t.mu.Unlock()
			if handler != nil {
				handler(ctx, msg)
			}
		default:
			logger.KV(xlog.DEBUG, "status", "ignored_event", "event", event)
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			dispatch()
		case strings.HasPrefix(line, ":"):
			// comment or keep-alive
		default:
			field, value, _ := strings.Cut(line, ":")
			value = strings.TrimPrefix(value, " ")
			switch field {
			case "event":
				event = value
			case "data":
				data = append(data, value)
			}
		}
	}

	err := scanner.Err()

	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()

	if !closed {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		t.reportError(errors.Wrap(err, "SSE stream ended"))
		_ = t.Close()
	}
}

// Send POSTs the message to the endpoint advertised by the server
func (t *SSEClientTransport) Send(ctx context.Context, message *transport.BaseJsonRpcMessage) error {
	t.mu.Lock()
	endpoint := t.endpoint
	closed := t.closed
	t.mu.Unlock()

	if endpoint == "" || closed {
		return errors.New("not connected")
	}

	data, err := json.Marshal(message)
	if err != nil {
		return errors.Wrap(err, "failed to marshal message")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to send message")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return errors.Errorf("server rejected message: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Close stops the stream. The close handler is called once.
func (t *SSEClientTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	cancel := t.cancel
	handler := t.closeHandler
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	t.closeOnce.Do(func() {
		if handler != nil {
			handler()
		}
	})
	return nil
}

func (t *SSEClientTransport) SetCloseHandler(handler func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeHandler = handler
}

func (t *SSEClientTransport) SetErrorHandler(handler func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errorHandler = handler
}

func (t *SSEClientTransport) SetMessageHandler(handler func(ctx context.Context, message *transport.BaseJsonRpcMessage)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messageHandler = handler
}

func (t *SSEClientTransport) reportError(err error) {
	t.mu.Lock()
	handler := t.errorHandler
	t.mu.Unlock()
	if handler != nil {
		handler(err)
	}
}
