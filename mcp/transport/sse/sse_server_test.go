package sse_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/effective-security/mcpsse/mcp/transport"
	"github.com/effective-security/mcpsse/mcp/transport/sse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postRequest(t *testing.T, body any) *http.Request {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/messages/", bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestNewSSEServerTransport(t *testing.T) {
	t.Run("successful creation", func(t *testing.T) {
		w := httptest.NewRecorder()
		sseTransport, err := sse.NewSSEServerTransport("/messages/", w)

		assert.NoError(t, err)
		assert.NotNil(t, sseTransport)
		assert.NotEmpty(t, sseTransport.SessionID())
	})

	t.Run("writer without flusher", func(t *testing.T) {
		type nonFlusherWriter struct {
			http.ResponseWriter
		}
		w := &nonFlusherWriter{httptest.NewRecorder()}

		sseTransport, err := sse.NewSSEServerTransport("/messages/", w)
		assert.Error(t, err)
		assert.Nil(t, sseTransport)
		assert.Contains(t, err.Error(), "streaming not supported")
	})

	t.Run("unique session IDs", func(t *testing.T) {
		t1, err := sse.NewSSEServerTransport("/messages/", httptest.NewRecorder())
		require.NoError(t, err)
		t2, err := sse.NewSSEServerTransport("/messages/", httptest.NewRecorder())
		require.NoError(t, err)
		assert.NotEqual(t, t1.SessionID(), t2.SessionID())
	})
}

func TestSSEServerTransport_Start(t *testing.T) {
	t.Run("successful start", func(t *testing.T) {
		w := httptest.NewRecorder()
		sseTransport, err := sse.NewSSEServerTransport("/messages/", w)
		require.NoError(t, err)

		err = sseTransport.Start(context.Background())
		require.NoError(t, err)

		headers := w.Header()
		assert.Equal(t, "text/event-stream", headers.Get("Content-Type"))
		assert.Equal(t, "no-cache", headers.Get("Cache-Control"))
		assert.Equal(t, "keep-alive", headers.Get("Connection"))
		assert.Equal(t, "*", headers.Get("Access-Control-Allow-Origin"))

		body := w.Body.String()
		assert.Contains(t, body, "event: endpoint\n")
		assert.Contains(t, body, "data: /messages/?session_id="+sseTransport.SessionID()+"\n\n")
	})

	t.Run("start multiple times", func(t *testing.T) {
		sseTransport, err := sse.NewSSEServerTransport("/messages/", httptest.NewRecorder())
		require.NoError(t, err)

		require.NoError(t, sseTransport.Start(context.Background()))
		err = sseTransport.Start(context.Background())
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "already started")
	})
}

func TestSSEServerTransport_HandlePostMessage(t *testing.T) {
	t.Run("request", func(t *testing.T) {
		sseTransport, err := sse.NewSSEServerTransport("/messages/", httptest.NewRecorder())
		require.NoError(t, err)

		var received *transport.BaseJsonRpcMessage
		sseTransport.SetMessageHandler(func(_ context.Context, msg *transport.BaseJsonRpcMessage) {
			received = msg
		})

		err = sseTransport.HandlePostMessage(postRequest(t, transport.BaseJSONRPCRequest{
			Jsonrpc: "2.0",
			Method:  "tools/list",
			Id:      123,
		}))
		require.NoError(t, err)
		require.NotNil(t, received)
		assert.Equal(t, transport.BaseMessageTypeJSONRPCRequestType, received.Type)
		assert.Equal(t, "tools/list", received.JsonRpcRequest.Method)
		assert.Equal(t, transport.RequestId(123), received.JsonRpcRequest.Id)
	})

	t.Run("notification", func(t *testing.T) {
		sseTransport, err := sse.NewSSEServerTransport("/messages/", httptest.NewRecorder())
		require.NoError(t, err)

		var received *transport.BaseJsonRpcMessage
		sseTransport.SetMessageHandler(func(_ context.Context, msg *transport.BaseJsonRpcMessage) {
			received = msg
		})

		err = sseTransport.HandlePostMessage(postRequest(t, map[string]any{
			"jsonrpc": "2.0",
			"method":  "notifications/initialized",
		}))
		require.NoError(t, err)
		require.NotNil(t, received)
		assert.Equal(t, transport.BaseMessageTypeJSONRPCNotificationType, received.Type)
	})

	t.Run("session context is used after start", func(t *testing.T) {
		sseTransport, err := sse.NewSSEServerTransport("/messages/", httptest.NewRecorder())
		require.NoError(t, err)

		type key struct{}
		ctx := context.WithValue(context.Background(), key{}, "session")
		require.NoError(t, sseTransport.Start(ctx))

		var got any
		sseTransport.SetMessageHandler(func(ctx context.Context, _ *transport.BaseJsonRpcMessage) {
			got = ctx.Value(key{})
		})
		err = sseTransport.HandlePostMessage(postRequest(t, transport.BaseJSONRPCRequest{
			Jsonrpc: "2.0",
			Method:  "ping",
			Id:      1,
		}))
		require.NoError(t, err)
		assert.Equal(t, "session", got)
	})

	t.Run("invalid HTTP method", func(t *testing.T) {
		sseTransport, err := sse.NewSSEServerTransport("/messages/", httptest.NewRecorder())
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/messages/", nil)
		req.Header.Set("Content-Type", "application/json")

		err = sseTransport.HandlePostMessage(req)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "method not allowed")
	})

	t.Run("unsupported content type", func(t *testing.T) {
		sseTransport, err := sse.NewSSEServerTransport("/messages/", httptest.NewRecorder())
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/messages/", strings.NewReader("{}"))
		req.Header.Set("Content-Type", "text/plain")

		err = sseTransport.HandlePostMessage(req)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported Content type")
	})

	t.Run("content type with charset", func(t *testing.T) {
		sseTransport, err := sse.NewSSEServerTransport("/messages/", httptest.NewRecorder())
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/messages/", strings.NewReader(`{"jsonrpc":"2.0","method":"ping","id":1}`))
		req.Header.Set("Content-Type", "application/json; charset=utf-8")

		assert.NoError(t, sseTransport.HandlePostMessage(req))
	})

	t.Run("invalid JSON", func(t *testing.T) {
		sseTransport, err := sse.NewSSEServerTransport("/messages/", httptest.NewRecorder())
		require.NoError(t, err)

		var receivedError error
		sseTransport.SetErrorHandler(func(err error) {
			receivedError = err
		})

		req := httptest.NewRequest(http.MethodPost, "/messages/", strings.NewReader("invalid json"))
		req.Header.Set("Content-Type", "application/json")

		err = sseTransport.HandlePostMessage(req)
		assert.Error(t, err)
		require.NotNil(t, receivedError)
		assert.Contains(t, receivedError.Error(), "invalid")
	})

	t.Run("wrong version", func(t *testing.T) {
		sseTransport, err := sse.NewSSEServerTransport("/messages/", httptest.NewRecorder())
		require.NoError(t, err)

		err = sseTransport.HandlePostMessage(postRequest(t, map[string]any{
			"jsonrpc": "1.0",
			"method":  "ping",
			"id":      1,
		}))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported JSON-RPC version")
	})

	t.Run("message too large", func(t *testing.T) {
		sseTransport, err := sse.NewSSEServerTransport("/messages/", httptest.NewRecorder())
		require.NoError(t, err)

		err = sseTransport.HandlePostMessage(postRequest(t, map[string]any{
			"jsonrpc": "2.0",
			"method":  "ping",
			"id":      1,
			"params":  strings.Repeat("a", sse.MaxMessageSize),
		}))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "exceeds")
	})
}

func TestSSEServerTransport_Send(t *testing.T) {
	msg := transport.NewBaseMessageResponse(&transport.BaseJSONRPCResponse{
		Jsonrpc: "2.0",
		Id:      1,
		Result:  json.RawMessage(`{"status":"ok"}`),
	})

	t.Run("successful send", func(t *testing.T) {
		w := httptest.NewRecorder()
		sseTransport, err := sse.NewSSEServerTransport("/messages/", w)
		require.NoError(t, err)
		require.NoError(t, sseTransport.Start(context.Background()))

		require.NoError(t, sseTransport.Send(context.Background(), msg))

		body := w.Body.String()
		assert.Contains(t, body, "event: message\n")
		assert.Contains(t, body, `"result":{"status":"ok"}`)
	})

	t.Run("send without starting", func(t *testing.T) {
		sseTransport, err := sse.NewSSEServerTransport("/messages/", httptest.NewRecorder())
		require.NoError(t, err)

		err = sseTransport.Send(context.Background(), msg)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "not connected")
	})

	t.Run("send after close", func(t *testing.T) {
		sseTransport, err := sse.NewSSEServerTransport("/messages/", httptest.NewRecorder())
		require.NoError(t, err)
		require.NoError(t, sseTransport.Start(context.Background()))
		require.NoError(t, sseTransport.Close())

		err = sseTransport.Send(context.Background(), msg)
		assert.Error(t, err)
	})

	t.Run("concurrent sending", func(t *testing.T) {
		w := httptest.NewRecorder()
		sseTransport, err := sse.NewSSEServerTransport("/messages/", w)
		require.NoError(t, err)
		require.NoError(t, sseTransport.Start(context.Background()))

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, sseTransport.Send(context.Background(), msg))
			}()
		}
		wg.Wait()

		assert.Equal(t, 10, strings.Count(w.Body.String(), "event: message\n"))
	})
}

func TestSSEServerTransport_Close(t *testing.T) {
	t.Run("close multiple times", func(t *testing.T) {
		sseTransport, err := sse.NewSSEServerTransport("/messages/", httptest.NewRecorder())
		require.NoError(t, err)
		require.NoError(t, sseTransport.Start(context.Background()))

		closeCount := 0
		sseTransport.SetCloseHandler(func() {
			closeCount++
		})

		assert.NoError(t, sseTransport.Close())
		assert.NoError(t, sseTransport.Close())
		assert.Equal(t, 1, closeCount)

		select {
		case <-sseTransport.Done():
		default:
			t.Fatal("done channel is not closed")
		}
	})

	t.Run("close without starting", func(t *testing.T) {
		sseTransport, err := sse.NewSSEServerTransport("/messages/", httptest.NewRecorder())
		require.NoError(t, err)
		assert.NoError(t, sseTransport.Close())
	})
}

// echoConnector replies to every request with its params
type echoConnector struct {
	lock       sync.Mutex
	transports []transport.Transport
}

func (c *echoConnector) Connect(ctx context.Context, tr transport.Transport) error {
	c.lock.Lock()
	c.transports = append(c.transports, tr)
	c.lock.Unlock()

	tr.SetMessageHandler(func(ctx context.Context, msg *transport.BaseJsonRpcMessage) {
		if msg.Type != transport.BaseMessageTypeJSONRPCRequestType {
			return
		}
		go func() {
			_ = tr.Send(ctx, transport.NewBaseMessageResponse(&transport.BaseJSONRPCResponse{
				Jsonrpc: transport.JsonRpcVersion,
				Id:      msg.JsonRpcRequest.Id,
				Result:  msg.JsonRpcRequest.Params,
			}))
		}()
	})
	return tr.Start(ctx)
}

func TestHandler_RoundTrip(t *testing.T) {
	connector := &echoConnector{}
	handler := sse.NewHandler(connector, "/messages/")
	mux := http.NewServeMux()
	handler.Register(mux, "/sse")

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := sse.NewSSEClientTransport(srv.URL + "/sse")

	received := make(chan *transport.BaseJsonRpcMessage, 1)
	client.SetMessageHandler(func(_ context.Context, msg *transport.BaseJsonRpcMessage) {
		received <- msg
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, client.Start(ctx))
	assert.True(t, strings.HasPrefix(client.Endpoint(), srv.URL+"/messages/?session_id="), client.Endpoint())

	require.Eventually(t, func() bool { return handler.SessionCount() == 1 }, time.Second, 10*time.Millisecond)

	err := client.Send(ctx, transport.NewBaseMessageRequest(&transport.BaseJSONRPCRequest{
		Jsonrpc: transport.JsonRpcVersion,
		Method:  "echo",
		Params:  json.RawMessage(`{"hello":"world"}`),
		Id:      7,
	}))
	require.NoError(t, err)

	select {
	case msg := <-received:
		require.Equal(t, transport.BaseMessageTypeJSONRPCResponseType, msg.Type)
		assert.Equal(t, transport.RequestId(7), msg.JsonRpcResponse.Id)
		assert.JSONEq(t, `{"hello":"world"}`, string(msg.JsonRpcResponse.Result))
	case <-ctx.Done():
		t.Fatal("timeout waiting for response")
	}

	closed := make(chan struct{})
	client.SetCloseHandler(func() { close(closed) })
	require.NoError(t, client.Close())
	<-closed

	require.Eventually(t, func() bool { return handler.SessionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHandler_ServeMessages(t *testing.T) {
	handler := sse.NewHandler(&echoConnector{}, "/messages/")

	t.Run("missing session", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeMessages(w, postRequest(t, map[string]any{"jsonrpc": "2.0", "method": "ping", "id": 1}))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown session", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := postRequest(t, map[string]any{"jsonrpc": "2.0", "method": "ping", "id": 1})
		req.URL.RawQuery = "session_id=unknown"
		handler.ServeMessages(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("wrong method", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeMessages(w, httptest.NewRequest(http.MethodGet, "/messages/?session_id=x", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}

func TestSSEClientTransport_Errors(t *testing.T) {
	t.Run("send before start", func(t *testing.T) {
		client := sse.NewSSEClientTransport("http://localhost:1/sse")
		err := client.Send(context.Background(), transport.NewBaseMessageNotification(&transport.BaseJSONRPCNotification{
			Jsonrpc: transport.JsonRpcVersion,
			Method:  "notifications/initialized",
		}))
		assert.EqualError(t, err, "not connected")
	})

	t.Run("bad status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "nope", http.StatusForbidden)
		}))
		defer srv.Close()

		client := sse.NewSSEClientTransport(srv.URL + "/sse")
		err := client.Start(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "403")
	})

	t.Run("stream ends before endpoint", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			_, _ = w.Write([]byte(": hello\n\n"))
		}))
		defer srv.Close()

		client := sse.NewSSEClientTransport(srv.URL + "/sse")
		err := client.Start(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "before endpoint")
	})

	t.Run("absolute endpoint", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			_, _ = w.Write([]byte("event: endpoint\ndata: http://example.com/messages/?session_id=1\n\n"))
			w.(http.Flusher).Flush()
			<-r.Context().Done()
		}))
		defer srv.Close()

		client := sse.NewSSEClientTransport(srv.URL + "/sse")
		require.NoError(t, client.Start(context.Background()))
		defer client.Close()
		assert.Equal(t, "http://example.com/messages/?session_id=1", client.Endpoint())
	})
}
