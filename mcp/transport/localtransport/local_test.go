package localtransport_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/effective-security/mcpsse/mcp/transport"
	"github.com/effective-security/mcpsse/mcp/transport/localtransport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoServer answers every request with its params from a goroutine,
// the same way the protocol layer does
func echoServer(tr *localtransport.Transport) {
	tr.SetMessageHandler(func(ctx context.Context, msg *transport.BaseJsonRpcMessage) {
		if msg.Type != transport.BaseMessageTypeJSONRPCRequestType {
			return
		}
		req := msg.JsonRpcRequest
		go func() {
			if req.Method == "fail" {
				_ = tr.Send(ctx, transport.NewBaseMessageError(&transport.BaseJSONRPCError{
					Jsonrpc: transport.JsonRpcVersion,
					Id:      req.Id,
					Error: transport.BaseJSONRPCErrorInner{
						Code:    transport.ErrorCodeServerError,
						Message: "failed",
					},
				}))
				return
			}
			_ = tr.Send(ctx, transport.NewBaseMessageResponse(&transport.BaseJSONRPCResponse{
				Jsonrpc: transport.JsonRpcVersion,
				Id:      req.Id,
				Result:  req.Params,
			}))
		}()
	})
}

func TestTransport_Close(t *testing.T) {
	tr := localtransport.New()
	assert.NoError(t, tr.Start(context.Background()))

	closeCount := 0
	tr.SetCloseHandler(func() {
		closeCount++
	})

	assert.NoError(t, tr.Close())
	assert.NoError(t, tr.Close())
	assert.Equal(t, 1, closeCount)
}

func TestTransport_HandleMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("not connected", func(t *testing.T) {
		tr := localtransport.New()
		_, err := tr.HandleMessage(ctx, []byte(`{"jsonrpc":"2.0","method":"ping","id":1}`))
		assert.EqualError(t, err, "not connected")
	})

	t.Run("request keeps original id", func(t *testing.T) {
		tr := localtransport.New()
		echoServer(tr)

		res, err := tr.HandleMessage(ctx, []byte(`{"jsonrpc":"2.0","method":"echo","id":42,"params":{"a":1}}`))
		require.NoError(t, err)
		require.Equal(t, transport.BaseMessageTypeJSONRPCResponseType, res.Type)
		assert.Equal(t, transport.RequestId(42), res.JsonRpcResponse.Id)
		assert.JSONEq(t, `{"a":1}`, string(res.JsonRpcResponse.Result))
	})

	t.Run("error response", func(t *testing.T) {
		tr := localtransport.New()
		echoServer(tr)

		res, err := tr.HandleMessage(ctx, []byte(`{"jsonrpc":"2.0","method":"fail","id":5}`))
		require.NoError(t, err)
		require.Equal(t, transport.BaseMessageTypeJSONRPCErrorType, res.Type)
		assert.Equal(t, transport.RequestId(5), res.JsonRpcError.Id)
		assert.Equal(t, "failed", res.JsonRpcError.Error.Message)
	})

	t.Run("notification", func(t *testing.T) {
		tr := localtransport.New()
		var got *transport.BaseJsonRpcMessage
		tr.SetMessageHandler(func(_ context.Context, msg *transport.BaseJsonRpcMessage) {
			got = msg
		})

		res, err := tr.HandleMessage(ctx, []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
		require.NoError(t, err)
		assert.Nil(t, res)
		require.NotNil(t, got)
		assert.Equal(t, transport.BaseMessageTypeJSONRPCNotificationType, got.Type)
	})

	t.Run("invalid message", func(t *testing.T) {
		tr := localtransport.New()
		echoServer(tr)

		var reported error
		tr.SetErrorHandler(func(err error) {
			reported = err
		})

		_, err := tr.HandleMessage(ctx, []byte(`not json`))
		assert.Error(t, err)
		assert.Error(t, reported)
	})

	t.Run("context cancelled", func(t *testing.T) {
		tr := localtransport.New()
		tr.SetMessageHandler(func(context.Context, *transport.BaseJsonRpcMessage) {})

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := tr.HandleMessage(ctx, []byte(`{"jsonrpc":"2.0","method":"ping","id":1}`))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestTransport_Send(t *testing.T) {
	tr := localtransport.New()

	t.Run("notification is dropped", func(t *testing.T) {
		err := tr.Send(context.Background(), transport.NewBaseMessageNotification(&transport.BaseJSONRPCNotification{
			Jsonrpc: transport.JsonRpcVersion,
			Method:  "notifications/tools/list_changed",
		}))
		assert.NoError(t, err)
	})

	t.Run("unknown response", func(t *testing.T) {
		err := tr.Send(context.Background(), transport.NewBaseMessageResponse(&transport.BaseJSONRPCResponse{
			Jsonrpc: transport.JsonRpcVersion,
			Id:      99,
			Result:  json.RawMessage(`{}`),
		}))
		assert.EqualError(t, err, "no response channel found for key: 99")
	})
}

func TestClientTransport_Send(t *testing.T) {
	server := localtransport.New()
	echoServer(server)

	client := localtransport.NewClientTransport(server).WithHeader("X-Test", "1")
	require.NoError(t, client.Start(context.Background()))

	var got *transport.BaseJsonRpcMessage
	client.SetMessageHandler(func(_ context.Context, msg *transport.BaseJsonRpcMessage) {
		got = msg
	})

	err := client.Send(context.Background(), transport.NewBaseMessageRequest(&transport.BaseJSONRPCRequest{
		Jsonrpc: transport.JsonRpcVersion,
		Method:  "echo",
		Params:  json.RawMessage(`"hi"`),
		Id:      3,
	}))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, transport.RequestId(3), got.JsonRpcResponse.Id)
	assert.Equal(t, `"hi"`, string(got.JsonRpcResponse.Result))

	got = nil
	err = client.Send(context.Background(), transport.NewBaseMessageNotification(&transport.BaseJSONRPCNotification{
		Jsonrpc: transport.JsonRpcVersion,
		Method:  "notifications/initialized",
	}))
	require.NoError(t, err)
	assert.Nil(t, got)
}

type statusHandler int

func (h statusHandler) HandleMCP(context.Context, *localtransport.McpProxyRequest) (*localtransport.McpProxyResponse, error) {
	return &localtransport.McpProxyResponse{Status: int(h)}, nil
}

func TestClientTransport_Status(t *testing.T) {
	client := localtransport.NewClientTransport(statusHandler(http.StatusInternalServerError))
	err := client.Send(context.Background(), transport.NewBaseMessageRequest(&transport.BaseJSONRPCRequest{
		Jsonrpc: transport.JsonRpcVersion,
		Method:  "ping",
		Id:      1,
	}))
	assert.EqualError(t, err, "server returned error: 500")
}
