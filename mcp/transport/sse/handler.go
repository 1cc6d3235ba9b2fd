package sse

import (
	"context"
	"net/http"
	"sync"

	"github.com/effective-security/mcpsse/mcp/transport"
	"github.com/effective-security/xlog"
)

// Connector attaches a started session to the MCP server
type Connector interface {
	Connect(ctx context.Context, tr transport.Transport) error
}

// Handler serves the SSE stream and the message endpoint,
// and keeps track of the live sessions
type Handler struct {
	connector   Connector
	messagePath string

	lock     sync.RWMutex
	sessions map[string]*SSEServerTransport
}

// NewHandler returns a handler that connects every new SSE session to connector.
// The messagePath is advertised to clients in the endpoint event.
func NewHandler(connector Connector, messagePath string) *Handler {
	return &Handler{
		connector:   connector,
		messagePath: messagePath,
		sessions:    make(map[string]*SSEServerTransport),
	}
}

// Register installs the SSE and message routes on mux
func (h *Handler) Register(mux *http.ServeMux, ssePath string) {
	mux.HandleFunc(ssePath, h.ServeSSE)
	mux.HandleFunc(h.messagePath, h.ServeMessages)
}

// SessionCount returns the number of live sessions
func (h *Handler) SessionCount() int {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return len(h.sessions)
}

// ServeSSE opens a new session and blocks until the client disconnects
// or the session is closed
func (h *Handler) ServeSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tr, err := NewSSEServerTransport(h.messagePath, w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	id := tr.SessionID()

	h.lock.Lock()
	h.sessions[id] = tr
	h.lock.Unlock()

	defer func() {
		h.lock.Lock()
		delete(h.sessions, id)
		h.lock.Unlock()
		_ = tr.Close()
	}()

	if err := h.connector.Connect(ctx, tr); err != nil {
		logger.ContextKV(ctx, xlog.ERROR, "status", "connect_failed", "session", id, "err", err.Error())
		return
	}

	logger.ContextKV(ctx, xlog.INFO, "status", "session_opened", "session", id, "remote", r.RemoteAddr)

	select {
	case <-ctx.Done():
	case <-tr.Done():
	}

	logger.KV(xlog.INFO, "status", "session_closed", "session", id)
}

// ServeMessages accepts a JSON-RPC message for the session named by
// the session_id query parameter
func (h *Handler) ServeMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("session_id")
	if id == "" {
		http.Error(w, "missing session_id", http.StatusBadRequest)
		return
	}

	h.lock.RLock()
	tr := h.sessions[id]
	h.lock.RUnlock()

	if tr == nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	if err := tr.HandlePostMessage(r); err != nil {
		logger.ContextKV(r.Context(), xlog.DEBUG, "session", id, "err", err.Error())
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte("Accepted"))
}
