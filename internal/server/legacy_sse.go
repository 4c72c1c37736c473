package server

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"github.com/google/uuid"
)

// legacySSEState tracks the pre-streamable-HTTP MCP SSE transport: a client
// opens GET /sse, receives an "endpoint" event naming
// /messages?sessionId=..., and POSTs subsequent JSON-RPC messages there;
// responses are pushed back over the original SSE stream rather than as the
// POST's HTTP response body. Grounded on the same
// streamable_http_handler.go session-map shape, applied to the older
// two-endpoint protocol it superseded.
type legacySSEState struct {
	mu      sync.Mutex
	streams map[string]*sseWriter
}

func newLegacySSEState() *legacySSEState {
	return &legacySSEState{streams: map[string]*sseWriter{}}
}

func (l *legacySSEState) register(id string, w *sseWriter) {
	l.mu.Lock()
	l.streams[id] = w
	l.mu.Unlock()
}

func (l *legacySSEState) unregister(id string) {
	l.mu.Lock()
	delete(l.streams, id)
	l.mu.Unlock()
}

func (l *legacySSEState) get(id string) *sseWriter {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.streams[id]
}

func (s *Server) handleLegacySSE(w http.ResponseWriter, r *http.Request) {
	writer := newSSEWriter(w)
	if err := writer.start(); err != nil {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sessionID := uuid.NewString()
	s.legacy.register(sessionID, writer)
	defer s.legacy.unregister(sessionID)

	if err := writer.writeEvent("endpoint", "/messages?sessionId="+sessionID); err != nil {
		return
	}

	keepAlive(r.Context(), writer)
}

func (s *Server) handleLegacyMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		http.Error(w, "sessionId query parameter is required", http.StatusBadRequest)
		return
	}
	stream := s.legacy.get(sessionID)
	if stream == nil {
		http.Error(w, "unknown or closed sessionId", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 16<<20))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	resp := s.handler.HandleMessage(r.Context(), body)
	w.WriteHeader(http.StatusAccepted)

	if resp != nil {
		var decoded interface{}
		if err := json.Unmarshal(resp, &decoded); err == nil {
			_ = stream.writeEvent("message", decoded)
		}
	}
}
