package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"github.com/google/uuid"
)

const sessionHeader = "Mcp-Session-Id"

// streamableState tracks the live Mcp-Session-Id values for the
// streamable-HTTP transport (§6.1). Sessions are pure connection-tracking
// tokens: mcpsession.Handler itself holds no per-session state (§4.G), so
// all a session buys a client is the ability to open a companion GET
// stream and later DELETE to signal it is done.
type streamableState struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func newStreamableState() *streamableState {
	return &streamableState{ids: map[string]struct{}{}}
}

func (s *streamableState) create() string {
	id := uuid.NewString()
	s.mu.Lock()
	s.ids[id] = struct{}{}
	s.mu.Unlock()
	return id
}

func (s *streamableState) exists(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

func (s *streamableState) remember(id string) {
	s.mu.Lock()
	s.ids[id] = struct{}{}
	s.mu.Unlock()
}

func (s *streamableState) remove(id string) {
	s.mu.Lock()
	delete(s.ids, id)
	s.mu.Unlock()
}

// handleStreamable implements POST/GET/DELETE /mcp (§6.1).
func (s *Server) handleStreamable(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleStreamablePost(w, r)
	case http.MethodGet:
		s.handleStreamableGet(w, r)
	case http.MethodDelete:
		s.handleStreamableDelete(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleStreamablePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 16<<20))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	sessionID := r.Header.Get(sessionHeader)
	if sessionID == "" {
		sessionID = s.streamable.create()
	} else {
		s.streamable.remember(sessionID)
	}
	w.Header().Set(sessionHeader, sessionID)

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		s.handleBatch(w, r, trimmed)
		return
	}

	resp := s.handler.HandleMessage(r.Context(), trimmed)
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(resp)
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request, raw []byte) {
	var messages []json.RawMessage
	if err := json.Unmarshal(raw, &messages); err != nil {
		http.Error(w, "invalid JSON-RPC batch", http.StatusBadRequest)
		return
	}
	out := make([]json.RawMessage, 0, len(messages))
	for _, msg := range messages {
		if resp := s.handler.HandleMessage(r.Context(), msg); resp != nil {
			out = append(out, resp)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	if len(out) == 0 {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(out)
}

// handleStreamableGet opens a long-lived SSE stream for server-initiated
// messages on an existing session. This implementation has no unsolicited
// server notifications to push (the registry's hot-reload is reflected on
// the next request, not announced), so the stream carries only periodic
// keep-alive comments until the client disconnects.
func (s *Server) handleStreamableGet(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(sessionHeader)
	if sessionID == "" || !s.streamable.exists(sessionID) {
		http.Error(w, "Mcp-Session-Id header is required and must name an open session", http.StatusBadRequest)
		return
	}
	writer := newSSEWriter(w)
	if err := writer.start(); err != nil {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	keepAlive(r.Context(), writer)
}

func (s *Server) handleStreamableDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(sessionHeader)
	if sessionID == "" {
		http.Error(w, "Mcp-Session-Id header is required", http.StatusBadRequest)
		return
	}
	s.streamable.remove(sessionID)
	w.WriteHeader(http.StatusNoContent)
}
