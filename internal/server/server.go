// Package server wires the MCP-facing transports named in §6.1 -- stdio,
// streamable HTTP, legacy SSE, and WebSocket -- onto a shared
// mcpsession.Handler. Grounded on the corpus's internal/server/server.go
// (explicit http.Server timeouts, a logging-wrapper middleware, mux-based
// routing) and, for the streamable/legacy-SSE session lifecycle, on
// domain/mcp/streamable_http_handler.go and pkg/sse/writer.go from the
// emergent-company-emergent example (session-ID-keyed connection tracking,
// an SSE Writer with Start/WriteEvent/WriteComment).
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/odoo-mcp/internal/mcpsession"
)

// shutdownGrace matches §5's 30s graceful-shutdown window.
const shutdownGrace = 30 * time.Second

// AuthGate reports whether the MCP-HTTP bearer gate is enabled and, if so,
// whether a candidate token satisfies it. Satisfied by
// *httpapi.AuthManager without this package importing httpapi's wider
// config-manager surface.
type AuthGate interface {
	MCPAuthEnabled() bool
	CheckMCPToken(candidate string) bool
}

// Server hosts every MCP-facing HTTP transport plus the stdio loop.
type Server struct {
	handler    *mcpsession.Handler
	auth       AuthGate
	logger     *zap.Logger
	serverName string

	mux        *http.ServeMux
	httpServer *http.Server

	upgrader websocket.Upgrader

	streamable *streamableState
	legacy     *legacySSEState
}

// New builds a Server. addr is the TCP address for ListenAndServe (e.g.
// ":8080"); auth may be nil to disable the bearer gate entirely.
func New(addr string, handler *mcpsession.Handler, auth AuthGate, serverName string, logger *zap.Logger) *Server {
	s := &Server{
		handler:    handler,
		auth:       auth,
		logger:     logger,
		serverName: serverName,
		mux:        http.NewServeMux(),
		upgrader:   websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096, CheckOrigin: func(*http.Request) bool { return true }},
		streamable: newStreamableState(),
		legacy:     newLegacySSEState(),
	}
	s.routes()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       120 * time.Second,
		WriteTimeout:      0, // streaming endpoints (SSE/WebSocket) outlive a fixed write deadline
		IdleTimeout:       180 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/mcp", s.gate(s.loggingHandler(http.HandlerFunc(s.handleStreamable))))
	s.mux.Handle("/sse", s.gate(s.loggingHandler(http.HandlerFunc(s.handleLegacySSE))))
	s.mux.Handle("/messages", s.gate(s.loggingHandler(http.HandlerFunc(s.handleLegacyMessages))))
	s.mux.Handle("/ws", s.gate(s.loggingHandler(http.HandlerFunc(s.handleWebSocket))))
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/openapi.json", s.handleOpenAPI)
}

// gate enforces the optional MCP-HTTP bearer token (§6.1); health and
// openapi endpoints are mounted outside it and never pass through gate.
func (s *Server) gate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.auth == nil || !s.auth.MCPAuthEnabled() {
			next.ServeHTTP(w, r)
			return
		}
		token := bearerToken(r)
		if token == "" || !s.auth.CheckMCPToken(token) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"missing or invalid bearer token"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return r.URL.Query().Get("token")
}

// loggingHandler mirrors the teacher's debug-level request/response
// logging wrapper, trimmed to the fields relevant to an MCP transport.
func (s *Server) loggingHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		if s.logger != nil {
			s.logger.Debug("mcp transport request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rw.status),
				zap.Duration("duration", time.Since(start)),
			)
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// ListenAndServe starts the HTTP transports and blocks until ctx is
// cancelled or the server fails; on cancellation it shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, `{"service":%q,"status":"ok"}`, s.serverName)
}
