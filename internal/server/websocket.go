package server

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// handleWebSocket upgrades the connection and then reads/dispatches/writes
// one message at a time: gorilla's ReadMessage already serializes reads on
// a single connection, so processing each message to completion before the
// next Read call gives the per-connection ordering guarantee (§5) for free,
// with no extra locking in mcpsession.Handler.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("websocket upgrade failed", zap.Error(err))
		}
		return
	}
	defer conn.Close()

	ctx := r.Context()
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		resp := s.handler.HandleMessage(ctx, data)
		if resp == nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, resp); err != nil {
			return
		}
	}
}
