package bridge

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

// handleWebSocket forwards every text frame to the host as a request document
// and writes the host's response back on the same connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxRequestBytes)

	logger := s.logger.With(slog.String("remote", r.RemoteAddr))
	logger.Info("websocket client connected")
	for {
		kind, body, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("websocket read failed", slog.String("error", err.Error()))
			} else {
				logger.Info("websocket client disconnected")
			}
			return
		}
		if kind != websocket.TextMessage {
			logger.Debug("ignoring non-text frame", slog.Int("type", kind))
			continue
		}
		resp := s.Forward(r.Context(), "websocket", body)
		if err := conn.WriteMessage(websocket.TextMessage, resp); err != nil {
			logger.Warn("websocket write failed", slog.String("error", err.Error()))
			return
		}
	}
}
