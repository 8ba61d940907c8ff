package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dahateb/rust-crm-sync/internal/bus"
)

// upgrader allows any origin, matching the control plane's wildcard CORS
// policy (spec.md §4.8).
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) handleWSMessages(w http.ResponseWriter, r *http.Request) {
	s.serveWS(w, r, s.msgBus)
}

func (s *Server) handleWSSyncMessages(w http.ResponseWriter, r *http.Request) {
	s.serveWS(w, r, s.syncBus)
}

// serveWS upgrades the connection and starts a 1-second send loop: each
// tick drains b and writes every pending message as a text frame, then
// sends "{}" as a keepalive. A write failure (client gone) ends the loop
// silently, per spec.md §4.8.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request, b *bus.Bus) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("api: websocket upgrade failed", "error", err)
		return
	}
	clientID := uuid.New()
	defer conn.Close()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	s.logger.Info("api: websocket client connected", "client_id", clientID)
	for range ticker.C {
		for _, m := range b.Drain() {
			data, err := json.Marshal(m)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Info("api: websocket client disconnected", "client_id", clientID)
				return
			}
		}
		if err := conn.WriteMessage(websocket.TextMessage, []byte("{}")); err != nil {
			s.logger.Info("api: websocket client disconnected", "client_id", clientID)
			return
		}
	}
}
