/*
Copyright © 2025 ALESSIO TONIOLO

ws.go handles the /ws/{connection_id} websocket endpoint. Connections are
independent echo channels used by the frontend for liveness and streaming
experiments; each inbound text frame is wrapped in a response envelope and
sent back.
*/
package server

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The gateway fronts a local dev UI, so origins are not restricted.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsEnvelope struct {
	Type         string `json:"type"`
	Data         string `json:"data"`
	Timestamp    string `json:"timestamp"`
	ConnectionID string `json:"connection_id"`
	ServerStatus string `json:"server_status"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	connectionID := chi.URLParam(r, "connection_id")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Server] Websocket upgrade failed for %s: %v", connectionID, err)
		return
	}
	defer conn.Close()

	log.Printf("[Server] Websocket connected: %s", connectionID)

	status := "development"
	if s.config.ProductionMode {
		status = "production"
	}

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[Server] Websocket error on %s: %v", connectionID, err)
			}
			break
		}

		envelope := wsEnvelope{
			Type:         "response",
			Data:         string(message),
			Timestamp:    time.Now().UTC().Format(time.RFC3339),
			ConnectionID: connectionID,
			ServerStatus: status,
		}
		if err := conn.WriteJSON(envelope); err != nil {
			log.Printf("[Server] Websocket write failed on %s: %v", connectionID, err)
			break
		}
	}

	log.Printf("[Server] Websocket disconnected: %s", connectionID)
}
