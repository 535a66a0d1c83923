package http

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"pygrounds-generation-service/internal/app"
	"pygrounds-generation-service/internal/domain"
)

// WSHandler streams session progress snapshots over a websocket so dashboards
// do not have to poll the status endpoint.
type WSHandler struct {
	engine   *app.Engine
	upgrader websocket.Upgrader
}

func NewWSHandler(engine *app.Engine) *WSHandler {
	return &WSHandler{
		engine: engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// ServeWS upgrades the request and forwards snapshots until the session
// reaches a terminal state or the client disconnects. All writes go through
// a single goroutine; gorilla connections do not allow concurrent writers.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		http.Error(w, "missing sessionId", http.StatusBadRequest)
		return
	}

	updates, cancel, err := h.engine.Subscribe(sessionID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	defer cancel()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			// drain control frames; clients send nothing meaningful
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session finished"))
				return
			}
			if err := conn.WriteJSON(outboundMessage{Type: "progress", Payload: snap}); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
			if snap.State.Terminal() {
				h.sendFinal(conn, snap)
				return
			}
		case <-readerDone:
			return
		}
	}
}

func (h *WSHandler) sendFinal(conn *websocket.Conn, snap domain.StatusSnapshot) {
	_ = conn.WriteJSON(outboundMessage{Type: "done", Payload: snap})
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session finished"))
}
