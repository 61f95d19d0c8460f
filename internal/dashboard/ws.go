package dashboard

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/driftsync/engine/internal/infra/jsonx"
)

// WSHandler serves the WebSocket transport: a single pump loop per
// connection writing each Event as a JSON text frame, adapted from the
// teacher's ws.WSHandler.ServeHTTP.
type WSHandler struct {
	log      *slog.Logger
	hub      *Hub
	upgrader websocket.Upgrader
}

func NewWSHandler(log *slog.Logger, hub *Hub) *WSHandler {
	return &WSHandler{
		log: log,
		hub: hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("dashboard ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := h.hub.Register()
	defer h.hub.Unregister(sub.ID())

	h.log.Info("dashboard ws opened", "subscriber_id", sub.ID())

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			data, err := jsonx.Marshal(ev)
			if err != nil {
				h.log.Error("failed to marshal dashboard event", "error", err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.log.Warn("dashboard ws send failed", "error", err)
				return
			}
		}
	}
}
