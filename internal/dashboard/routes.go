package dashboard

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/driftsync/engine/internal/infra/jsonx"
)

// Mount registers the dashboard's long-poll, WebSocket, and stats
// endpoints onto r, following the teacher's chi-router-per-feature wiring
// convention.
func Mount(r chi.Router, hub *Hub, log *slog.Logger) {
	lp := NewLPHandler(hub)
	ws := NewWSHandler(log, hub)

	r.Get("/dashboard/poll", lp.Poll)
	r.Get("/dashboard/ws", ws.ServeHTTP)
	r.Get("/dashboard/stats", statsHandler(hub))
}

func statsHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := jsonx.Marshal(hub.Stats())
		if err != nil {
			http.Error(w, "marshal error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	}
}
