package dashboard

import (
	"net/http"
	"time"

	"github.com/driftsync/engine/internal/infra/jsonx"
)

// maxDrainPerPoll caps how many buffered events one long-poll response
// batches together, matching the teacher's lp.Handler drain-15 loop.
const maxDrainPerPoll = 15

// pollTimeout mirrors the teacher's 30s long-poll window.
const pollTimeout = 30 * time.Second

// LPHandler serves the long-poll transport: one subscriber per request,
// adapted from the teacher's lp.LPHandler.Poll (no per-user identity here
// since every dashboard client observes the same fleet-wide stream).
type LPHandler struct {
	hub *Hub
}

func NewLPHandler(hub *Hub) *LPHandler {
	return &LPHandler{hub: hub}
}

type pollResponse struct {
	Events []Event `json:"events"`
}

func (h *LPHandler) Poll(w http.ResponseWriter, r *http.Request) {
	sub := h.hub.Register()
	defer h.hub.Unregister(sub.ID())

	var events []Event

	select {
	case <-r.Context().Done():
		return

	case <-time.After(pollTimeout):
		w.WriteHeader(http.StatusNoContent)
		return

	case ev := <-sub.Events():
		events = append(events, ev)
		events = append(events, sub.Drain(maxDrainPerPoll-1)...)
	}

	data, err := jsonx.Marshal(pollResponse{Events: events})
	if err != nil {
		http.Error(w, "marshal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
