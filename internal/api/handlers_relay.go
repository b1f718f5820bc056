package api

import (
	"net/http"

	"github.com/shohag/hookrelay/internal/relay"
)

type RelayHandler struct {
	hub *relay.Hub
}

func NewRelayHandler(hub *relay.Hub) *RelayHandler {
	return &RelayHandler{hub: hub}
}

func (h *RelayHandler) Status(w http.ResponseWriter, r *http.Request) {
	available := h.hub != nil && h.hub.Available(r.Context())
	writeJSON(w, http.StatusOK, map[string]bool{"available": available})
}

func (h *RelayHandler) Connect(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		writeError(w, http.StatusNotFound, "relay is disabled")
		return
	}
	h.hub.ServeHTTP(w, r)
}
