package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/shohag/hookrelay/internal/forward"
	"github.com/shohag/hookrelay/internal/models"
	"github.com/shohag/hookrelay/internal/storage"
)

type RequestHandler struct {
	store     storage.Storage
	forwarder *forward.Forwarder
}

func NewRequestHandler(store storage.Storage, forwarder *forward.Forwarder) *RequestHandler {
	return &RequestHandler{store: store, forwarder: forwarder}
}

func (h *RequestHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	req, err := h.store.GetRequest(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get request")
		return
	}
	if req == nil {
		writeError(w, http.StatusNotFound, "request not found")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *RequestHandler) ListForwards(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	req, err := h.store.GetRequest(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get request")
		return
	}
	if req == nil {
		writeError(w, http.StatusNotFound, "request not found")
		return
	}

	attempts, err := h.store.ListForwardAttempts(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list forwards")
		return
	}
	if attempts == nil {
		attempts = []models.ForwardAttempt{}
	}
	writeJSON(w, http.StatusOK, attempts)
}

type replayRequest struct {
	TargetURL string            `json:"targetUrl"`
	Via       models.ForwardVia `json:"via"`
}

// Forward replays a stored capture. Method, headers and body come from the
// capture; the capture id is the correlation id.
func (h *RequestHandler) Forward(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	captured, err := h.store.GetRequest(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get request")
		return
	}
	if captured == nil {
		writeError(w, http.StatusNotFound, "request not found")
		return
	}

	var req replayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Via != "" && req.Via != models.ViaDirect && req.Via != models.ViaRelay {
		writeError(w, http.StatusBadRequest, "via must be direct or relay")
		return
	}

	headers := make(map[string]string, len(captured.Headers))
	for k, v := range captured.Headers {
		if k == models.ResponseStatusHeader {
			continue
		}
		headers[k] = v
	}

	runForward(w, r, h.forwarder, &models.ForwardRequest{
		TargetURL: req.TargetURL,
		Method:    captured.Method,
		Headers:   headers,
		Body:      captured.Body,
		RequestID: captured.ID,
	}, req.Via)
}
