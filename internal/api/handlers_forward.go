package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/shohag/hookrelay/internal/forward"
	"github.com/shohag/hookrelay/internal/models"
)

const maxForwardRequestSize = 8 << 20

type ForwardHandler struct {
	forwarder *forward.Forwarder
}

func NewForwardHandler(forwarder *forward.Forwarder) *ForwardHandler {
	return &ForwardHandler{forwarder: forwarder}
}

type forwardRequest struct {
	TargetURL string            `json:"targetUrl"`
	Method    string            `json:"method"`
	Headers   map[string]any    `json:"headers"`
	Body      json.RawMessage   `json:"body"`
	RequestID string            `json:"requestId"`
	Via       models.ForwardVia `json:"via"`
}

func (h *ForwardHandler) Forward(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxForwardRequestSize)
	var req forwardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Via != "" && req.Via != models.ViaDirect && req.Via != models.ViaRelay {
		writeError(w, http.StatusBadRequest, "via must be direct or relay")
		return
	}

	headers := make(map[string]string, len(req.Headers))
	for k, v := range req.Headers {
		headers[k] = fmt.Sprint(v)
	}

	runForward(w, r, h.forwarder, &models.ForwardRequest{
		TargetURL: req.TargetURL,
		Method:    req.Method,
		Headers:   headers,
		Body:      req.Body,
		RequestID: req.RequestID,
	}, req.Via)
}

// runForward performs one forward and maps its outcome onto the response.
func runForward(w http.ResponseWriter, r *http.Request, f *forward.Forwarder, req *models.ForwardRequest, via models.ForwardVia) {
	result, err := f.Forward(r.Context(), req, via)
	if err != nil {
		var transportErr *forward.TransportError
		switch {
		case errors.Is(err, forward.ErrMissingTarget):
			writeError(w, http.StatusBadRequest, "Missing targetUrl")
		case errors.Is(err, forward.ErrInvalidTarget):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.As(err, &transportErr):
			writeError(w, http.StatusBadGateway, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "Failed to forward request")
		}
		return
	}
	writeJSON(w, http.StatusOK, result)
}
