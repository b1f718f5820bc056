package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/shohag/hookrelay/internal/ingest"
)

type WebhookHandler struct {
	router *ingest.Router
}

func NewWebhookHandler(router *ingest.Router) *WebhookHandler {
	return &WebhookHandler{router: router}
}

func (h *WebhookHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	// net/http moves Host out of the header map; captures keep it.
	header := r.Header.Clone()
	if r.Host != "" {
		header.Set("Host", r.Host)
	}

	out := h.router.Ingest(r.Context(), ingest.Inbound{
		Method: r.Method,
		Path:   chi.URLParam(r, "*"),
		Header: header,
		Query:  r.URL.Query(),
		Body:   r.Body,
	})
	writeRaw(w, out.Status, out.Body)
}
