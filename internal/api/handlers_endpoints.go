package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shohag/hookrelay/internal/models"
	"github.com/shohag/hookrelay/internal/storage"
)

const defaultRequestLimit = 100

type EndpointHandler struct {
	store storage.Storage
}

func NewEndpointHandler(store storage.Storage) *EndpointHandler {
	return &EndpointHandler{store: store}
}

// statusCode accepts both 200 and "200".
type statusCode int

func (s *statusCode) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	n, err := strconv.Atoi(string(b))
	if err != nil {
		return errors.New("responseStatus must be a number")
	}
	*s = statusCode(n)
	return nil
}

// decodeResponseData keeps object key order by staying on raw bytes. A JSON
// string holding a document is parsed once here.
func decodeResponseData(raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return models.CoerceResponseData(nil)
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return models.CoerceResponseData(s)
	}
	return models.CoerceResponseData(raw)
}

type createEndpointRequest struct {
	Name           string          `json:"name"`
	Path           string          `json:"path"`
	Method         string          `json:"method"`
	Enabled        *bool           `json:"enabled"`
	ResponseStatus statusCode      `json:"responseStatus"`
	ResponseData   json.RawMessage `json:"responseData"`
	AuthEnabled    bool            `json:"authEnabled"`
	AuthType       models.AuthType `json:"authType"`
	AuthToken      string          `json:"authToken"`
}

func (h *EndpointHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createEndpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	data, err := decodeResponseData(req.ResponseData)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now().UTC()
	ep := &models.Endpoint{
		ID:             models.NewID("ep"),
		Name:           req.Name,
		Path:           strings.Trim(req.Path, "/"),
		Method:         strings.ToUpper(req.Method),
		Enabled:        true,
		ResponseStatus: int(req.ResponseStatus),
		ResponseData:   data,
		AuthEnabled:    req.AuthEnabled,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if ep.Method == "" {
		ep.Method = models.MethodAny
	}
	if ep.ResponseStatus == 0 {
		ep.ResponseStatus = http.StatusOK
	}
	if req.Enabled != nil {
		ep.Enabled = *req.Enabled
	}
	if ep.AuthEnabled {
		ep.AuthType = req.AuthType
		ep.AuthToken = req.AuthToken
	}

	if err := ep.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.CreateEndpoint(r.Context(), ep); err != nil {
		if errors.Is(err, storage.ErrDuplicatePath) {
			writeError(w, http.StatusBadRequest, "Webhook path already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to create webhook")
		return
	}

	writeJSON(w, http.StatusCreated, ep)
}

type endpointWithRequests struct {
	*models.Endpoint
	Requests      []models.CapturedRequest `json:"requests"`
	TotalRequests int64                    `json:"totalRequests"`
}

func (h *EndpointHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ep, err := h.store.GetEndpoint(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch webhook details")
		return
	}
	if ep == nil {
		writeError(w, http.StatusNotFound, "Webhook not found")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = defaultRequestLimit
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	requests, err := h.store.ListRequests(r.Context(), id, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch webhook details")
		return
	}
	if requests == nil {
		requests = []models.CapturedRequest{}
	}
	total, err := h.store.CountRequests(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch webhook details")
		return
	}

	writeJSON(w, http.StatusOK, endpointWithRequests{Endpoint: ep, Requests: requests, TotalRequests: total})
}

func (h *EndpointHandler) List(w http.ResponseWriter, r *http.Request) {
	eps, err := h.store.ListEndpoints(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch webhooks")
		return
	}
	if eps == nil {
		eps = []models.Endpoint{}
	}
	writeJSON(w, http.StatusOK, eps)
}

// updateEndpointRequest is a partial update; absent fields are left alone.
type updateEndpointRequest struct {
	Name           *string          `json:"name"`
	Path           *string          `json:"path"`
	Method         *string          `json:"method"`
	Enabled        *bool            `json:"enabled"`
	ResponseStatus *statusCode      `json:"responseStatus"`
	ResponseData   json.RawMessage  `json:"responseData"`
	AuthEnabled    *bool            `json:"authEnabled"`
	AuthType       *models.AuthType `json:"authType"`
	AuthToken      *string          `json:"authToken"`
}

func (h *EndpointHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ep, err := h.store.GetEndpoint(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update webhook")
		return
	}
	if ep == nil {
		writeError(w, http.StatusNotFound, "Webhook not found")
		return
	}

	var req updateEndpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Name != nil {
		ep.Name = *req.Name
	}
	if req.Path != nil {
		ep.Path = strings.Trim(*req.Path, "/")
	}
	if req.Method != nil {
		ep.Method = strings.ToUpper(*req.Method)
	}
	if req.Enabled != nil {
		ep.Enabled = *req.Enabled
	}
	if req.ResponseStatus != nil {
		ep.ResponseStatus = int(*req.ResponseStatus)
	}
	if len(req.ResponseData) > 0 {
		data, err := decodeResponseData(req.ResponseData)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		ep.ResponseData = data
	}
	if req.AuthEnabled != nil {
		ep.AuthEnabled = *req.AuthEnabled
	}
	if req.AuthType != nil {
		ep.AuthType = *req.AuthType
	}
	if req.AuthToken != nil {
		ep.AuthToken = *req.AuthToken
	}

	if err := ep.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ep.UpdatedAt = time.Now().UTC()
	if err := h.store.UpdateEndpoint(r.Context(), ep); err != nil {
		if errors.Is(err, storage.ErrDuplicatePath) {
			writeError(w, http.StatusBadRequest, "Webhook path already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to update webhook")
		return
	}

	writeJSON(w, http.StatusOK, ep)
}

func (h *EndpointHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ep, err := h.store.GetEndpoint(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete webhook")
		return
	}
	if ep == nil {
		writeError(w, http.StatusNotFound, "Webhook not found")
		return
	}

	if err := h.store.DeleteEndpoint(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete webhook")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *EndpointHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ep, err := h.store.GetEndpoint(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update webhook")
		return
	}
	if ep == nil {
		writeError(w, http.StatusNotFound, "Webhook not found")
		return
	}

	enabled := !ep.Enabled
	if err := h.store.ToggleEndpoint(r.Context(), id, enabled); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update webhook")
		return
	}

	ep.Enabled = enabled
	writeJSON(w, http.StatusOK, ep)
}
