package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shohag/hookrelay/internal/models"
)

const DefaultMaxBodyBytes = 1 << 20

// Store is the slice of storage the router needs.
type Store interface {
	GetEndpointByPath(ctx context.Context, path string) (*models.Endpoint, error)
	CreateRequest(ctx context.Context, req *models.CapturedRequest) error
}

// Inbound is one HTTP call addressed to /webhook/<path>.
type Inbound struct {
	Method string
	Path   string
	Header http.Header
	Query  url.Values
	Body   io.Reader
}

// Outcome is the reply to send. Captured is nil unless a request was recorded.
type Outcome struct {
	Status   int
	Body     json.RawMessage
	Captured *models.CapturedRequest
}

type Router struct {
	store        Store
	maxBodyBytes int64
	now          func() time.Time
	log          zerolog.Logger
}

func NewRouter(store Store, maxBodyBytes int64, log zerolog.Logger) *Router {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &Router{
		store:        store,
		maxBodyBytes: maxBodyBytes,
		now:          func() time.Time { return time.Now().UTC() },
		log:          log,
	}
}

// JoinPath normalizes a wildcard suffix into an endpoint lookup key.
func JoinPath(suffix string) string {
	segments := strings.Split(suffix, "/")
	kept := segments[:0]
	for _, s := range segments {
		if s != "" {
			kept = append(kept, s)
		}
	}
	return strings.Join(kept, "/")
}

func errorBody(msg string) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"error": msg})
	return b
}

func internalError() Outcome {
	return Outcome{Status: http.StatusInternalServerError, Body: errorBody("Internal Server Error")}
}

// Ingest runs the full lookup, auth, capture and reply sequence for one
// inbound call. Exactly one request is captured when the endpoint exists, is
// enabled and accepts the verb; none otherwise.
func (r *Router) Ingest(ctx context.Context, in Inbound) Outcome {
	path := JoinPath(in.Path)
	if path == "" {
		return Outcome{Status: http.StatusNotFound, Body: errorBody("Webhook not found")}
	}

	ep, err := r.store.GetEndpointByPath(ctx, path)
	if err != nil {
		r.log.Error().Err(err).Str("path", path).Msg("endpoint lookup failed")
		return internalError()
	}
	if ep == nil {
		return Outcome{Status: http.StatusNotFound, Body: errorBody("Webhook not found")}
	}
	if !ep.Enabled {
		return Outcome{Status: http.StatusServiceUnavailable, Body: errorBody("Webhook is disabled")}
	}
	if !ep.Accepts(in.Method) {
		return Outcome{Status: http.StatusMethodNotAllowed, Body: errorBody(fmt.Sprintf("Method %s not allowed", in.Method))}
	}

	body := captureBody(in.Method, in.Header, in.Body, r.maxBodyBytes)
	if len(body) == 0 {
		body = json.RawMessage("{}")
	}

	resp := Synthesize(Authenticate(ep, in.Header, in.Query), ep)

	headers := flattenHeaders(in.Header)
	headers[models.ResponseStatusHeader] = fmt.Sprint(resp.Status)

	captured := &models.CapturedRequest{
		ID:         models.NewID("req"),
		EndpointID: ep.ID,
		Method:     in.Method,
		Headers:    headers,
		Body:       body,
		Query:      flattenQuery(in.Query),
		Timestamp:  r.now(),
	}
	if err := r.store.CreateRequest(ctx, captured); err != nil {
		r.log.Error().Err(err).Str("endpoint_id", ep.ID).Msg("failed to capture request")
		return internalError()
	}

	r.log.Debug().
		Str("endpoint_id", ep.ID).
		Str("request_id", captured.ID).
		Str("method", in.Method).
		Int("status", resp.Status).
		Msg("request captured")

	return Outcome{Status: resp.Status, Body: resp.Body, Captured: captured}
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h)+1)
	for k, v := range h {
		out[strings.ToLower(k)] = strings.Join(v, ", ")
	}
	return out
}

func flattenQuery(q url.Values) map[string]string {
	out := make(map[string]string, len(q))
	for k := range q {
		out[k] = q.Get(k)
	}
	return out
}
