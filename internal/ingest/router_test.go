package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shohag/hookrelay/internal/models"
)

type memStore struct {
	mu        sync.Mutex
	endpoints map[string]*models.Endpoint
	captured  []*models.CapturedRequest
	lookupErr error
	createErr error
}

func newMemStore(eps ...*models.Endpoint) *memStore {
	s := &memStore{endpoints: map[string]*models.Endpoint{}}
	for _, ep := range eps {
		s.endpoints[ep.Path] = ep
	}
	return s
}

func (s *memStore) GetEndpointByPath(_ context.Context, path string) (*models.Endpoint, error) {
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	return s.endpoints[path], nil
}

func (s *memStore) CreateRequest(_ context.Context, req *models.CapturedRequest) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.captured = append(s.captured, req)
	return nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.captured)
}

func endpoint(path, method string) *models.Endpoint {
	return &models.Endpoint{
		ID:             "ep_" + path,
		Path:           path,
		Method:         method,
		Enabled:        true,
		ResponseStatus: 201,
		ResponseData:   json.RawMessage(`{"success":true,"message":"Hello"}`),
	}
}

func jsonPost(path, body string) Inbound {
	return Inbound{
		Method: http.MethodPost,
		Path:   path,
		Header: http.Header{"Content-Type": {"application/json"}},
		Query:  url.Values{},
		Body:   strings.NewReader(body),
	}
}

func TestRouter_CapturesAndReplies(t *testing.T) {
	t.Parallel()

	store := newMemStore(endpoint("test-webhook-1", "POST"))
	r := NewRouter(store, 0, zerolog.Nop())

	out := r.Ingest(context.Background(), jsonPost("test-webhook-1", `{"foo":"bar"}`))

	assert.Equal(t, 201, out.Status)
	assert.Equal(t, `{"success":true,"message":"Hello"}`, string(out.Body))
	require.Equal(t, 1, store.count())

	captured := store.captured[0]
	assert.Same(t, captured, out.Captured)
	assert.Equal(t, "ep_test-webhook-1", captured.EndpointID)
	assert.Equal(t, "POST", captured.Method)
	assert.JSONEq(t, `{"foo":"bar"}`, string(captured.Body))
	assert.Equal(t, "201", captured.Headers[models.ResponseStatusHeader])
	assert.Equal(t, "application/json", captured.Headers["content-type"])
	assert.False(t, captured.Timestamp.IsZero())
}

func TestRouter_NestedPath(t *testing.T) {
	t.Parallel()

	store := newMemStore(endpoint("test/path", "POST"))
	r := NewRouter(store, 0, zerolog.Nop())

	out := r.Ingest(context.Background(), jsonPost("test/path", `{}`))
	assert.Equal(t, 201, out.Status)
	assert.Equal(t, 1, store.count())
}

func TestRouter_TerminalOutcomesDoNotCapture(t *testing.T) {
	t.Parallel()

	disabled := endpoint("off", "POST")
	disabled.Enabled = false
	store := newMemStore(disabled, endpoint("post-only", "POST"))
	r := NewRouter(store, 0, zerolog.Nop())

	tests := []struct {
		name   string
		in     Inbound
		status int
		body   string
	}{
		{name: "unknown path", in: jsonPost("not/found", `{}`), status: 404, body: `{"error":"Webhook not found"}`},
		{name: "empty path", in: jsonPost("/", `{}`), status: 404, body: `{"error":"Webhook not found"}`},
		{name: "disabled", in: jsonPost("off", `{}`), status: 503, body: `{"error":"Webhook is disabled"}`},
		{
			name:   "method mismatch",
			in:     Inbound{Method: "GET", Path: "post-only", Header: http.Header{}, Query: url.Values{}},
			status: 405,
			body:   `{"error":"Method GET not allowed"}`,
		},
	}

	for _, tt := range tests {
		out := r.Ingest(context.Background(), tt.in)
		assert.Equal(t, tt.status, out.Status, tt.name)
		assert.JSONEq(t, tt.body, string(out.Body), tt.name)
		assert.Nil(t, out.Captured, tt.name)
	}
	assert.Zero(t, store.count())
}

func TestRouter_UnknownPathEveryMethod(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	r := NewRouter(store, 0, zerolog.Nop())
	for _, m := range []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"} {
		out := r.Ingest(context.Background(), Inbound{Method: m, Path: "not/found", Header: http.Header{}, Query: url.Values{}})
		assert.Equal(t, http.StatusNotFound, out.Status, m)
	}
}

func TestRouter_AnyMethod(t *testing.T) {
	t.Parallel()

	store := newMemStore(endpoint("any", models.MethodAny))
	r := NewRouter(store, 0, zerolog.Nop())

	for _, m := range []string{"GET", "PUT", "DELETE"} {
		out := r.Ingest(context.Background(), Inbound{Method: m, Path: "any", Header: http.Header{}, Query: url.Values{}})
		assert.Equal(t, 201, out.Status, m)
	}
	require.Equal(t, 3, store.count())
	assert.Equal(t, "DELETE", store.captured[2].Method)
	assert.Equal(t, "{}", string(store.captured[0].Body))
}

func TestRouter_BearerAuth(t *testing.T) {
	t.Parallel()

	ep := endpoint("secure", "POST")
	ep.AuthEnabled = true
	ep.AuthType = models.AuthBearer
	ep.AuthToken = "T"
	store := newMemStore(ep)
	r := NewRouter(store, 0, zerolog.Nop())

	in := jsonPost("secure", `{}`)
	in.Header.Set("Authorization", "Bearer T")
	out := r.Ingest(context.Background(), in)
	assert.Equal(t, 201, out.Status)

	denied := r.Ingest(context.Background(), jsonPost("secure", `{}`))
	assert.Equal(t, http.StatusUnauthorized, denied.Status)
	assert.JSONEq(t, `{"error":"Unauthorized"}`, string(denied.Body))

	require.Equal(t, 2, store.count())
	assert.Equal(t, "401", store.captured[1].Headers[models.ResponseStatusHeader])
}

func TestRouter_QueryAuth(t *testing.T) {
	t.Parallel()

	ep := endpoint("q", "GET")
	ep.AuthEnabled = true
	ep.AuthType = models.AuthQuery
	ep.AuthToken = "T"
	store := newMemStore(ep)
	r := NewRouter(store, 0, zerolog.Nop())

	get := func(q url.Values) Outcome {
		return r.Ingest(context.Background(), Inbound{Method: "GET", Path: "q", Header: http.Header{}, Query: q})
	}

	assert.Equal(t, 201, get(url.Values{"token": {"T"}}).Status)
	assert.Equal(t, 401, get(url.Values{"token": {"wrong"}}).Status)
	assert.Equal(t, 401, get(url.Values{}).Status)
	assert.Equal(t, "T", store.captured[0].Query["token"])
}

func TestRouter_MalformedJSONStillAnswered(t *testing.T) {
	t.Parallel()

	store := newMemStore(endpoint("broken", "POST"))
	r := NewRouter(store, 0, zerolog.Nop())

	out := r.Ingest(context.Background(), jsonPost("broken", `{"foo":`))
	assert.Equal(t, 201, out.Status)
	require.Equal(t, 1, store.count())
	assert.JSONEq(t, `{"error":"Invalid JSON"}`, string(store.captured[0].Body))
}

func TestRouter_NullJSONBodyStoredAsEmptyObject(t *testing.T) {
	t.Parallel()

	store := newMemStore(endpoint("n", "POST"))
	r := NewRouter(store, 0, zerolog.Nop())

	out := r.Ingest(context.Background(), jsonPost("n", `null`))
	assert.Equal(t, 201, out.Status)
	require.Equal(t, 1, store.count())
	assert.Equal(t, `{}`, string(store.captured[0].Body))
}

func TestRouter_StoreFailures(t *testing.T) {
	t.Parallel()

	lookup := newMemStore()
	lookup.lookupErr = errors.New("db down")
	out := NewRouter(lookup, 0, zerolog.Nop()).Ingest(context.Background(), jsonPost("x", `{}`))
	assert.Equal(t, http.StatusInternalServerError, out.Status)
	assert.JSONEq(t, `{"error":"Internal Server Error"}`, string(out.Body))

	write := newMemStore(endpoint("x", "POST"))
	write.createErr = errors.New("disk full")
	out = NewRouter(write, 0, zerolog.Nop()).Ingest(context.Background(), jsonPost("x", `{}`))
	assert.Equal(t, http.StatusInternalServerError, out.Status)
	assert.Nil(t, out.Captured)
}

func TestRouter_ResponseDataNotMutated(t *testing.T) {
	t.Parallel()

	ep := endpoint("stable", models.MethodAny)
	ep.ResponseData = json.RawMessage(`{"a":1}`)
	store := newMemStore(ep)
	r := NewRouter(store, 0, zerolog.Nop())

	for i := 0; i < 3; i++ {
		out := r.Ingest(context.Background(), jsonPost("stable", `{}`))
		assert.Equal(t, `{"a":1}`, string(out.Body))
	}
	assert.Equal(t, `{"a":1}`, string(ep.ResponseData))
}
