package forward

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shohag/hookrelay/internal/models"
)

type received struct {
	method string
	header http.Header
	body   string
}

func captureServer(t *testing.T, status int, contentType, reply string) (*httptest.Server, *received) {
	t.Helper()
	got := &received{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got.method = r.Method
		got.header = r.Header.Clone()
		got.body = string(b)
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestDirect_ReplaysRequest(t *testing.T) {
	t.Parallel()

	srv, got := captureServer(t, http.StatusCreated, "application/json", `{"ok":true}`)
	d := NewDirectWithHTTPClient(srv.Client())

	result, err := d.Forward(context.Background(), &models.ForwardRequest{
		TargetURL: srv.URL + "/hook",
		Method:    "PUT",
		Headers: map[string]string{
			"content-type":   "application/json",
			"x-custom":       "1",
			"Host":           "evil.example",
			"Content-Length": "999",
			"connection":     "close",
		},
		Body:      json.RawMessage(`{"foo":"bar"}`),
		RequestID: "req_1",
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, http.StatusCreated, result.Status)
	assert.Equal(t, "Created", result.StatusText)
	assert.JSONEq(t, `{"ok":true}`, string(result.Response))
	assert.Equal(t, "req_1", result.RequestID)
	assert.Equal(t, models.ViaDirect, result.Via)

	assert.Equal(t, "PUT", got.method)
	assert.Equal(t, `{"foo":"bar"}`, got.body)
	assert.Equal(t, "1", got.header.Get("X-Custom"))
	assert.Empty(t, got.header.Get("Connection"))
}

func TestDirect_DefaultsToPOST(t *testing.T) {
	t.Parallel()

	srv, got := captureServer(t, http.StatusOK, "application/json", `{}`)
	d := NewDirectWithHTTPClient(srv.Client())

	_, err := d.Forward(context.Background(), &models.ForwardRequest{
		TargetURL: srv.URL,
		Body:      json.RawMessage(`{"a":1}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "POST", got.method)
	assert.Equal(t, "application/json", got.header.Get("Content-Type"))
}

func TestDirect_OmitsBodyForGET(t *testing.T) {
	t.Parallel()

	srv, got := captureServer(t, http.StatusOK, "application/json", `{}`)
	d := NewDirectWithHTTPClient(srv.Client())

	_, err := d.Forward(context.Background(), &models.ForwardRequest{
		TargetURL: srv.URL,
		Method:    "GET",
		Body:      json.RawMessage(`{"ignored":true}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "GET", got.method)
	assert.Empty(t, got.body)
}

func TestDirect_NonJSONAndErrorStatus(t *testing.T) {
	t.Parallel()

	srv, _ := captureServer(t, http.StatusInternalServerError, "text/plain", "boom")
	d := NewDirectWithHTTPClient(srv.Client())

	result, err := d.Forward(context.Background(), &models.ForwardRequest{TargetURL: srv.URL})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 500, result.Status)
	assert.Equal(t, `"boom"`, string(result.Response))
	assert.Contains(t, result.Error, "500")
}

func TestDirect_InvalidTarget(t *testing.T) {
	t.Parallel()

	d := NewDirect(time.Second)
	_, err := d.Forward(context.Background(), &models.ForwardRequest{})
	assert.ErrorIs(t, err, ErrMissingTarget)

	for _, target := range []string{"not a url", "/relative", "ftp://example.com", "http://"} {
		_, err := d.Forward(context.Background(), &models.ForwardRequest{TargetURL: target})
		assert.ErrorIs(t, err, ErrInvalidTarget, target)
	}
}

func TestDirect_UnreachableTarget(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	target := srv.URL
	srv.Close()

	d := NewDirect(2 * time.Second)
	_, err := d.Forward(context.Background(), &models.ForwardRequest{TargetURL: target})
	require.Error(t, err)

	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, target, transportErr.Target)
}

func TestIsLocalTarget(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"http://localhost:3000/hook":    true,
		"http://app.localhost/x":        true,
		"http://127.0.0.1:8080":         true,
		"http://[::1]:8080":             true,
		"http://10.1.2.3":               true,
		"http://192.168.0.10":           true,
		"http://172.16.5.4":             true,
		"http://169.254.1.1":            true,
		"http://0.0.0.0:9000":           true,
		"https://example.com/hook":      false,
		"https://93.184.216.34/hook":    false,
		"http://[::ffff:127.0.0.1]:900": true,
	}
	for raw, want := range cases {
		u, err := url.Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, want, IsLocalTarget(u), raw)
	}
}

type fakeBridge struct {
	available bool
	err       error
	calls     int
	lastReq   *models.ForwardRequest
}

func (b *fakeBridge) Available(context.Context) bool { return b.available }

func (b *fakeBridge) Forward(_ context.Context, req *models.ForwardRequest) (*models.ForwardResult, error) {
	b.calls++
	b.lastReq = req
	if b.err != nil {
		return nil, b.err
	}
	return &models.ForwardResult{
		Success:    true,
		RequestID:  req.RequestID,
		Status:     200,
		StatusText: "OK",
		Response:   json.RawMessage(`{"relayed":true}`),
	}, nil
}

type fakeStrategy struct {
	calls int
}

func (s *fakeStrategy) Forward(_ context.Context, req *models.ForwardRequest) (*models.ForwardResult, error) {
	s.calls++
	return &models.ForwardResult{Success: true, RequestID: req.RequestID, Status: 200, StatusText: "OK", Via: models.ViaDirect}, nil
}

type memRecorder struct {
	mu       sync.Mutex
	attempts []*models.ForwardAttempt
}

func (r *memRecorder) CreateForwardAttempt(_ context.Context, a *models.ForwardAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, a)
	return nil
}

func TestForwarder_LocalTargetUsesRelay(t *testing.T) {
	t.Parallel()

	bridge := &fakeBridge{available: true}
	direct := &fakeStrategy{}
	rec := &memRecorder{}
	f := New(direct, bridge, rec, zerolog.Nop())

	result, err := f.Forward(context.Background(), &models.ForwardRequest{
		TargetURL: "http://localhost:4000/hook",
		RequestID: "req_42",
	}, "")
	require.NoError(t, err)

	assert.Equal(t, models.ViaRelay, result.Via)
	assert.Equal(t, 1, bridge.calls)
	assert.Zero(t, direct.calls)
	assert.Equal(t, "req_42", bridge.lastReq.RequestID)
	assert.Equal(t, "POST", bridge.lastReq.Method)

	require.Len(t, rec.attempts, 1)
	assert.Equal(t, models.ViaRelay, rec.attempts[0].Via)
	assert.Equal(t, 200, rec.attempts[0].StatusCode)
}

func TestForwarder_FallsBackWhenRelayAbsent(t *testing.T) {
	t.Parallel()

	bridge := &fakeBridge{available: false}
	direct := &fakeStrategy{}
	f := New(direct, bridge, nil, zerolog.Nop())

	result, err := f.Forward(context.Background(), &models.ForwardRequest{TargetURL: "http://127.0.0.1:4000"}, models.ViaRelay)
	require.NoError(t, err)
	assert.Equal(t, models.ViaDirect, result.Via)
	assert.Zero(t, bridge.calls)
	assert.Equal(t, 1, direct.calls)
}

func TestForwarder_PublicTargetGoesDirect(t *testing.T) {
	t.Parallel()

	bridge := &fakeBridge{available: true}
	direct := &fakeStrategy{}
	f := New(direct, bridge, nil, zerolog.Nop())

	_, err := f.Forward(context.Background(), &models.ForwardRequest{TargetURL: "https://example.com/hook"}, "")
	require.NoError(t, err)
	assert.Zero(t, bridge.calls)
	assert.Equal(t, 1, direct.calls)

	_, err = f.Forward(context.Background(), &models.ForwardRequest{TargetURL: "http://localhost/hook"}, models.ViaDirect)
	require.NoError(t, err)
	assert.Zero(t, bridge.calls)
}

func TestForwarder_NoBridge(t *testing.T) {
	t.Parallel()

	direct := &fakeStrategy{}
	f := New(direct, nil, nil, zerolog.Nop())

	_, err := f.Forward(context.Background(), &models.ForwardRequest{TargetURL: "http://localhost/hook"}, "")
	require.NoError(t, err)
	assert.Equal(t, 1, direct.calls)
}

func TestForwarder_RelayFailureIsTransportError(t *testing.T) {
	t.Parallel()

	bridge := &fakeBridge{available: true, err: errors.New("connection refused")}
	rec := &memRecorder{}
	f := New(&fakeStrategy{}, bridge, rec, zerolog.Nop())

	_, err := f.Forward(context.Background(), &models.ForwardRequest{TargetURL: "http://localhost:1", RequestID: "req_9"}, "")
	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)

	require.Len(t, rec.attempts, 1)
	assert.Contains(t, rec.attempts[0].Error, "connection refused")
}

func TestForwarder_InvalidTarget(t *testing.T) {
	t.Parallel()

	f := New(&fakeStrategy{}, nil, nil, zerolog.Nop())
	_, err := f.Forward(context.Background(), &models.ForwardRequest{}, "")
	assert.ErrorIs(t, err, ErrMissingTarget)
}
