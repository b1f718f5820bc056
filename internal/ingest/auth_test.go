package ingest

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/shohag/hookrelay/internal/models"
)

func TestAuthenticate(t *testing.T) {
	t.Parallel()

	bearer := &models.Endpoint{AuthEnabled: true, AuthType: models.AuthBearer, AuthToken: "T"}
	query := &models.Endpoint{AuthEnabled: true, AuthType: models.AuthQuery, AuthToken: "T"}

	tests := []struct {
		name   string
		ep     *models.Endpoint
		header http.Header
		query  url.Values
		want   bool
	}{
		{name: "auth disabled", ep: &models.Endpoint{AuthType: models.AuthBearer, AuthToken: "T"}, want: true},
		{name: "empty token", ep: &models.Endpoint{AuthEnabled: true, AuthType: models.AuthBearer}, want: true},
		{name: "bearer match", ep: bearer, header: http.Header{"Authorization": {"Bearer T"}}, want: true},
		{name: "bearer wrong token", ep: bearer, header: http.Header{"Authorization": {"Bearer X"}}},
		{name: "bearer case sensitive", ep: bearer, header: http.Header{"Authorization": {"Bearer t"}}},
		{name: "bearer lower prefix", ep: bearer, header: http.Header{"Authorization": {"bearer T"}}},
		{name: "bearer missing", ep: bearer, header: http.Header{}},
		{name: "bearer token in query ignored", ep: bearer, query: url.Values{"token": {"T"}}},
		{name: "query match", ep: query, query: url.Values{"token": {"T"}}, want: true},
		{name: "query wrong", ep: query, query: url.Values{"token": {"wrong"}}},
		{name: "query missing", ep: query, query: url.Values{}},
		{name: "query header ignored", ep: query, header: http.Header{"Authorization": {"Bearer T"}}},
		{
			name: "unknown type",
			ep:   &models.Endpoint{AuthEnabled: true, AuthType: "basic", AuthToken: "T"},
			want: false,
		},
		{
			name: "unset type",
			ep:   &models.Endpoint{AuthEnabled: true, AuthToken: "T"},
			want: false,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			header := tt.header
			if header == nil {
				header = http.Header{}
			}
			q := tt.query
			if q == nil {
				q = url.Values{}
			}
			assert.Equal(t, tt.want, Authenticate(tt.ep, header, q))
		})
	}
}

func TestSynthesize(t *testing.T) {
	t.Parallel()

	ep := &models.Endpoint{ResponseStatus: 201, ResponseData: []byte(`{"a":1}`)}

	ok := Synthesize(true, ep)
	assert.Equal(t, 201, ok.Status)
	assert.Equal(t, `{"a":1}`, string(ok.Body))

	denied := Synthesize(false, ep)
	assert.Equal(t, http.StatusUnauthorized, denied.Status)
	assert.JSONEq(t, `{"error":"Unauthorized"}`, string(denied.Body))
}
