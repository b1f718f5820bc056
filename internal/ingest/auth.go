package ingest

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/shohag/hookrelay/internal/models"
)

const bearerPrefix = "Bearer "

// Authenticate decides whether an inbound request satisfies the endpoint's
// auth policy. Tokens are compared exactly and case-sensitively.
func Authenticate(ep *models.Endpoint, header http.Header, query url.Values) bool {
	authType, token := ep.EffectiveAuth()
	if token == "" {
		return true
	}

	switch authType {
	case models.AuthBearer:
		auth := header.Get("Authorization")
		if !strings.HasPrefix(auth, bearerPrefix) {
			return false
		}
		return strings.TrimPrefix(auth, bearerPrefix) == token
	case models.AuthQuery:
		return query.Get("token") == token
	default:
		return false
	}
}
