package ingest

import (
	"encoding/json"
	"net/http"

	"github.com/shohag/hookrelay/internal/models"
)

var unauthorizedBody = json.RawMessage(`{"error":"Unauthorized"}`)

// Response is the reply chosen for a routed request.
type Response struct {
	Status int
	Body   json.RawMessage
}

// Synthesize returns the endpoint's stored response verbatim, or the fixed
// 401 reply when the request failed authentication.
func Synthesize(authenticated bool, ep *models.Endpoint) Response {
	if !authenticated {
		return Response{Status: http.StatusUnauthorized, Body: unauthorizedBody}
	}
	body := ep.ResponseData
	if len(body) == 0 {
		body = json.RawMessage("null")
	}
	return Response{Status: ep.ResponseStatus, Body: body}
}
