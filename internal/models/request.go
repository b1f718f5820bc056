package models

import (
	"encoding/json"
	"time"
)

// ResponseStatusHeader is added to every captured header set and records the
// status returned to the caller.
const ResponseStatusHeader = "x-webhook-response-status"

// CapturedRequest is one inbound call matched to an Endpoint. It is never
// updated after it is written.
type CapturedRequest struct {
	ID         string            `json:"id"`
	EndpointID string            `json:"webhookId"`
	Method     string            `json:"method"`
	Headers    map[string]string `json:"headers"`
	Body       json.RawMessage   `json:"body"`
	Query      map[string]string `json:"query"`
	Timestamp  time.Time         `json:"timestamp"`
}

// ResponseStatus returns the status recorded in the synthetic header.
func (r *CapturedRequest) ResponseStatus() string {
	return r.Headers[ResponseStatusHeader]
}
