package models

import (
	"encoding/json"
	"time"
)

type ForwardVia string

const (
	ViaDirect ForwardVia = "direct"
	ViaRelay  ForwardVia = "relay"
)

// ForwardRequest describes one replay of a captured call. RequestID is the
// correlation id and equals the CapturedRequest id when one is known.
type ForwardRequest struct {
	TargetURL string            `json:"targetUrl"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      json.RawMessage   `json:"body,omitempty"`
	RequestID string            `json:"requestId,omitempty"`
}

type ForwardResult struct {
	Success    bool            `json:"success"`
	RequestID  string          `json:"requestId,omitempty"`
	Status     int             `json:"status"`
	StatusText string          `json:"statusText"`
	Response   json.RawMessage `json:"response"`
	Error      string          `json:"error,omitempty"`
	Via        ForwardVia      `json:"via,omitempty"`
}

// ForwardAttempt is the history record of a single forward.
type ForwardAttempt struct {
	ID         string     `json:"id"`
	RequestID  string     `json:"requestId"`
	TargetURL  string     `json:"targetUrl"`
	Method     string     `json:"method"`
	Via        ForwardVia `json:"via"`
	StatusCode int        `json:"statusCode"`
	LatencyMs  int64      `json:"latencyMs"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}
