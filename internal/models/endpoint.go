package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// MethodAny accepts every inbound verb.
const MethodAny = "ANY"

type AuthType string

const (
	AuthBearer AuthType = "bearer"
	AuthQuery  AuthType = "query"
)

var pathPattern = regexp.MustCompile(`^[a-zA-Z0-9\-_/]+$`)

var allowedMethods = map[string]bool{
	"GET":     true,
	"POST":    true,
	"PUT":     true,
	"PATCH":   true,
	"DELETE":  true,
	"HEAD":    true,
	"OPTIONS": true,
	MethodAny: true,
}

type Endpoint struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Path           string          `json:"path"`
	Method         string          `json:"method"`
	Enabled        bool            `json:"enabled"`
	ResponseStatus int             `json:"responseStatus"`
	ResponseData   json.RawMessage `json:"responseData"`
	AuthEnabled    bool            `json:"authEnabled"`
	AuthType       AuthType        `json:"authType,omitempty"`
	AuthToken      string          `json:"authToken,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// EffectiveAuth returns the auth policy in force. Type and token are only
// meaningful while auth is enabled.
func (e *Endpoint) EffectiveAuth() (AuthType, string) {
	if !e.AuthEnabled {
		return "", ""
	}
	return e.AuthType, e.AuthToken
}

// Accepts reports whether the endpoint routes the given verb.
func (e *Endpoint) Accepts(method string) bool {
	return e.Method == MethodAny || e.Method == method
}

func (e *Endpoint) Validate() error {
	if e.Path == "" {
		return errors.New("path cannot be empty")
	}
	if !pathPattern.MatchString(e.Path) {
		return errors.New("invalid characters in path")
	}
	if !allowedMethods[e.Method] {
		return fmt.Errorf("unsupported method %q", e.Method)
	}
	if e.ResponseStatus < 100 || e.ResponseStatus > 599 {
		return errors.New("responseStatus must be a valid HTTP status code")
	}
	if len(e.ResponseData) > 0 && !json.Valid(e.ResponseData) {
		return errors.New("responseData must be valid JSON")
	}
	if e.AuthEnabled {
		switch e.AuthType {
		case AuthBearer, AuthQuery:
		default:
			return fmt.Errorf("unsupported authType %q", e.AuthType)
		}
	}
	return nil
}

// CoerceResponseData converts a management-supplied value into stored JSON.
// Strings are parsed as JSON documents; anything else is marshalled as is.
func CoerceResponseData(v any) (json.RawMessage, error) {
	if v == nil {
		return json.RawMessage("{}"), nil
	}
	var raw []byte
	switch val := v.(type) {
	case string:
		if !json.Valid([]byte(val)) {
			return nil, errors.New("responseData must be valid JSON")
		}
		raw = []byte(val)
	case json.RawMessage:
		if !json.Valid(val) {
			return nil, errors.New("responseData must be valid JSON")
		}
		raw = val
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("encoding responseData: %w", err)
		}
		raw = b
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, err
	}
	return json.RawMessage(buf.Bytes()), nil
}
