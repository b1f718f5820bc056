package ingest

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

var invalidJSONBody = json.RawMessage(`{"error":"Invalid JSON"}`)

// captureBody reads the request body into its stored form. It returns nil when
// there is nothing to record.
func captureBody(method string, header http.Header, body io.Reader, limit int64) json.RawMessage {
	if method == http.MethodGet || method == http.MethodHead || body == nil {
		return nil
	}

	data, err := io.ReadAll(io.LimitReader(body, limit))
	isJSON := strings.Contains(header.Get("Content-Type"), "application/json")

	if isJSON {
		if err != nil || !json.Valid(data) {
			return invalidJSONBody
		}
		// A JSON null carries nothing to record.
		if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
			return nil
		}
		return json.RawMessage(data)
	}

	if err != nil || len(data) == 0 {
		return nil
	}
	raw, err := json.Marshal(map[string]string{"raw": string(data)})
	if err != nil {
		return nil
	}
	return raw
}
