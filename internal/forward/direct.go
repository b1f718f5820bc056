package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shohag/hookrelay/internal/models"
)

const (
	DefaultTimeout          = 15 * time.Second
	DefaultMaxResponseBytes = 1 << 20
)

// Headers the transport sets itself.
var managedHeaders = map[string]bool{
	"host":           true,
	"content-length": true,
	"connection":     true,
}

// Strategy replays a captured request against a target.
type Strategy interface {
	Forward(ctx context.Context, req *models.ForwardRequest) (*models.ForwardResult, error)
}

// Direct performs the replay from the server process.
type Direct struct {
	client           *http.Client
	maxResponseBytes int64
}

func NewDirect(timeout time.Duration) *Direct {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return NewDirectWithHTTPClient(&http.Client{Timeout: timeout})
}

// NewDirectWithHTTPClient creates a Direct strategy with a custom client (for testing).
func NewDirectWithHTTPClient(client *http.Client) *Direct {
	return &Direct{client: client, maxResponseBytes: DefaultMaxResponseBytes}
}

// SetMaxResponseBytes caps how much of a downstream reply is read.
func (d *Direct) SetMaxResponseBytes(n int64) {
	if n > 0 {
		d.maxResponseBytes = n
	}
}

func (d *Direct) Forward(ctx context.Context, req *models.ForwardRequest) (*models.ForwardResult, error) {
	target, err := ParseTarget(req.TargetURL)
	if err != nil {
		return nil, err
	}

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	hasBody := method != http.MethodGet && method != http.MethodHead && len(req.Body) > 0 && string(req.Body) != "null"
	if hasBody {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range req.Headers {
		if managedHeaders[strings.ToLower(k)] {
			continue
		}
		httpReq.Header.Set(k, v)
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", "hookrelay/1.0")
	}
	if hasBody && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Target: target.String(), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, d.maxResponseBytes))
	if err != nil {
		return nil, &TransportError{Target: target.String(), Err: fmt.Errorf("reading response: %w", err)}
	}

	return buildResult(req.RequestID, resp, raw), nil
}

func buildResult(requestID string, resp *http.Response, raw []byte) *models.ForwardResult {
	result := &models.ForwardResult{
		Success:    IsSuccess(resp.StatusCode),
		RequestID:  requestID,
		Status:     resp.StatusCode,
		StatusText: statusText(resp),
		Response:   decodeResponse(raw),
		Via:        models.ViaDirect,
	}
	if !result.Success {
		result.Error = fmt.Sprintf("target responded with %d %s", resp.StatusCode, result.StatusText)
	}
	return result
}

// decodeResponse keeps JSON replies as JSON and wraps anything else as a string.
func decodeResponse(raw []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return json.RawMessage("null")
	}
	if json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}
	b, _ := json.Marshal(string(raw))
	return b
}

func statusText(resp *http.Response) string {
	text := strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)+" ")
	if text == "" || text == resp.Status {
		return http.StatusText(resp.StatusCode)
	}
	return text
}

func IsSuccess(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
