package capflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultExecuteEndpoint is the remote execution path used by the
	// restricted-side fallback transport unless a capability overrides it.
	DefaultExecuteEndpoint = "/api/tools/execute"

	// DefaultConfirmEndpoint is the path for executing capabilities that
	// were explicitly approved by a human.
	DefaultConfirmEndpoint = "/api/tools/confirm"

	// DefaultHTTPTimeout bounds the default transport's round trip.
	DefaultHTTPTimeout = 30 * time.Second
)

// Response is the transport-agnostic result of a remote call.
type Response struct {
	StatusCode int
	Status     string
	Body       []byte
}

// OK reports whether the response carries a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// RequestFunc performs a remote call: POST body as JSON to endpoint.
// A non-nil error means the call never produced a response (network
// failure); server-side failures come back as non-2xx Responses.
type RequestFunc func(ctx context.Context, endpoint string, body []byte) (*Response, error)

// NewHTTPRequestFunc builds a RequestFunc over net/http. Endpoints are
// resolved against baseURL. A nil client gets a default with
// DefaultHTTPTimeout. Each request carries a fresh X-Request-Id.
func NewHTTPRequestFunc(client *http.Client, baseURL string) RequestFunc {
	if client == nil {
		client = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	base := strings.TrimRight(baseURL, "/")

	return func(ctx context.Context, endpoint string, body []byte) (*Response, error) {
		url := base + "/" + strings.TrimLeft(endpoint, "/")
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Request-Id", uuid.NewString())

		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}

		return &Response{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       data,
		}, nil
	}
}

// executeRequest is the wire body for remote execution and confirmation.
type executeRequest struct {
	Tool  string `json:"tool"`
	Input any    `json:"input"`
}

// executeResponse is the canonical success envelope. Alternate shapes
// ({"data": ...} or the output at the top level) are accepted for
// compatibility with older servers.
type executeResponse struct {
	Result any `json:"result"`
	Data   any `json:"data"`
}

// errorResponse is the failure envelope; Message is a fallback key.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// decodeRemoteResult extracts the output from a 2xx response body.
func decodeRemoteResult(body []byte) (any, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err == nil {
		if raw, ok := envelope["result"]; ok {
			var out any
			if err := json.Unmarshal(raw, &out); err != nil {
				return nil, fmt.Errorf("malformed result field: %w", err)
			}
			return out, nil
		}
		if raw, ok := envelope["data"]; ok {
			var out any
			if err := json.Unmarshal(raw, &out); err != nil {
				return nil, fmt.Errorf("malformed data field: %w", err)
			}
			return out, nil
		}
	}

	// Top-level output shape.
	var out any
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("unparseable response body: %w", err)
	}
	return out, nil
}

// remoteCallError normalizes a non-2xx response into a RemoteCallError,
// preferring the server-provided message over the status text.
func remoteCallError(capability string, resp *Response) *RemoteCallError {
	message := resp.Status

	var body errorResponse
	if err := json.Unmarshal(resp.Body, &body); err == nil {
		if body.Error != "" {
			message = body.Error
		} else if body.Message != "" {
			message = body.Message
		}
	}

	return &RemoteCallError{
		Capability: capability,
		StatusCode: resp.StatusCode,
		Message:    message,
	}
}
