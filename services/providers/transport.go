package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// NewClient builds a client with the configured base URL and extra headers.
// Adapters add their auth headers on top.
func NewClient(vendor string, config ProviderConfig, defaultBaseURL string) *Client {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	for k, v := range config.Headers {
		header.Set(k, v)
	}

	return &Client{
		Vendor:  vendor,
		BaseURL: strings.TrimRight(baseURL, "/"),
		Header:  header,
		Timeout: config.Timeout,
		// No client timeout: streams live as long as the request context.
		HTTP: &http.Client{},
	}
}

func (c *Client) newRequest(ctx context.Context, req *VendorRequest) (*http.Request, error) {
	method := req.Method
	if method == "" {
		method = http.MethodPost
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.BaseURL+req.Path, bytes.NewReader(req.Body))
	if err != nil {
		return nil, NewProviderError(c.Vendor, "request_error", "failed to create request", 0, false, err)
	}
	httpReq.Header = c.Header.Clone()
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	return httpReq, nil
}

// Do sends req and returns the raw response for a 2xx status. Any other
// status is read and returned as a *ProviderError.
func (c *Client) Do(ctx context.Context, req *VendorRequest) (*http.Response, error) {
	httpReq, err := c.newRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, NewProviderError(c.Vendor, "http_error", "HTTP request failed", 0, true, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, ErrorFromResponse(c.Vendor, resp.StatusCode, body)
	}
	return resp, nil
}

// SendUnary performs a buffered request
func SendUnary(ctx context.Context, client *Client, req *VendorRequest) (*VendorResponse, error) {
	if client.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, client.Timeout)
		defer cancel()
	}

	resp, err := client.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewProviderError(client.Vendor, "read_error", "failed to read response", resp.StatusCode, false, err)
	}
	return &VendorResponse{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// SendStreaming opens an SSE stream. Status errors surface here, before any
// event is read.
func SendStreaming(ctx context.Context, client *Client, req *VendorRequest) (EventStream, error) {
	resp, err := client.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	return &httpEventStream{body: resp.Body, reader: NewSSEReader(resp.Body)}, nil
}

type httpEventStream struct {
	body   io.ReadCloser
	reader *SSEReader
}

func (s *httpEventStream) Next() (*SSEEvent, error) {
	return s.reader.Next()
}

func (s *httpEventStream) Close() error {
	return s.body.Close()
}

// vendorErrorBody covers the error envelopes of all supported vendors:
// {"error":{"type","message"}}, {"error":{"code","message","status"}} and
// {"type":"error","error":{...}}.
type vendorErrorBody struct {
	Error *struct {
		Type    string          `json:"type"`
		Status  string          `json:"status"`
		Code    json.RawMessage `json:"code"`
		Message string          `json:"message"`
	} `json:"error"`
	Message string `json:"message"`
}

// ErrorFromResponse converts a non-2xx vendor response into a *ProviderError.
// 429 and 5xx are retryable.
func ErrorFromResponse(vendor string, statusCode int, body []byte) *ProviderError {
	retryable := statusCode == http.StatusTooManyRequests || statusCode >= 500

	code := fmt.Sprintf("http_%d", statusCode)
	message := strings.TrimSpace(string(body))

	var parsed vendorErrorBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		switch {
		case parsed.Error != nil:
			if parsed.Error.Message != "" {
				message = parsed.Error.Message
			}
			switch {
			case parsed.Error.Type != "":
				code = parsed.Error.Type
			case parsed.Error.Status != "":
				code = parsed.Error.Status
			case len(parsed.Error.Code) > 0:
				code = strings.Trim(string(parsed.Error.Code), `"`)
			}
		case parsed.Message != "":
			message = parsed.Message
		}
	}
	if message == "" {
		message = http.StatusText(statusCode)
	}

	return NewProviderError(vendor, code, fmt.Sprintf("%s error (status %d): %s", vendor, statusCode, message), statusCode, retryable, nil)
}
