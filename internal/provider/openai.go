// Package provider relays requests to the downstream OpenAI-compatible
// API. Request and response bodies pass through opaquely; this layer
// only attaches credentials, maps transport failures, and exposes
// streaming responses as an incremental sequence.
package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client calls the downstream provider with the relay's own credential.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a provider client. The timeout bounds every
// non-streaming call; streaming calls disable the client timeout and
// rely on context cancellation instead.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// errorBody is the error envelope returned by the downstream API.
type errorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Error is a downstream failure carrying the provider's status code and
// message so they can be forwarded verbatim.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider: status %d: %s", e.StatusCode, e.Message)
}

// Do posts a JSON payload to the given API path and returns the raw
// response body. Non-2xx responses become *Error.
func (c *Client) Do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var body io.Reader
	if len(payload) > 0 {
		body = bytes.NewReader(payload)
	}
	req, errReq := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if errReq != nil {
		return nil, fmt.Errorf("provider: build request: %w", errReq)
	}
	if len(payload) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, errDo := c.httpClient.Do(req)
	if errDo != nil {
		return nil, fmt.Errorf("provider: %s %s: %w", method, path, errDo)
	}
	defer resp.Body.Close()

	data, errRead := io.ReadAll(resp.Body)
	if errRead != nil {
		return nil, fmt.Errorf("provider: read response: %w", errRead)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{StatusCode: resp.StatusCode, Message: extractMessage(data)}
	}
	return data, nil
}

// Upload posts a multipart body, used for training file uploads. The
// caller supplies the fully encoded body and its content type.
func (c *Client) Upload(ctx context.Context, path, contentType string, body io.Reader) ([]byte, error) {
	req, errReq := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if errReq != nil {
		return nil, fmt.Errorf("provider: build upload: %w", errReq)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, errDo := c.httpClient.Do(req)
	if errDo != nil {
		return nil, fmt.Errorf("provider: upload %s: %w", path, errDo)
	}
	defer resp.Body.Close()

	data, errRead := io.ReadAll(resp.Body)
	if errRead != nil {
		return nil, fmt.Errorf("provider: read response: %w", errRead)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{StatusCode: resp.StatusCode, Message: extractMessage(data)}
	}
	return data, nil
}

// Stream posts a JSON payload and returns the response as an
// incremental sequence of SSE data payloads. The caller must Close the
// stream; cancelling ctx aborts the underlying connection, so no
// further chunks are pulled from the provider after the caller stops.
func (c *Client) Stream(ctx context.Context, path string, payload []byte) (*Stream, error) {
	req, errReq := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if errReq != nil {
		return nil, fmt.Errorf("provider: build request: %w", errReq)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	// No client-level timeout: a live stream has no bounded duration.
	streamClient := &http.Client{Transport: c.httpClient.Transport}
	resp, errDo := streamClient.Do(req)
	if errDo != nil {
		return nil, fmt.Errorf("provider: stream %s: %w", path, errDo)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &Error{StatusCode: resp.StatusCode, Message: extractMessage(data)}
	}

	return &Stream{
		reader: bufio.NewReader(resp.Body),
		body:   resp.Body,
	}, nil
}

// Stream is an open downstream SSE response.
type Stream struct {
	reader *bufio.Reader
	body   io.ReadCloser
}

// Recv returns the next SSE data payload, or io.EOF when the provider
// closes the sequence or sends the terminal sentinel.
func (s *Stream) Recv() ([]byte, error) {
	for {
		line, errRead := s.reader.ReadString('\n')
		if errRead != nil {
			return nil, io.EOF
		}
		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return nil, io.EOF
		}
		return []byte(data), nil
	}
}

// Close releases the underlying connection.
func (s *Stream) Close() error {
	return s.body.Close()
}

// extractMessage pulls the provider's error message out of an error
// envelope, falling back to the raw body.
func extractMessage(data []byte) string {
	var envelope errorBody
	if errUnmarshal := json.Unmarshal(data, &envelope); errUnmarshal == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return "downstream provider error"
	}
	return trimmed
}
