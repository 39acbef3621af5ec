package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/modelrelay/modelrelay/pkg/httpclient"
)

// encryptedContentInclude asks the Responses API to return reasoning
// encrypted payloads so they can round-trip through thinking blocks.
const encryptedContentInclude = "reasoning.encrypted_content"

// promptCacheKey identifies the proxy to downstream prompt caches.
const promptCacheKey = "modelrelay"

// StatusError is a non-2xx downstream reply.
type StatusError struct {
	StatusCode int
	APIError   APIError
}

func (e *StatusError) Error() string {
	if e.APIError.Message != "" {
		return fmt.Sprintf("downstream HTTP %d: %s", e.StatusCode, e.APIError.Message)
	}
	return fmt.Sprintf("downstream HTTP %d", e.StatusCode)
}

// Client talks to one provider endpoint. Safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	http    *httpclient.Client
}

type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *httpclient.Client) ClientOption {
	return func(c *Client) {
		c.http = h
	}
}

// NewClient creates a client for the given base URL and bearer key.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    httpclient.New(httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// endpoint joins the base URL with a /v1-prefixed path, tolerating base
// URLs that already carry the /v1 segment.
func (c *Client) endpoint(path string) string {
	if strings.HasSuffix(c.baseURL, "/v1") {
		return c.baseURL + strings.TrimPrefix(path, "/v1")
	}
	return c.baseURL + path
}

// prepareResponses applies the client-level Responses API invariants:
// encrypted reasoning is always requested and nothing is stored.
func prepareResponses(req *ResponsesRequest) {
	req.Include = []string{encryptedContentInclude}
	store := false
	req.Store = &store
	if req.PromptCacheKey == "" {
		req.PromptCacheKey = promptCacheKey
	}
}

// CreateResponses performs a non-streaming Responses API call.
func (c *Client) CreateResponses(ctx context.Context, req *ResponsesRequest) (*ResponsesResponse, error) {
	prepareResponses(req)
	req.Stream = false

	resp, err := c.post(ctx, c.endpoint("/v1/responses"), req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out ResponsesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode responses reply: %w", err)
	}
	if out.Error != nil {
		return nil, &StatusError{StatusCode: resp.StatusCode, APIError: *out.Error}
	}
	return &out, nil
}

// StreamResponses performs a streaming Responses API call. Events arrive
// on the returned channel; a transport failure surfaces as a final event
// with Err set, then the channel closes.
func (c *Client) StreamResponses(ctx context.Context, req *ResponsesRequest) (<-chan ResponsesStreamEvent, error) {
	prepareResponses(req)
	req.Stream = true

	resp, err := c.post(ctx, c.endpoint("/v1/responses"), req)
	if err != nil {
		return nil, err
	}

	events := make(chan ResponsesStreamEvent, 16)
	go func() {
		defer close(events)
		defer resp.Body.Close()

		scanner := newSSEScanner(resp.Body)
		for scanner.Scan() {
			data := scanner.Data()
			if data == "" {
				continue
			}

			var event ResponsesStreamEvent
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				continue
			}
			select {
			case events <- event:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			select {
			case events <- ResponsesStreamEvent{Err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return events, nil
}

// CreateChatCompletion performs a non-streaming Chat Completions call.
func (c *Client) CreateChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	req.Stream = false

	resp, err := c.post(ctx, c.endpoint("/v1/chat/completions"), req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode chat reply: %w", err)
	}
	if out.Error != nil {
		return nil, &StatusError{StatusCode: resp.StatusCode, APIError: *out.Error}
	}
	return &out, nil
}

// StreamChatCompletion performs a streaming Chat Completions call. Chunks
// arrive on the returned channel until the [DONE] sentinel or EOF.
func (c *Client) StreamChatCompletion(ctx context.Context, req *ChatRequest) (<-chan ChatStreamChunk, error) {
	req.Stream = true

	resp, err := c.post(ctx, c.endpoint("/v1/chat/completions"), req)
	if err != nil {
		return nil, err
	}

	chunks := make(chan ChatStreamChunk, 16)
	go func() {
		defer close(chunks)
		defer resp.Body.Close()

		scanner := newSSEScanner(resp.Body)
		for scanner.Scan() {
			data := scanner.Data()
			if data == "" {
				continue
			}
			if data == "[DONE]" {
				return
			}

			var chunk ChatStreamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			select {
			case chunks <- chunk:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			select {
			case chunks <- ChatStreamChunk{Err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return chunks, nil
}

func (c *Client) post(ctx context.Context, url string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, parseErrorResponse(resp)
	}
	return resp, nil
}

// parseErrorResponse extracts the OpenAI error object from a failed reply.
func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var wrapper struct {
		Error *APIError `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapper); err == nil && wrapper.Error != nil {
		return &StatusError{StatusCode: resp.StatusCode, APIError: *wrapper.Error}
	}

	message := strings.TrimSpace(string(body))
	if message == "" {
		message = resp.Status
	}
	return &StatusError{StatusCode: resp.StatusCode, APIError: APIError{Message: message}}
}

// sseScanner iterates the data lines of an SSE stream.
type sseScanner struct {
	scanner *bufio.Scanner
	data    string
}

func newSSEScanner(r io.Reader) *sseScanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	return &sseScanner{scanner: scanner}
}

// Scan advances to the next data line, skipping event names and comments.
func (s *sseScanner) Scan() bool {
	for s.scanner.Scan() {
		line := s.scanner.Text()
		if strings.HasPrefix(line, "data:") {
			s.data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			return true
		}
	}
	return false
}

func (s *sseScanner) Data() string {
	return s.data
}

func (s *sseScanner) Err() error {
	return s.scanner.Err()
}
