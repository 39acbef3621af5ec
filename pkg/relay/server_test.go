package relay

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelrelay/modelrelay/pkg/adapter"
	"github.com/modelrelay/modelrelay/pkg/anthropic"
	"github.com/modelrelay/modelrelay/pkg/config"
	"github.com/modelrelay/modelrelay/pkg/openai"
)

func testConfig(t *testing.T, providers map[string]*config.ProviderConfig, overrides []config.OverrideRule) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Providers: providers,
		Overrides: overrides,
	}
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())
	return cfg
}

func postMessages(t *testing.T, handler http.Handler, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	srv := NewServer(testConfig(t, nil, nil))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestInvalidJSONBody(t *testing.T) {
	srv := NewServer(testConfig(t, nil, nil))

	rec := postMessages(t, srv.Handler(), "{not json", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "error", body.Type)
	assert.Equal(t, "invalid_request_error", body.Error.Type)
}

func TestUnknownProviderPrefix(t *testing.T) {
	srv := NewServer(testConfig(t, map[string]*config.ProviderConfig{
		"anthropic": {BaseURL: "https://api.anthropic.com", Adapter: config.AdapterAnthropicPassthrough},
	}, nil))

	rec := postMessages(t, srv.Handler(),
		`{"model": "nope/gpt-5", "messages": [{"role": "user", "content": "q"}]}`, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown provider")
}

func TestPassthroughForwardsFilteredBody(t *testing.T) {
	var gotBody map[string]any
	var gotHeader http.Header
	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		gotHeader = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"id":"msg_ok","type":"message","role":"assistant","content":[],"model":"claude","stop_reason":"end_turn","stop_sequence":null,"usage":{"input_tokens":1,"output_tokens":1}}`)
	}))
	defer downstream.Close()

	srv := NewServer(testConfig(t, map[string]*config.ProviderConfig{
		"anthropic": {BaseURL: downstream.URL, Adapter: config.AdapterAnthropicPassthrough},
	}, nil))

	rec := postMessages(t, srv.Handler(), `{
		"model": "claude-sonnet-4",
		"messages": [{"role": "user", "content": "q"}],
		"tools": [
			{"name": "WebSearch", "input_schema": {}},
			{"name": "Bash", "input_schema": {}}
		]
	}`, map[string]string{
		"x-api-key":         "sk-caller",
		"anthropic-version": "2023-06-01",
		"Connection":        "keep-alive",
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "msg_ok")

	// Restricted tools are stripped before forwarding.
	tools, ok := gotBody["tools"].([]any)
	require.True(t, ok)
	require.Len(t, tools, 1)
	assert.Equal(t, "Bash", tools[0].(map[string]any)["name"])
	assert.Equal(t, "claude-sonnet-4", gotBody["model"])

	// Caller credentials travel; hop-by-hop headers do not.
	assert.Equal(t, "sk-caller", gotHeader.Get("x-api-key"))
	assert.Equal(t, "2023-06-01", gotHeader.Get("anthropic-version"))
	assert.Empty(t, gotHeader.Values("Connection"))
}

func TestPassthroughRelaysDownstreamErrors(t *testing.T) {
	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`)
	}))
	defer downstream.Close()

	srv := NewServer(testConfig(t, map[string]*config.ProviderConfig{
		"anthropic": {BaseURL: downstream.URL, Adapter: config.AdapterAnthropicPassthrough},
	}, nil))

	rec := postMessages(t, srv.Handler(),
		`{"model": "claude", "messages": [{"role": "user", "content": "q"}]}`, nil)

	// The downstream reply passes through untouched, status included.
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "slow down")
}

func TestTranslateMapsDownstreamStatuses(t *testing.T) {
	t.Setenv("RELAY_TEST_OPENAI_KEY", "sk-test")

	tests := []struct {
		downstream int
		status     int
		wireType   string
	}{
		{http.StatusTooManyRequests, http.StatusTooManyRequests, "rate_limit_error"},
		{http.StatusServiceUnavailable, 529, "overloaded_error"},
		{http.StatusInternalServerError, http.StatusBadGateway, "api_error"},
	}
	for _, tt := range tests {
		downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(tt.downstream)
			fmt.Fprint(w, `{"error":{"message":"upstream says no","type":"server_error"}}`)
		}))

		srv := NewServer(testConfig(t, map[string]*config.ProviderConfig{
			"openai": {BaseURL: downstream.URL, Adapter: config.AdapterOpenAI, APIKeyEnv: "RELAY_TEST_OPENAI_KEY"},
		}, nil))

		rec := postMessages(t, srv.Handler(),
			`{"model": "openai/gpt-5", "messages": [{"role": "user", "content": "q"}]}`, nil)

		assert.Equal(t, tt.status, rec.Code, "downstream %d", tt.downstream)
		var body errorBody
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, tt.wireType, body.Error.Type, "downstream %d", tt.downstream)
		assert.Contains(t, body.Error.Message, "upstream says no")
		downstream.Close()
	}
}

func TestPassthroughFailureOutcomeLabel(t *testing.T) {
	srv := NewServer(testConfig(t, map[string]*config.ProviderConfig{
		"anthropic": {BaseURL: "http://127.0.0.1:1", Adapter: config.AdapterAnthropicPassthrough},
	}, nil))

	failures := requestsTotal.WithLabelValues("anthropic", config.AdapterAnthropicPassthrough, "error")
	before := testutil.ToFloat64(failures)

	rec := postMessages(t, srv.Handler(),
		`{"model": "claude", "messages": [{"role": "user", "content": "q"}]}`, nil)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(failures))
}

func TestTranslateMissingAPIKeyEnv(t *testing.T) {
	srv := NewServer(testConfig(t, map[string]*config.ProviderConfig{
		"openai": {BaseURL: "https://api.openai.com", Adapter: config.AdapterOpenAI, APIKeyEnv: "RELAY_TEST_UNSET_KEY"},
	}, nil))

	rec := postMessages(t, srv.Handler(),
		`{"model": "openai/gpt-5", "messages": [{"role": "user", "content": "q"}]}`, nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "authentication_error", body.Error.Type)
	assert.Contains(t, body.Error.Message, "RELAY_TEST_UNSET_KEY")
}

func TestTranslateNonStreaming(t *testing.T) {
	t.Setenv("RELAY_TEST_OPENAI_KEY", "sk-test")

	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/responses", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-5", req["model"])
		assert.Equal(t, false, req["store"])
		assert.Equal(t, "modelrelay", req["prompt_cache_key"])

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "resp_1",
			"status": "completed",
			"output": [
				{"type": "message", "role": "assistant", "content": [{"type": "output_text", "text": "hello"}]}
			],
			"usage": {"input_tokens": 3, "output_tokens": 4}
		}`)
	}))
	defer downstream.Close()

	srv := NewServer(testConfig(t, map[string]*config.ProviderConfig{
		"openai": {BaseURL: downstream.URL, Adapter: config.AdapterOpenAI, APIKeyEnv: "RELAY_TEST_OPENAI_KEY"},
	}, nil))

	rec := postMessages(t, srv.Handler(),
		`{"model": "openai/gpt-5", "messages": [{"role": "user", "content": "q"}], "max_tokens": 64}`, nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "message", resp["type"])
	assert.Equal(t, "assistant", resp["role"])
	assert.Equal(t, "end_turn", resp["stop_reason"])
	content := resp["content"].([]any)
	require.Len(t, content, 1)
	assert.Equal(t, "hello", content[0].(map[string]any)["text"])
}

func TestTranslateStreaming(t *testing.T) {
	t.Setenv("RELAY_TEST_OPENAI_KEY", "sk-test")

	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		events := []string{
			`{"type":"response.output_item.added","item":{"type":"reasoning","id":"rs_1","encrypted_content":"ENC"}}`,
			`{"type":"response.reasoning_summary_text.delta","delta":"thinking"}`,
			`{"type":"response.output_text.delta","delta":"answer"}`,
			`{"type":"response.completed","response":{"id":"resp_1","status":"completed","output":[],"usage":{"input_tokens":2,"output_tokens":5}}}`,
		}
		for _, e := range events {
			fmt.Fprintf(w, "data: %s\n\n", e)
		}
	}))
	defer downstream.Close()

	srv := NewServer(testConfig(t, map[string]*config.ProviderConfig{
		"openai": {BaseURL: downstream.URL, Adapter: config.AdapterOpenAI, APIKeyEnv: "RELAY_TEST_OPENAI_KEY"},
	}, nil))

	rec := postMessages(t, srv.Handler(),
		`{"model": "openai/gpt-5", "messages": [{"role": "user", "content": "q"}], "stream": true}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	names := sseEventNames(t, rec.Body.String())
	assert.Equal(t, []string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"content_block_stop",
		"content_block_start",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}, names)

	// The encrypted payload rides only on the thinking block start.
	body := rec.Body.String()
	assert.Equal(t, 1, strings.Count(body, "ENC"))
	assert.Contains(t, body, `"extracted_openai_rs_id":"rs_1"`)
}

func TestTranslateChatStreamingCustomFields(t *testing.T) {
	t.Setenv("RELAY_TEST_COMPAT_KEY", "sk-test")

	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		events := []string{
			`{"id":"c1","choices":[{"index":0,"delta":{"reasoning_content":"mull"}}]}`,
			`{"id":"c1","choices":[{"index":0,"delta":{"content":"done"}}]}`,
			`{"id":"c1","choices":[{"index":0,"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":2,"total_tokens":3}}`,
		}
		for _, e := range events {
			fmt.Fprintf(w, "data: %s\n\n", e)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer downstream.Close()

	srv := NewServer(testConfig(t, map[string]*config.ProviderConfig{
		"local": {BaseURL: downstream.URL, Adapter: config.AdapterOpenAICompatible, APIKeyEnv: "RELAY_TEST_COMPAT_KEY"},
	}, nil))

	rec := postMessages(t, srv.Handler(),
		`{"model": "local/qwen", "messages": [{"role": "user", "content": "q"}], "stream": true}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"thinking":"mull"`)
	assert.Contains(t, body, `"text":"done"`)
	assert.Contains(t, body, `"stop_reason":"end_turn"`)
}

func TestRoutingRuleRedirectsProvider(t *testing.T) {
	t.Setenv("RELAY_TEST_COMPAT_KEY", "sk-test")

	var gotModel string
	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotModel, _ = req["model"].(string)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","choices":[{"index":0,"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}]}`)
	}))
	defer downstream.Close()

	srv := NewServer(testConfig(t, map[string]*config.ProviderConfig{
		"local": {BaseURL: downstream.URL, Adapter: config.AdapterOpenAICompatible, APIKeyEnv: "RELAY_TEST_COMPAT_KEY"},
	}, []config.OverrideRule{
		{
			When:     map[string]any{"model_regex": "haiku"},
			Provider: "local",
			Model:    "qwen-mini",
		},
	}))

	rec := postMessages(t, srv.Handler(),
		`{"model": "claude-haiku-3", "messages": [{"role": "user", "content": "q"}]}`, nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "qwen-mini", gotModel)
}

func TestConfigReloadSwapsSnapshot(t *testing.T) {
	cfgA := testConfig(t, map[string]*config.ProviderConfig{
		"anthropic": {BaseURL: "https://a.example", Adapter: config.AdapterAnthropicPassthrough},
	}, nil)
	srv := NewServer(cfgA)
	assert.Same(t, cfgA, srv.Config())

	cfgB := testConfig(t, map[string]*config.ProviderConfig{
		"anthropic": {BaseURL: "https://b.example", Adapter: config.AdapterAnthropicPassthrough},
	}, nil)
	srv.SetConfig(cfgB)
	assert.Same(t, cfgB, srv.Config())
}

func TestClientCacheKeying(t *testing.T) {
	t.Setenv("RELAY_TEST_CACHE_KEY", "sk-1")

	cache := NewClientCache()
	global := config.TimeoutsConfig{Connect: 1000, Read: 1000}
	p := &config.ProviderConfig{Name: "p", BaseURL: "https://x.example", Adapter: config.AdapterOpenAI, APIKeyEnv: "RELAY_TEST_CACHE_KEY"}

	a, err := cache.Get(global, p, "gpt-5")
	require.NoError(t, err)
	b, err := cache.Get(global, p, "gpt-5")
	require.NoError(t, err)
	assert.Same(t, a, b)

	other, err := cache.Get(global, p, "gpt-5-mini")
	require.NoError(t, err)
	assert.NotSame(t, a, other)

	// A rotated key yields a fresh client for the same provider and model.
	t.Setenv("RELAY_TEST_CACHE_KEY", "sk-2")
	rotated, err := cache.Get(global, p, "gpt-5")
	require.NoError(t, err)
	assert.NotSame(t, a, rotated)

	cache.Reset()
	fresh, err := cache.Get(global, p, "gpt-5")
	require.NoError(t, err)
	assert.NotSame(t, rotated, fresh)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		status int
		kind   Kind
	}{
		{401, KindAuthentication},
		{403, KindPermission},
		{404, KindNotFound},
		{429, KindRateLimit},
		{529, KindOverloaded},
		{500, KindAPIError},
		{400, KindInvalidRequest},
	}
	for _, tt := range tests {
		got := classifyStatus(tt.status, "boom")
		assert.Equal(t, tt.kind, got.Kind, "status %d", tt.status)
	}

	assert.Equal(t, 529, (&Error{Kind: KindOverloaded}).Status())
	assert.Equal(t, "overloaded_error", (&Error{Kind: KindOverloaded}).WireType())
	assert.Equal(t, "api_error", (&Error{Kind: KindAPIError}).WireType())
}

func sseEventNames(t *testing.T, body string) []string {
	t.Helper()
	var names []string
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "event: ") {
			names = append(names, strings.TrimPrefix(line, "event: "))
		}
	}
	return names
}

func chatChunks(chunks ...openai.ChatStreamChunk) <-chan openai.ChatStreamChunk {
	ch := make(chan openai.ChatStreamChunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch
}

// A text delta between two fragments of the same tool call must not
// swallow the later argument fragment.
func TestPumpChatToolArgsAfterTextInterleave(t *testing.T) {
	var events []any
	c := adapter.NewCorrelator("m", func(e any) error {
		events = append(events, e)
		return nil
	})

	zero := 0
	pumpChat(chatChunks(
		openai.ChatStreamChunk{Choices: []openai.ChatStreamChoice{{Delta: openai.ChatDelta{
			ToolCalls: []openai.ToolCall{{Index: &zero, ID: "call_1", Function: openai.FunctionCall{Name: "ls", Arguments: `{"dir":`}}},
		}}}},
		openai.ChatStreamChunk{Choices: []openai.ChatStreamChoice{{Delta: openai.ChatDelta{Content: "note"}}}},
		openai.ChatStreamChunk{Choices: []openai.ChatStreamChoice{{Delta: openai.ChatDelta{
			ToolCalls: []openai.ToolCall{{Index: &zero, Function: openai.FunctionCall{Arguments: `"/"}`}}},
		}}}},
		openai.ChatStreamChunk{Choices: []openai.ChatStreamChoice{{FinishReason: "tool_calls"}}},
	), c)

	var args []string
	for _, raw := range events {
		if e, ok := raw.(anthropic.ContentBlockDeltaEvent); ok && e.Delta.Type == anthropic.DeltaInputJSON {
			args = append(args, e.Delta.PartialJSON)
		}
	}
	assert.Equal(t, []string{`{"dir":`, `"/"}`}, args)
}

// Guards against buffering regressions in the SSE relay path.
func TestCopyFlushing(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, copyFlushing(rec, strings.NewReader("data: x\n\n")))
	assert.Equal(t, "data: x\n\n", rec.Body.String())
	assert.True(t, rec.Flushed)
}
