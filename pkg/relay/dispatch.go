package relay

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/modelrelay/modelrelay/pkg/adapter"
	"github.com/modelrelay/modelrelay/pkg/anthropic"
	"github.com/modelrelay/modelrelay/pkg/config"
	"github.com/modelrelay/modelrelay/pkg/filter"
	"github.com/modelrelay/modelrelay/pkg/openai"
	"github.com/modelrelay/modelrelay/pkg/router"
)

const maxRequestBody = 32 * 1024 * 1024

// handleMessages terminates one Messages API request: filter, route,
// patch, then either forward untouched or translate.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	snap := s.snapshot.Load()

	outcome := "error"
	providerName := "unknown"
	adapterName := "unknown"
	defer func() {
		requestsTotal.WithLabelValues(providerName, adapterName, outcome).Inc()
		requestDuration.WithLabelValues(providerName, adapterName).Observe(time.Since(start).Seconds())
	}()

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeError(w, newError(KindInvalidRequest, "failed to read request body: %s", err))
		return
	}

	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		writeError(w, newError(KindInvalidRequest, "request body is not valid JSON: %s", err))
		return
	}

	body = filter.Tools(body, snap.cfg.Tools)
	body = filter.SystemClauses(body, snap.cfg.SystemPromptFilters.ClauseFilters)

	decision, err := snap.router.Decide(r.Header, body)
	if err != nil {
		writeError(w, Classify(err))
		return
	}
	providerName = decision.ProviderName
	adapterName = decision.Adapter

	// The global policy already ran; re-filter only when the chosen
	// provider declares a different one.
	if policy := decision.Provider.EffectiveToolPolicy(snap.cfg.Tools); !policy.Equal(snap.cfg.Tools) {
		body = filter.Tools(body, policy)
	}

	body, err = router.ApplyConfigPatch(body, decision.ConfigPatch)
	if err != nil {
		writeError(w, newError(KindInvalidRequest, "config patch: %s", err))
		return
	}
	body["model"] = decision.Model

	slog.Debug("dispatching request",
		"provider", decision.ProviderName,
		"adapter", decision.Adapter,
		"model", decision.Model)

	switch decision.Adapter {
	case config.AdapterAnthropicPassthrough:
		client := s.cache.GetTransport(snap.cfg.TimeoutsMS, decision.Provider)
		if passthrough(w, r, client, decision.Provider.BaseURL, body) {
			outcome = "ok"
		}

	case config.AdapterOpenAI, config.AdapterOpenAICompatible:
		if s.translate(w, r, snap, decision, body) {
			outcome = "ok"
		}

	default:
		writeError(w, newError(KindInvalidRequest, "provider %q has unsupported adapter %q",
			decision.ProviderName, decision.Adapter))
	}
}

// translate re-parses the patched body into a typed request and runs the
// provider's translation path. Returns true on success.
func (s *Server) translate(w http.ResponseWriter, r *http.Request, snap *configSnapshot, decision *router.Decision, body map[string]any) bool {
	payload, err := json.Marshal(body)
	if err != nil {
		writeError(w, newError(KindInvalidRequest, "failed to encode request body: %s", err))
		return false
	}
	var req anthropic.Request
	if err := json.Unmarshal(payload, &req); err != nil {
		writeError(w, newError(KindInvalidRequest, "malformed request: %s", err))
		return false
	}

	client, err := s.cache.Get(snap.cfg.TimeoutsMS, decision.Provider, decision.Model)
	if err != nil {
		writeError(w, Classify(err))
		return false
	}

	if decision.Adapter == config.AdapterOpenAI {
		return s.relayResponses(w, r, snap, client, decision.Model, &req)
	}
	return s.relayChat(w, r, client, decision.Model, &req)
}

func (s *Server) relayResponses(w http.ResponseWriter, r *http.Request, snap *configSnapshot, client *openai.Client, model string, req *anthropic.Request) bool {
	out, err := adapter.ToResponses(req, model, snap.cfg.OpenAI)
	if err != nil {
		writeError(w, Classify(err))
		return false
	}

	if !req.Stream {
		resp, err := client.CreateResponses(r.Context(), out)
		if err != nil {
			writeError(w, Classify(err))
			return false
		}
		writeJSON(w, adapter.FromResponses(resp, model))
		return true
	}

	events, err := client.StreamResponses(r.Context(), out)
	if err != nil {
		writeError(w, Classify(err))
		return false
	}
	pumpResponses(events, startSSE(w, model))
	return true
}

func (s *Server) relayChat(w http.ResponseWriter, r *http.Request, client *openai.Client, model string, req *anthropic.Request) bool {
	out, err := adapter.ToChat(req, model)
	if err != nil {
		writeError(w, Classify(err))
		return false
	}

	if !req.Stream {
		resp, err := client.CreateChatCompletion(r.Context(), out)
		if err != nil {
			writeError(w, Classify(err))
			return false
		}
		writeJSON(w, adapter.FromChat(resp, model))
		return true
	}

	chunks, err := client.StreamChatCompletion(r.Context(), out)
	if err != nil {
		writeError(w, Classify(err))
		return false
	}
	pumpChat(chunks, startSSE(w, model))
	return true
}

// startSSE commits the stream response and returns a correlator writing
// Anthropic SSE frames to it.
func startSSE(w http.ResponseWriter, model string) *adapter.Correlator {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writer := anthropic.NewEventWriter(w)
	return adapter.NewCorrelator(model, writer.Send)
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Debug("failed to write response", "error", err)
	}
}
