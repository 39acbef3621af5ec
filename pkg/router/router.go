// Package router implements the routing decision engine: ordered override
// rules evaluated against headers, body, and model name, plus
// provider/model prefix parsing and conditional config patches.
package router

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/modelrelay/modelrelay/pkg/config"
	"github.com/modelrelay/modelrelay/pkg/filter"
)

// DefaultProvider is used when neither a rule nor a model prefix selects one.
const DefaultProvider = "anthropic"

// Decision is the outcome of routing one request.
type Decision struct {
	ProviderName string
	Adapter      string
	Model        string
	ConfigPatch  map[string]any
	Provider     *config.ProviderConfig
}

// UnknownProviderError reports a resolved provider name with no definition.
type UnknownProviderError struct {
	Name string
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("unknown provider %q", e.Name)
}

// Router evaluates override rules for one config snapshot.
// Safe for concurrent use; construct a new Router per snapshot.
type Router struct {
	cfg *config.Config

	// Predicate regexes compiled once per snapshot. A pattern that fails
	// to compile is cached as nil and never matches.
	regexes map[string]*regexp.Regexp
}

// New builds a Router over a config snapshot, pre-compiling rule regexes.
func New(cfg *config.Config) *Router {
	r := &Router{
		cfg:     cfg,
		regexes: make(map[string]*regexp.Regexp),
	}
	for _, rule := range cfg.Overrides {
		for key, val := range rule.When {
			switch key {
			case "system_regex", "user_regex", "model_regex":
				if pattern, ok := val.(string); ok {
					r.compile(pattern)
				}
			}
		}
	}
	return r
}

func (r *Router) compile(pattern string) *regexp.Regexp {
	if re, ok := r.regexes[pattern]; ok {
		return re
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		re = nil
	}
	r.regexes[pattern] = re
	return re
}

func (r *Router) lookup(pattern string) *regexp.Regexp {
	if re, ok := r.regexes[pattern]; ok {
		return re
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil
	}
	return re
}

// Decide resolves the provider, adapter, effective model, and config patch
// for one request. Pure for a fixed config and fixed inputs.
func (r *Router) Decide(headers http.Header, body map[string]any) (*Decision, error) {
	var matched *config.OverrideRule
	for i := range r.cfg.Overrides {
		rule := &r.cfg.Overrides[i]
		if r.ruleMatches(rule, headers, body) {
			matched = rule
			break
		}
	}

	bodyModel, _ := body["model"].(string)
	prefix, suffix, hasPrefix := strings.Cut(bodyModel, "/")

	providerName := DefaultProvider
	if hasPrefix {
		providerName = prefix
	}
	if matched != nil && matched.Provider != "" {
		providerName = matched.Provider
	}

	provider, ok := r.cfg.Providers[providerName]
	if !ok {
		return nil, &UnknownProviderError{Name: providerName}
	}

	model := bodyModel
	if hasPrefix {
		model = suffix
	}
	if matched != nil && matched.Model != "" {
		model = matched.Model
	}

	decision := &Decision{
		ProviderName: providerName,
		Adapter:      provider.Adapter,
		Model:        model,
		Provider:     provider,
	}
	if matched != nil {
		decision.ConfigPatch = matched.Config
	}
	return decision, nil
}

func (r *Router) ruleMatches(rule *config.OverrideRule, headers http.Header, body map[string]any) bool {
	for key, rawVal := range rule.When {
		want, ok := rawVal.(string)
		if !ok {
			return false
		}

		switch key {
		case "system_regex":
			if !r.search(want, filter.SystemText(body)) {
				return false
			}
		case "user_regex":
			if !r.search(want, lastUserText(body)) {
				return false
			}
		case "model_regex":
			model, _ := body["model"].(string)
			if !r.search(want, model) {
				return false
			}
		case "has_tool":
			if !hasTool(body, want) {
				return false
			}
		default:
			name := strings.TrimPrefix(key, "header.")
			if headers.Get(name) != want {
				return false
			}
		}
	}
	return true
}

func (r *Router) search(pattern, text string) bool {
	re := r.lookup(pattern)
	if re == nil {
		return false
	}
	return re.MatchString(text)
}

// lastUserText returns the text content of the last user-role message.
func lastUserText(body map[string]any) string {
	messages, _ := body["messages"].([]any)
	for i := len(messages) - 1; i >= 0; i-- {
		msg, ok := messages[i].(map[string]any)
		if !ok || msg["role"] != "user" {
			continue
		}
		switch content := msg["content"].(type) {
		case string:
			return content
		case []any:
			var sb strings.Builder
			for _, rawBlock := range content {
				block, ok := rawBlock.(map[string]any)
				if !ok || block["type"] != "text" {
					continue
				}
				if text, ok := block["text"].(string); ok {
					sb.WriteString(text)
				}
			}
			return sb.String()
		default:
			return ""
		}
	}
	return ""
}

func hasTool(body map[string]any, name string) bool {
	tools, _ := body["tools"].([]any)
	for _, rawTool := range tools {
		tool, ok := rawTool.(map[string]any)
		if !ok {
			continue
		}
		if tool["name"] == name {
			return true
		}
	}
	return false
}
