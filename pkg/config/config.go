// Package config defines the proxy configuration model.
//
// A loaded Config is immutable: consumers hold a snapshot pointer and a
// reload swaps the whole value atomically, never mutating in place.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Adapter kinds a provider may declare.
const (
	AdapterAnthropicPassthrough = "anthropic-passthrough"
	AdapterOpenAI               = "openai"
	AdapterOpenAICompatible     = "openai-compatible"
)

// Default restricted tool names; matching is case-insensitive.
var DefaultRestrictedToolNames = []string{"WebSearch", "WebFetch"}

// Config is the root configuration.
type Config struct {
	Listen   string `yaml:"listen"`
	LogLevel string `yaml:"log_level"`

	Providers map[string]*ProviderConfig `yaml:"providers"`
	Overrides []OverrideRule             `yaml:"overrides"`

	Tools               ToolPolicyConfig         `yaml:"tools"`
	SystemPromptFilters SystemPromptFilterConfig `yaml:"system_prompt_filters"`
	TimeoutsMS          TimeoutsConfig           `yaml:"timeouts_ms"`
	OpenAI              OpenAIConfig             `yaml:"openai"`
}

// ProviderConfig describes one downstream provider.
type ProviderConfig struct {
	Name      string `yaml:"name"`
	BaseURL   string `yaml:"base_url"`
	Adapter   string `yaml:"adapter"`
	APIKeyEnv string `yaml:"api_key_env"`

	// Per-provider overrides; nil means inherit the global setting.
	Tools      *ToolPolicyConfig `yaml:"tools"`
	TimeoutsMS *TimeoutsConfig   `yaml:"timeouts_ms"`
}

// Key returns a deterministic value-identity string covering every field,
// suitable for keying the model-client cache. Two providers sharing a
// base_url but differing in adapter, key env, or timeouts get distinct keys.
func (p *ProviderConfig) Key() string {
	b, _ := json.Marshal(p)
	return string(b)
}

// EffectiveTimeouts resolves the provider timeouts against the global default.
func (p *ProviderConfig) EffectiveTimeouts(global TimeoutsConfig) TimeoutsConfig {
	if p.TimeoutsMS != nil {
		return *p.TimeoutsMS
	}
	return global
}

// EffectiveToolPolicy resolves the provider tool policy against the global one.
func (p *ProviderConfig) EffectiveToolPolicy(global ToolPolicyConfig) ToolPolicyConfig {
	if p.Tools != nil {
		return *p.Tools
	}
	return global
}

// OverrideRule is one ordered routing rule. All predicates in When are
// ANDed; the first matching rule wins.
type OverrideRule struct {
	When     map[string]any `yaml:"when"`
	Provider string         `yaml:"provider"`
	Model    string         `yaml:"model"`
	Config   map[string]any `yaml:"config"`
}

// ToolPolicyConfig lists tool names stripped from inbound requests.
type ToolPolicyConfig struct {
	RestrictedToolNames []string `yaml:"restricted_tool_names"`
}

// Restricted reports whether a tool name is restricted, case-folded.
func (t ToolPolicyConfig) Restricted(name string) bool {
	for _, r := range t.RestrictedToolNames {
		if strings.EqualFold(r, name) {
			return true
		}
	}
	return false
}

// Equal compares two policies by their case-folded name sets.
func (t ToolPolicyConfig) Equal(other ToolPolicyConfig) bool {
	return foldedSet(t.RestrictedToolNames) == foldedSet(other.RestrictedToolNames)
}

func foldedSet(names []string) string {
	folded := make([]string, len(names))
	for i, n := range names {
		folded[i] = strings.ToLower(n)
	}
	sort.Strings(folded)
	return strings.Join(folded, "\x00")
}

// SystemPromptFilterConfig holds the ordered clause filter list.
type SystemPromptFilterConfig struct {
	ClauseFilters []SystemClauseFilter `yaml:"clause_filters"`
}

// SystemClauseFilter removes matching spans from the system prompt.
type SystemClauseFilter struct {
	Pattern       string `yaml:"pattern"`
	IsRegex       bool   `yaml:"is_regex"`
	CaseSensitive bool   `yaml:"case_sensitive"`
}

// TimeoutsConfig holds timeouts in milliseconds. Connect bounds connection
// establishment; Read bounds the gap between consecutive downstream bytes.
type TimeoutsConfig struct {
	Connect int `yaml:"connect"`
	Read    int `yaml:"read"`
}

// OpenAIConfig tunes the openai adapter path.
type OpenAIConfig struct {
	ReasoningEffortDefault string              `yaml:"reasoning_effort_default"`
	ReasoningThresholds    ReasoningThresholds `yaml:"reasoning_thresholds"`

	// Model families that accept the reasoning parameter. Accepted for
	// config compatibility; routing does not consult it.
	ReasoningModelPrefixes []string `yaml:"reasoning_model_prefixes"`
}

// ReasoningThresholds maps thinking budget_tokens to reasoning effort:
// budget <= LowMax is low, <= MediumMax is medium, above is high.
type ReasoningThresholds struct {
	LowMax    int `yaml:"low_max"`
	MediumMax int `yaml:"medium_max"`
}

// EffortForBudget maps an Anthropic thinking budget to an effort level.
func (t ReasoningThresholds) EffortForBudget(budget int) string {
	switch {
	case budget <= t.LowMax:
		return "low"
	case budget <= t.MediumMax:
		return "medium"
	default:
		return "high"
	}
}

// SetDefaults fills in unset fields.
func (c *Config) SetDefaults() {
	if c.Listen == "" {
		c.Listen = "0.0.0.0:8787"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Tools.RestrictedToolNames == nil {
		c.Tools.RestrictedToolNames = append([]string(nil), DefaultRestrictedToolNames...)
	}
	if c.TimeoutsMS.Connect == 0 {
		c.TimeoutsMS.Connect = 5000
	}
	if c.TimeoutsMS.Read == 0 {
		c.TimeoutsMS.Read = 600000
	}
	if c.OpenAI.ReasoningEffortDefault == "" {
		c.OpenAI.ReasoningEffortDefault = "minimal"
	}
	if c.OpenAI.ReasoningThresholds.LowMax == 0 {
		c.OpenAI.ReasoningThresholds.LowMax = 5000
	}
	if c.OpenAI.ReasoningThresholds.MediumMax == 0 {
		c.OpenAI.ReasoningThresholds.MediumMax = 15000
	}
	if c.OpenAI.ReasoningModelPrefixes == nil {
		c.OpenAI.ReasoningModelPrefixes = []string{"gpt-5", "o4", "o"}
	}
	for name, p := range c.Providers {
		if p == nil {
			continue
		}
		if p.Name == "" {
			p.Name = name
		}
	}
}

// Validate checks structural invariants. Called once at load; a running
// server never sees an invalid Config.
func (c *Config) Validate() error {
	for name, p := range c.Providers {
		if p == nil {
			return fmt.Errorf("provider %q: empty definition", name)
		}
		if err := p.validate(); err != nil {
			return fmt.Errorf("provider %q: %w", name, err)
		}
	}

	if err := c.TimeoutsMS.validate(); err != nil {
		return fmt.Errorf("timeouts_ms: %w", err)
	}

	switch c.OpenAI.ReasoningEffortDefault {
	case "minimal", "low", "medium", "high":
	default:
		return fmt.Errorf("openai.reasoning_effort_default: must be minimal, low, medium, or high, got %q",
			c.OpenAI.ReasoningEffortDefault)
	}

	if c.OpenAI.ReasoningThresholds.MediumMax <= c.OpenAI.ReasoningThresholds.LowMax {
		return fmt.Errorf("openai.reasoning_thresholds: medium_max (%d) must exceed low_max (%d)",
			c.OpenAI.ReasoningThresholds.MediumMax, c.OpenAI.ReasoningThresholds.LowMax)
	}

	for i, rule := range c.Overrides {
		if err := rule.validate(); err != nil {
			return fmt.Errorf("overrides[%d]: %w", i, err)
		}
	}

	return nil
}

func (p *ProviderConfig) validate() error {
	switch p.Adapter {
	case AdapterAnthropicPassthrough, AdapterOpenAI, AdapterOpenAICompatible:
	default:
		return fmt.Errorf("unknown adapter %q", p.Adapter)
	}

	u, err := url.Parse(p.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("base_url %q is not a valid URL", p.BaseURL)
	}

	if p.TimeoutsMS != nil {
		if err := p.TimeoutsMS.validate(); err != nil {
			return fmt.Errorf("timeouts_ms: %w", err)
		}
	}

	return nil
}

func (t TimeoutsConfig) validate() error {
	if t.Connect <= 0 {
		return fmt.Errorf("connect must be positive, got %d", t.Connect)
	}
	if t.Read <= 0 {
		return fmt.Errorf("read must be positive, got %d", t.Read)
	}
	return nil
}

func (r OverrideRule) validate() error {
	for key := range r.When {
		switch key {
		case "system_regex", "user_regex", "model_regex", "has_tool":
		default:
			if !strings.HasPrefix(key, "header.") || len(key) == len("header.") {
				return fmt.Errorf("unknown predicate %q", key)
			}
		}
	}
	return validatePatch(r.Config, "config")
}

// validatePatch walks a config patch checking that every conditional leaf
// carries exactly one recognized condition.
func validatePatch(node map[string]any, path string) error {
	for key, val := range node {
		leafPath := path + "." + key
		m, ok := val.(map[string]any)
		if !ok {
			continue
		}
		if entry, isEntry := AsPatchEntry(m); isEntry {
			if entry.When != nil {
				if err := validateWhen(entry.When); err != nil {
					return fmt.Errorf("%s: %w", leafPath, err)
				}
			}
			continue
		}
		if err := validatePatch(m, leafPath); err != nil {
			return err
		}
	}
	return nil
}

// PatchEntry is a conditional config patch leaf: a value optionally gated
// by a single current-state condition.
type PatchEntry struct {
	Value any
	When  map[string]any
}

// AsPatchEntry reports whether a map is a {value, when} leaf rather than
// a nested object.
func AsPatchEntry(m map[string]any) (PatchEntry, bool) {
	if _, hasValue := m["value"]; !hasValue {
		return PatchEntry{}, false
	}
	for key := range m {
		if key != "value" && key != "when" {
			return PatchEntry{}, false
		}
	}
	entry := PatchEntry{Value: m["value"]}
	if w, ok := m["when"].(map[string]any); ok {
		entry.When = w
	}
	return entry, true
}

func validateWhen(when map[string]any) error {
	if len(when) != 1 {
		return fmt.Errorf("when must have exactly one condition, got %d", len(when))
	}
	for key := range when {
		switch key {
		case "current_in", "current_not_in", "current_equals", "current_not_equals":
		default:
			return fmt.Errorf("unknown condition %q", key)
		}
	}
	return nil
}
