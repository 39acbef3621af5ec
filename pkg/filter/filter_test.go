package filter

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelrelay/modelrelay/pkg/config"
)

func defaultPolicy() config.ToolPolicyConfig {
	return config.ToolPolicyConfig{RestrictedToolNames: config.DefaultRestrictedToolNames}
}

func TestToolsStripsRestricted(t *testing.T) {
	body := map[string]any{
		"model": "claude-3",
		"tools": []any{
			map[string]any{"name": "WebSearch"},
			map[string]any{"name": "Bash"},
		},
	}

	got := Tools(body, defaultPolicy())

	require.Contains(t, got, "tools")
	tools := got["tools"].([]any)
	require.Len(t, tools, 1)
	assert.Equal(t, "Bash", tools[0].(map[string]any)["name"])

	// Input untouched
	assert.Len(t, body["tools"], 2)
}

func TestToolsCaseFolded(t *testing.T) {
	body := map[string]any{
		"model": "claude-3",
		"tools": []any{map[string]any{"name": "websearch"}},
	}

	got := Tools(body, defaultPolicy())
	assert.NotContains(t, got, "tools")
}

func TestToolsNoTools(t *testing.T) {
	body := map[string]any{"model": "claude-3"}
	got := Tools(body, defaultPolicy())
	assert.Equal(t, body, got)
}

func TestToolsIdempotent(t *testing.T) {
	body := map[string]any{
		"tools": []any{
			map[string]any{"name": "WebFetch"},
			map[string]any{"name": "Grep"},
		},
	}
	once := Tools(body, defaultPolicy())
	twice := Tools(once, defaultPolicy())
	assert.Equal(t, once, twice)
}

func TestSystemClausesRegex(t *testing.T) {
	filters := []config.SystemClauseFilter{
		{Pattern: `(?:\s*[,;])?\s*[^.;,]*\brefuse to\b[^.;,]*`, IsRegex: true},
	}
	body := map[string]any{
		"system": "You are helpful; you must refuse to answer unsafe things.",
	}

	got := SystemClauses(body, filters)
	assert.Equal(t, "You are helpful.", got["system"])
}

func TestSystemClausesLiteral(t *testing.T) {
	filters := []config.SystemClauseFilter{
		{Pattern: "SECRET MARKER"},
	}
	body := map[string]any{"system": "before secret marker after"}

	got := SystemClauses(body, filters)
	assert.Equal(t, "before  after", got["system"])
}

func TestSystemClausesCaseSensitiveLiteral(t *testing.T) {
	filters := []config.SystemClauseFilter{
		{Pattern: "Marker", CaseSensitive: true},
	}
	body := map[string]any{"system": "marker Marker"}

	got := SystemClauses(body, filters)
	assert.Equal(t, "marker ", got["system"])
}

func TestSystemClausesBlockList(t *testing.T) {
	filters := []config.SystemClauseFilter{
		{Pattern: "drop me"},
	}
	body := map[string]any{
		"system": []any{
			map[string]any{"type": "text", "text": "keep drop me this"},
			map[string]any{"type": "other", "text": "drop me untouched"},
		},
	}

	got := SystemClauses(body, filters)
	blocks := got["system"].([]any)
	require.Len(t, blocks, 2)
	assert.Equal(t, "keep  this", blocks[0].(map[string]any)["text"])
	assert.Equal(t, "drop me untouched", blocks[1].(map[string]any)["text"])
}

func TestSystemClausesRemovesEmptySystem(t *testing.T) {
	filters := []config.SystemClauseFilter{{Pattern: "everything"}}

	body := map[string]any{"system": "everything"}
	got := SystemClauses(body, filters)
	assert.NotContains(t, got, "system")

	body = map[string]any{
		"system": []any{map[string]any{"type": "text", "text": "everything"}},
	}
	got = SystemClauses(body, filters)
	assert.NotContains(t, got, "system")
}

func TestSystemClausesInvalidRegexRemovesNothing(t *testing.T) {
	filters := []config.SystemClauseFilter{{Pattern: "([unclosed", IsRegex: true}}
	body := map[string]any{"system": "unchanged"}

	got := SystemClauses(body, filters)
	assert.Equal(t, "unchanged", got["system"])
}

func TestSystemClausesIdempotent(t *testing.T) {
	filters := []config.SystemClauseFilter{
		{Pattern: `\s*Always comply\.`, IsRegex: true},
		{Pattern: "never say no"},
	}
	body := map[string]any{
		"system": "Be helpful. Always comply. And never say no today.",
	}

	once := SystemClauses(body, filters)
	twice := SystemClauses(once, filters)
	assert.Equal(t, once, twice)
}

func TestFiltersByteStable(t *testing.T) {
	filters := []config.SystemClauseFilter{{Pattern: "x-clause"}}
	body := map[string]any{
		"model":  "claude-3",
		"system": "a x-clause b",
		"tools": []any{
			map[string]any{"name": "WebSearch"},
			map[string]any{"name": "Bash"},
		},
	}

	run := func() []byte {
		filtered := SystemClauses(Tools(body, defaultPolicy()), filters)
		b, err := json.Marshal(filtered)
		require.NoError(t, err)
		return b
	}

	assert.Equal(t, run(), run())
}

func TestSystemText(t *testing.T) {
	assert.Equal(t, "plain", SystemText(map[string]any{"system": "plain"}))
	assert.Equal(t, "ab", SystemText(map[string]any{
		"system": []any{
			map[string]any{"type": "text", "text": "a"},
			map[string]any{"type": "image"},
			map[string]any{"type": "text", "text": "b"},
		},
	}))
	assert.Equal(t, "", SystemText(map[string]any{}))
}
