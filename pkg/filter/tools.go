// Package filter implements the server-side request filters applied to
// inbound Messages bodies before routing: restricted tool stripping and
// system prompt clause removal.
//
// Filters never mutate their input; they return a copy sharing unmodified
// substructure. Both filters are idempotent.
package filter

import (
	"github.com/modelrelay/modelrelay/pkg/config"
)

// Tools returns a copy of body with restricted tools removed.
// Tool names are matched case-insensitively against the policy. When the
// filtered list is empty the tools field is removed entirely.
func Tools(body map[string]any, policy config.ToolPolicyConfig) map[string]any {
	result := shallowCopy(body)

	rawTools, ok := body["tools"].([]any)
	if !ok {
		return result
	}

	kept := make([]any, 0, len(rawTools))
	for _, rawTool := range rawTools {
		tool, ok := rawTool.(map[string]any)
		if !ok {
			kept = append(kept, rawTool)
			continue
		}
		name, _ := tool["name"].(string)
		if policy.Restricted(name) {
			continue
		}
		kept = append(kept, rawTool)
	}

	if len(kept) == 0 {
		delete(result, "tools")
		return result
	}
	result["tools"] = kept
	return result
}

func shallowCopy(m map[string]any) map[string]any {
	result := make(map[string]any, len(m))
	for k, v := range m {
		result[k] = v
	}
	return result
}
