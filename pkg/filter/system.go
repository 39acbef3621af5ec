package filter

import (
	"regexp"
	"strings"

	"github.com/modelrelay/modelrelay/pkg/config"
)

// SystemClauses returns a copy of body with matching spans removed from the
// top-level system field. String systems are filtered directly; list
// systems have each {type:"text"} block's text filtered, other block types
// are left untouched. When no text remains the system field is removed.
func SystemClauses(body map[string]any, filters []config.SystemClauseFilter) map[string]any {
	result := shallowCopy(body)

	if len(filters) == 0 {
		return result
	}

	switch system := body["system"].(type) {
	case string:
		filtered := applyClauseFilters(system, filters)
		if strings.TrimSpace(filtered) == "" {
			delete(result, "system")
		} else {
			result["system"] = filtered
		}

	case []any:
		blocks := make([]any, 0, len(system))
		anyText := false
		for _, rawBlock := range system {
			block, ok := rawBlock.(map[string]any)
			if !ok || block["type"] != "text" {
				blocks = append(blocks, rawBlock)
				continue
			}
			text, _ := block["text"].(string)
			filtered := applyClauseFilters(text, filters)
			if strings.TrimSpace(filtered) != "" {
				anyText = true
			}
			copied := shallowCopy(block)
			copied["text"] = filtered
			blocks = append(blocks, copied)
		}
		if !anyText {
			delete(result, "system")
		} else {
			result["system"] = blocks
		}
	}

	return result
}

// SystemText concatenates the text content of a system field, used for
// regex predicate matching.
func SystemText(body map[string]any) string {
	switch system := body["system"].(type) {
	case string:
		return system
	case []any:
		var sb strings.Builder
		for _, rawBlock := range system {
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

func applyClauseFilters(text string, filters []config.SystemClauseFilter) string {
	for _, f := range filters {
		text = applyClauseFilter(text, f)
	}
	return text
}

func applyClauseFilter(text string, f config.SystemClauseFilter) string {
	if f.IsRegex {
		pattern := f.Pattern
		if !f.CaseSensitive {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			// A pattern that does not compile removes nothing.
			return text
		}
		return re.ReplaceAllString(text, "")
	}

	if f.CaseSensitive {
		return strings.ReplaceAll(text, f.Pattern, "")
	}
	re := regexp.MustCompile("(?i)" + regexp.QuoteMeta(f.Pattern))
	return re.ReplaceAllString(text, "")
}
