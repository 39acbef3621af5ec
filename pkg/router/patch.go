package router

import (
	"fmt"
	"reflect"

	"github.com/modelrelay/modelrelay/pkg/config"
)

// leafOp is one pending patch write.
type leafOp struct {
	path  []string
	value any
	when  map[string]any
}

// ApplyConfigPatch returns a copy of body with the rule's config patch
// applied. Every condition is evaluated against the pre-patch body, so
// leaves within one patch do not observe each other. A patch never
// deletes a field. An intermediate path segment occupied by a non-object
// is an error.
func ApplyConfigPatch(body map[string]any, patch map[string]any) (map[string]any, error) {
	if len(patch) == 0 {
		return body, nil
	}

	var ops []leafOp
	collectLeafOps(patch, nil, &ops)

	result := deepCopyMap(body)
	for _, op := range ops {
		if op.when != nil {
			current, _ := lookupPath(body, op.path)
			if !conditionHolds(op.when, current) {
				continue
			}
		}
		if err := writePath(result, op.path, op.value); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func collectLeafOps(node map[string]any, path []string, ops *[]leafOp) {
	for key, val := range node {
		leafPath := append(append([]string(nil), path...), key)
		if m, ok := val.(map[string]any); ok {
			if entry, isEntry := config.AsPatchEntry(m); isEntry {
				*ops = append(*ops, leafOp{path: leafPath, value: entry.Value, when: entry.When})
				continue
			}
			collectLeafOps(m, leafPath, ops)
			continue
		}
		*ops = append(*ops, leafOp{path: leafPath, value: val})
	}
}

// conditionHolds evaluates a single-key when condition against the current
// pre-patch value (nil for absent).
func conditionHolds(when map[string]any, current any) bool {
	for key, arg := range when {
		switch key {
		case "current_in":
			return listContains(arg, current)
		case "current_not_in":
			return !listContains(arg, current)
		case "current_equals":
			return structurallyEqual(arg, current)
		case "current_not_equals":
			return !structurallyEqual(arg, current)
		}
	}
	return false
}

func listContains(list any, current any) bool {
	items, ok := list.([]any)
	if !ok {
		return false
	}
	for _, item := range items {
		if structurallyEqual(item, current) {
			return true
		}
	}
	return false
}

// structurallyEqual compares two values after numeric normalization, so a
// YAML int condition matches a JSON float body value.
func structurallyEqual(a, b any) bool {
	return reflect.DeepEqual(normalize(a), normalize(b))
}

func normalize(v any) any {
	switch val := v.(type) {
	case int:
		return float64(val)
	case int32:
		return float64(val)
	case int64:
		return float64(val)
	case uint64:
		return float64(val)
	case float32:
		return float64(val)
	case map[string]any:
		result := make(map[string]any, len(val))
		for k, item := range val {
			result[k] = normalize(item)
		}
		return result
	case []any:
		result := make([]any, len(val))
		for i, item := range val {
			result[i] = normalize(item)
		}
		return result
	default:
		return v
	}
}

func lookupPath(body map[string]any, path []string) (any, bool) {
	var current any = body
	for _, segment := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func writePath(body map[string]any, path []string, value any) error {
	current := body
	for i, segment := range path[:len(path)-1] {
		next, exists := current[segment]
		if !exists {
			child := make(map[string]any)
			current[segment] = child
			current = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("config patch path %v: segment %q is not an object", path[:i+1], segment)
		}
		current = child
	}
	current[path[len(path)-1]] = value
	return nil
}

func deepCopyMap(m map[string]any) map[string]any {
	result := make(map[string]any, len(m))
	for k, v := range m {
		result[k] = deepCopyValue(v)
	}
	return result
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		result := make([]any, len(val))
		for i, item := range val {
			result[i] = deepCopyValue(item)
		}
		return result
	default:
		return v
	}
}
