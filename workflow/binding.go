package workflow

import (
	"regexp"
	"strings"
)

// Parameter binding: task params may reference upstream results with
// "{{task_name}}" (the whole result) or "{{task_name.field.sub}}" (a path
// into it). Binding resolves at dispatch time against the results gathered
// so far; references to tasks that produced no result (a failed upstream
// with continue_on_failure) bind to nil.

var bindingPattern = regexp.MustCompile(`^\{\{\s*([^{}]+?)\s*\}\}$`)

// bindParams returns a copy of params with every placeholder resolved.
// Nested maps and slices are walked; non-placeholder values pass through
// untouched.
func bindParams(params map[string]any, results map[string]map[string]any) map[string]any {
	if len(params) == 0 {
		return params
	}
	bound := make(map[string]any, len(params))
	for k, v := range params {
		bound[k] = bindValue(v, results)
	}
	return bound
}

func bindValue(v any, results map[string]map[string]any) any {
	switch val := v.(type) {
	case string:
		if m := bindingPattern.FindStringSubmatch(val); m != nil {
			return resolveReference(m[1], results)
		}
		return val
	case map[string]any:
		return bindParams(val, results)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = bindValue(item, results)
		}
		return out
	default:
		return v
	}
}

// resolveReference looks up "task" or "task.path.to.field".
func resolveReference(ref string, results map[string]map[string]any) any {
	parts := strings.Split(ref, ".")
	result, ok := results[parts[0]]
	if !ok {
		return nil
	}
	if len(parts) == 1 {
		return result
	}
	var cur any = result
	for _, field := range parts[1:] {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = obj[field]
		if !ok {
			return nil
		}
	}
	return cur
}
