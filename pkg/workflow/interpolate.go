package workflow

import (
	"encoding/json"
	"strconv"
	"strings"

	gwerrors "github.com/llmgateway/core/pkg/errors"
)

// refPrefixRequest and refPrefixStep identify the two reference kinds the
// interpolator understands: ${request:<path>} reaches into workflow
// inputs, ${step:<id>:<path>} reaches into a prior step's output.
const (
	refPrefixRequest = "request:"
	refPrefixStep    = "step:"
)

// ResolveValue resolves ${...} references within v against ctx. Strings are
// scanned for references; maps and slices are walked recursively; any
// other value (including already-typed scalars) is returned unchanged.
//
// A string that is *exactly* one reference (after trimming whitespace)
// preserves the referenced value's type — e.g. "${step:classify:score}"
// resolving to a float64 returns a float64, not its string form. A string
// containing a reference alongside other text is interpolated as a
// substring and always yields a string.
func ResolveValue(stepID string, v any, ctx *WorkflowContext) (any, error) {
	switch val := v.(type) {
	case string:
		return resolveString(stepID, val, ctx)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			resolved, err := ResolveValue(stepID, item, ctx)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			resolved, err := ResolveValue(stepID, item, ctx)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

func resolveString(stepID, s string, ctx *WorkflowContext) (any, error) {
	if !strings.Contains(s, "${") {
		return s, nil
	}

	if ref, ok := asPureReference(s); ok {
		return resolveReference(stepID, ref, ctx)
	}

	var b strings.Builder
	rest := s
	for {
		start := strings.Index(rest, "${")
		if start == -1 {
			b.WriteString(rest)
			break
		}
		end := matchingClose(rest, start)
		if end == -1 {
			// No matching close brace: treat the rest literally.
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:start])
		ref := rest[start+2 : end]
		resolved, err := resolveReference(stepID, ref, ctx)
		if err != nil {
			return nil, err
		}
		b.WriteString(stringify(resolved))
		rest = rest[end+1:]
	}
	return b.String(), nil
}

// asPureReference reports whether s, once trimmed, is exactly one
// ${...} reference with no surrounding text.
func asPureReference(s string) (string, bool) {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "${") || !strings.HasSuffix(trimmed, "}") {
		return "", false
	}
	end := matchingClose(trimmed, 0)
	if end != len(trimmed)-1 {
		return "", false
	}
	return trimmed[2:end], true
}

// matchingClose finds the index of the "}" matching the "${" starting at
// openIdx within s, accounting for nested braces.
func matchingClose(s string, openIdx int) int {
	depth := 0
	for i := openIdx; i < len(s); i++ {
		switch s[i] {
		case '{':
			if i > 0 && s[i-1] == '$' {
				depth++
			}
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 {
					return i
				}
			}
		}
	}
	return -1
}

// resolveReference resolves the interior of a ${...} expression:
// "request:<path>", "request:<path>:<default>", "step:<step-name>:<path>",
// or "step:<step-name>:<path>:<default>". A path segment never itself
// contains a colon (paths use dot notation and bracket indices), so the
// first colon after the known prefix separates path from an optional
// default.
func resolveReference(stepID, ref string, ctx *WorkflowContext) (any, error) {
	switch {
	case strings.HasPrefix(ref, refPrefixRequest):
		rest := strings.TrimPrefix(ref, refPrefixRequest)
		path, defRaw, hasDefault := splitPathAndDefault(rest)
		if value, found := lookupPath(ctx.GetInputs(), path); found {
			return value, nil
		}
		if hasDefault {
			return parseDefault(defRaw), nil
		}
		return nil, &gwerrors.VariableResolutionError{Step: stepID, Reference: ref}

	case strings.HasPrefix(ref, refPrefixStep):
		rest := strings.TrimPrefix(ref, refPrefixStep)
		sepIdx := strings.Index(rest, ":")
		if sepIdx == -1 {
			return nil, &gwerrors.VariableResolutionError{Step: stepID, Reference: ref}
		}
		refStepID, remainder := rest[:sepIdx], rest[sepIdx+1:]
		path, defRaw, hasDefault := splitPathAndDefault(remainder)

		out, ok := ctx.GetOutputs()[refStepID]
		if ok {
			if value, found := lookupPath(out.ToMap(), path); found {
				return value, nil
			}
		}
		if hasDefault {
			return parseDefault(defRaw), nil
		}
		return nil, &gwerrors.VariableResolutionError{Step: stepID, Reference: ref}

	default:
		return nil, &gwerrors.VariableResolutionError{Step: stepID, Reference: ref}
	}
}

// splitPathAndDefault splits "path:default" on the first colon, since a
// dot/bracket path never contains one. The boolean reports whether a
// default segment was present at all (as opposed to an empty default).
func splitPathAndDefault(s string) (path string, def string, hasDefault bool) {
	idx := strings.Index(s, ":")
	if idx == -1 {
		return s, "", false
	}
	return s[:idx], s[idx+1:], true
}

// parseDefault decodes a default literal as JSON first, falling back to
// the raw string on parse failure, per the grammar's default-value rule.
func parseDefault(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

// lookupPath walks a dot path through nested maps/slices rooted at root.
// Each segment is either an object field name or an array index: indices
// may appear as their own dot segment ("items.0.id", the grammar's
// canonical form) or as a bracket suffix on a field name ("items[0].id"),
// both of which resolve identically.
func lookupPath(root map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	segments := splitPath(path)
	var cur any = root
	for _, seg := range segments {
		if idx, err := strconv.Atoi(seg); err == nil {
			slice, ok := cur.([]any)
			if !ok || idx < 0 || idx >= len(slice) {
				return nil, false
			}
			cur = slice[idx]
			continue
		}

		key, index, hasIndex := parseSegment(seg)
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		next, ok := m[key]
		if !ok {
			return nil, false
		}
		cur = next
		if hasIndex {
			slice, ok := cur.([]any)
			if !ok || index < 0 || index >= len(slice) {
				return nil, false
			}
			cur = slice[index]
		}
	}
	return cur, true
}

func splitPath(path string) []string {
	return strings.Split(path, ".")
}

// parseSegment splits "items[2]" into ("items", 2, true) or "items" into
// ("items", 0, false).
func parseSegment(seg string) (string, int, bool) {
	open := strings.Index(seg, "[")
	if open == -1 || !strings.HasSuffix(seg, "]") {
		return seg, 0, false
	}
	idxStr := seg[open+1 : len(seg)-1]
	idx, err := strconv.Atoi(idxStr)
	if err != nil {
		return seg, 0, false
	}
	return seg[:open], idx, true
}

// stringify renders a resolved value for substring interpolation: strings
// verbatim, nil as the empty string, numbers and booleans in their
// canonical text form, and arrays/objects as canonical JSON.
func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}
