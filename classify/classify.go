// Package classify assigns each parsed upstream document exactly one
// fragment kind using an ordered decision table.
//
// Priority, highest first: function_call, function_response, thought,
// text_delta, metadata. Documents matching no row are unknown. Matching is
// pure: the same document always yields the same fragment.
package classify

import (
	"encoding/json"
	"maps"
	"slices"
	"strings"

	"github.com/pithecene-io/sluice/types"
)

// maxDepth bounds the search for nested function call shapes.
const maxDepth = 6

// Rule is one row of the decision table.
type Rule struct {
	Kind  types.FragmentKind
	Match func(obj map[string]any) (types.Fragment, bool)
}

var rules = []Rule{
	{Kind: types.FragmentFunctionCall, Match: matchFunctionCall},
	{Kind: types.FragmentFunctionResponse, Match: matchFunctionResponse},
	{Kind: types.FragmentThought, Match: matchThought},
	{Kind: types.FragmentTextDelta, Match: matchText},
	{Kind: types.FragmentMetadata, Match: matchMetadata},
}

// Rules returns the decision table in priority order.
func Rules() []Rule {
	return slices.Clone(rules)
}

// Classify maps a document to a fragment using the first matching rule.
func Classify(doc types.Document) types.Fragment {
	obj := doc.Value
	for _, r := range rules {
		if f, ok := r.Match(obj); ok {
			f.Kind = r.Kind
			f.Doc = doc
			f.Author = str(obj["author"])
			return f
		}
	}
	return types.Fragment{
		Kind:   types.FragmentUnknown,
		Doc:    doc,
		Author: str(obj["author"]),
	}
}

var (
	callKeys     = []string{"function_call", "functionCall"}
	responseKeys = []string{"function_response", "functionResponse"}
	metaKeys     = []string{
		"usage", "usageMetadata", "usage_metadata",
		"session_id", "sessionId", "invocation_id", "invocationId",
		"model", "modelVersion", "status", "actions",
		"finish_reason", "finishReason", "turn_complete", "turnComplete",
	}
)

func matchFunctionCall(obj map[string]any) (types.Fragment, bool) {
	m := findShaped(obj, callKeys, 0)
	if m == nil && typeIs(obj, "function_call", "tool_call", "tool_use") && str(obj["name"]) != "" {
		m = obj
	}
	if m == nil {
		return types.Fragment{}, false
	}
	args := objectField(m, "args")
	if args == nil {
		args = objectField(m, "arguments")
	}
	if args == nil {
		args = objectField(m, "input")
	}
	return types.Fragment{Call: &types.FunctionCall{
		ID:   str(m["id"]),
		Name: str(m["name"]),
		Args: args,
	}}, true
}

func matchFunctionResponse(obj map[string]any) (types.Fragment, bool) {
	m := findShaped(obj, responseKeys, 0)
	if m == nil && typeIs(obj, "function_response", "tool_result") && str(obj["name"]) != "" {
		m = obj
	}
	if m == nil {
		return types.Fragment{}, false
	}
	resp, ok := m["response"]
	if !ok {
		resp, ok = m["result"]
	}
	if !ok {
		resp = m["output"]
	}
	return types.Fragment{Response: &types.FunctionResponse{
		ID:       str(m["id"]),
		Name:     str(m["name"]),
		Response: resp,
	}}, true
}

func matchThought(obj map[string]any) (types.Fragment, bool) {
	var text, title string
	found := false

	if ps := parts(obj); ps != nil {
		var b strings.Builder
		for _, p := range ps {
			if isTrue(p["thought"]) {
				found = true
				b.WriteString(str(p["text"]))
				if title == "" {
					title = firstNonEmpty(str(p["title"]), str(p["category"]))
				}
			}
		}
		text = b.String()
	}

	if !found {
		switch v := obj["thought"].(type) {
		case bool:
			if v {
				found = true
				text = firstNonEmpty(str(obj["text"]), str(obj["content"]))
			}
		case string:
			found = v != ""
			text = v
		}
	}
	if !found {
		if s := firstNonEmpty(str(obj["thinking"]), str(obj["reasoning"])); s != "" {
			found = true
			text = s
		}
	}
	if !found && typeIs(obj, "thought", "thinking", "reasoning") {
		found = true
		text = firstNonEmpty(str(obj["text"]), str(obj["content"]))
	}
	if !found {
		return types.Fragment{}, false
	}

	if title == "" {
		title = firstNonEmpty(str(obj["title"]), str(obj["category"]))
	}
	if title == "" {
		title = Headline(text)
	}
	if text == "" && title == "" {
		return types.Fragment{}, false
	}
	return types.Fragment{Text: text, Title: title}, true
}

func matchText(obj map[string]any) (types.Fragment, bool) {
	if ps := parts(obj); ps != nil {
		var b strings.Builder
		for _, p := range ps {
			if isTrue(p["thought"]) {
				continue
			}
			b.WriteString(str(p["text"]))
		}
		if b.Len() > 0 {
			return types.Fragment{Text: b.String(), Final: isFalse(obj["partial"])}, true
		}
		return types.Fragment{}, false
	}

	text := str(obj["text"])
	if text == "" {
		text = str(obj["delta"])
	}
	if text == "" {
		text = str(objectField(obj, "delta")["text"])
	}
	if text == "" {
		text = str(obj["content"])
	}
	if text == "" {
		return types.Fragment{}, false
	}
	return types.Fragment{Text: text, Final: isFalse(obj["partial"])}, true
}

func matchMetadata(obj map[string]any) (types.Fragment, bool) {
	for _, k := range metaKeys {
		if _, ok := obj[k]; ok {
			return types.Fragment{}, true
		}
	}
	return types.Fragment{}, false
}

// Headline returns the text of a leading **bold** line, or "".
func Headline(text string) string {
	s := strings.TrimLeft(text, " \t\r\n")
	if !strings.HasPrefix(s, "**") {
		return ""
	}
	s = s[2:]
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[:nl]
	}
	end := strings.Index(s, "**")
	if end <= 0 {
		return ""
	}
	return strings.TrimSpace(s[:end])
}

// findShaped searches v depth-first for an object stored under one of keys
// that carries a string name.
func findShaped(v any, keys []string, depth int) map[string]any {
	if depth > maxDepth {
		return nil
	}
	switch t := v.(type) {
	case map[string]any:
		for _, k := range keys {
			if m, ok := t[k].(map[string]any); ok && str(m["name"]) != "" {
				return m
			}
		}
		for _, k := range slices.Sorted(maps.Keys(t)) {
			if m := findShaped(t[k], keys, depth+1); m != nil {
				return m
			}
		}
	case []any:
		for _, e := range t {
			if m := findShaped(e, keys, depth+1); m != nil {
				return m
			}
		}
	}
	return nil
}

// parts returns content.parts (or a top-level parts array) as objects.
func parts(obj map[string]any) []map[string]any {
	raw, ok := objectField(obj, "content")["parts"].([]any)
	if !ok {
		raw, ok = obj["parts"].([]any)
	}
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, p := range raw {
		if m, ok := p.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func objectField(m map[string]any, key string) map[string]any {
	switch v := m[key].(type) {
	case map[string]any:
		return v
	case string:
		// Some providers send tool arguments as an encoded object.
		if strings.HasPrefix(strings.TrimSpace(v), "{") {
			var out map[string]any
			if json.Unmarshal([]byte(v), &out) == nil {
				return out
			}
		}
	}
	return nil
}

func typeIs(obj map[string]any, names ...string) bool {
	return slices.Contains(names, str(obj["type"]))
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func isTrue(v any) bool {
	b, ok := v.(bool)
	return ok && b
}

func isFalse(v any) bool {
	b, ok := v.(bool)
	return ok && !b
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
