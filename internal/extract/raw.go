package extract

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Raw is the normalized view of one provider response handed to transforms.
// Text is always populated; Value carries the structured form when the
// response was already a map/slice or parsed as JSON.
type Raw struct {
	Text      string
	Value     any
	Truncated bool
}

// normalize converts whatever the provider (or a failure path) produced into
// a Raw. It never fails: nil, errors, arbitrary objects and malformed JSON
// all yield a usable value.
func normalize(input any, maxBytes int) Raw {
	var r Raw
	switch v := input.(type) {
	case nil:
		r.Text = ""
	case string:
		r.Text = v
	case []byte:
		r.Text = string(v)
	case error:
		r.Text = v.Error()
	case map[string]any, []any:
		r.Value = v
		if data, err := json.Marshal(v); err == nil {
			r.Text = string(data)
		} else {
			r.Text = fmt.Sprintf("%v", v)
		}
	default:
		// Arbitrary object: prefer its JSON shape, fall back to fmt.
		if data, err := json.Marshal(v); err == nil && string(data) != "null" {
			r.Text = string(data)
			var parsed any
			if json.Unmarshal(data, &parsed) == nil {
				switch parsed.(type) {
				case map[string]any, []any:
					r.Value = parsed
				}
			}
		} else {
			r.Text = fmt.Sprintf("%v", v)
		}
	}

	if maxBytes > 0 && len(r.Text) > maxBytes {
		r.Text = r.Text[:maxBytes]
		r.Value = nil // structured form no longer matches the text
		r.Truncated = true
	}

	// Late-parse plain text that is actually JSON so structured transforms
	// can match it.
	if r.Value == nil && !r.Truncated {
		trimmed := strings.TrimSpace(r.Text)
		if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
			var parsed any
			if json.Unmarshal([]byte(trimmed), &parsed) == nil {
				r.Value = parsed
			}
		}
	}
	return r
}

// stripFence removes a surrounding markdown code fence, if present.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```JSON")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// itemToString renders one extracted element as an answer string.
func itemToString(item any) string {
	switch v := item.(type) {
	case string:
		return v
	case nil:
		return ""
	case float64, bool, int:
		return fmt.Sprintf("%v", v)
	case map[string]any:
		// Known answer-bearing keys, in preference order.
		for _, key := range []string{"text", "answer", "content", "response", "output"} {
			if s, ok := v[key].(string); ok && s != "" {
				return s
			}
		}
		if data, err := json.Marshal(v); err == nil {
			return string(data)
		}
		return fmt.Sprintf("%v", v)
	default:
		if data, err := json.Marshal(v); err == nil {
			return string(data)
		}
		return fmt.Sprintf("%v", v)
	}
}
