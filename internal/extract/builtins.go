package extract

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Builtin transform names.
const (
	NameBatchJSON          = "batch_json"
	NameJSONArray          = "json_array"
	NameProviderStructured = "provider_structured"
	NameMarkdownList       = "markdown_list"
	NamePlainText          = "plain_text"
)

var (
	numberedItemRe = regexp.MustCompile(`^\s*\d+[.)]\s+(.*)$`)
	bulletItemRe   = regexp.MustCompile(`^\s*[-*+]\s+(.*)$`)
)

// Builtins returns the default transform set in priority order: the internal
// batch shape, JSON arrays, the provider-normalized nested structure,
// markdown lists, then plain text.
func Builtins() []Transform {
	return []Transform{
		{
			Name:       NameBatchJSON,
			Priority:   100,
			Confidence: 0.98,
			Match: func(raw Raw) bool {
				m, ok := raw.Value.(map[string]any)
				if !ok {
					return false
				}
				_, has := m["batch"]
				return has
			},
			Extract: extractBatchJSON,
		},
		{
			Name:       NameJSONArray,
			Priority:   90,
			Confidence: 0.95,
			Match: func(raw Raw) bool {
				if _, ok := raw.Value.([]any); ok {
					return true
				}
				return strings.HasPrefix(stripFence(raw.Text), "[")
			},
			Extract: extractJSONArray,
		},
		{
			Name:       NameProviderStructured,
			Priority:   80,
			Confidence: 0.9,
			Match: func(raw Raw) bool {
				m, ok := raw.Value.(map[string]any)
				if !ok {
					return false
				}
				_, has := m["candidates"]
				return has
			},
			Extract: extractProviderStructured,
		},
		{
			Name:       NameMarkdownList,
			Priority:   70,
			Confidence: 0.85,
			Match: func(raw Raw) bool {
				return len(listItems(raw.Text)) > 0
			},
			Extract: func(raw Raw, want int) ([]string, error) {
				items := listItems(raw.Text)
				if len(items) == 0 {
					return nil, errNoMatch
				}
				return items, nil
			},
		},
		{
			Name:       NamePlainText,
			Priority:   10,
			Confidence: 0.7,
			Match: func(raw Raw) bool {
				return strings.TrimSpace(raw.Text) != ""
			},
			Extract: func(raw Raw, want int) ([]string, error) {
				text := stripCommonPrefixes(raw.Text)
				if text == "" {
					return nil, errNoMatch
				}
				return []string{text}, nil
			},
		},
	}
}

// extractBatchJSON handles the internal multi-call shape {"batch": [...]}
// produced when several calls are folded into one response document.
func extractBatchJSON(raw Raw, want int) ([]string, error) {
	m, ok := raw.Value.(map[string]any)
	if !ok {
		return nil, errNoMatch
	}
	items, ok := m["batch"].([]any)
	if !ok {
		return nil, errNoMatch
	}
	answers := make([]string, 0, len(items))
	for _, item := range items {
		answers = append(answers, itemToString(item))
	}
	if len(answers) == 0 {
		return nil, errNoMatch
	}
	return answers, nil
}

// extractJSONArray handles direct or markdown-fenced JSON arrays, flattening
// nested arrays one level.
func extractJSONArray(raw Raw, want int) ([]string, error) {
	items, ok := raw.Value.([]any)
	if !ok {
		var parsed []any
		if err := json.Unmarshal([]byte(stripFence(raw.Text)), &parsed); err != nil {
			return nil, err
		}
		items = parsed
	}
	var answers []string
	for _, item := range items {
		if inner, ok := item.([]any); ok {
			for _, sub := range inner {
				answers = append(answers, itemToString(sub))
			}
			continue
		}
		answers = append(answers, itemToString(item))
	}
	if len(answers) == 0 {
		return nil, errNoMatch
	}
	return answers, nil
}

// extractProviderStructured walks the provider-normalized nested shape:
// candidates -> content -> first part's text.
func extractProviderStructured(raw Raw, want int) ([]string, error) {
	m, ok := raw.Value.(map[string]any)
	if !ok {
		return nil, errNoMatch
	}
	candidates, ok := m["candidates"].([]any)
	if !ok || len(candidates) == 0 {
		return nil, errNoMatch
	}
	first, ok := candidates[0].(map[string]any)
	if !ok {
		return nil, errNoMatch
	}
	content, ok := first["content"].(map[string]any)
	if !ok {
		return nil, errNoMatch
	}
	parts, ok := content["parts"].([]any)
	if !ok || len(parts) == 0 {
		return nil, errNoMatch
	}
	part, ok := parts[0].(map[string]any)
	if !ok {
		return nil, errNoMatch
	}
	text, ok := part["text"].(string)
	if !ok || strings.TrimSpace(text) == "" {
		return nil, errNoMatch
	}
	return []string{strings.TrimSpace(text)}, nil
}

// listItems collects markdown bullet or numbered list items, one answer per
// item. Mixed lists are read in document order.
func listItems(text string) []string {
	var items []string
	for _, line := range strings.Split(text, "\n") {
		if m := numberedItemRe.FindStringSubmatch(line); m != nil {
			items = append(items, strings.TrimSpace(m[1]))
			continue
		}
		if m := bulletItemRe.FindStringSubmatch(line); m != nil {
			items = append(items, strings.TrimSpace(m[1]))
		}
	}
	return items
}

var answerPrefixes = []string{
	"Answer:",
	"answer:",
	"The answer is",
}

// stripCommonPrefixes removes boilerplate answer prefixes from plain text.
// "Based on the ..." clauses are stripped through their first comma.
func stripCommonPrefixes(text string) string {
	text = strings.TrimSpace(text)
	for _, prefix := range answerPrefixes {
		if strings.HasPrefix(text, prefix) {
			rest := strings.TrimSpace(strings.TrimPrefix(text, prefix))
			if rest != "" {
				return rest
			}
		}
	}
	if strings.HasPrefix(text, "Based on the") {
		if idx := strings.Index(text, ","); idx > 0 && idx < 120 {
			rest := strings.TrimSpace(text[idx+1:])
			if rest != "" {
				return rest
			}
		}
	}
	return text
}
