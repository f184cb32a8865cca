package extract

import (
	"encoding/json"
	"errors"
	"strings"
)

// errNoMatch signals that a transform's shape check failed inside its
// extractor; the chain moves on.
var errNoMatch = errors.New("response shape did not match")

// Minimal projection method names. All start with "minimal_".
const (
	MethodMinimalJSONArray = "minimal_json_array"
	MethodMinimalNumbered  = "minimal_numbered_list"
	MethodMinimalLines     = "minimal_lines"
	MethodMinimalRaw       = "minimal_raw"
)

// minimalProjection is the guaranteed-success last resort: progressive
// degradation from JSON array to numbered list to newline split to the raw
// text verbatim. It cannot fail and never returns an empty answers slice for
// want >= 1.
func minimalProjection(raw Raw, want int) (answers []string, method string) {
	text := strings.TrimSpace(raw.Text)

	var parsed []any
	if err := json.Unmarshal([]byte(stripFence(text)), &parsed); err == nil && len(parsed) > 0 {
		answers = make([]string, 0, len(parsed))
		for _, item := range parsed {
			answers = append(answers, itemToString(item))
		}
		return answers, MethodMinimalJSONArray
	}

	if items := listItems(text); len(items) > 0 {
		return items, MethodMinimalNumbered
	}

	if want > 1 {
		var lines []string
		for _, line := range strings.Split(text, "\n") {
			if trimmed := strings.TrimSpace(line); trimmed != "" {
				lines = append(lines, trimmed)
			}
		}
		if len(lines) > 1 {
			return lines, MethodMinimalLines
		}
	}

	return []string{text}, MethodMinimalRaw
}
