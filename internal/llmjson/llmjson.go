// Package llmjson extracts JSON documents from language-model replies, which
// often wrap them in markdown fences or prose.
package llmjson

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// Clean strips code fences and any text surrounding the outermost JSON
// array or object.
func Clean(text string) string {
	text = strings.TrimSpace(text)

	// Strip markdown code fences.
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	open, closing := "{", "}"
	ai, oi := strings.Index(text, "["), strings.Index(text, "{")
	if ai >= 0 && (oi < 0 || ai < oi) {
		open, closing = "[", "]"
	}
	start := strings.Index(text, open)
	end := strings.LastIndex(text, closing)
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

// Decode cleans text and unmarshals it into v.
func Decode(text string, v any) error {
	cleaned := Clean(text)
	if cleaned == "" {
		return eris.New("llmjson: empty reply")
	}
	if err := json.Unmarshal([]byte(cleaned), v); err != nil {
		return eris.Wrap(err, "llmjson: decode reply")
	}
	return nil
}
