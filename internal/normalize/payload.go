package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// lookup walks a dotted path through nested maps. It never panics on
// unexpected shapes; a missing or mistyped step yields (nil, false).
func lookup(payload map[string]any, path string) (any, bool) {
	var cur any = payload
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, cur != nil
}

// str returns the first non-empty string found at any of paths.
func str(payload map[string]any, paths ...string) string {
	for _, p := range paths {
		v, ok := lookup(payload, p)
		if !ok {
			continue
		}
		if s := toString(v); s != "" {
			return s
		}
	}
	return ""
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case map[string]any:
		// Localized text objects such as {"text": "...", "languageCode": "fr"}.
		if s, ok := t["text"].(string); ok {
			return strings.TrimSpace(s)
		}
		return ""
	case []any:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			if s := toString(e); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	case fmt.Stringer:
		return strings.TrimSpace(t.String())
	}
	return ""
}

// float returns the first parseable float found at any of paths.
func float(payload map[string]any, paths ...string) (float64, bool) {
	for _, p := range paths {
		v, ok := lookup(payload, p)
		if !ok {
			continue
		}
		switch t := v.(type) {
		case float64:
			return t, true
		case int:
			return float64(t), true
		case json.Number:
			if f, err := t.Float64(); err == nil {
				return f, true
			}
		case string:
			s := strings.ReplaceAll(strings.TrimSpace(t), ",", ".")
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

// list returns string elements at path; a scalar string is split on ";" or ",".
func list(payload map[string]any, path string) []string {
	v, ok := lookup(payload, path)
	if !ok {
		return nil
	}
	var out []string
	switch t := v.(type) {
	case []any:
		for _, e := range t {
			if s := toString(e); s != "" {
				out = append(out, s)
			}
		}
	case []string:
		for _, s := range t {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	case string:
		for _, s := range strings.FieldsFunc(t, func(r rune) bool { return r == ';' || r == ',' }) {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
