package extract

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// LocateJSON pulls the JSON payload out of raw model text. Models wrap
// output in Markdown fences or surround it with prose; the strategy is:
// fenced ```json block first, then a generic fence whose body looks like an
// object, then the first balanced {...} span, else the trimmed text as-is.
func LocateJSON(text string) string {
	text = strings.TrimSpace(text)

	if body, ok := fencedBlock(text, "```json"); ok {
		return body
	}
	// A generic fence may hold anything (code, shell, prose); only take it
	// when the body is an object, otherwise keep scanning the full text.
	if body, ok := fencedBlock(text, "```"); ok && strings.HasPrefix(body, "{") {
		return body
	}
	if span := balancedObject(text); span != "" {
		return span
	}
	return text
}

// ParseObject decodes the located JSON payload into a generic map.
func ParseObject(text string) (map[string]any, error) {
	payload := LocateJSON(text)
	var parsed map[string]any
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return nil, eris.Wrap(err, "extract: decode model response")
	}
	return parsed, nil
}

// fencedBlock returns the content of the first fence opened by marker.
func fencedBlock(text, marker string) (string, bool) {
	start := strings.Index(text, marker)
	if start < 0 {
		return "", false
	}
	body := text[start+len(marker):]
	end := strings.Index(body, "```")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(body[:end]), true
}

// balancedObject returns the first balanced {...} span, tracking JSON string
// literals so braces inside quoted values don't end the scan early.
func balancedObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
