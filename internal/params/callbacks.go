package params

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/meridian-group/scorecard-cli/internal/extract"
)

const minJustificationChars = 20

// Builder returns the prompt builder for p: the template with {country} and
// {documents} substituted, followed by any caller context as labeled lines.
func (p Parameter) Builder() extract.PromptBuilder {
	return func(country, combinedDocs string, extra map[string]any) string {
		prompt := strings.NewReplacer(
			"{country}", country,
			"{documents}", combinedDocs,
		).Replace(p.Prompt)

		if len(extra) == 0 {
			return prompt
		}

		keys := make([]string, 0, len(extra))
		for k := range extra {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var sb strings.Builder
		sb.WriteString(prompt)
		sb.WriteString("\n\nAdditional context:\n")
		for _, k := range keys {
			fmt.Fprintf(&sb, "- %s: %v\n", k, extra[k])
		}
		return sb.String()
	}
}

// Parser returns the response parser for p. All parameters share the fence
// and balanced-brace tolerant JSON parser.
func (p Parameter) Parser() extract.Parser {
	return func(raw, _ string) (map[string]any, error) {
		return extract.ParseObject(raw)
	}
}

// Validator returns the domain validator for p: value present and in range
// for the parameter's kind, confidence within [0,1], justification long
// enough to be auditable.
func (p Parameter) Validator() extract.Validator {
	return func(parsed map[string]any, _ string) (bool, string) {
		value, ok := parsed["value"]
		if !ok || value == nil {
			return false, "missing value"
		}

		conf, ok := asFloat(parsed["confidence"])
		if !ok {
			return false, "missing confidence"
		}
		if conf < 0 || conf > 1 {
			return false, fmt.Sprintf("confidence %.2f outside [0, 1]", conf)
		}

		justification, _ := parsed["justification"].(string)
		if utf8.RuneCountInString(strings.TrimSpace(justification)) < minJustificationChars {
			return false, fmt.Sprintf("justification shorter than %d characters", minJustificationChars)
		}

		if p.Kind == "number" || p.Kind == "percent" {
			n, ok := asFloat(value)
			if !ok {
				return false, fmt.Sprintf("expected a numeric value, got %T", value)
			}
			if p.Min != nil && n < *p.Min {
				return false, fmt.Sprintf("value %.2f below minimum %.2f", n, *p.Min)
			}
			if p.Max != nil && n > *p.Max {
				return false, fmt.Sprintf("value %.2f above maximum %.2f", n, *p.Max)
			}
		}

		return true, ""
	}
}

// asFloat accepts JSON numbers plus "80%"-style percent strings.
func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		s := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(t), "%"))
		n, err := strconv.ParseFloat(s, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
