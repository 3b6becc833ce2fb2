package plan

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Placeholder syntax: {name} or {{ name }} where name is an identifier.
// The double-brace form is matched first so its inner braces are never
// misread as a single-brace placeholder.
var (
	doubleBraceRe = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)
	singleBraceRe = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)
)

func scanPlaceholders(text string, seen map[string]bool, out *[]string) {
	masked := doubleBraceRe.ReplaceAllStringFunc(text, func(m string) string {
		name := doubleBraceRe.FindStringSubmatch(m)[1]
		if !seen[name] {
			seen[name] = true
			*out = append(*out, name)
		}
		return strings.Repeat(" ", len(m))
	})
	for _, m := range singleBraceRe.FindAllStringSubmatch(masked, -1) {
		if name := m[1]; !seen[name] {
			seen[name] = true
			*out = append(*out, name)
		}
	}
}

// Placeholders returns every variable name referenced by the plan name or
// its steps, in first-appearance order, without duplicates.
func Placeholders(p Plan) []string {
	seen := make(map[string]bool)
	var names []string
	scanPlaceholders(p.Name, seen, &names)
	for _, step := range p.Steps {
		scanPlaceholders(step.Title, seen, &names)
		scanPlaceholders(step.Instructions, seen, &names)
		scanPlaceholders(step.URL, seen, &names)
	}
	return names
}

// CoerceValue converts an arbitrary JSON value into a variable string.
// Booleans become "true"/"false", numbers are formatted without an
// exponent, and strings are trimmed. The second return reports whether the
// result is usable: nil and empty-after-trim values are not.
func CoerceValue(value any) (string, bool) {
	switch v := value.(type) {
	case nil:
		return "", false
	case bool:
		if v {
			return "true", true
		}
		return "false", true
	case string:
		s := strings.TrimSpace(v)
		return s, s != ""
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10), true
		}
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	default:
		s := strings.TrimSpace(fmt.Sprint(v))
		return s, s != ""
	}
}

// NormalizeVars coerces raw values and drops keys the plan never
// references. Empty values are dropped so they read as missing.
func NormalizeVars(p Plan, raw map[string]any) map[string]string {
	known := make(map[string]bool)
	for _, name := range Placeholders(p) {
		known[name] = true
	}
	out := make(map[string]string)
	for key, value := range raw {
		if !known[key] {
			continue
		}
		if s, ok := CoerceValue(value); ok {
			out[key] = s
		}
	}
	return out
}

func substitute(text string, vars map[string]string) string {
	if text == "" {
		return text
	}
	text = doubleBraceRe.ReplaceAllStringFunc(text, func(m string) string {
		name := doubleBraceRe.FindStringSubmatch(m)[1]
		if v, ok := vars[name]; ok && strings.TrimSpace(v) != "" {
			return v
		}
		return m
	})
	return singleBraceRe.ReplaceAllStringFunc(text, func(m string) string {
		name := singleBraceRe.FindStringSubmatch(m)[1]
		if v, ok := vars[name]; ok && strings.TrimSpace(v) != "" {
			return v
		}
		return m
	})
}

// Apply returns a copy of the plan with placeholders substituted from vars.
// Placeholders with no usable value are left verbatim.
func Apply(p Plan, vars map[string]string) Plan {
	out := p.Clone()
	for i := range out.Steps {
		out.Steps[i].Title = substitute(out.Steps[i].Title, vars)
		out.Steps[i].Instructions = substitute(out.Steps[i].Instructions, vars)
		out.Steps[i].URL = substitute(out.Steps[i].URL, vars)
	}
	return out
}

// ApplyString substitutes placeholders in a single text value.
func ApplyString(text string, vars map[string]string) string {
	return substitute(text, vars)
}

// ApplyToStep substitutes placeholders in a single step.
func ApplyToStep(step Step, vars map[string]string) Step {
	step.Title = substitute(step.Title, vars)
	step.Instructions = substitute(step.Instructions, vars)
	step.URL = substitute(step.URL, vars)
	return step
}

// MissingVars lists referenced placeholders that have no usable value, in
// placeholder order.
func MissingVars(p Plan) []string {
	var missing []string
	for _, name := range Placeholders(p) {
		if strings.TrimSpace(p.Vars[name]) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}
