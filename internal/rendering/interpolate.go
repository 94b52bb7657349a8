// Package rendering turns template variants plus data into channel output.
package rendering

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([^{}#/\s][^{}]*?)\s*\}\}`)

// Interpolate replaces {{a.b.c}} placeholders by walking dotted keys into data.
// A placeholder whose path cannot be resolved is left verbatim; a resolved nil
// leaf renders as an empty string.
func Interpolate(tmpl string, data map[string]interface{}) string {
	if tmpl == "" || !strings.Contains(tmpl, "{{") {
		return tmpl
	}
	return placeholderPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		key := placeholderPattern.FindStringSubmatch(match)[1]
		value, found := LookupNestedValue(data, key)
		if !found {
			return match
		}
		return FormatValue(value)
	})
}

// LookupNestedValue walks a dotted key through nested maps. The second result
// distinguishes a missing path from a present nil value.
func LookupNestedValue(data map[string]interface{}, key string) (interface{}, bool) {
	if data == nil {
		return nil, false
	}
	parts := strings.Split(key, ".")
	var current interface{} = data

	for _, part := range parts {
		switch m := current.(type) {
		case map[string]interface{}:
			val, exists := m[part]
			if !exists {
				return nil, false
			}
			current = val
		case map[string]string:
			val, exists := m[part]
			if !exists {
				return nil, false
			}
			current = val
		default:
			return nil, false
		}
	}
	return current, true
}

// FormatValue renders a data value the way it should appear in message text.
func FormatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		// JSON numbers decode as float64; whole numbers print without a fraction.
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(val)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}

// Placeholders returns the distinct placeholder keys in tmpl, in order of first use.
func Placeholders(tmpl string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(tmpl, -1)
	seen := make(map[string]bool, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

// IsTruthy follows the loose truthiness rules used by {{#if}} blocks.
func IsTruthy(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case float64:
		return val != 0
	case float32:
		return val != 0
	case int:
		return val != 0
	case int64:
		return val != 0
	case []interface{}:
		return true
	case map[string]interface{}:
		return true
	default:
		return true
	}
}
