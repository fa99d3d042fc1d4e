// Package scrub replaces personal data in recorded text with typed
// placeholders before it is displayed or exported.
package scrub

import (
	"regexp"
	"strings"
)

const (
	EmailPlaceholder = "<EMAIL_ADDRESS>"
	PhonePlaceholder = "<PHONE_NUMBER>"
	CardPlaceholder  = "<CREDIT_CARD>"
	DigitPlaceholder = "<NUMBER>"
)

var (
	emailRe = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	cardRe  = regexp.MustCompile(`\b(?:\d[ -]?){12,18}\d\b`)
	phoneRe = regexp.MustCompile(`(?:\+\d{1,3}[\s.-]?)?(?:\(\d{3}\)|\b\d{3})[\s.-]?\d{3}[\s.-]?\d{4}\b`)
	digitRe = regexp.MustCompile(`\b\d{9,}\b`)
)

// Text scrubs a single string. Card candidates must pass the Luhn check.
func Text(s string) string {
	if s == "" {
		return s
	}
	s = emailRe.ReplaceAllString(s, EmailPlaceholder)
	s = cardRe.ReplaceAllStringFunc(s, func(match string) string {
		if luhnValid(match) {
			return CardPlaceholder
		}
		return match
	})
	s = phoneRe.ReplaceAllString(s, PhonePlaceholder)
	return digitRe.ReplaceAllString(s, DigitPlaceholder)
}

// Map returns a scrubbed copy of m. Identifier keys (id, *_id) are kept as-is.
func Map(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for key, value := range m {
		if IsIdentifierKey(key) {
			out[key] = value
			continue
		}
		out[key] = Value(value)
	}
	return out
}

func List(l []any) []any {
	if l == nil {
		return nil
	}
	out := make([]any, len(l))
	for i, value := range l {
		out[i] = Value(value)
	}
	return out
}

func ListMaps(l []map[string]any) []map[string]any {
	out := make([]map[string]any, len(l))
	for i, m := range l {
		out[i] = Map(m)
	}
	return out
}

// Value scrubs strings, maps and lists recursively; other values pass through.
func Value(v any) any {
	switch typed := v.(type) {
	case string:
		return Text(typed)
	case map[string]any:
		return Map(typed)
	case []any:
		return List(typed)
	default:
		return v
	}
}

func IsIdentifierKey(key string) bool {
	return key == "id" || strings.HasSuffix(key, "_id")
}

func luhnValid(candidate string) bool {
	sum := 0
	digits := 0
	double := false
	for i := len(candidate) - 1; i >= 0; i-- {
		c := candidate[i]
		if c < '0' || c > '9' {
			continue
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
		digits++
	}
	return digits >= 13 && sum%10 == 0
}
