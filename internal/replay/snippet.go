package replay

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

var fencedBlock = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*\\n?(.*?)```")

// ParseCodeSnippet extracts the object from a model answer. The object may be
// inside a fenced block or bare, and may use Python literals (None, True,
// False, single-quoted strings). An empty or None answer yields an empty map.
func ParseCodeSnippet(content string) (map[string]any, error) {
	snippet := strings.TrimSpace(content)
	if match := fencedBlock.FindStringSubmatch(snippet); match != nil {
		snippet = strings.TrimSpace(match[1])
	} else if start, end := strings.Index(snippet, "{"), strings.LastIndex(snippet, "}"); start >= 0 && end > start {
		snippet = snippet[start : end+1]
	}

	if snippet == "" || snippet == "None" || snippet == "null" {
		return map[string]any{}, nil
	}

	normalized := pythonToJSON(snippet)
	if !gjson.Valid(normalized) {
		return nil, fmt.Errorf("parse code snippet: not a valid object: %q", truncate(snippet, 200))
	}
	parsed := gjson.Parse(normalized)
	if !parsed.IsObject() {
		return nil, fmt.Errorf("parse code snippet: expected an object, got %s", parsed.Type)
	}
	dict, ok := parsed.Value().(map[string]any)
	if !ok {
		return nil, fmt.Errorf("parse code snippet: expected an object")
	}
	return dict, nil
}

// pythonToJSON rewrites Python literal syntax into JSON: single-quoted strings
// become double-quoted, None/True/False become null/true/false and trailing
// commas are dropped. Text already in JSON passes through unchanged.
func pythonToJSON(src string) string {
	var b strings.Builder
	b.Grow(len(src))

	runes := []rune(src)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '"' || r == '\'':
			i = copyString(&b, runes, i)
		case isIdentStart(r):
			j := i
			for j < len(runes) && isIdentPart(runes[j]) {
				j++
			}
			word := string(runes[i:j])
			switch word {
			case "None":
				word = "null"
			case "True":
				word = "true"
			case "False":
				word = "false"
			}
			b.WriteString(word)
			i = j - 1
		case r == ',':
			j := i + 1
			for j < len(runes) && isSpace(runes[j]) {
				j++
			}
			if j < len(runes) && (runes[j] == '}' || runes[j] == ']') {
				continue
			}
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// copyString writes the string literal starting at runes[start] as a JSON
// string and returns the index of its closing quote.
func copyString(b *strings.Builder, runes []rune, start int) int {
	quote := runes[start]
	b.WriteByte('"')
	i := start + 1
	for ; i < len(runes); i++ {
		r := runes[i]
		if r == '\\' && i+1 < len(runes) {
			next := runes[i+1]
			if next == '\'' {
				b.WriteRune('\'')
			} else {
				b.WriteRune('\\')
				b.WriteRune(next)
			}
			i++
			continue
		}
		if r == quote {
			break
		}
		if r == '"' {
			b.WriteString(`\"`)
			continue
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
	return i
}

func isIdentStart(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || (r >= '0' && r <= '9')
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
