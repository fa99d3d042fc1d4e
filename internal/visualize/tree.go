// Package visualize renders a stored recording for inspection: an ordered
// row view of each entity, collapsible trees, a terminal browser and an HTML
// report served over HTTP.
package visualize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/openadapt/adapt/internal/scrub"
)

// blobKeys are never copied into a row.
var blobKeys = map[string]bool{
	"png_data":           true,
	"png_diff_data":      true,
	"png_diff_mask_data": true,
	"image":              true,
}

type Field struct {
	Key   string
	Value any
}

// Row is an object whose keys keep the order of the source struct. Values are
// string, float64, bool, nil, Row or []any.
type Row []Field

func (r Row) Get(key string) (any, bool) {
	for _, f := range r {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

func (r Row) Keys() []string {
	keys := make([]string, len(r))
	for i, f := range r {
		keys[i] = f.Key
	}
	return keys
}

func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", f.Key, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// RowToMap converts a struct into a Row through its JSON form, dropping image
// blobs. A nil pointer yields an empty row.
func RowToMap(v any) (Row, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("row to map: %w", err)
	}
	parsed := gjson.ParseBytes(raw)
	if parsed.Type == gjson.Null {
		return Row{}, nil
	}
	if !parsed.IsObject() {
		return nil, fmt.Errorf("row to map: %T is not an object", v)
	}
	return objectRow(parsed), nil
}

func objectRow(obj gjson.Result) Row {
	row := Row{}
	obj.ForEach(func(key, value gjson.Result) bool {
		if blobKeys[key.String()] {
			return true
		}
		row = append(row, Field{Key: key.String(), Value: resultValue(value)})
		return true
	})
	return row
}

func resultValue(r gjson.Result) any {
	switch {
	case r.IsObject():
		return objectRow(r)
	case r.IsArray():
		items := []any{}
		r.ForEach(func(_, item gjson.Result) bool {
			items = append(items, resultValue(item))
			return true
		})
		return items
	default:
		return r.Value()
	}
}

// ScrubRow returns a copy of r with personal data replaced in every string
// value except identifiers.
func ScrubRow(r Row) Row {
	out := make(Row, 0, len(r))
	for _, f := range r {
		if scrub.IsIdentifierKey(f.Key) {
			out = append(out, f)
			continue
		}
		out = append(out, Field{Key: f.Key, Value: scrubValue(f.Value)})
	}
	return out
}

func scrubValue(v any) any {
	switch typed := v.(type) {
	case Row:
		return ScrubRow(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = scrubValue(item)
		}
		return out
	default:
		return scrub.Value(v)
	}
}

// Node is one entry of a display tree. ID doubles as the label.
type Node struct {
	ID       string `json:"id"`
	Children []Node `json:"children,omitempty"`
}

// CreateTree builds display nodes from a Row, map or list. Empty values are
// skipped, scalars render as "key: value", and lists longer than maxChildren
// are cut and end with a "..." node. maxChildren applies to lists directly
// under value, with <= 0 meaning no limit; anything deeper is built with
// DefaultMaxTableChildren.
func CreateTree(value any, maxChildren int) []Node {
	nodes := []Node{}
	for _, f := range fieldsOf(value) {
		if isEmpty(f.Value) {
			continue
		}
		node := Node{ID: f.Key}
		switch typed := f.Value.(type) {
		case Row, map[string]any:
			node.Children = CreateTree(typed, DefaultMaxTableChildren)
		case []any:
			if maxChildren > 0 && len(typed) > maxChildren {
				node.Children = append(CreateTree(typed[:maxChildren], DefaultMaxTableChildren), Node{ID: "..."})
			} else {
				node.Children = CreateTree(typed, DefaultMaxTableChildren)
			}
		default:
			node.ID = f.Key + ": " + formatScalar(typed)
		}
		nodes = append(nodes, node)
	}
	return nodes
}

func fieldsOf(value any) []Field {
	switch typed := value.(type) {
	case Row:
		return typed
	case map[string]any:
		keys := make([]string, 0, len(typed))
		for key := range typed {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		fields := make([]Field, len(keys))
		for i, key := range keys {
			fields[i] = Field{Key: key, Value: typed[key]}
		}
		return fields
	case []any:
		fields := make([]Field, len(typed))
		for i, item := range typed {
			fields[i] = Field{Key: strconv.Itoa(i), Value: item}
		}
		return fields
	}
	return nil
}

func isEmpty(v any) bool {
	switch typed := v.(type) {
	case nil:
		return true
	case string:
		return typed == ""
	case Row:
		return len(typed) == 0
	case []any:
		return len(typed) == 0
	case map[string]any:
		return len(typed) == 0
	}
	return false
}

func formatScalar(v any) string {
	switch typed := v.(type) {
	case string:
		return typed
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(typed)
	default:
		return fmt.Sprint(typed)
	}
}

// RenderTree draws nodes as an indented outline.
func RenderTree(nodes []Node) string {
	var b strings.Builder
	renderNodes(&b, nodes, "")
	return b.String()
}

func renderNodes(b *strings.Builder, nodes []Node, prefix string) {
	for i, node := range nodes {
		last := i == len(nodes)-1
		branch, next := "├─ ", "│  "
		if last {
			branch, next = "└─ ", "   "
		}
		b.WriteString(prefix + branch + node.ID + "\n")
		renderNodes(b, node.Children, prefix+next)
	}
}
