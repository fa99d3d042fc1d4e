package visualize

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"io"

	"github.com/flosch/pongo2/v6"
)

//go:embed templates/report.html
var reportHTML []byte

var reportTemplate = pongo2.Must(pongo2.FromBytes(reportHTML))

// RenderHTML writes the report as a standalone page. Screenshots are inlined
// as data URIs.
func RenderHTML(w io.Writer, report *Report) error {
	events := make([]pongo2.Context, 0, len(report.Events))
	for _, event := range report.Events {
		events = append(events, pongo2.Context{
			"index":       event.Index,
			"image":       event.ImageDataURI(),
			"width":       event.Width,
			"height":      event.Height,
			"window_tree": treeLines(event.WindowTree),
			"action_tree": treeLines(event.ActionTree),
		})
	}
	err := reportTemplate.ExecuteWriter(pongo2.Context{
		"title":            report.Title,
		"task_description": report.TaskDescription,
		"meta":             tableCells(report.Meta),
		"recording":        tableCells(report.Recording),
		"shown":            len(report.Events),
		"total":            report.TotalEvents,
		"events":           events,
	}, w)
	if err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}

func tableCells(row Row) []pongo2.Context {
	cells := make([]pongo2.Context, 0, len(row))
	for _, f := range row {
		cells = append(cells, pongo2.Context{"key": f.Key, "value": cellValue(f.Value)})
	}
	return cells
}

func cellValue(v any) string {
	switch v.(type) {
	case Row, []any:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(raw)
	case nil:
		return ""
	}
	return formatScalar(v)
}

func treeLines(nodes []Node) []pongo2.Context {
	var lines []pongo2.Context
	var walk func([]Node, int)
	walk = func(nodes []Node, depth int) {
		for _, node := range nodes {
			lines = append(lines, pongo2.Context{"indent": depth, "label": node.ID})
			walk(node.Children, depth+1)
		}
	}
	walk(nodes, 0)
	return lines
}
