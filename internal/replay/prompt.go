package replay

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/flosch/pongo2/v6"

	"github.com/openadapt/adapt/internal/storage"
)

//go:embed prompts/*.j2
var promptFS embed.FS

var (
	templatesOnce sync.Once
	templates     map[string]*pongo2.Template
	templatesErr  error
)

func loadTemplate(name string) (*pongo2.Template, error) {
	templatesOnce.Do(func() {
		templates = map[string]*pongo2.Template{}
		for _, file := range []string{"system.j2", "generate_action_event.j2"} {
			raw, err := promptFS.ReadFile("prompts/" + file)
			if err != nil {
				templatesErr = fmt.Errorf("read prompt template %s: %w", file, err)
				return
			}
			tpl, err := pongo2.FromBytes(raw)
			if err != nil {
				templatesErr = fmt.Errorf("parse prompt template %s: %w", file, err)
				return
			}
			templates[file] = tpl
		}
	})
	if templatesErr != nil {
		return nil, templatesErr
	}
	tpl, ok := templates[name]
	if !ok {
		return nil, fmt.Errorf("prompt template %s not found", name)
	}
	return tpl, nil
}

func RenderSystemPrompt() (string, error) {
	tpl, err := loadTemplate("system.j2")
	if err != nil {
		return "", err
	}
	out, err := tpl.Execute(pongo2.Context{})
	if err != nil {
		return "", fmt.Errorf("render system prompt: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// RenderActionPrompt renders the per-step prompt. Dicts are embedded as
// compact JSON, one per line.
func RenderActionPrompt(currentWindow map[string]any, recorded, replayed []map[string]any, instructions string) (string, error) {
	tpl, err := loadTemplate("generate_action_event.j2")
	if err != nil {
		return "", err
	}
	window, err := compactJSON(currentWindow)
	if err != nil {
		return "", fmt.Errorf("render action prompt: encode window: %w", err)
	}
	recordedLines, err := jsonLines(recorded)
	if err != nil {
		return "", fmt.Errorf("render action prompt: %w", err)
	}
	replayedLines, err := jsonLines(replayed)
	if err != nil {
		return "", fmt.Errorf("render action prompt: %w", err)
	}
	out, err := tpl.Execute(pongo2.Context{
		"current_window":      window,
		"recorded_actions":    recordedLines,
		"replayed_actions":    replayedLines,
		"replay_instructions": instructions,
	})
	if err != nil {
		return "", fmt.Errorf("render action prompt: %w", err)
	}
	return strings.TrimSpace(out), nil
}

func jsonLines(dicts []map[string]any) ([]string, error) {
	out := make([]string, 0, len(dicts))
	for _, dict := range dicts {
		line, err := compactJSON(dict)
		if err != nil {
			return nil, fmt.Errorf("encode action: %w", err)
		}
		out = append(out, line)
	}
	return out, nil
}

// compactJSON encodes v on one line without HTML escaping.
func compactJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

// ActionPromptDict is the view of an action shown to the model: identifiers,
// timestamps and empty fields are dropped.
func ActionPromptDict(action storage.ActionEvent) map[string]any {
	return promptDict(action)
}

// WindowPromptDict includes the raw window state only when includeData is set.
func WindowPromptDict(window *storage.WindowEvent, includeData bool) map[string]any {
	if window == nil {
		return map[string]any{}
	}
	dict := promptDict(window)
	if !includeData {
		delete(dict, "state")
	}
	return dict
}

func promptDict(v any) map[string]any {
	raw, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	dict := map[string]any{}
	if err := json.Unmarshal(raw, &dict); err != nil {
		return map[string]any{}
	}
	for key, value := range dict {
		if key == "id" || strings.HasSuffix(key, "_id") || strings.HasSuffix(key, "timestamp") || isEmpty(value) {
			delete(dict, key)
		}
	}
	return dict
}

func isEmpty(value any) bool {
	switch typed := value.(type) {
	case nil:
		return true
	case string:
		return typed == ""
	case map[string]any:
		return len(typed) == 0
	case []any:
		return len(typed) == 0
	}
	return false
}

// ActionEventFromDict builds an action from a model-produced dict. Only the
// known action fields are read; name is required.
func ActionEventFromDict(dict map[string]any) (*storage.ActionEvent, error) {
	raw, err := json.Marshal(dict)
	if err != nil {
		return nil, fmt.Errorf("action from dict: %w", err)
	}
	var action storage.ActionEvent
	if err := json.Unmarshal(raw, &action); err != nil {
		return nil, fmt.Errorf("action from dict: %w", err)
	}
	if action.Name == "" {
		return nil, fmt.Errorf("action from dict: name is required")
	}
	action.ID = ""
	action.RecordingID = ""
	action.ScreenshotID = ""
	action.WindowEventID = ""
	return &action, nil
}
