package replay

import (
	"context"
	"fmt"
	"image"
	"image/color"

	"github.com/openadapt/adapt/internal/llm"
	"github.com/openadapt/adapt/internal/storage"
)

var dotColor = color.RGBA{R: 255, A: 255}

// CursorStrategy asks the LLM for every next action, showing it the current
// screenshot with a red dot where the previous replayed action pointed.
type CursorStrategy struct {
	base
}

func NewCursorStrategy(opts Options) *CursorStrategy {
	return &CursorStrategy{base: newBase(opts)}
}

func (s *CursorStrategy) Name() string { return StrategyCursor }

func (s *CursorStrategy) Next(ctx context.Context, screenshot *storage.Screenshot, window *storage.WindowEvent) (*storage.ActionEvent, error) {
	if !s.advance() {
		return nil, ErrDone
	}
	s.opts.Logger.Debug("cursor strategy step", "action_event_idx", s.idx, "num_action_events", len(s.opts.ActionEvents))

	var img image.Image
	if screenshot != nil && len(screenshot.PNGData) > 0 {
		decoded, err := DecodeScreenshot(screenshot)
		if err != nil {
			return nil, err
		}
		img = decoded
	}

	action, err := GenerateActionEvent(ctx, s.opts.Adapter, GenerateInput{
		Screenshot:        img,
		Window:            window,
		Recorded:          s.opts.ActionEvents,
		Replayed:          s.history,
		Instructions:      s.opts.Instructions,
		IncludeWindowData: s.opts.IncludeWindowData,
		DotRadius:         s.opts.DotRadius,
	})
	if err != nil {
		return nil, err
	}
	if action == nil {
		// the model asked to stop early
		return nil, ErrDone
	}
	s.history = append(s.history, *action)
	return action, nil
}

type GenerateInput struct {
	Screenshot        image.Image
	Window            *storage.WindowEvent
	Recorded          []storage.ActionEvent
	Replayed          []storage.ActionEvent
	Instructions      string
	IncludeWindowData bool
	DotRadius         int
}

// GenerateActionEvent produces the next action from the recording, the
// actions replayed so far and the current state. It returns nil when the
// model answers with an empty snippet.
func GenerateActionEvent(ctx context.Context, adapter llm.PromptAdapter, in GenerateInput) (*storage.ActionEvent, error) {
	currentWindow := WindowPromptDict(in.Window, in.IncludeWindowData)
	recorded := make([]map[string]any, 0, len(in.Recorded))
	for _, action := range in.Recorded {
		recorded = append(recorded, ActionPromptDict(action))
	}
	replayed := make([]map[string]any, 0, len(in.Replayed))
	for _, action := range in.Replayed {
		replayed = append(replayed, ActionPromptDict(action))
	}

	img := in.Screenshot
	if img != nil && len(in.Replayed) > 0 {
		last := in.Replayed[len(in.Replayed)-1]
		if last.MouseX != nil && last.MouseY != nil {
			radius := in.DotRadius
			if radius <= 0 {
				radius = DefaultDotRadius
			}
			img = PaintDot(img, *last.MouseX, *last.MouseY, radius, dotColor)
		}
	}

	system, err := RenderSystemPrompt()
	if err != nil {
		return nil, err
	}
	prompt, err := RenderActionPrompt(currentWindow, recorded, replayed, in.Instructions)
	if err != nil {
		return nil, err
	}

	var images []image.Image
	if img != nil {
		images = []image.Image{img}
	}
	content, err := adapter.Prompt(ctx, prompt, system, images)
	if err != nil {
		return nil, fmt.Errorf("generate action event: %w", err)
	}

	dict, err := ParseCodeSnippet(content)
	if err != nil {
		return nil, fmt.Errorf("generate action event: %w", err)
	}
	if len(dict) == 0 {
		return nil, nil
	}
	return ActionEventFromDict(dict)
}
