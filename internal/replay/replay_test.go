package replay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/openadapt/adapt/internal/audit"
	"github.com/openadapt/adapt/internal/storage"
	"github.com/stretchr/testify/require"
)

func TestVanillaStrategyYieldsRecordedEventsThenDone(t *testing.T) {
	t.Parallel()

	events := []storage.ActionEvent{click(10, 20), typed("hello")}
	s := NewVanillaStrategy(Options{ActionEvents: events})
	ctx := context.Background()

	first, err := s.Next(ctx, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "click", first.Name)
	second, err := s.Next(ctx, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "hello", second.Text)

	_, err = s.Next(ctx, nil, nil)
	require.ErrorIs(t, err, ErrDone)
	require.Len(t, s.History(), 2)
}

func TestNewStrategyValidatesName(t *testing.T) {
	t.Parallel()

	_, err := New("naive", Options{})
	require.Error(t, err)
	_, err = New(StrategyCursor, Options{})
	require.Error(t, err)

	s, err := New(StrategyCursor, Options{Adapter: &fakeAdapter{}})
	require.NoError(t, err)
	require.Equal(t, StrategyCursor, s.Name())
}

func TestCursorStrategyGeneratesActionsAndPaintsLastPosition(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{responses: []string{
		"Sure.\n```json\n{'name': 'click', 'mouse_x': 30, 'mouse_y': 40, 'mouse_button_name': 'left', 'mouse_pressed': None}\n```",
		"```python\n{\"name\": \"type\", \"text\": \"bob\"}\n```",
	}}
	s := NewCursorStrategy(Options{
		ActionEvents: []storage.ActionEvent{click(10, 20), typed("alice")},
		Instructions: "type bob instead of alice",
		Adapter:      adapter,
	})
	shot := &storage.Screenshot{ID: "shot", PNGData: whitePNG(t, 64, 64)}
	win := &storage.WindowEvent{Title: "Form", Width: 64, Height: 64}
	ctx := context.Background()

	first, err := s.Next(ctx, shot, win)
	require.NoError(t, err)
	require.Equal(t, "click", first.Name)
	require.NotNil(t, first.MouseX)
	require.InDelta(t, 30, *first.MouseX, 1e-9)
	require.Nil(t, first.MousePressed)

	second, err := s.Next(ctx, shot, win)
	require.NoError(t, err)
	require.Equal(t, "bob", second.Text)

	_, err = s.Next(ctx, shot, win)
	require.ErrorIs(t, err, ErrDone)
	require.Len(t, s.History(), 2)

	calls := adapter.snapshot()
	require.Len(t, calls, 2)
	require.Len(t, calls[0].images, 1)
	require.False(t, isRed(calls[0].images[0].At(30, 40)), "no dot before any action was replayed")
	require.True(t, isRed(calls[1].images[0].At(30, 40)), "dot marks last replayed action")
	require.False(t, isRed(calls[1].images[0].At(30+DefaultDotRadius+2, 40)))

	require.Contains(t, calls[1].prompt, "type bob instead of alice")
	require.Contains(t, calls[1].prompt, `"mouse_x":30`)
	require.Contains(t, calls[0].prompt, `"title":"Form"`)
	require.NotEmpty(t, calls[0].system)
}

func TestCursorStrategyStopsEarlyOnEmptySnippet(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{responses: []string{"```json\n{}\n```"}}
	s := NewCursorStrategy(Options{ActionEvents: []storage.ActionEvent{click(1, 1), click(2, 2)}, Adapter: adapter})

	_, err := s.Next(context.Background(), nil, nil)
	require.ErrorIs(t, err, ErrDone)
	require.Empty(t, s.History())
	require.Len(t, adapter.snapshot(), 1)
	require.Empty(t, adapter.snapshot()[0].images)
}

func TestCursorStrategyPropagatesAdapterError(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{err: errors.New("upstream 500")}
	s := NewCursorStrategy(Options{ActionEvents: []storage.ActionEvent{click(1, 1)}, Adapter: adapter})

	_, err := s.Next(context.Background(), nil, nil)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrDone)
	require.Contains(t, err.Error(), "upstream 500")
}

func TestCursorStrategyEndsWhenRecordingExhausted(t *testing.T) {
	t.Parallel()

	adapter := &fakeAdapter{}
	s := NewCursorStrategy(Options{Adapter: adapter})

	_, err := s.Next(context.Background(), nil, nil)
	require.ErrorIs(t, err, ErrDone)
	require.Empty(t, adapter.snapshot())
}

func TestPaintDotLeavesInputUntouched(t *testing.T) {
	t.Parallel()

	src := image.NewRGBA(image.Rect(0, 0, 20, 20))
	draw.Draw(src, src.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	out := PaintDot(src, 10, 10, 5, color.RGBA{R: 255, A: 255})
	require.True(t, isRed(out.At(10, 10)))
	require.True(t, isRed(out.At(14, 10)))
	require.True(t, isRed(out.At(10, 5)))
	require.False(t, isRed(out.At(15, 15)))
	require.False(t, isRed(src.At(10, 10)))
}

func TestPaintDotClipsAtImageEdge(t *testing.T) {
	t.Parallel()

	src := image.NewRGBA(image.Rect(0, 0, 8, 8))
	out := PaintDot(src, 0, 0, 5, color.RGBA{R: 255, A: 255})
	require.Equal(t, src.Bounds(), out.Bounds())
	require.True(t, isRed(out.At(0, 0)))
}

func TestParseCodeSnippet(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    map[string]any
		wantErr bool
	}{
		{name: "fenced-json", content: "```json\n{\"name\": \"click\", \"mouse_x\": 5}\n```", want: map[string]any{"name": "click", "mouse_x": 5.0}},
		{name: "python-literals", content: "```python\n{'name': 'press', 'key_name': 'enter', 'mouse_pressed': True, 'text': None,}\n```", want: map[string]any{"name": "press", "key_name": "enter", "mouse_pressed": true, "text": nil}},
		{name: "bare-in-prose", content: "The next action is {\"name\": \"scroll\", \"mouse_dy\": -3} as requested.", want: map[string]any{"name": "scroll", "mouse_dy": -3.0}},
		{name: "quote-inside-single", content: `{'name': 'type', 'text': 'say "hi"'}`, want: map[string]any{"name": "type", "text": `say "hi"`}},
		{name: "none", content: "None", want: map[string]any{}},
		{name: "empty-fence", content: "```\n```", want: map[string]any{}},
		{name: "empty-object", content: "```json\n{}\n```", want: map[string]any{}},
		{name: "invalid", content: "```json\n{name: \n```", wantErr: true},
		{name: "array", content: "```json\n[1, 2]\n```", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseCodeSnippet(tt.content)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestActionPromptDictDropsIdentifiersTimestampsAndEmptyFields(t *testing.T) {
	t.Parallel()

	pressed := false
	x, y := 1.5, 2.5
	dict := ActionPromptDict(storage.ActionEvent{
		ID:              "a1",
		RecordingID:     "r1",
		ScreenshotID:    "s1",
		WindowEventID:   "w1",
		Name:            "click",
		Timestamp:       1700000000,
		MouseX:          &x,
		MouseY:          &y,
		MouseButtonName: "left",
		MousePressed:    &pressed,
	})
	require.Equal(t, map[string]any{
		"name":              "click",
		"mouse_x":           1.5,
		"mouse_y":           2.5,
		"mouse_button_name": "left",
		"mouse_pressed":     false,
	}, dict)
}

func TestWindowPromptDictIncludesStateOnlyWhenEnabled(t *testing.T) {
	t.Parallel()

	win := &storage.WindowEvent{
		ID:        "w1",
		WindowID:  "0x42",
		Timestamp: 1,
		Title:     "Calculator",
		Width:     300,
		Height:    200,
		State:     json.RawMessage(`{"role":"window"}`),
	}

	without := WindowPromptDict(win, false)
	require.NotContains(t, without, "state")
	require.NotContains(t, without, "window_id")
	require.Equal(t, "Calculator", without["title"])

	with := WindowPromptDict(win, true)
	require.Equal(t, map[string]any{"role": "window"}, with["state"])

	require.Empty(t, WindowPromptDict(nil, true))
}

func TestActionEventFromDict(t *testing.T) {
	t.Parallel()

	action, err := ActionEventFromDict(map[string]any{"name": "press", "key_char": "a", "id": "spoofed"})
	require.NoError(t, err)
	require.Equal(t, "press", action.Name)
	require.Equal(t, "a", action.KeyChar)
	require.Empty(t, action.ID)

	_, err = ActionEventFromDict(map[string]any{"text": "x"})
	require.Error(t, err)
}

func TestRenderActionPromptDoesNotEscapeJSON(t *testing.T) {
	t.Parallel()

	prompt, err := RenderActionPrompt(
		map[string]any{"title": "A & B"},
		[]map[string]any{{"name": "type", "text": "<b>"}},
		nil,
		"",
	)
	require.NoError(t, err)
	require.Contains(t, prompt, `{"name":"type","text":"<b>"}`)
	require.Contains(t, prompt, `{"title":"A & B"}`)
	require.NotContains(t, prompt, "&quot;")
	require.Contains(t, prompt, "Replay the recording without modification.")
	require.NotContains(t, prompt, "red dot")
}

func TestRecordingObserverClampsStep(t *testing.T) {
	t.Parallel()

	shotA := &storage.Screenshot{ID: "a"}
	shotB := &storage.Screenshot{ID: "b"}
	obs := NewRecordingObserver([]storage.ActionEvent{{Screenshot: shotA}, {Screenshot: shotB}})

	got, _, err := obs.Observe(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, "a", got.ID)
	got, _, err = obs.Observe(context.Background(), 9)
	require.NoError(t, err)
	require.Equal(t, "b", got.ID)

	got, win, err := NewRecordingObserver(nil).Observe(context.Background(), 0)
	require.NoError(t, err)
	require.Nil(t, got)
	require.Nil(t, win)
}

func TestRunnerPersistsRunAndAudits(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	rec := &storage.Recording{Timestamp: 1700000000}
	require.NoError(t, store.Recordings.Create(ctx, rec))
	auditSvc, err := audit.NewService(ctx, store.Audit)
	require.NoError(t, err)

	events := []storage.ActionEvent{click(10, 20), typed("hello")}
	var out bytes.Buffer
	runner := &Runner{
		Strategy:    NewVanillaStrategy(Options{Recording: rec, ActionEvents: events}),
		Observer:    NewRecordingObserver(events),
		Player:      MultiPlayer{LogPlayer{}, NewJSONPlayer(&out)},
		RecordingID: rec.ID,
		MaxSteps:    10,
		Replays:     store.Replays,
		Audit:       auditSvc,
	}

	result, err := runner.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, storage.ReplayStatusCompleted, result.Status)
	require.Equal(t, 2, result.Steps)
	require.False(t, result.StepLimit)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[1], `"text":"hello"`)

	run, err := store.Replays.Get(ctx, result.RunID)
	require.NoError(t, err)
	require.Equal(t, storage.ReplayStatusCompleted, run.Status)
	require.Equal(t, "vanilla", run.Strategy)
	actions, err := store.Replays.Actions(ctx, result.RunID)
	require.NoError(t, err)
	require.Len(t, actions, 2)

	recorded, err := auditSvc.List(ctx, audit.Filter{TargetID: result.RunID})
	require.NoError(t, err)
	require.Len(t, recorded, 2)
	require.Equal(t, audit.ActionReplayStart, recorded[0].Action)
	require.Equal(t, audit.ActionReplayFinish, recorded[1].Action)
	verify, err := auditSvc.Verify(ctx)
	require.NoError(t, err)
	require.True(t, verify.Valid)
}

func TestRunnerStopsAtStepLimit(t *testing.T) {
	t.Parallel()

	events := []storage.ActionEvent{click(1, 1), click(2, 2), click(3, 3)}
	player := &countingPlayer{}
	runner := &Runner{
		Strategy: NewVanillaStrategy(Options{ActionEvents: events}),
		Observer: NewRecordingObserver(events),
		Player:   player,
		MaxSteps: 2,
	}

	result, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.True(t, result.StepLimit)
	require.Equal(t, 2, result.Steps)
	require.Equal(t, 2, player.count)
}

func TestRunnerMarksRunFailedOnPlayerError(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	rec := &storage.Recording{Timestamp: 1700000000}
	require.NoError(t, store.Recordings.Create(ctx, rec))

	events := []storage.ActionEvent{click(1, 1)}
	runner := &Runner{
		Strategy:    NewVanillaStrategy(Options{ActionEvents: events}),
		Observer:    NewRecordingObserver(events),
		Player:      &countingPlayer{err: errors.New("display gone")},
		RecordingID: rec.ID,
		Replays:     store.Replays,
	}

	result, err := runner.Run(ctx)
	require.Error(t, err)
	require.Equal(t, storage.ReplayStatusFailed, result.Status)

	run, err := store.Replays.Get(ctx, result.RunID)
	require.NoError(t, err)
	require.Equal(t, storage.ReplayStatusFailed, run.Status)
	require.Contains(t, run.Error, "display gone")
}

func TestRunnerStopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	events := []storage.ActionEvent{click(1, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := &Runner{
		Strategy: NewVanillaStrategy(Options{ActionEvents: events}),
		Observer: NewRecordingObserver(events),
		Player:   &countingPlayer{},
	}
	result, err := runner.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, storage.ReplayStatusFailed, result.Status)
}

type adapterCall struct {
	prompt string
	system string
	images []image.Image
}

type fakeAdapter struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     []adapterCall
}

func (f *fakeAdapter) Prompt(_ context.Context, prompt, system string, images []image.Image) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, adapterCall{prompt: prompt, system: system, images: images})
	if f.err != nil {
		return "", f.err
	}
	if len(f.responses) == 0 {
		return "None", nil
	}
	next := f.responses[0]
	f.responses = f.responses[1:]
	return next, nil
}

func (f *fakeAdapter) snapshot() []adapterCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]adapterCall, len(f.calls))
	copy(out, f.calls)
	return out
}

type countingPlayer struct {
	count int
	err   error
}

func (p *countingPlayer) Play(context.Context, int, storage.ActionEvent) error {
	if p.err != nil {
		return p.err
	}
	p.count++
	return nil
}

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "adapt.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })
	return store
}

func click(x, y float64) storage.ActionEvent {
	return storage.ActionEvent{Name: "click", Timestamp: 1, MouseX: &x, MouseY: &y, MouseButtonName: "left"}
}

func typed(text string) storage.ActionEvent {
	return storage.ActionEvent{Name: "type", Timestamp: 2, Text: text}
}

func whitePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func isRed(c color.Color) bool {
	r, g, b, a := c.RGBA()
	return r == 0xffff && g == 0 && b == 0 && a == 0xffff
}
