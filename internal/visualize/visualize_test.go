package visualize

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"github.com/openadapt/adapt/internal/events"
	"github.com/openadapt/adapt/internal/storage"
)

func TestCreateTreeSkipsEmptyValuesAndTruncatesLists(t *testing.T) {
	t.Parallel()

	row := Row{
		{Key: "name", Value: "click"},
		{Key: "text", Value: ""},
		{Key: "mouse_x", Value: 12.5},
		{Key: "children", Value: []any{"a", "b", "c", "d"}},
		{Key: "nested", Value: Row{{Key: "focused", Value: true}}},
		{Key: "missing", Value: nil},
		{Key: "empty", Value: Row{}},
	}

	got := CreateTree(row, 2)
	require.Equal(t, []Node{
		{ID: "name: click"},
		{ID: "mouse_x: 12.5"},
		{ID: "children", Children: []Node{{ID: "0: a"}, {ID: "1: b"}, {ID: "..."}}},
		{ID: "nested", Children: []Node{{ID: "focused: true"}}},
	}, got)

	unlimited := CreateTree(row, 0)
	require.Len(t, unlimited[2].Children, 4)
}

func TestCreateTreeLimitsNestedListsWhenTopLevelIsUnlimited(t *testing.T) {
	t.Parallel()

	children := make([]any, 10)
	for i := range children {
		children[i] = float64(i)
	}
	window := Row{
		{Key: "title", Value: "Inbox"},
		{Key: "tabs", Value: []any{"a", "b", "c", "d", "e", "f", "g"}},
		{Key: "state", Value: Row{{Key: "children", Value: children}}},
	}

	got := CreateTree(window, 0)
	require.Len(t, got, 3)
	require.Len(t, got[1].Children, 7, "top-level list is not cut")

	state := got[2]
	require.Equal(t, "state", state.ID)
	require.Len(t, state.Children, 1)
	nested := state.Children[0].Children
	require.Len(t, nested, DefaultMaxTableChildren+1)
	require.Equal(t, "4: 4", nested[DefaultMaxTableChildren-1].ID)
	require.Equal(t, "...", nested[DefaultMaxTableChildren].ID)

	// list items that are lists themselves follow the default too
	deep := CreateTree(Row{{Key: "rows", Value: []any{children}}}, 0)
	require.Len(t, deep[0].Children[0].Children, DefaultMaxTableChildren+1)
}

func TestCreateTreeSortsPlainMaps(t *testing.T) {
	t.Parallel()

	got := CreateTree(map[string]any{"b": 2.0, "a": map[string]any{"c": "x"}}, 5)
	require.Equal(t, []Node{
		{ID: "a", Children: []Node{{ID: "c: x"}}},
		{ID: "b: 2"},
	}, got)
	require.Empty(t, CreateTree("scalar", 5))
}

func TestRowToMapKeepsFieldOrderAndDropsBlobs(t *testing.T) {
	t.Parallel()

	type shot struct {
		Name      string  `json:"name"`
		PNG       []byte  `json:"png_data"`
		Zeta      int     `json:"zeta"`
		Alpha     string  `json:"alpha"`
		Timestamp float64 `json:"timestamp"`
	}
	row, err := RowToMap(shot{Name: "s", PNG: []byte{1, 2}, Zeta: 3, Alpha: "a", Timestamp: 1700000000.25})
	require.NoError(t, err)
	require.Equal(t, []string{"name", "zeta", "alpha", "timestamp"}, row.Keys())
	value, ok := row.Get("timestamp")
	require.True(t, ok)
	require.Equal(t, "timestamp: 1700000000.25", CreateTree(Row{{Key: "timestamp", Value: value}}, 0)[0].ID)

	empty, err := RowToMap((*storage.WindowEvent)(nil))
	require.NoError(t, err)
	require.Empty(t, empty)

	_, err = RowToMap("not an object")
	require.Error(t, err)
}

func TestRowMarshalJSONPreservesOrder(t *testing.T) {
	t.Parallel()

	row := Row{
		{Key: "b", Value: 1.0},
		{Key: "a", Value: Row{{Key: "c", Value: []any{1.0, "x", Row{{Key: "z", Value: nil}}}}}},
	}
	raw, err := json.Marshal(row)
	require.NoError(t, err)
	require.Equal(t, `{"b":1,"a":{"c":[1,"x",{"z":null}]}}`, string(raw))
}

func TestRenderTreeDrawsOutline(t *testing.T) {
	t.Parallel()

	out := RenderTree([]Node{
		{ID: "state", Children: []Node{{ID: "role: window"}, {ID: "..."}}},
		{ID: "title: Inbox"},
	})
	require.Equal(t, "├─ state\n│  ├─ role: window\n│  └─ ...\n└─ title: Inbox\n", out)
}

func TestScrubRowKeepsIdentifiers(t *testing.T) {
	t.Parallel()

	row := ScrubRow(Row{
		{Key: "id", Value: "123456789012"},
		{Key: "title", Value: "Mail - bob@example.com"},
		{Key: "state", Value: Row{{Key: "phone", Value: "555-123-4567"}}},
	})
	id, _ := row.Get("id")
	require.Equal(t, "123456789012", id)
	title, _ := row.Get("title")
	require.Equal(t, "Mail - <EMAIL_ADDRESS>", title)
	state, _ := row.Get("state")
	phone, _ := state.(Row).Get("phone")
	require.Equal(t, "<PHONE_NUMBER>", phone)
}

func TestBuildReportCapsEventsMarksScreenshotsAndScrubs(t *testing.T) {
	t.Parallel()

	store, recordingID := seedReportRecording(t)
	report, err := BuildReport(context.Background(), events.FromStore(store), recordingID, ReportOptions{
		MaxEvents:        2,
		MaxTableChildren: 1,
		Scrub:            true,
	})
	require.NoError(t, err)

	require.Equal(t, recordingID, report.RecordingID)
	require.Equal(t, "adapt: recording-"+recordingID, report.Title)
	require.Equal(t, "Reply to <EMAIL_ADDRESS>", report.TaskDescription)
	task, _ := report.Recording.Get("task_description")
	require.Equal(t, "Reply to <EMAIL_ADDRESS>", task)
	numEvents, _ := report.Meta.Get("num_action_events")
	require.InDelta(t, 3, numEvents, 1e-9)

	require.Equal(t, 3, report.TotalEvents)
	require.Len(t, report.Events, 2)

	first := report.Events[0]
	require.True(t, first.HasImage)
	require.Equal(t, 40, first.Width)
	data, ok := report.EventPNG(0)
	require.True(t, ok)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	r, g, b, _ := img.At(10, 12).RGBA()
	require.Equal(t, [3]uint32{0xffff, 0, 0}, [3]uint32{r, g, b})
	require.True(t, strings.HasPrefix(first.ImageDataURI(), "data:image/png;base64,"))

	require.Contains(t, RenderTree(first.WindowTree), "title: Inbox - <EMAIL_ADDRESS>")
	require.Contains(t, RenderTree(first.ActionTree), "name: click")

	require.False(t, report.Events[1].HasImage)
	_, ok = report.EventPNG(1)
	require.False(t, ok)
	_, ok = report.EventPNG(5)
	require.False(t, ok)
}

func TestBuildReportUnknownRecording(t *testing.T) {
	t.Parallel()

	store, _ := seedReportRecording(t)
	_, err := BuildReport(context.Background(), events.FromStore(store), "missing", ReportOptions{})
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRenderHTMLEscapesRecordingText(t *testing.T) {
	t.Parallel()

	report := &Report{
		Title:           "adapt: recording-r1",
		TaskDescription: "<script>alert(1)</script>",
		Meta:            Row{{Key: "num_action_events", Value: 3.0}},
		Recording:       Row{{Key: "platform", Value: "linux"}},
		TotalEvents:     3,
		Events: []EventView{{
			Index:      0,
			Name:       "click",
			ActionTree: []Node{{ID: "state", Children: []Node{{ID: "role: <b>"}}}},
		}},
	}
	var buf bytes.Buffer
	require.NoError(t, RenderHTML(&buf, report))
	html := buf.String()
	require.Contains(t, html, "<title>adapt: recording-r1</title>")
	require.NotContains(t, html, "<script>alert(1)</script>")
	require.Contains(t, html, "&lt;script&gt;")
	require.Contains(t, html, "role: &lt;b&gt;")
	require.Contains(t, html, "Showing 1 of 3 events.")
	require.Contains(t, html, "<th>num_action_events</th>")
}

func TestRouterServesReportAPIAndImages(t *testing.T) {
	t.Parallel()

	store, recordingID := seedReportRecording(t)
	report, err := BuildReport(context.Background(), events.FromStore(store), recordingID, ReportOptions{})
	require.NoError(t, err)
	router := NewRouter(report, nil)

	rec := serve(t, router, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "data:image/png;base64,")

	rec = serve(t, router, "/api/recording", "http://localhost:3000")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	var payload struct {
		RecordingID string `json:"recording_id"`
		Recording   map[string]any
		Events      []struct {
			Index    int  `json:"index"`
			HasImage bool `json:"has_image"`
		} `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Equal(t, recordingID, payload.RecordingID)
	require.Equal(t, "Reply to bob@example.com", payload.Recording["task_description"])
	require.Len(t, payload.Events, 3)
	require.True(t, payload.Events[0].HasImage)

	rec = serve(t, router, "/api/events/0/image.png", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	_, err = png.Decode(rec.Body)
	require.NoError(t, err)

	require.Equal(t, http.StatusNotFound, serve(t, router, "/api/events/1/image.png", "").Code)
	require.Equal(t, http.StatusBadRequest, serve(t, router, "/api/events/first/image.png", "").Code)
	require.Equal(t, http.StatusNotFound, serve(t, router, "/api/nope", "").Code)
}

func TestServeStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, "127.0.0.1:0", http.NotFoundHandler(), nil)
	}()
	cancel()
	require.NoError(t, <-done)
}

func TestTUIModelNavigatesEventsAndTogglesTheme(t *testing.T) {
	t.Parallel()

	report := &Report{
		Title:       "adapt: recording-r1",
		Meta:        Row{{Key: "num_action_events", Value: 2.0}},
		TotalEvents: 2,
		Events: []EventView{
			{Index: 0, Name: "click", ActionTree: []Node{{ID: "name: click"}}},
			{Index: 1, Name: "type", ActionTree: []Node{{ID: "text: hello"}}},
		},
	}
	model := NewModel(report, TUIOptions{})
	require.Len(t, model.events.Items(), 2)
	require.Equal(t, 0, model.selected)
	require.Contains(t, model.View(), "adapt: recording-r1")
	require.Contains(t, model.View(), "num_action_events=2")
	require.Contains(t, model.detail.View(), "name: click")

	next, _ := model.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	model = next.(Model)
	require.Equal(t, 120, model.width)

	next, _ = model.Update(tea.KeyMsg{Type: tea.KeyDown})
	model = next.(Model)
	require.Equal(t, 1, model.selected)
	require.Contains(t, model.detail.View(), "text: hello")

	require.False(t, model.dark)
	next, _ = model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'t'}})
	model = next.(Model)
	require.True(t, model.dark)

	_, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	require.NotNil(t, cmd)
	require.IsType(t, tea.QuitMsg{}, cmd())
}

func TestTUIModelEmptyReport(t *testing.T) {
	t.Parallel()

	model := NewModel(&Report{Title: "adapt: recording-empty"}, TUIOptions{Dark: true})
	require.Equal(t, -1, model.selected)
	require.Contains(t, model.detail.View(), "No events in this recording.")
	require.Error(t, RunTUI(&Report{}, TUIOptions{IsTTY: func() bool { return false }}))
}

func serve(t *testing.T, handler http.Handler, path, origin string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func seedReportRecording(t *testing.T) (*storage.Store, string) {
	t.Helper()
	ctx := context.Background()
	store, err := storage.Open(filepath.Join(t.TempDir(), "adapt.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })

	rec := &storage.Recording{
		Timestamp:       1700000000,
		MonitorWidth:    40,
		MonitorHeight:   30,
		Platform:        "linux",
		TaskDescription: "Reply to bob@example.com",
	}
	require.NoError(t, store.Recordings.Create(ctx, rec))

	window := &storage.WindowEvent{
		RecordingID: rec.ID,
		Timestamp:   1700000000.1,
		Title:       "Inbox - bob@example.com",
		Width:       40,
		Height:      30,
		State:       json.RawMessage(`{"children":["a","b","c"]}`),
	}
	require.NoError(t, store.WindowEvents.Create(ctx, window))

	img := image.NewRGBA(image.Rect(0, 0, 40, 30))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	shot := &storage.Screenshot{RecordingID: rec.ID, Timestamp: 1700000000.2, PNGData: buf.Bytes()}
	require.NoError(t, store.Screenshots.Create(ctx, shot))

	x, y := 10.0, 12.0
	for _, event := range []*storage.ActionEvent{
		{RecordingID: rec.ID, Name: "click", Timestamp: 1700000000.2, MouseX: &x, MouseY: &y, MouseButtonName: "left", ScreenshotID: shot.ID, WindowEventID: window.ID},
		{RecordingID: rec.ID, Name: "press", Timestamp: 1700000000.3, KeyChar: "a", WindowEventID: window.ID},
		{RecordingID: rec.ID, Name: "release", Timestamp: 1700000000.4, KeyChar: "a"},
	} {
		require.NoError(t, store.ActionEvents.Create(ctx, event))
	}
	return store, rec.ID
}
