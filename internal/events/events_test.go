package events

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/openadapt/adapt/internal/storage"
	"github.com/stretchr/testify/require"
)

func TestProcessCollapsesConsecutiveMoves(t *testing.T) {
	t.Parallel()

	in := []storage.ActionEvent{
		move(1, 1, 1),
		move(2, 2, 2),
		move(3, 3, 3),
		keyPress(4, "", "enter"),
		move(5, 9, 9),
	}

	out := Process(in, ProcessOptions{})
	require.Equal(t, []string{"move", "press", "move"}, names(out))
	require.InDelta(t, 3, *out[0].MouseX, 1e-9)
	require.Len(t, in, 5)
}

func TestProcessMergesPressReleaseIntoSingleClick(t *testing.T) {
	t.Parallel()

	in := []storage.ActionEvent{
		mouse(1, 10, 20, "left", true),
		mouse(1.1, 10, 20, "left", false),
		mouse(2, 10, 20, "left", true),
		mouse(2.1, 30, 40, "left", false),
	}

	out := Process(in, ProcessOptions{})
	require.Equal(t, []string{"singleclick", "click", "click"}, names(out))
	require.Nil(t, out[0].MousePressed)
	require.Equal(t, "left", out[0].MouseButtonName)
	require.NotNil(t, in[0].MousePressed)
}

func TestProcessMergesDoubleClickWithinIntervalAndDistance(t *testing.T) {
	t.Parallel()

	in := []storage.ActionEvent{
		mouse(1.0, 10, 10, "left", true),
		mouse(1.05, 10, 10, "left", false),
		mouse(1.3, 12, 11, "left", true),
		mouse(1.35, 12, 11, "left", false),
		mouse(5.0, 10, 10, "left", true),
		mouse(5.05, 10, 10, "left", false),
	}

	out := Process(in, ProcessOptions{DoubleClickInterval: 0.5, DoubleClickDistance: 5})
	require.Equal(t, []string{"doubleclick", "singleclick"}, names(out))
	require.InDelta(t, 1.0, out[0].Timestamp, 1e-9)
}

func TestProcessSkipsDoubleClickWhenTooFarApart(t *testing.T) {
	t.Parallel()

	in := []storage.ActionEvent{
		mouse(1.0, 10, 10, "left", true),
		mouse(1.05, 10, 10, "left", false),
		mouse(1.2, 100, 100, "left", true),
		mouse(1.25, 100, 100, "left", false),
	}

	out := Process(in, ProcessOptions{DoubleClickInterval: 0.5, DoubleClickDistance: 5})
	require.Equal(t, []string{"singleclick", "singleclick"}, names(out))
}

func TestProcessMergesPrintableKeysIntoType(t *testing.T) {
	t.Parallel()

	in := []storage.ActionEvent{
		keyPress(1, "h", ""),
		keyRelease(1.1, "h", ""),
		keyPress(1.2, "i", ""),
		keyRelease(1.3, "i", ""),
		keyPress(2, "", "enter"),
		keyRelease(2.1, "", "enter"),
		keyPress(3, "!", ""),
	}

	out := Process(in, ProcessOptions{})
	require.Equal(t, []string{"type", "press", "release", "type"}, names(out))
	require.Equal(t, "hi", out[0].Text)
	require.Empty(t, out[0].KeyChar)
	require.InDelta(t, 1, out[0].Timestamp, 1e-9)
	require.Equal(t, "!", out[3].Text)
}

func TestLoadAttachesReferencesAndComputesMeta(t *testing.T) {
	t.Parallel()

	store, err := storage.Open(filepath.Join(t.TempDir(), "adapt.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })
	ctx := context.Background()

	rec := &storage.Recording{Timestamp: 1700000000, DoubleClickIntervalSeconds: 0.5, DoubleClickDistancePixels: 5}
	require.NoError(t, store.Recordings.Create(ctx, rec))
	shot := &storage.Screenshot{RecordingID: rec.ID, Timestamp: 1, PNGData: []byte("png")}
	require.NoError(t, store.Screenshots.Create(ctx, shot))
	win := &storage.WindowEvent{RecordingID: rec.ID, Timestamp: 1, Title: "Editor"}
	require.NoError(t, store.WindowEvents.Create(ctx, win))

	raw := []storage.ActionEvent{
		keyPress(10, "a", ""),
		keyRelease(10.1, "a", ""),
		keyPress(10.2, "b", ""),
		keyRelease(12.5, "b", ""),
	}
	for i := range raw {
		raw[i].RecordingID = rec.ID
		raw[i].ScreenshotID = shot.ID
		raw[i].WindowEventID = win.ID
		require.NoError(t, store.ActionEvents.Create(ctx, &raw[i]))
	}

	bundle, err := Load(ctx, FromStore(store), rec.ID, Options{Process: true})
	require.NoError(t, err)
	require.Len(t, bundle.ActionEvents, 1)
	require.Equal(t, "ab", bundle.ActionEvents[0].Text)
	require.NotNil(t, bundle.ActionEvents[0].Screenshot)
	require.Equal(t, []byte("png"), bundle.ActionEvents[0].Screenshot.PNGData)
	require.NotNil(t, bundle.ActionEvents[0].WindowEvent)
	require.Equal(t, "Editor", bundle.ActionEvents[0].WindowEvent.Title)

	require.Equal(t, Meta{
		NumOriginalActionEvents: 4,
		NumActionEvents:         1,
		Duration:                2.5,
		NumScreenshots:          1,
		NumWindowEvents:         1,
	}, bundle.Meta)

	unprocessed, err := Load(ctx, FromStore(store), rec.ID, Options{})
	require.NoError(t, err)
	require.Len(t, unprocessed.ActionEvents, 4)
}

func TestLoadUnknownRecordingReturnsNotFound(t *testing.T) {
	t.Parallel()

	store, err := storage.Open(filepath.Join(t.TempDir(), "adapt.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })

	_, err = Load(context.Background(), FromStore(store), "missing", Options{})
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func names(events []storage.ActionEvent) []string {
	out := make([]string, 0, len(events))
	for _, event := range events {
		out = append(out, event.Name)
	}
	return out
}

func move(ts, x, y float64) storage.ActionEvent {
	return storage.ActionEvent{Name: NameMove, Timestamp: ts, MouseX: &x, MouseY: &y}
}

func mouse(ts, x, y float64, button string, pressed bool) storage.ActionEvent {
	return storage.ActionEvent{Name: NameClick, Timestamp: ts, MouseX: &x, MouseY: &y, MouseButtonName: button, MousePressed: &pressed}
}

func keyPress(ts float64, char, name string) storage.ActionEvent {
	return storage.ActionEvent{Name: NamePress, Timestamp: ts, KeyChar: char, KeyName: name}
}

func keyRelease(ts float64, char, name string) storage.ActionEvent {
	return storage.ActionEvent{Name: NameRelease, Timestamp: ts, KeyChar: char, KeyName: name}
}
