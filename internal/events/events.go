// Package events loads a recording's action events together with the window
// events and screenshots they reference, and optionally merges raw input into
// higher level actions.
package events

import (
	"context"
	"fmt"

	"github.com/openadapt/adapt/internal/storage"
)

type Repositories struct {
	Recordings   storage.RecordingRepository
	ActionEvents storage.ActionEventRepository
	WindowEvents storage.WindowEventRepository
	Screenshots  storage.ScreenshotRepository
}

func FromStore(store *storage.Store) Repositories {
	return Repositories{
		Recordings:   store.Recordings,
		ActionEvents: store.ActionEvents,
		WindowEvents: store.WindowEvents,
		Screenshots:  store.Screenshots,
	}
}

type Options struct {
	Process bool
}

// Meta summarizes a loaded recording. Field names follow the keys shown in the
// visualization meta table.
type Meta struct {
	NumOriginalActionEvents int     `json:"num_original_action_events"`
	NumActionEvents         int     `json:"num_action_events"`
	Duration                float64 `json:"duration"`
	NumScreenshots          int     `json:"num_screenshots"`
	NumWindowEvents         int     `json:"num_window_events"`
}

type Bundle struct {
	Recording    *storage.Recording
	ActionEvents []storage.ActionEvent
	WindowEvents []storage.WindowEvent
	Screenshots  []storage.Screenshot
	Meta         Meta
}

func Load(ctx context.Context, repos Repositories, recordingID string, opts Options) (*Bundle, error) {
	recording, err := repos.Recordings.Get(ctx, recordingID)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}

	raw, err := repos.ActionEvents.ListByRecording(ctx, recording.ID)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	windows, err := repos.WindowEvents.ListByRecording(ctx, recording.ID)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	screenshots, err := repos.Screenshots.ListByRecording(ctx, recording.ID)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}

	windowByID := make(map[string]*storage.WindowEvent, len(windows))
	for i := range windows {
		windowByID[windows[i].ID] = &windows[i]
	}
	screenshotByID := make(map[string]*storage.Screenshot, len(screenshots))
	for i := range screenshots {
		screenshotByID[screenshots[i].ID] = &screenshots[i]
	}
	for i := range raw {
		if raw[i].WindowEventID != "" {
			raw[i].WindowEvent = windowByID[raw[i].WindowEventID]
		}
		if raw[i].ScreenshotID != "" {
			raw[i].Screenshot = screenshotByID[raw[i].ScreenshotID]
		}
	}

	actions := raw
	if opts.Process {
		actions = Process(raw, ProcessOptions{
			DoubleClickInterval: recording.DoubleClickIntervalSeconds,
			DoubleClickDistance: recording.DoubleClickDistancePixels,
		})
	}

	return &Bundle{
		Recording:    recording,
		ActionEvents: actions,
		WindowEvents: windows,
		Screenshots:  screenshots,
		Meta: Meta{
			NumOriginalActionEvents: len(raw),
			NumActionEvents:         len(actions),
			Duration:                duration(raw),
			NumScreenshots:          len(screenshots),
			NumWindowEvents:         len(windows),
		},
	}, nil
}

func duration(events []storage.ActionEvent) float64 {
	if len(events) < 2 {
		return 0
	}
	return events[len(events)-1].Timestamp - events[0].Timestamp
}
