package visualize

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image/color"
	"image/png"
	"log/slog"

	"github.com/openadapt/adapt/internal/events"
	"github.com/openadapt/adapt/internal/replay"
	"github.com/openadapt/adapt/internal/scrub"
)

const DefaultMaxTableChildren = 5

var markerColor = color.RGBA{R: 255, A: 255}

type ReportOptions struct {
	ProcessEvents bool
	// MaxEvents <= 0 shows every event.
	MaxEvents int
	// MaxTableChildren limits lists in action trees; <= 0 means no limit.
	MaxTableChildren int
	Scrub            bool
	DotRadius        int
	Logger           *slog.Logger
}

type Report struct {
	RecordingID     string      `json:"recording_id"`
	Title           string      `json:"title"`
	TaskDescription string      `json:"task_description"`
	Recording       Row         `json:"recording"`
	Meta            Row         `json:"meta"`
	TotalEvents     int         `json:"total_events"`
	Events          []EventView `json:"events"`
}

type EventView struct {
	Index      int     `json:"index"`
	Name       string  `json:"name"`
	Timestamp  float64 `json:"timestamp"`
	HasImage   bool    `json:"has_image"`
	Width      int     `json:"width,omitempty"`
	Height     int     `json:"height,omitempty"`
	Action     Row     `json:"action"`
	Window     Row     `json:"window"`
	ActionTree []Node  `json:"action_tree"`
	WindowTree []Node  `json:"window_tree"`

	png []byte
}

// ImageDataURI returns the marked screenshot as a data URI, or "" when the
// event has no screenshot.
func (e EventView) ImageDataURI() string {
	if len(e.png) == 0 {
		return ""
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(e.png)
}

// EventPNG returns the marked screenshot of the event at idx.
func (r *Report) EventPNG(idx int) ([]byte, bool) {
	if idx < 0 || idx >= len(r.Events) || len(r.Events[idx].png) == 0 {
		return nil, false
	}
	return r.Events[idx].png, true
}

// BuildReport loads a recording and prepares everything the TUI, HTML report
// and API need: the recording row, the meta summary, and one view per action
// event with its screenshot marked at the mouse position.
func BuildReport(ctx context.Context, repos events.Repositories, recordingID string, opts ReportOptions) (*Report, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	radius := opts.DotRadius
	if radius <= 0 {
		radius = replay.DefaultDotRadius
	}

	bundle, err := events.Load(ctx, repos, recordingID, events.Options{Process: opts.ProcessEvents})
	if err != nil {
		return nil, fmt.Errorf("build report: %w", err)
	}

	recordingRow, err := RowToMap(bundle.Recording)
	if err != nil {
		return nil, fmt.Errorf("build report: %w", err)
	}
	metaRow, err := RowToMap(bundle.Meta)
	if err != nil {
		return nil, fmt.Errorf("build report: %w", err)
	}
	task := bundle.Recording.TaskDescription
	if opts.Scrub {
		recordingRow = ScrubRow(recordingRow)
		task = scrub.Text(task)
	}

	report := &Report{
		RecordingID:     bundle.Recording.ID,
		Title:           "adapt: recording-" + bundle.Recording.ID,
		TaskDescription: task,
		Recording:       recordingRow,
		Meta:            metaRow,
		TotalEvents:     len(bundle.ActionEvents),
	}

	limit := len(bundle.ActionEvents)
	if opts.MaxEvents > 0 && opts.MaxEvents < limit {
		limit = opts.MaxEvents
	}
	logger.Info("preparing report", "recording_id", report.RecordingID, "events", limit, "total_events", report.TotalEvents)

	report.Events = make([]EventView, 0, limit)
	for idx := 0; idx < limit; idx++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		action := bundle.ActionEvents[idx]
		view := EventView{Index: idx, Name: action.Name, Timestamp: action.Timestamp}

		if action.Screenshot != nil && len(action.Screenshot.PNGData) > 0 {
			img, err := replay.DecodeScreenshot(action.Screenshot)
			if err != nil {
				logger.Warn("screenshot not shown", "index", idx, "error", err)
			} else {
				if action.MouseX != nil && action.MouseY != nil {
					img = replay.PaintDot(img, *action.MouseX, *action.MouseY, radius, markerColor)
				}
				var buf bytes.Buffer
				if err := png.Encode(&buf, img); err != nil {
					return nil, fmt.Errorf("build report: encode screenshot %d: %w", idx, err)
				}
				view.png = buf.Bytes()
				view.HasImage = true
				view.Width = img.Bounds().Dx()
				view.Height = img.Bounds().Dy()
			}
		}

		actionRow, err := RowToMap(action)
		if err != nil {
			return nil, fmt.Errorf("build report: event %d: %w", idx, err)
		}
		windowRow, err := RowToMap(action.WindowEvent)
		if err != nil {
			return nil, fmt.Errorf("build report: event %d: %w", idx, err)
		}
		if opts.Scrub {
			actionRow = ScrubRow(actionRow)
			windowRow = ScrubRow(windowRow)
		}
		view.Action = actionRow
		view.Window = windowRow
		view.ActionTree = CreateTree(actionRow, opts.MaxTableChildren)
		view.WindowTree = CreateTree(windowRow, 0)
		report.Events = append(report.Events, view)
	}
	return report, nil
}
