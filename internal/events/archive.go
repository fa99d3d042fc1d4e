package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io"

	"github.com/go-playground/validator/v10"

	"github.com/openadapt/adapt/internal/storage"
)

var ErrInvalidArchive = errors.New("invalid recording archive")

// Archive is the portable JSON form of one recording. Identifiers inside an
// archive only need to be unique within it; Import assigns fresh ones.
type Archive struct {
	Recording    storage.Recording     `json:"recording"`
	ActionEvents []storage.ActionEvent `json:"action_events" validate:"dive"`
	WindowEvents []storage.WindowEvent `json:"window_events,omitempty" validate:"dive"`
	Screenshots  []ArchiveScreenshot   `json:"screenshots,omitempty" validate:"dive"`
}

type ArchiveScreenshot struct {
	ID        string  `json:"id" validate:"required"`
	Timestamp float64 `json:"timestamp" validate:"gte=0"`
	PNG       []byte  `json:"png" validate:"required"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func DecodeArchive(r io.Reader) (*Archive, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var archive Archive
	if err := dec.Decode(&archive); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	if err := archive.Validate(); err != nil {
		return nil, err
	}
	return &archive, nil
}

// Validate checks field constraints, identifier uniqueness, that every
// reference from an action event resolves, and that screenshots are PNGs.
func (a *Archive) Validate() error {
	if err := validate.Struct(a); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			first := fieldErrs[0]
			return fmt.Errorf("%w: %s failed %q (%d problems)", ErrInvalidArchive, first.Namespace(), first.Tag(), len(fieldErrs))
		}
		return fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}

	windows := make(map[string]bool, len(a.WindowEvents))
	for i, w := range a.WindowEvents {
		if w.ID == "" {
			return fmt.Errorf("%w: window_events[%d] has no id", ErrInvalidArchive, i)
		}
		if windows[w.ID] {
			return fmt.Errorf("%w: duplicate window event id %q", ErrInvalidArchive, w.ID)
		}
		windows[w.ID] = true
	}
	shots := make(map[string]bool, len(a.Screenshots))
	for _, s := range a.Screenshots {
		if shots[s.ID] {
			return fmt.Errorf("%w: duplicate screenshot id %q", ErrInvalidArchive, s.ID)
		}
		if _, err := png.DecodeConfig(bytes.NewReader(s.PNG)); err != nil {
			return fmt.Errorf("%w: screenshot %q is not a png: %v", ErrInvalidArchive, s.ID, err)
		}
		shots[s.ID] = true
	}
	for i, e := range a.ActionEvents {
		if e.WindowEventID != "" && !windows[e.WindowEventID] {
			return fmt.Errorf("%w: action_events[%d] references unknown window event %q", ErrInvalidArchive, i, e.WindowEventID)
		}
		if e.ScreenshotID != "" && !shots[e.ScreenshotID] {
			return fmt.Errorf("%w: action_events[%d] references unknown screenshot %q", ErrInvalidArchive, i, e.ScreenshotID)
		}
	}
	return nil
}

// Import stores the archive as a new recording. On failure the partially
// written recording is removed.
func Import(ctx context.Context, repos Repositories, archive *Archive) (rec *storage.Recording, err error) {
	if err := archive.Validate(); err != nil {
		return nil, err
	}

	recording := archive.Recording
	recording.ID = ""
	recording.CreatedAt = recording.CreatedAt.UTC()
	if err := repos.Recordings.Create(ctx, &recording); err != nil {
		return nil, fmt.Errorf("import recording: %w", err)
	}
	defer func() {
		if err != nil {
			_ = repos.Recordings.Delete(context.WithoutCancel(ctx), recording.ID)
		}
	}()

	windowIDs := make(map[string]string, len(archive.WindowEvents))
	for _, w := range archive.WindowEvents {
		oldID := w.ID
		w.ID = ""
		w.RecordingID = recording.ID
		if err := repos.WindowEvents.Create(ctx, &w); err != nil {
			return nil, fmt.Errorf("import recording: %w", err)
		}
		windowIDs[oldID] = w.ID
	}

	shotIDs := make(map[string]string, len(archive.Screenshots))
	for _, s := range archive.Screenshots {
		shot := storage.Screenshot{RecordingID: recording.ID, Timestamp: s.Timestamp, PNGData: s.PNG}
		if err := repos.Screenshots.Create(ctx, &shot); err != nil {
			return nil, fmt.Errorf("import recording: %w", err)
		}
		shotIDs[s.ID] = shot.ID
	}

	for _, e := range archive.ActionEvents {
		e.ID = ""
		e.RecordingID = recording.ID
		e.WindowEventID = windowIDs[e.WindowEventID]
		e.ScreenshotID = shotIDs[e.ScreenshotID]
		e.Screenshot = nil
		e.WindowEvent = nil
		if err := repos.ActionEvents.Create(ctx, &e); err != nil {
			return nil, fmt.Errorf("import recording: %w", err)
		}
	}
	return &recording, nil
}

// Export builds an archive of the raw, unprocessed events of a recording.
func Export(ctx context.Context, repos Repositories, recordingID string) (*Archive, error) {
	bundle, err := Load(ctx, repos, recordingID, Options{})
	if err != nil {
		return nil, fmt.Errorf("export recording: %w", err)
	}
	archive := &Archive{
		Recording:    *bundle.Recording,
		ActionEvents: make([]storage.ActionEvent, 0, len(bundle.ActionEvents)),
		WindowEvents: bundle.WindowEvents,
	}
	for _, e := range bundle.ActionEvents {
		e.Screenshot = nil
		e.WindowEvent = nil
		archive.ActionEvents = append(archive.ActionEvents, e)
	}
	for _, s := range bundle.Screenshots {
		archive.Screenshots = append(archive.Screenshots, ArchiveScreenshot{ID: s.ID, Timestamp: s.Timestamp, PNG: s.PNGData})
	}
	return archive, nil
}
