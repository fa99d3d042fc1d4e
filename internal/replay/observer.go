package replay

import (
	"context"

	"github.com/openadapt/adapt/internal/storage"
)

// RecordingObserver replays the recording's own screenshots and window
// events as the observed state, which makes a replay a dry run against the
// captured session.
type RecordingObserver struct {
	events []storage.ActionEvent
}

func NewRecordingObserver(events []storage.ActionEvent) *RecordingObserver {
	return &RecordingObserver{events: events}
}

// Observe returns the state attached to the recorded event at step, or the
// last recorded state once the replay runs past the recording.
func (o *RecordingObserver) Observe(ctx context.Context, step int) (*storage.Screenshot, *storage.WindowEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if len(o.events) == 0 {
		return nil, nil, nil
	}
	if step >= len(o.events) {
		step = len(o.events) - 1
	}
	if step < 0 {
		step = 0
	}
	event := o.events[step]
	return event.Screenshot, event.WindowEvent, nil
}
