package events

import (
	"math"
	"unicode"
	"unicode/utf8"

	"github.com/openadapt/adapt/internal/storage"
)

const (
	NameMove        = "move"
	NameClick       = "click"
	NameSingleClick = "singleclick"
	NameDoubleClick = "doubleclick"
	NameScroll      = "scroll"
	NamePress       = "press"
	NameRelease     = "release"
	NameType        = "type"
)

type ProcessOptions struct {
	// DoubleClickInterval is in seconds; zero disables double-click merging.
	DoubleClickInterval float64
	DoubleClickDistance float64
}

// Process returns a new slice with raw input merged into higher level actions.
// The input slice is not modified.
func Process(events []storage.ActionEvent, opts ProcessOptions) []storage.ActionEvent {
	out := collapseMoves(events)
	out = mergeClicks(out)
	out = mergeDoubleClicks(out, opts)
	out = mergeTyping(out)
	return out
}

// collapseMoves keeps only the last event of each run of consecutive moves.
func collapseMoves(events []storage.ActionEvent) []storage.ActionEvent {
	out := make([]storage.ActionEvent, 0, len(events))
	for i, event := range events {
		if event.Name == NameMove && i+1 < len(events) && events[i+1].Name == NameMove {
			continue
		}
		out = append(out, event)
	}
	return out
}

func mergeClicks(events []storage.ActionEvent) []storage.ActionEvent {
	out := make([]storage.ActionEvent, 0, len(events))
	for i := 0; i < len(events); i++ {
		event := events[i]
		if i+1 < len(events) && isMouseDown(event) && isMouseUp(events[i+1]) &&
			event.MouseButtonName == events[i+1].MouseButtonName &&
			samePosition(event, events[i+1]) {
			merged := event
			merged.ID = ""
			merged.Name = NameSingleClick
			merged.MousePressed = nil
			out = append(out, merged)
			i++
			continue
		}
		out = append(out, event)
	}
	return out
}

func mergeDoubleClicks(events []storage.ActionEvent, opts ProcessOptions) []storage.ActionEvent {
	if opts.DoubleClickInterval <= 0 {
		return events
	}
	out := make([]storage.ActionEvent, 0, len(events))
	for i := 0; i < len(events); i++ {
		event := events[i]
		if i+1 < len(events) && event.Name == NameSingleClick && events[i+1].Name == NameSingleClick {
			next := events[i+1]
			if event.MouseButtonName == next.MouseButtonName &&
				next.Timestamp-event.Timestamp <= opts.DoubleClickInterval &&
				distance(event, next) <= opts.DoubleClickDistance {
				merged := event
				merged.Name = NameDoubleClick
				out = append(out, merged)
				i++
				continue
			}
		}
		out = append(out, event)
	}
	return out
}

// mergeTyping folds runs of printable key presses and their releases into a
// single type event anchored at the first press.
func mergeTyping(events []storage.ActionEvent) []storage.ActionEvent {
	out := make([]storage.ActionEvent, 0, len(events))
	var current *storage.ActionEvent
	flush := func() {
		if current != nil {
			out = append(out, *current)
			current = nil
		}
	}
	for _, event := range events {
		switch {
		case event.Name == NamePress && isPrintable(event.KeyChar):
			if current == nil {
				merged := event
				merged.ID = ""
				merged.Name = NameType
				merged.Text = ""
				merged.KeyChar = ""
				merged.KeyName = ""
				merged.KeyVK = ""
				current = &merged
			}
			current.Text += event.KeyChar
		case event.Name == NameRelease && isPrintable(event.KeyChar) && current != nil:
			// already folded into the run
		default:
			flush()
			out = append(out, event)
		}
	}
	flush()
	return out
}

func isMouseDown(event storage.ActionEvent) bool {
	return event.Name == NameClick && event.MousePressed != nil && *event.MousePressed
}

func isMouseUp(event storage.ActionEvent) bool {
	return event.Name == NameClick && event.MousePressed != nil && !*event.MousePressed
}

func samePosition(a, b storage.ActionEvent) bool {
	return distance(a, b) == 0
}

func distance(a, b storage.ActionEvent) float64 {
	if a.MouseX == nil || a.MouseY == nil || b.MouseX == nil || b.MouseY == nil {
		if a.MouseX == nil && a.MouseY == nil && b.MouseX == nil && b.MouseY == nil {
			return 0
		}
		return math.Inf(1)
	}
	return math.Hypot(*a.MouseX-*b.MouseX, *a.MouseY-*b.MouseY)
}

func isPrintable(char string) bool {
	if utf8.RuneCountInString(char) != 1 {
		return false
	}
	r, _ := utf8.DecodeRuneInString(char)
	return unicode.IsPrint(r)
}
