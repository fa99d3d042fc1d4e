package storage

import (
	"context"
	"database/sql"
	"fmt"
)

type actionEventRepository struct {
	db *sql.DB
}

func (r *actionEventRepository) Create(ctx context.Context, event *ActionEvent) error {
	if event == nil {
		return fmt.Errorf("create action event: event is nil")
	}
	if event.RecordingID == "" {
		return fmt.Errorf("create action event: recording id is required")
	}
	if event.Name == "" {
		return fmt.Errorf("create action event: name is required")
	}

	event.ID = ensureID(event.ID)

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO action_events(
			id, recording_id, seq, name, timestamp, screenshot_id, window_event_id,
			mouse_x, mouse_y, mouse_dx, mouse_dy, mouse_button_name, mouse_pressed,
			key_name, key_char, key_vk, text
		)
		VALUES(
			?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM action_events WHERE recording_id = ?), ?, ?, ?, ?,
			?, ?, ?, ?, ?, ?,
			?, ?, ?, ?
		)
	`,
		event.ID,
		event.RecordingID,
		event.RecordingID,
		event.Name,
		event.Timestamp,
		nullString(event.ScreenshotID),
		nullString(event.WindowEventID),
		nullFloat(event.MouseX),
		nullFloat(event.MouseY),
		nullFloat(event.MouseDX),
		nullFloat(event.MouseDY),
		nullString(event.MouseButtonName),
		nullBool(event.MousePressed),
		nullString(event.KeyName),
		nullString(event.KeyChar),
		nullString(event.KeyVK),
		nullString(event.Text),
	)
	if err != nil {
		return fmt.Errorf("create action event: %w", err)
	}
	return nil
}

func (r *actionEventRepository) ListByRecording(ctx context.Context, recordingID string) ([]ActionEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT
			id, recording_id, name, timestamp,
			COALESCE(screenshot_id, ''), COALESCE(window_event_id, ''),
			mouse_x, mouse_y, mouse_dx, mouse_dy,
			COALESCE(mouse_button_name, ''), mouse_pressed,
			COALESCE(key_name, ''), COALESCE(key_char, ''), COALESCE(key_vk, ''), COALESCE(text, '')
		FROM action_events
		WHERE recording_id = ?
		ORDER BY seq ASC
	`, recordingID)
	if err != nil {
		return nil, fmt.Errorf("list action events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	events := []ActionEvent{}
	for rows.Next() {
		var (
			event                            ActionEvent
			mouseX, mouseY, mouseDX, mouseDY sql.NullFloat64
			pressed                          sql.NullBool
		)
		if err := rows.Scan(
			&event.ID,
			&event.RecordingID,
			&event.Name,
			&event.Timestamp,
			&event.ScreenshotID,
			&event.WindowEventID,
			&mouseX,
			&mouseY,
			&mouseDX,
			&mouseDY,
			&event.MouseButtonName,
			&pressed,
			&event.KeyName,
			&event.KeyChar,
			&event.KeyVK,
			&event.Text,
		); err != nil {
			return nil, fmt.Errorf("list action events: scan row: %w", err)
		}
		event.MouseX = floatPtr(mouseX)
		event.MouseY = floatPtr(mouseY)
		event.MouseDX = floatPtr(mouseDX)
		event.MouseDY = floatPtr(mouseDY)
		event.MousePressed = boolPtr(pressed)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list action events: iterate: %w", err)
	}
	return events, nil
}
