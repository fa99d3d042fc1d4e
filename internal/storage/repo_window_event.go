package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type windowEventRepository struct {
	db *sql.DB
}

const windowEventColumns = `id, recording_id, timestamp, COALESCE(window_id, ''), COALESCE(title, ''),
	COALESCE(left_px, 0), COALESCE(top_px, 0), COALESCE(width, 0), COALESCE(height, 0), state`

func (r *windowEventRepository) Create(ctx context.Context, event *WindowEvent) error {
	if event == nil {
		return fmt.Errorf("create window event: event is nil")
	}
	if event.RecordingID == "" {
		return fmt.Errorf("create window event: recording id is required")
	}

	event.ID = ensureID(event.ID)

	var state sql.NullString
	if len(event.State) > 0 {
		state = sql.NullString{String: string(event.State), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO window_events(id, recording_id, timestamp, window_id, title, left_px, top_px, width, height, state)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, event.ID, event.RecordingID, event.Timestamp, nullString(event.WindowID), event.Title,
		event.Left, event.Top, event.Width, event.Height, state)
	if err != nil {
		return fmt.Errorf("create window event: %w", err)
	}
	return nil
}

func (r *windowEventRepository) Get(ctx context.Context, id string) (*WindowEvent, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+windowEventColumns+` FROM window_events WHERE id = ?`, id)
	event, err := scanWindowEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get window event: %w", err)
	}
	return event, nil
}

func (r *windowEventRepository) ListByRecording(ctx context.Context, recordingID string) ([]WindowEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+windowEventColumns+`
		FROM window_events
		WHERE recording_id = ?
		ORDER BY timestamp ASC
	`, recordingID)
	if err != nil {
		return nil, fmt.Errorf("list window events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	events := []WindowEvent{}
	for rows.Next() {
		event, err := scanWindowEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("list window events: scan row: %w", err)
		}
		events = append(events, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list window events: iterate: %w", err)
	}
	return events, nil
}

func scanWindowEvent(row rowScanner) (*WindowEvent, error) {
	var (
		event WindowEvent
		state sql.NullString
	)
	if err := row.Scan(
		&event.ID,
		&event.RecordingID,
		&event.Timestamp,
		&event.WindowID,
		&event.Title,
		&event.Left,
		&event.Top,
		&event.Width,
		&event.Height,
		&state,
	); err != nil {
		return nil, err
	}
	if state.Valid && state.String != "" {
		event.State = []byte(state.String)
	}
	return &event, nil
}
