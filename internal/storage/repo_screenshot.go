package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type screenshotRepository struct {
	db *sql.DB
}

func (r *screenshotRepository) Create(ctx context.Context, screenshot *Screenshot) error {
	if screenshot == nil {
		return fmt.Errorf("create screenshot: screenshot is nil")
	}
	if screenshot.RecordingID == "" {
		return fmt.Errorf("create screenshot: recording id is required")
	}

	screenshot.ID = ensureID(screenshot.ID)

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO screenshots(id, recording_id, timestamp, png_data)
		VALUES(?, ?, ?, ?)
	`, screenshot.ID, screenshot.RecordingID, screenshot.Timestamp, screenshot.PNGData)
	if err != nil {
		return fmt.Errorf("create screenshot: %w", err)
	}
	return nil
}

func (r *screenshotRepository) Get(ctx context.Context, id string) (*Screenshot, error) {
	var s Screenshot
	err := r.db.QueryRowContext(ctx, `
		SELECT id, recording_id, timestamp, png_data
		FROM screenshots
		WHERE id = ?
	`, id).Scan(&s.ID, &s.RecordingID, &s.Timestamp, &s.PNGData)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get screenshot: %w", err)
	}
	return &s, nil
}

func (r *screenshotRepository) ListByRecording(ctx context.Context, recordingID string) ([]Screenshot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, recording_id, timestamp, png_data
		FROM screenshots
		WHERE recording_id = ?
		ORDER BY timestamp ASC
	`, recordingID)
	if err != nil {
		return nil, fmt.Errorf("list screenshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	items := []Screenshot{}
	for rows.Next() {
		var s Screenshot
		if err := rows.Scan(&s.ID, &s.RecordingID, &s.Timestamp, &s.PNGData); err != nil {
			return nil, fmt.Errorf("list screenshots: scan row: %w", err)
		}
		items = append(items, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list screenshots: iterate: %w", err)
	}
	return items, nil
}
