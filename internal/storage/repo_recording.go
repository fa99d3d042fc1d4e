package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type recordingRepository struct {
	db *sql.DB
}

const recordingColumns = `id, timestamp, monitor_width, monitor_height, double_click_interval_seconds,
	double_click_distance_pixels, platform, task_description, video_start_time, created_at`

func (r *recordingRepository) Create(ctx context.Context, recording *Recording) error {
	if recording == nil {
		return fmt.Errorf("create recording: recording is nil")
	}
	if recording.Timestamp <= 0 {
		return fmt.Errorf("create recording: timestamp is required")
	}

	recording.ID = ensureID(recording.ID)
	if recording.CreatedAt.IsZero() {
		recording.CreatedAt = nowUTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO recordings(`+recordingColumns+`)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		recording.ID,
		recording.Timestamp,
		recording.MonitorWidth,
		recording.MonitorHeight,
		recording.DoubleClickIntervalSeconds,
		recording.DoubleClickDistancePixels,
		recording.Platform,
		recording.TaskDescription,
		nullFloat(recording.VideoStartTime),
		fmtTime(recording.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create recording: %w", err)
	}
	return nil
}

func (r *recordingRepository) Get(ctx context.Context, id string) (*Recording, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+recordingColumns+` FROM recordings WHERE id = ?`, id)
	recording, err := scanRecording(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get recording: %w", err)
	}
	return recording, nil
}

func (r *recordingRepository) Latest(ctx context.Context) (*Recording, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordingColumns+`
		FROM recordings
		ORDER BY timestamp DESC, created_at DESC
		LIMIT 1
	`)
	recording, err := scanRecording(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get latest recording: %w", err)
	}
	return recording, nil
}

func (r *recordingRepository) List(ctx context.Context) ([]Recording, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordingColumns+`
		FROM recordings
		ORDER BY timestamp ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	items := []Recording{}
	for rows.Next() {
		recording, err := scanRecording(rows)
		if err != nil {
			return nil, fmt.Errorf("list recordings: scan row: %w", err)
		}
		items = append(items, *recording)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list recordings: iterate: %w", err)
	}
	return items, nil
}

func (r *recordingRepository) SetVideoStartTime(ctx context.Context, id string, value *float64) error {
	result, err := r.db.ExecContext(ctx, `UPDATE recordings SET video_start_time = ? WHERE id = ?`, nullFloat(value), id)
	if err != nil {
		return fmt.Errorf("set recording video start time: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set recording video start time: rows affected: %w", err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *recordingRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM recordings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete recording: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete recording: rows affected: %w", err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}

func scanRecording(row rowScanner) (*Recording, error) {
	var (
		rec            Recording
		videoStartTime sql.NullFloat64
		created        string
	)
	if err := row.Scan(
		&rec.ID,
		&rec.Timestamp,
		&rec.MonitorWidth,
		&rec.MonitorHeight,
		&rec.DoubleClickIntervalSeconds,
		&rec.DoubleClickDistancePixels,
		&rec.Platform,
		&rec.TaskDescription,
		&videoStartTime,
		&created,
	); err != nil {
		return nil, err
	}
	rec.VideoStartTime = floatPtr(videoStartTime)

	var err error
	rec.CreatedAt, err = parseTime(created)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
