package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

type replayRepository struct {
	db *sql.DB
}

func (r *replayRepository) Start(ctx context.Context, run *ReplayRun) error {
	if run == nil {
		return fmt.Errorf("start replay run: run is nil")
	}
	if run.RecordingID == "" {
		return fmt.Errorf("start replay run: recording id is required")
	}
	if run.Strategy == "" {
		return fmt.Errorf("start replay run: strategy is required")
	}

	run.ID = ensureID(run.ID)
	run.Status = ReplayStatusRunning
	if run.StartedAt.IsZero() {
		run.StartedAt = nowUTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO replay_runs(id, recording_id, strategy, instructions, status, steps, error, started_at, finished_at)
		VALUES(?, ?, ?, ?, ?, 0, NULL, ?, NULL)
	`, run.ID, run.RecordingID, run.Strategy, run.Instructions, string(run.Status), fmtTime(run.StartedAt))
	if err != nil {
		return fmt.Errorf("start replay run: %w", err)
	}
	return nil
}

func (r *replayRepository) AppendAction(ctx context.Context, runID string, step int, action ActionEvent) error {
	payload, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("append replay action: marshal: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO replay_actions(run_id, step, action_json, created_at)
		VALUES(?, ?, ?, ?)
	`, runID, step, string(payload), fmtTime(nowUTC()))
	if err != nil {
		return fmt.Errorf("append replay action: %w", err)
	}
	return nil
}

func (r *replayRepository) Finish(ctx context.Context, runID string, status ReplayStatus, steps int, runErr string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE replay_runs
		SET status = ?, steps = ?, error = ?, finished_at = ?
		WHERE id = ?
	`, string(status), steps, nullString(runErr), fmtTime(nowUTC()), runID)
	if err != nil {
		return fmt.Errorf("finish replay run: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish replay run: rows affected: %w", err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}

const replayRunColumns = `id, recording_id, strategy, instructions, status, steps, COALESCE(error, ''), started_at, finished_at`

func (r *replayRepository) Get(ctx context.Context, id string) (*ReplayRun, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+replayRunColumns+` FROM replay_runs WHERE id = ?`, id)
	run, err := scanReplayRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get replay run: %w", err)
	}
	return run, nil
}

func (r *replayRepository) ListByRecording(ctx context.Context, recordingID string) ([]ReplayRun, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+replayRunColumns+`
		FROM replay_runs
		WHERE recording_id = ?
		ORDER BY started_at ASC
	`, recordingID)
	if err != nil {
		return nil, fmt.Errorf("list replay runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	runs := []ReplayRun{}
	for rows.Next() {
		run, err := scanReplayRun(rows)
		if err != nil {
			return nil, fmt.Errorf("list replay runs: scan row: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list replay runs: iterate: %w", err)
	}
	return runs, nil
}

func (r *replayRepository) Actions(ctx context.Context, runID string) ([]ReplayAction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT run_id, step, action_json, created_at
		FROM replay_actions
		WHERE run_id = ?
		ORDER BY step ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list replay actions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	actions := []ReplayAction{}
	for rows.Next() {
		var (
			action  ReplayAction
			payload string
			created string
		)
		if err := rows.Scan(&action.RunID, &action.Step, &payload, &created); err != nil {
			return nil, fmt.Errorf("list replay actions: scan row: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &action.Action); err != nil {
			return nil, fmt.Errorf("list replay actions: decode step %d: %w", action.Step, err)
		}
		action.CreatedAt, err = parseTime(created)
		if err != nil {
			return nil, err
		}
		actions = append(actions, action)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list replay actions: iterate: %w", err)
	}
	return actions, nil
}

func scanReplayRun(row rowScanner) (*ReplayRun, error) {
	var (
		run      ReplayRun
		status   string
		started  string
		finished sql.NullString
	)
	if err := row.Scan(
		&run.ID,
		&run.RecordingID,
		&run.Strategy,
		&run.Instructions,
		&status,
		&run.Steps,
		&run.Error,
		&started,
		&finished,
	); err != nil {
		return nil, err
	}
	run.Status = ReplayStatus(status)

	var err error
	run.StartedAt, err = parseTime(started)
	if err != nil {
		return nil, err
	}
	run.FinishedAt, err = parseNullableTime(finished)
	if err != nil {
		return nil, err
	}
	return &run, nil
}
