package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/openadapt/adapt/internal/audit"
	"github.com/openadapt/adapt/internal/storage"
)

// Observer reports the current state of the display before each step.
type Observer interface {
	Observe(ctx context.Context, step int) (*storage.Screenshot, *storage.WindowEvent, error)
}

// Player carries out a replayed action.
type Player interface {
	Play(ctx context.Context, step int, action storage.ActionEvent) error
}

type Auditor interface {
	Record(ctx context.Context, event audit.Event) error
}

type Runner struct {
	Strategy     Strategy
	Observer     Observer
	Player       Player
	RecordingID  string
	Instructions string
	// MaxSteps of zero means no limit.
	MaxSteps int

	// Optional sinks.
	Replays storage.ReplayRepository
	Audit   Auditor
	Logger  *slog.Logger
}

type Result struct {
	RunID      string
	Steps      int
	Status     storage.ReplayStatus
	StepLimit  bool
	Actions    []storage.ActionEvent
	FinalError error
}

// Run drives the strategy until it reports ErrDone, the step limit is reached,
// or an error occurs. A failed run is still returned alongside the error.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if r.Strategy == nil || r.Observer == nil || r.Player == nil {
		return nil, fmt.Errorf("replay run: strategy, observer and player are required")
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	result := &Result{Status: storage.ReplayStatusRunning}
	if r.Replays != nil {
		run := &storage.ReplayRun{
			RecordingID:  r.RecordingID,
			Strategy:     r.Strategy.Name(),
			Instructions: r.Instructions,
		}
		if err := r.Replays.Start(ctx, run); err != nil {
			return nil, fmt.Errorf("replay run: %w", err)
		}
		result.RunID = run.ID
	}
	r.record(ctx, logger, audit.ActionReplayStart, result, "success", runDetails{
		RecordingID: r.RecordingID,
		Strategy:    r.Strategy.Name(),
	})
	logger.Info("replay started", "run_id", result.RunID, "recording_id", r.RecordingID, "strategy", r.Strategy.Name())

	runErr := r.loop(ctx, logger, result)
	if runErr != nil {
		result.Status = storage.ReplayStatusFailed
		result.FinalError = runErr
	} else {
		result.Status = storage.ReplayStatusCompleted
	}

	if r.Replays != nil && result.RunID != "" {
		errText := ""
		if runErr != nil {
			errText = runErr.Error()
		}
		// the caller's context may already be cancelled; the run row must
		// still be closed out
		if err := r.Replays.Finish(context.WithoutCancel(ctx), result.RunID, result.Status, result.Steps, errText); err != nil {
			logger.Error("replay finish not persisted", "run_id", result.RunID, "error", err)
		}
	}

	if runErr != nil {
		r.record(context.WithoutCancel(ctx), logger, audit.ActionReplayFail, result, "error", runDetails{
			RecordingID: r.RecordingID,
			Steps:       result.Steps,
			Error:       runErr.Error(),
		})
		logger.Error("replay failed", "run_id", result.RunID, "steps", result.Steps, "error", runErr)
		return result, runErr
	}
	r.record(ctx, logger, audit.ActionReplayFinish, result, "success", runDetails{
		RecordingID: r.RecordingID,
		Steps:       result.Steps,
		StepLimit:   result.StepLimit,
	})
	logger.Info("replay completed", "run_id", result.RunID, "steps", result.Steps, "step_limit", result.StepLimit)
	return result, nil
}

func (r *Runner) loop(ctx context.Context, logger *slog.Logger, result *Result) error {
	for step := 0; ; step++ {
		if r.MaxSteps > 0 && step >= r.MaxSteps {
			result.StepLimit = true
			logger.Warn("replay step limit reached", "max_steps", r.MaxSteps)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		screenshot, window, err := r.Observer.Observe(ctx, step)
		if err != nil {
			return fmt.Errorf("observe step %d: %w", step, err)
		}

		action, err := r.Strategy.Next(ctx, screenshot, window)
		if errors.Is(err, ErrDone) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("next action at step %d: %w", step, err)
		}

		if err := r.Player.Play(ctx, step, *action); err != nil {
			return fmt.Errorf("play step %d: %w", step, err)
		}
		if r.Replays != nil && result.RunID != "" {
			if err := r.Replays.AppendAction(ctx, result.RunID, step, *action); err != nil {
				return fmt.Errorf("persist step %d: %w", step, err)
			}
		}
		result.Actions = append(result.Actions, *action)
		result.Steps++
	}
}

type runDetails struct {
	RecordingID string `json:"recording_id,omitempty"`
	Strategy    string `json:"strategy,omitempty"`
	Steps       int    `json:"steps"`
	StepLimit   bool   `json:"step_limit,omitempty"`
	Error       string `json:"error,omitempty"`
}

func (r *Runner) record(ctx context.Context, logger *slog.Logger, action string, result *Result, outcome string, details runDetails) {
	if r.Audit == nil {
		return
	}
	err := r.Audit.Record(ctx, audit.Event{
		Action:     action,
		TargetType: "replay_run",
		TargetID:   result.RunID,
		Result:     outcome,
		Details:    details,
	})
	if err != nil {
		logger.Warn("audit record failed", "action", action, "error", err)
	}
}
