package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/openadapt/adapt/internal/config"
	"github.com/openadapt/adapt/internal/events"
	"github.com/openadapt/adapt/internal/llm"
	"github.com/openadapt/adapt/internal/replay"
	"github.com/openadapt/adapt/internal/storage"
	"github.com/spf13/cobra"
)

func newReplayCommand(deps commandDeps) *cobra.Command {
	var (
		strategy          string
		instructions      string
		maxSteps          int
		model             string
		outputPath        string
		includeWindowData bool
		raw               bool
	)

	cmd := &cobra.Command{
		Use:   "replay [recording-id]",
		Short: "Replay a recording (defaults to the latest)",
		Long: "Replay drives a strategy over a recording. The vanilla strategy plays the\n" +
			"recorded actions back unchanged; the cursor strategy asks a multimodal model\n" +
			"for each next action, given the recording, the actions replayed so far and\n" +
			"optional natural-language instructions.",
		Example: "  adapt replay --strategy vanilla\n" +
			"  adapt replay <id> --instructions \"reply to the newest email instead\"\n" +
			"  adapt --json replay <id> --output ./actions.jsonl",
		Args: maxArgs(1, "replay accepts at most one recording id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := config.FlagOverrides{}
			if cmd.Flags().Changed("strategy") {
				flags.Strategy = &strategy
			}
			if cmd.Flags().Changed("max-steps") {
				flags.MaxSteps = &maxSteps
			}
			if cmd.Flags().Changed("model") {
				flags.Model = &model
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return withRuntime(ctx, deps, runtimeOptions{Flags: flags}, func(ctx context.Context, env *runtimeEnv) error {
				cfg := env.cfg.Replay
				if cmd.Flags().Changed("include-window-data") {
					cfg.IncludeWindowData = includeWindowData
				}
				if raw {
					cfg.ProcessEvents = false
				}

				rec, err := env.resolveRecording(ctx, args)
				if err != nil {
					return err
				}
				bundle, err := events.Load(ctx, events.FromStore(env.store), rec.ID, events.Options{Process: cfg.ProcessEvents})
				if err != nil {
					return err
				}

				var adapter llm.PromptAdapter
				if cfg.Strategy == replay.StrategyCursor {
					if env.cfg.LLM.Provider == "huggingface" {
						return usageErrorf("replay strategy %q needs an OpenAI-compatible provider, got %q", cfg.Strategy, env.cfg.LLM.Provider)
					}
					adapter = newPromptAdapterFn(env.llmConfig())
				}

				strat, err := replay.New(cfg.Strategy, replay.Options{
					Recording:         bundle.Recording,
					ActionEvents:      bundle.ActionEvents,
					Instructions:      instructions,
					Adapter:           adapter,
					IncludeWindowData: cfg.IncludeWindowData,
					DotRadius:         cfg.DotRadius,
					Logger:            env.logger,
				})
				if err != nil {
					return usageErrorf("%v", err)
				}

				players := replay.MultiPlayer{replay.LogPlayer{Logger: env.logger}}
				if path := strings.TrimSpace(outputPath); path != "" {
					f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
					if err != nil {
						return fmt.Errorf("replay: %w", err)
					}
					defer f.Close()
					players = append(players, replay.NewJSONPlayer(f))
				}

				runner := &replay.Runner{
					Strategy:     strat,
					Observer:     replay.NewRecordingObserver(bundle.ActionEvents),
					Player:       players,
					RecordingID:  rec.ID,
					Instructions: instructions,
					MaxSteps:     cfg.MaxSteps,
					Replays:      env.store.Replays,
					Audit:        env.audit,
					Logger:       env.logger,
				}
				result, runErr := runner.Run(ctx)
				if result == nil {
					return runErr
				}

				if deps.globals.JSON {
					if err := printJSON(deps.out, replayResultPayload(rec.ID, strat.Name(), result)); err != nil {
						return err
					}
				} else if !deps.globals.Quiet {
					_, err := fmt.Fprintf(
						deps.out,
						"replay %s: run=%s recording=%s strategy=%s steps=%d step_limit=%t\n",
						result.Status,
						result.RunID,
						rec.ID,
						strat.Name(),
						result.Steps,
						result.StepLimit,
					)
					if err != nil {
						return err
					}
				}
				return runErr
			})
		},
	}

	cmd.Flags().StringVar(&strategy, "strategy", "", "Replay strategy: vanilla or cursor (default from config)")
	cmd.Flags().StringVar(&instructions, "instructions", "", "Natural-language instructions for LLM-guided strategies")
	cmd.Flags().IntVar(&maxSteps, "max-steps", 0, "Stop after this many steps (default from config)")
	cmd.Flags().StringVar(&model, "model", "", "Model for LLM-guided strategies (default from config)")
	cmd.Flags().StringVar(&outputPath, "output", "", "Write played actions as JSON lines to this file")
	cmd.Flags().BoolVar(&includeWindowData, "include-window-data", false, "Include window state in LLM prompts")
	cmd.Flags().BoolVar(&raw, "raw", false, "Replay raw input events instead of merged actions")

	cmd.AddCommand(
		newReplayRunsCommand(deps),
		newReplayShowCommand(deps),
	)
	return cmd
}

type replayRunView struct {
	ID           string               `json:"id"`
	RecordingID  string               `json:"recording_id"`
	Strategy     string               `json:"strategy"`
	Instructions string               `json:"instructions,omitempty"`
	Status       storage.ReplayStatus `json:"status"`
	Steps        int                  `json:"steps"`
	StepLimit    bool                 `json:"step_limit,omitempty"`
	Error        string               `json:"error,omitempty"`
	StartedAt    string               `json:"started_at,omitempty"`
	FinishedAt   string               `json:"finished_at,omitempty"`
}

func replayResultPayload(recordingID, strategy string, result *replay.Result) replayRunView {
	view := replayRunView{
		ID:          result.RunID,
		RecordingID: recordingID,
		Strategy:    strategy,
		Status:      result.Status,
		Steps:       result.Steps,
		StepLimit:   result.StepLimit,
	}
	if result.FinalError != nil {
		view.Error = result.FinalError.Error()
	}
	return view
}

func replayRunPayload(run storage.ReplayRun) replayRunView {
	view := replayRunView{
		ID:           run.ID,
		RecordingID:  run.RecordingID,
		Strategy:     run.Strategy,
		Instructions: run.Instructions,
		Status:       run.Status,
		Steps:        run.Steps,
		Error:        run.Error,
		StartedAt:    run.StartedAt.UTC().Format(time.RFC3339),
	}
	if run.FinishedAt != nil {
		view.FinishedAt = run.FinishedAt.UTC().Format(time.RFC3339)
	}
	return view
}

func newReplayRunsCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "runs [recording-id]",
		Short: "List replay runs of a recording (defaults to the latest)",
		Args:  maxArgs(1, "replay runs accepts at most one recording id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), deps, runtimeOptions{}, func(ctx context.Context, env *runtimeEnv) error {
				rec, err := env.resolveRecording(ctx, args)
				if err != nil {
					return err
				}
				runs, err := env.store.Replays.ListByRecording(ctx, rec.ID)
				if err != nil {
					return err
				}
				if deps.globals.JSON {
					out := make([]replayRunView, 0, len(runs))
					for _, run := range runs {
						out = append(out, replayRunPayload(run))
					}
					return printJSON(deps.out, out)
				}
				if deps.globals.Quiet {
					return nil
				}
				for _, run := range runs {
					view := replayRunPayload(run)
					if _, err := fmt.Fprintf(
						deps.out,
						"%s status=%s strategy=%s steps=%d started=%s\n",
						view.ID,
						view.Status,
						view.Strategy,
						view.Steps,
						view.StartedAt,
					); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func newReplayShowCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a replay run and the actions it played",
		Args:  exactArgs(1, "replay show requires exactly one run id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), deps, runtimeOptions{}, func(ctx context.Context, env *runtimeEnv) error {
				run, err := env.store.Replays.Get(ctx, args[0])
				if err != nil {
					return err
				}
				actions, err := env.store.Replays.Actions(ctx, run.ID)
				if err != nil {
					return err
				}
				if deps.globals.JSON {
					played := make([]storage.ActionEvent, 0, len(actions))
					for _, a := range actions {
						played = append(played, a.Action)
					}
					return printJSON(deps.out, map[string]any{
						"run":     replayRunPayload(*run),
						"actions": played,
					})
				}
				if deps.globals.Quiet {
					return nil
				}
				view := replayRunPayload(*run)
				if _, err := fmt.Fprintf(
					deps.out,
					"%s recording=%s status=%s strategy=%s steps=%d error=%s\n",
					view.ID,
					view.RecordingID,
					view.Status,
					view.Strategy,
					view.Steps,
					view.Error,
				); err != nil {
					return err
				}
				for _, a := range actions {
					if _, err := fmt.Fprintf(deps.out, "  %d %s %s\n", a.Step, a.Action.Name, describeAction(a.Action)); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}
