package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/openadapt/adapt/internal/audit"
	"github.com/openadapt/adapt/internal/events"
	"github.com/openadapt/adapt/internal/storage"
	"github.com/spf13/cobra"
)

func newRecordingCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "recording",
		Aliases: []string{"rec"},
		Short:   "Manage stored recordings",
		Example: "  adapt recording ls\n" +
			"  adapt recording import ./session.json\n" +
			"  adapt recording export <id> --output ./session.json",
	}
	cmd.AddCommand(
		newRecordingListCommand(deps),
		newRecordingShowCommand(deps),
		newRecordingLatestCommand(deps),
		newRecordingImportCommand(deps),
		newRecordingExportCommand(deps),
		newRecordingRemoveCommand(deps),
	)
	return cmd
}

type recordingSummary struct {
	ID              string   `json:"id"`
	Timestamp       float64  `json:"timestamp"`
	Platform        string   `json:"platform"`
	TaskDescription string   `json:"task_description"`
	MonitorWidth    int      `json:"monitor_width"`
	MonitorHeight   int      `json:"monitor_height"`
	VideoStartTime  *float64 `json:"video_start_time,omitempty"`
}

func summarizeRecording(rec storage.Recording) recordingSummary {
	return recordingSummary{
		ID:              rec.ID,
		Timestamp:       rec.Timestamp,
		Platform:        rec.Platform,
		TaskDescription: rec.TaskDescription,
		MonitorWidth:    rec.MonitorWidth,
		MonitorHeight:   rec.MonitorHeight,
		VideoStartTime:  rec.VideoStartTime,
	}
}

func printRecordingLine(w io.Writer, rec storage.Recording) error {
	_, err := fmt.Fprintf(
		w,
		"%s recorded=%s platform=%s task=%q\n",
		rec.ID,
		formatEpoch(rec.Timestamp),
		rec.Platform,
		rec.TaskDescription,
	)
	return err
}

func newRecordingListCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List recordings, newest first",
		Args:    exactArgs(0, "recording ls does not accept positional arguments"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), deps, runtimeOptions{}, func(ctx context.Context, env *runtimeEnv) error {
				recordings, err := env.store.Recordings.List(ctx)
				if err != nil {
					return err
				}
				if deps.globals.JSON {
					out := make([]recordingSummary, 0, len(recordings))
					for _, rec := range recordings {
						out = append(out, summarizeRecording(rec))
					}
					return printJSON(deps.out, out)
				}
				if deps.globals.Quiet {
					return nil
				}
				for _, rec := range recordings {
					if err := printRecordingLine(deps.out, rec); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func newRecordingShowCommand(deps commandDeps) *cobra.Command {
	var processed bool
	cmd := &cobra.Command{
		Use:   "show [id]",
		Short: "Show a recording and its event summary (defaults to the latest)",
		Args:  maxArgs(1, "recording show accepts at most one recording id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), deps, runtimeOptions{}, func(ctx context.Context, env *runtimeEnv) error {
				rec, err := env.resolveRecording(ctx, args)
				if err != nil {
					return err
				}
				bundle, err := events.Load(ctx, events.FromStore(env.store), rec.ID, events.Options{Process: processed})
				if err != nil {
					return err
				}
				if deps.globals.JSON {
					return printJSON(deps.out, map[string]any{
						"recording": summarizeRecording(*bundle.Recording),
						"meta":      bundle.Meta,
					})
				}
				if deps.globals.Quiet {
					return nil
				}
				if err := printRecordingLine(deps.out, *bundle.Recording); err != nil {
					return err
				}
				meta := bundle.Meta
				_, err = fmt.Fprintf(
					deps.out,
					"action_events=%d original_action_events=%d window_events=%d screenshots=%d duration=%.2fs\n",
					meta.NumActionEvents,
					meta.NumOriginalActionEvents,
					meta.NumWindowEvents,
					meta.NumScreenshots,
					meta.Duration,
				)
				if err != nil {
					return err
				}
				for i, event := range bundle.ActionEvents {
					if _, err := fmt.Fprintf(deps.out, "  %d %s %s\n", i, event.Name, describeAction(event)); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&processed, "processed", false, "Merge raw input into higher level actions before listing")
	return cmd
}

func newRecordingLatestCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "latest",
		Short: "Print the most recent recording",
		Args:  exactArgs(0, "recording latest does not accept positional arguments"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), deps, runtimeOptions{}, func(ctx context.Context, env *runtimeEnv) error {
				rec, err := env.store.Recordings.Latest(ctx)
				if err != nil {
					return err
				}
				if deps.globals.JSON {
					return printJSON(deps.out, summarizeRecording(*rec))
				}
				if deps.globals.Quiet {
					_, err := fmt.Fprintln(deps.out, rec.ID)
					return err
				}
				return printRecordingLine(deps.out, *rec)
			})
		},
	}
}

type importDetails struct {
	Source       string `json:"source"`
	ActionEvents int    `json:"action_events"`
	WindowEvents int    `json:"window_events"`
	Screenshots  int    `json:"screenshots"`
}

func newRecordingImportCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file|->",
		Short: "Import a recording archive (JSON) into the database",
		Example: "  adapt recording import ./session.json\n" +
			"  cat session.json | adapt recording import -",
		Args: exactArgs(1, "recording import requires exactly one archive path (use - for stdin)"),
		RunE: func(cmd *cobra.Command, args []string) error {
			source := args[0]
			var in io.Reader
			if source == "-" {
				in = cmd.InOrStdin()
			} else {
				f, err := os.Open(source)
				if err != nil {
					return mapCommandError(fmt.Errorf("recording import: %w", err))
				}
				defer f.Close()
				in = f
			}
			archive, err := events.DecodeArchive(in)
			if err != nil {
				return mapCommandError(err)
			}

			return withRuntime(cmd.Context(), deps, runtimeOptions{}, func(ctx context.Context, env *runtimeEnv) error {
				rec, err := events.Import(ctx, events.FromStore(env.store), archive)
				details := importDetails{
					Source:       source,
					ActionEvents: len(archive.ActionEvents),
					WindowEvents: len(archive.WindowEvents),
					Screenshots:  len(archive.Screenshots),
				}
				if err != nil {
					env.record(ctx, audit.Event{
						Action:     audit.ActionRecordingImport,
						TargetType: "recording",
						Result:     "error",
						Details:    details,
					})
					return err
				}
				env.record(ctx, audit.Event{
					Action:     audit.ActionRecordingImport,
					TargetType: "recording",
					TargetID:   rec.ID,
					Details:    details,
				})
				env.logger.Info("recording imported", "recording_id", rec.ID, "action_events", details.ActionEvents)

				if deps.globals.JSON {
					return printJSON(deps.out, map[string]any{
						"id":            rec.ID,
						"action_events": details.ActionEvents,
						"window_events": details.WindowEvents,
						"screenshots":   details.Screenshots,
					})
				}
				if deps.globals.Quiet {
					_, err := fmt.Fprintln(deps.out, rec.ID)
					return err
				}
				_, err = fmt.Fprintf(deps.out, "recording imported: %s (%d action events)\n", rec.ID, details.ActionEvents)
				return err
			})
		},
	}
}

func newRecordingExportCommand(deps commandDeps) *cobra.Command {
	var outputPath string
	cmd := &cobra.Command{
		Use:   "export [id]",
		Short: "Export a recording as a JSON archive (defaults to the latest)",
		Example: "  adapt recording export <id> --output ./session.json\n" +
			"  adapt recording export > latest.json",
		Args: maxArgs(1, "recording export accepts at most one recording id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), deps, runtimeOptions{}, func(ctx context.Context, env *runtimeEnv) error {
				rec, err := env.resolveRecording(ctx, args)
				if err != nil {
					return err
				}
				archive, err := events.Export(ctx, events.FromStore(env.store), rec.ID)
				if err != nil {
					return err
				}

				if strings.TrimSpace(outputPath) == "" || outputPath == "-" {
					return printJSON(deps.out, archive)
				}
				f, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
				if err != nil {
					return fmt.Errorf("recording export: %w", err)
				}
				if err := printJSON(f, archive); err != nil {
					_ = f.Close()
					return fmt.Errorf("recording export: %w", err)
				}
				if err := f.Close(); err != nil {
					return fmt.Errorf("recording export: %w", err)
				}
				if deps.globals.JSON {
					return printJSON(deps.out, map[string]any{"id": rec.ID, "output": outputPath})
				}
				if deps.globals.Quiet {
					return nil
				}
				_, err = fmt.Fprintf(deps.out, "recording exported: %s -> %s\n", rec.ID, outputPath)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&outputPath, "output", "", "Archive path (default stdout)")
	return cmd
}

type deleteDetails struct {
	TaskDescription string `json:"task_description"`
}

func newRecordingRemoveCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a recording with its events and replay runs",
		Args:  exactArgs(1, "recording rm requires exactly one recording id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), deps, runtimeOptions{}, func(ctx context.Context, env *runtimeEnv) error {
				rec, err := env.store.Recordings.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if err := env.store.Recordings.Delete(ctx, rec.ID); err != nil {
					return err
				}
				env.record(ctx, audit.Event{
					Action:     audit.ActionRecordingDelete,
					TargetType: "recording",
					TargetID:   rec.ID,
					Details:    deleteDetails{TaskDescription: rec.TaskDescription},
				})
				if deps.globals.JSON {
					return printJSON(deps.out, map[string]any{"deleted": rec.ID})
				}
				if deps.globals.Quiet {
					return nil
				}
				_, err = fmt.Fprintf(deps.out, "recording removed: %s\n", rec.ID)
				return err
			})
		},
	}
}

// describeAction renders the populated payload fields of an action event.
func describeAction(event storage.ActionEvent) string {
	parts := []string{}
	if event.MouseX != nil && event.MouseY != nil {
		parts = append(parts, fmt.Sprintf("at=(%g,%g)", *event.MouseX, *event.MouseY))
	}
	if event.MouseDX != nil && event.MouseDY != nil {
		parts = append(parts, fmt.Sprintf("delta=(%g,%g)", *event.MouseDX, *event.MouseDY))
	}
	if event.MouseButtonName != "" {
		parts = append(parts, "button="+event.MouseButtonName)
	}
	if event.KeyName != "" {
		parts = append(parts, "key="+event.KeyName)
	}
	if event.KeyChar != "" {
		parts = append(parts, fmt.Sprintf("char=%q", event.KeyChar))
	}
	if event.Text != "" {
		parts = append(parts, fmt.Sprintf("text=%q", event.Text))
	}
	if event.WindowEvent != nil && event.WindowEvent.Title != "" {
		parts = append(parts, fmt.Sprintf("window=%q", event.WindowEvent.Title))
	}
	return strings.Join(parts, " ")
}
