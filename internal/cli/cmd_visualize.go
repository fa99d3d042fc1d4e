package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/openadapt/adapt/internal/events"
	"github.com/openadapt/adapt/internal/visualize"
	"github.com/spf13/cobra"
)

type visualizeFlags struct {
	maxEvents int
	scrub     bool
	raw       bool
}

func newVisualizeCommand(deps commandDeps) *cobra.Command {
	var (
		flags visualizeFlags
		dark  bool
	)

	cmd := &cobra.Command{
		Use:   "visualize [recording-id]",
		Short: "Browse a recording in the terminal (defaults to the latest)",
		Example: "  adapt visualize\n" +
			"  adapt visualize <id> --scrub\n" +
			"  adapt visualize serve <id> --addr 127.0.0.1:8080\n" +
			"  adapt visualize export <id> --output ./recording.html",
		Args: maxArgs(1, "visualize accepts at most one recording id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withReport(cmd, deps, flags, args, func(_ context.Context, env *runtimeEnv, report *visualize.Report) error {
				return runTUIFn(report, visualize.TUIOptions{
					Dark:  dark,
					IsTTY: isInteractiveFn,
				})
			})
		},
	}
	cmd.PersistentFlags().IntVar(&flags.maxEvents, "max-events", 0, "Show at most this many events (default from config, 0 shows all)")
	cmd.PersistentFlags().BoolVar(&flags.scrub, "scrub", false, "Replace emails, phone and card numbers with placeholders")
	cmd.PersistentFlags().BoolVar(&flags.raw, "raw", false, "Show raw input events instead of merged actions")
	cmd.Flags().BoolVar(&dark, "dark", false, "Start in dark mode")

	cmd.AddCommand(
		newVisualizeServeCommand(deps, &flags),
		newVisualizeExportCommand(deps, &flags),
	)
	return cmd
}

func newVisualizeServeCommand(deps commandDeps, flags *visualizeFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve [recording-id]",
		Short: "Serve the recording visualization over HTTP until interrupted",
		Args:  maxArgs(1, "visualize serve accepts at most one recording id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)

			return withReport(cmd, deps, *flags, args, func(ctx context.Context, env *runtimeEnv, report *visualize.Report) error {
				listen := strings.TrimSpace(addr)
				if listen == "" {
					listen = env.cfg.Visualize.Addr
				}
				if deps.globals.JSON {
					if err := printJSON(deps.out, map[string]any{"addr": listen, "recording_id": report.RecordingID}); err != nil {
						return err
					}
				} else if !deps.globals.Quiet {
					if _, err := fmt.Fprintf(deps.out, "serving recording %s at http://%s/\n", report.RecordingID, listen); err != nil {
						return err
					}
				}
				return serveFn(ctx, listen, visualize.NewRouter(report, env.logger), env.logger)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config)")
	return cmd
}

func newVisualizeExportCommand(deps commandDeps, flags *visualizeFlags) *cobra.Command {
	var outputPath string
	cmd := &cobra.Command{
		Use:   "export [recording-id]",
		Short: "Write the recording visualization as a standalone HTML page",
		Args:  maxArgs(1, "visualize export accepts at most one recording id"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(outputPath) == "" {
				return usageErrorf("visualize export requires --output (use - for stdout)")
			}
			return withReport(cmd, deps, *flags, args, func(_ context.Context, _ *runtimeEnv, report *visualize.Report) error {
				if outputPath == "-" {
					return visualize.RenderHTML(deps.out, report)
				}
				f, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
				if err != nil {
					return fmt.Errorf("visualize export: %w", err)
				}
				if err := visualize.RenderHTML(f, report); err != nil {
					_ = f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return fmt.Errorf("visualize export: %w", err)
				}
				if deps.globals.JSON {
					return printJSON(deps.out, map[string]any{
						"recording_id": report.RecordingID,
						"output":       outputPath,
						"events":       len(report.Events),
					})
				}
				if deps.globals.Quiet {
					return nil
				}
				_, err = fmt.Fprintf(deps.out, "visualization written: %s (%d of %d events)\n", outputPath, len(report.Events), report.TotalEvents)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&outputPath, "output", "", "HTML output path, or - for stdout")
	return cmd
}

func withReport(cmd *cobra.Command, deps commandDeps, flags visualizeFlags, args []string, fn func(context.Context, *runtimeEnv, *visualize.Report) error) error {
	return withRuntime(cmd.Context(), deps, runtimeOptions{}, func(ctx context.Context, env *runtimeEnv) error {
		opts := visualize.ReportOptions{
			ProcessEvents:    env.cfg.Replay.ProcessEvents && !flags.raw,
			MaxEvents:        env.cfg.Visualize.MaxEvents,
			MaxTableChildren: env.cfg.Visualize.MaxTableChildren,
			Scrub:            env.cfg.Visualize.Scrub || flags.scrub,
			DotRadius:        env.cfg.Replay.DotRadius,
			Logger:           env.logger,
		}
		if cmd.Flags().Changed("max-events") {
			if flags.maxEvents < 0 {
				return usageErrorf("--max-events must be >= 0")
			}
			opts.MaxEvents = flags.maxEvents
		}

		rec, err := env.resolveRecording(ctx, args)
		if err != nil {
			return err
		}
		report, err := visualize.BuildReport(ctx, events.FromStore(env.store), rec.ID, opts)
		if err != nil {
			return err
		}
		return fn(ctx, env, report)
	})
}
