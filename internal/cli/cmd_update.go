package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/openadapt/adapt/internal/audit"
	"github.com/openadapt/adapt/internal/updater"
	"github.com/spf13/cobra"
)

type updateDetails struct {
	Dir     string `json:"dir"`
	Stashed bool   `json:"stashed"`
	Pulled  bool   `json:"pulled"`
	Error   string `json:"error,omitempty"`
}

func newUpdateCommand(deps commandDeps) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update a git checkout of adapt: stash local changes and pull",
		Example: "  adapt update\n" +
			"  adapt update --dir ~/src/adapt",
		Args: exactArgs(0, "update does not accept positional arguments"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), deps, runtimeOptions{}, func(ctx context.Context, env *runtimeEnv) error {
				u, err := newUpdaterFn(dir, env.logger)
				if err != nil {
					return err
				}
				result, err := u.Update(ctx)
				details := updateDetails{Dir: dir}
				if result != nil {
					details.Stashed = result.Stashed
					details.Pulled = result.Pulled
				}
				if err != nil {
					details.Error = err.Error()
					env.record(ctx, audit.Event{
						Action:     audit.ActionAppUpdate,
						TargetType: "checkout",
						TargetID:   dir,
						Result:     "error",
						Details:    details,
					})
					if errors.Is(err, updater.ErrMergeConflict) {
						return fmt.Errorf("update %s: please fix merge conflicts and try again: %w", dir, err)
					}
					return err
				}
				env.record(ctx, audit.Event{
					Action:     audit.ActionAppUpdate,
					TargetType: "checkout",
					TargetID:   dir,
					Details:    details,
				})

				if deps.globals.JSON {
					return printJSON(deps.out, details)
				}
				if deps.globals.Quiet {
					return nil
				}
				if result.Stashed {
					if _, err := fmt.Fprintln(deps.out, "stashed local changes"); err != nil {
						return err
					}
				}
				_, err = fmt.Fprintln(deps.out, boolToState(result.Pulled, "updated the adapt app", "already up to date"))
				return err
			})
		},
	}
	cmd.Flags().StringVar(&dir, "dir", ".", "Checkout directory to update")
	return cmd
}
