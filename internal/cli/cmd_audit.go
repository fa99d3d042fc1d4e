package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/openadapt/adapt/internal/audit"
	"github.com/spf13/cobra"
)

func newAuditCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Audit log operations",
		Example: "  adapt audit ls --limit 50\n" +
			"  adapt audit verify",
	}
	cmd.AddCommand(
		newAuditListCommand(deps),
		newAuditVerifyCommand(deps),
	)
	return cmd
}

type auditEventView struct {
	ID         string `json:"id"`
	Timestamp  string `json:"timestamp"`
	Action     string `json:"action"`
	Actor      string `json:"actor,omitempty"`
	TargetType string `json:"target_type"`
	TargetID   string `json:"target_id"`
	Result     string `json:"result"`
	Details    string `json:"details,omitempty"`
}

func newAuditListCommand(deps commandDeps) *cobra.Command {
	var (
		limit      int
		action     string
		targetType string
		targetID   string
		since      time.Duration
	)
	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List audit events",
		Example: "  adapt audit ls\n" +
			"  adapt audit ls --action replay.fail --since 24h",
		Args: exactArgs(0, "audit ls does not accept positional arguments"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if action != "" && !audit.IsKnownAction(action) {
				return usageErrorf("unknown audit action %q", action)
			}
			if limit < 0 {
				return usageErrorf("--limit must be >= 0")
			}
			return withRuntime(cmd.Context(), deps, runtimeOptions{}, func(ctx context.Context, env *runtimeEnv) error {
				filter := audit.Filter{
					Action:     action,
					TargetType: targetType,
					TargetID:   targetID,
					Limit:      limit,
					Latest:     true,
				}
				if since > 0 {
					from := time.Now().UTC().Add(-since)
					filter.Since = &from
				}
				recorded, err := env.audit.List(ctx, filter)
				if err != nil {
					return err
				}
				views := make([]auditEventView, 0, len(recorded))
				for _, event := range recorded {
					views = append(views, auditEventView{
						ID:         event.ID,
						Timestamp:  event.Timestamp.UTC().Format(time.RFC3339),
						Action:     event.Action,
						Actor:      event.Actor,
						TargetType: event.TargetType,
						TargetID:   event.TargetID,
						Result:     event.Result,
						Details:    event.DetailsJSON,
					})
				}
				if deps.globals.JSON {
					return printJSON(deps.out, views)
				}
				if deps.globals.Quiet {
					return nil
				}
				for _, v := range views {
					if _, err := fmt.Fprintf(
						deps.out,
						"%s %s action=%s target=%s/%s result=%s\n",
						v.ID,
						v.Timestamp,
						v.Action,
						v.TargetType,
						v.TargetID,
						v.Result,
					); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "Show at most this many of the newest events")
	cmd.Flags().StringVar(&action, "action", "", "Only events with this action")
	cmd.Flags().StringVar(&targetType, "target-type", "", "Only events for this target type (recording, replay_run, database, checkout)")
	cmd.Flags().StringVar(&targetID, "target", "", "Only events for this target id")
	cmd.Flags().DurationVar(&since, "since", 0, "Only events newer than this duration ago")
	return cmd
}

func newAuditVerifyCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Verify audit hash chain integrity",
		Example: "  adapt audit verify\n" +
			"  adapt --json audit verify",
		Args: exactArgs(0, "audit verify does not accept positional arguments"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), deps, runtimeOptions{}, func(ctx context.Context, env *runtimeEnv) error {
				result, err := env.audit.Verify(ctx)
				if err != nil {
					return err
				}
				if deps.globals.JSON {
					if err := printJSON(deps.out, map[string]any{
						"valid":       result.Valid,
						"event_count": result.EventCount,
						"chain_tip":   result.ChainTip,
						"error":       result.Error,
						"broken_at":   result.BrokenAt,
					}); err != nil {
						return err
					}
				} else if !deps.globals.Quiet {
					if _, err := fmt.Fprintf(
						deps.out,
						"valid=%t events=%d chain_tip=%s error=%s\n",
						result.Valid,
						result.EventCount,
						result.ChainTip,
						result.Error,
					); err != nil {
						return err
					}
				}
				if !result.Valid {
					return fmt.Errorf("audit chain invalid: %s", result.Error)
				}
				return nil
			})
		},
	}
}
