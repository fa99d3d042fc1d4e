package cli

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/openadapt/adapt/internal/audit"
	"github.com/openadapt/adapt/internal/storage"
	"github.com/spf13/cobra"
)

func newDBCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Inspect and migrate the recording database schema",
		Example: "  adapt db status\n" +
			"  adapt db migrate\n" +
			"  adapt --yes db downgrade --to 1",
	}
	cmd.AddCommand(
		newDBStatusCommand(deps),
		newDBMigrateCommand(deps),
		newDBDowngradeCommand(deps),
	)
	return cmd
}

type migrationView struct {
	Version     int    `json:"version"`
	Description string `json:"description"`
	AppliedAt   string `json:"applied_at"`
}

type dbStatus struct {
	Path          string          `json:"path"`
	SchemaVersion int             `json:"schema_version"`
	CodeVersion   int             `json:"code_version"`
	UpToDate      bool            `json:"up_to_date"`
	Applied       []migrationView `json:"applied"`
}

func newDBStatusCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the schema version and applied migrations",
		Args:  exactArgs(0, "db status does not accept positional arguments"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), deps, runtimeOptions{SkipMigrations: true}, func(ctx context.Context, env *runtimeEnv) error {
				applied, err := storage.AppliedMigrations(env.store.DB())
				if err != nil {
					return err
				}
				version, err := storage.SchemaVersion(env.store.DB())
				if err != nil {
					return err
				}
				status := dbStatus{
					Path:          env.store.Path(),
					SchemaVersion: version,
					CodeVersion:   storage.CurrentSchemaVersion(),
					Applied:       make([]migrationView, 0, len(applied)),
				}
				status.UpToDate = status.SchemaVersion == status.CodeVersion
				for _, m := range applied {
					status.Applied = append(status.Applied, migrationView{
						Version:     m.Version,
						Description: m.Description,
						AppliedAt:   m.AppliedAt.UTC().Format(time.RFC3339),
					})
				}

				if deps.globals.JSON {
					return printJSON(deps.out, status)
				}
				if deps.globals.Quiet {
					return nil
				}
				if _, err := fmt.Fprintf(
					deps.out,
					"db=%s schema=v%d code=v%d state=%s\n",
					status.Path,
					status.SchemaVersion,
					status.CodeVersion,
					boolToState(status.UpToDate, "current", "pending"),
				); err != nil {
					return err
				}
				for _, m := range status.Applied {
					if _, err := fmt.Fprintf(deps.out, "  v%d %s (%s)\n", m.Version, m.Description, m.AppliedAt); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

type schemaChangeDetails struct {
	From int `json:"from"`
	To   int `json:"to"`
}

func newDBMigrateCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  exactArgs(0, "db migrate does not accept positional arguments"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), deps, runtimeOptions{SkipMigrations: true}, func(ctx context.Context, env *runtimeEnv) error {
				db := env.store.DB()
				from, err := schemaVersion(db)
				if err != nil {
					return err
				}
				if err := storage.RunMigrations(db, storage.DefaultMigrations()); err != nil {
					return err
				}
				to, err := storage.SchemaVersion(db)
				if err != nil {
					return err
				}
				recordSchemaChange(ctx, env, audit.ActionDBMigrate, schemaChangeDetails{From: from, To: to})
				return printSchemaChange(deps, "migrated", from, to)
			})
		},
	}
}

func newDBDowngradeCommand(deps commandDeps) *cobra.Command {
	var target int
	cmd := &cobra.Command{
		Use:   "downgrade",
		Short: "Roll the schema back to an earlier version",
		Args:  exactArgs(0, "db downgrade does not accept positional arguments"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("to") {
				return usageErrorf("db downgrade requires --to")
			}
			if err := confirmDestructive(deps, fmt.Sprintf("Downgrade the schema to v%d?", target), "db downgrade drops schema objects and their data; re-run with --yes"); err != nil {
				return err
			}
			return withRuntime(cmd.Context(), deps, runtimeOptions{SkipMigrations: true}, func(ctx context.Context, env *runtimeEnv) error {
				db := env.store.DB()
				from, err := schemaVersion(db)
				if err != nil {
					return err
				}
				if err := storage.Downgrade(db, storage.DefaultMigrations(), target); err != nil {
					return err
				}
				recordSchemaChange(ctx, env, audit.ActionDBDowngrade, schemaChangeDetails{From: from, To: target})
				return printSchemaChange(deps, "downgraded", from, target)
			})
		},
	}
	cmd.Flags().IntVar(&target, "to", 0, "Target schema version")
	return cmd
}

// schemaVersion creates the bookkeeping tables on a fresh database before
// reading the version.
func schemaVersion(db *sql.DB) (int, error) {
	if _, err := storage.AppliedMigrations(db); err != nil {
		return 0, err
	}
	return storage.SchemaVersion(db)
}

// recordSchemaChange audits against the post-change schema. The audit tables
// may not exist at that version, in which case the event is only logged.
func recordSchemaChange(ctx context.Context, env *runtimeEnv, action string, details schemaChangeDetails) {
	svc, err := audit.NewService(ctx, env.store.Audit)
	if err != nil {
		env.logger.Warn("schema change not audited", "action", action, "from", details.From, "to", details.To, "error", err)
		return
	}
	env.audit = svc
	env.record(ctx, audit.Event{
		Action:     action,
		TargetType: "database",
		TargetID:   env.store.Path(),
		Details:    details,
	})
}

func printSchemaChange(deps commandDeps, verb string, from, to int) error {
	if deps.globals.JSON {
		return printJSON(deps.out, map[string]any{"from": from, "to": to})
	}
	if deps.globals.Quiet {
		return nil
	}
	if from == to {
		_, err := fmt.Fprintf(deps.out, "schema already at v%d\n", to)
		return err
	}
	_, err := fmt.Fprintf(deps.out, "schema %s: v%d -> v%d\n", verb, from, to)
	return err
}
