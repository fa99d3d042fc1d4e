package cli

import (
	"context"
	"fmt"
	"strings"

	debugpkg "github.com/openadapt/adapt/internal/debug"
	"github.com/openadapt/adapt/internal/storage"
	"github.com/openadapt/adapt/internal/updater"
	"github.com/spf13/cobra"
)

var checkGitFn = func() (*updater.GitInfo, error) {
	return updater.CheckGit(updater.GitCheckDeps{})
}

func newDebugCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "debug",
		Short:   "Diagnostics helpers",
		Example: "  adapt debug bundle --output ./adapt-debug.json",
	}
	cmd.AddCommand(newDebugBundleCommand(deps))
	return cmd
}

func newDebugBundleCommand(deps commandDeps) *cobra.Command {
	var outputPath string
	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "Collect sanitized diagnostics into a JSON bundle",
		Example: "  adapt debug bundle --output ./adapt-debug.json\n" +
			"  adapt debug bundle --output - | jq .checks",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("debug bundle does not accept positional arguments")
			}
			if strings.TrimSpace(outputPath) == "" {
				return usageErrorf("debug bundle requires --output")
			}

			return withRuntime(cmd.Context(), deps, runtimeOptions{NoStore: true}, func(ctx context.Context, env *runtimeEnv) error {
				bundle := debugpkg.NewBundle(debugpkg.Build{
					Version:   deps.build.Version,
					Commit:    deps.build.Commit,
					BuildTime: deps.build.BuildTime,
				})
				bundle.Config = debugpkg.Config{
					LLMProvider:       env.cfg.LLM.Provider,
					LLMModel:          env.cfg.LLM.Model,
					LLMAPIKeySet:      env.cfg.LLM.APIKey != "",
					HFTokenSet:        env.cfg.LLM.HFToken != "",
					ReplayStrategy:    env.cfg.Replay.Strategy,
					ProcessEvents:     env.cfg.Replay.ProcessEvents,
					IncludeWindowData: env.cfg.Replay.IncludeWindowData,
					LogLevel:          env.cfg.Logging.Level,
				}
				bundle.Database = debugpkg.Database{
					Path:        env.cfg.Database.Path,
					CodeVersion: storage.CurrentSchemaVersion(),
				}

				bundle.Check("git", func() (string, error) {
					info, err := checkGitFn()
					if err != nil {
						return "", err
					}
					return fmt.Sprintf("%s (%s)", info.Path, info.Version), nil
				})
				bundle.Check("database", func() (string, error) {
					version, err := inspectSchema(env.cfg.Database.Path)
					if err != nil {
						return "", err
					}
					bundle.Database.SchemaVersion = &version
					if version < storage.CurrentSchemaVersion() {
						bundle.Note("schema v%d is behind v%d; run adapt db migrate", version, storage.CurrentSchemaVersion())
					}
					return fmt.Sprintf("schema v%d", version), nil
				})
				if env.cfg.LLM.APIKey == "" && env.cfg.LLM.Provider != "huggingface" {
					bundle.Note("%s is not set; the cursor replay strategy will fail", env.cfg.LLM.APIKeyEnv)
				}
				env.logger.Debug("debug bundle collected", "checks", len(bundle.Checks), "healthy", bundle.Healthy())

				if outputPath == "-" {
					return bundle.Encode(deps.out)
				}
				if err := bundle.WriteFile(outputPath); err != nil {
					return err
				}
				if deps.globals.JSON {
					return printJSON(deps.out, map[string]any{"output": outputPath, "healthy": bundle.Healthy()})
				}
				if deps.globals.Quiet {
					return nil
				}
				_, err := fmt.Fprintf(deps.out, "debug bundle written: %s (healthy=%t)\n", outputPath, bundle.Healthy())
				return err
			})
		},
	}
	cmd.Flags().StringVar(&outputPath, "output", "", "Output JSON bundle path (- for stdout)")
	return cmd
}

// inspectSchema reads the schema version without migrating.
func inspectSchema(path string) (int, error) {
	store, err := storage.OpenWithOptions(path, storage.OpenOptions{SkipMigrations: true})
	if err != nil {
		return 0, err
	}
	defer store.Close()
	return storage.SchemaVersion(store.DB())
}
