package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/openadapt/adapt/internal/config"
	"github.com/openadapt/adapt/internal/storage"
	"github.com/spf13/cobra"
)

const defaultInitConfig = `[database]
path = ""

[llm]
provider = "openai"
model = "gpt-4o"
api_key_env = "OPENAI_API_KEY"
hf_token_env = "HF_API_TOKEN"
requests_per_minute = 20
timeout = "60s"

[replay]
strategy = "cursor"
process_events = true
include_window_data = false
max_steps = 200
dot_radius = 5

[visualize]
max_events = 0
max_table_children = 5
scrub = false
addr = "127.0.0.1:8080"

[logging]
level = "info"
file = ""
max_size_mb = 10
max_files = 5
`

func newInitCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config and create the recording database",
		Example: "  adapt init\n" +
			"  adapt --config ./adapt.toml --db ./adapt.db --yes init",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("init does not accept positional arguments")
			}

			configPath, err := config.Path(config.LoadOptions{ConfigPath: strings.TrimSpace(deps.globals.ConfigPath)})
			if err != nil {
				return mapCommandError(err)
			}
			if _, err := os.Stat(configPath); err == nil {
				refusal := fmt.Sprintf("init target config already exists: %s (use --yes to overwrite)", configPath)
				if err := confirmDestructive(deps, "Overwrite "+configPath+"?", refusal); err != nil {
					return err
				}
			} else if !errors.Is(err, os.ErrNotExist) {
				return mapCommandError(err)
			}
			if err := writeDefaultConfig(configPath); err != nil {
				return mapCommandError(err)
			}

			return withRuntime(cmd.Context(), deps, runtimeOptions{}, func(ctx context.Context, env *runtimeEnv) error {
				version, err := storage.SchemaVersion(env.store.DB())
				if err != nil {
					return err
				}
				if deps.globals.JSON {
					return printJSON(deps.out, map[string]any{
						"initialized":    true,
						"config_path":    configPath,
						"db_path":        env.store.Path(),
						"schema_version": version,
					})
				}
				if deps.globals.Quiet {
					return nil
				}
				if _, err := fmt.Fprintf(deps.out, "wrote config: %s\n", configPath); err != nil {
					return err
				}
				_, err = fmt.Fprintf(deps.out, "initialized database: %s (schema v%d)\n", env.store.Path(), version)
				return err
			})
		},
	}
}

func writeDefaultConfig(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("%w: config path is required", config.ErrInvalidConfig)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("init: create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultInitConfig), 0o600); err != nil {
		return fmt.Errorf("init: write config: %w", err)
	}
	return nil
}
