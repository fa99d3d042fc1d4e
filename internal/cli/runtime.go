package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/openadapt/adapt/internal/audit"
	"github.com/openadapt/adapt/internal/config"
	"github.com/openadapt/adapt/internal/llm"
	adaptlog "github.com/openadapt/adapt/internal/log"
	"github.com/openadapt/adapt/internal/storage"
	"github.com/openadapt/adapt/internal/updater"
	"github.com/openadapt/adapt/internal/visualize"
	"github.com/spf13/cobra"
)

var (
	loadConfigFn       = config.Load
	newPromptAdapterFn = llm.DefaultPromptAdapter
	newRegistryFn      = llm.DefaultRegistry
	newUpdaterFn       = func(dir string, logger *slog.Logger) (*updater.Updater, error) {
		info, err := updater.CheckGit(updater.GitCheckDeps{})
		if err != nil {
			return nil, err
		}
		return &updater.Updater{Dir: dir, Git: info.Path, Logger: logger}, nil
	}
	runTUIFn = visualize.RunTUI
	serveFn  = visualize.Serve
)

type runtimeOptions struct {
	Flags config.FlagOverrides
	// NoStore skips opening the database, for commands that only need config.
	NoStore bool
	// SkipMigrations opens the database without upgrading the schema and
	// without an audit service, which needs the audit tables to exist.
	SkipMigrations bool
}

type runtimeEnv struct {
	cfg    config.Config
	logger *slog.Logger
	store  *storage.Store
	audit  *audit.Service
}

func withRuntime(cmdCtx context.Context, deps commandDeps, opts runtimeOptions, fn func(context.Context, *runtimeEnv) error) error {
	ctx := cmdCtx
	if ctx == nil {
		ctx = context.Background()
	}
	if deps.globals != nil && deps.globals.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deps.globals.Timeout)
		defer cancel()
	}

	loadOpts := config.LoadOptions{Flags: opts.Flags}
	if deps.globals != nil {
		if configPath := strings.TrimSpace(deps.globals.ConfigPath); configPath != "" {
			loadOpts.ConfigPath = configPath
		}
		if dbPath := strings.TrimSpace(deps.globals.DBPath); dbPath != "" {
			loadOpts.Flags.DBPath = &dbPath
		}
		if level := strings.TrimSpace(deps.globals.LogLevel); level != "" {
			loadOpts.Flags.LogLevel = &level
		}
	}

	cfg, err := loadConfigFn(loadOpts)
	if err != nil {
		return mapCommandError(fmt.Errorf("load config: %w", err))
	}

	logger, closeLog, err := adaptlog.New(adaptlog.Options{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		MaxSizeMB: cfg.Logging.MaxSizeMB,
		MaxFiles:  cfg.Logging.MaxFiles,
		JSON:      deps.globals != nil && deps.globals.JSON,
		Stderr:    deps.errOut,
	})
	if err != nil {
		return mapCommandError(fmt.Errorf("init logging: %w", err))
	}
	defer func() { _ = closeLog() }()

	env := &runtimeEnv{cfg: cfg, logger: logger}
	if !opts.NoStore {
		store, err := storage.OpenWithOptions(cfg.Database.Path, storage.OpenOptions{SkipMigrations: opts.SkipMigrations})
		if err != nil {
			return mapCommandError(err)
		}
		defer store.Close()
		env.store = store

		if !opts.SkipMigrations {
			svc, err := audit.NewService(ctx, store.Audit)
			if err != nil {
				return mapCommandError(err)
			}
			env.audit = svc
		}
	}

	return mapCommandError(fn(ctx, env))
}

// record writes an audit event and only logs a failure; the command itself
// already succeeded or failed on its own terms.
func (e *runtimeEnv) record(ctx context.Context, event audit.Event) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Record(context.WithoutCancel(ctx), event); err != nil {
		e.logger.Warn("audit record failed", "action", event.Action, "error", err)
	}
}

func (e *runtimeEnv) llmConfig() llm.Config {
	return llm.Config{
		Model:     e.cfg.LLM.Model,
		BaseURL:   e.cfg.LLM.BaseURL,
		APIKey:    llm.NewAPIKey(e.cfg.LLM.APIKey),
		HFBaseURL: e.cfg.LLM.HFBaseURL,
		HFToken:   llm.NewAPIKey(e.cfg.LLM.HFToken),
		Timeout:   e.cfg.LLM.Timeout,
		Limiter:   llm.NewLimiter(e.cfg.LLM.RequestsPerMinute),
		Logger:    e.logger,
	}
}

// resolveRecording returns the recording named by args, or the most recent
// one when no id is given.
func (e *runtimeEnv) resolveRecording(ctx context.Context, args []string) (*storage.Recording, error) {
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		return e.store.Recordings.Get(ctx, strings.TrimSpace(args[0]))
	}
	rec, err := e.store.Recordings.Latest(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest recording: %w", err)
	}
	return rec, nil
}

func printJSON(w io.Writer, value any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

func boolToState(v bool, yes, no string) string {
	if v {
		return yes
	}
	return no
}

func formatEpoch(seconds float64) string {
	if seconds <= 0 {
		return "-"
	}
	sec := int64(seconds)
	nsec := int64((seconds - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).UTC().Format(time.RFC3339)
}

func maxArgs(n int, msg string) func(*cobra.Command, []string) error {
	return func(_ *cobra.Command, args []string) error {
		if len(args) > n {
			return usageErrorf("%s", msg)
		}
		return nil
	}
}

func exactArgs(n int, msg string) func(*cobra.Command, []string) error {
	return func(_ *cobra.Command, args []string) error {
		if len(args) != n {
			return usageErrorf("%s", msg)
		}
		return nil
	}
}
