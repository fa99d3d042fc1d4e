package cli

import (
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

type GlobalOptions struct {
	JSON       bool
	Quiet      bool
	Timeout    time.Duration
	ConfigPath string
	DBPath     string
	LogLevel   string
	Yes        bool
}

type commandDeps struct {
	out     io.Writer
	errOut  io.Writer
	globals *GlobalOptions
	build   BuildInfo
}

func NewRootCommand(out io.Writer, build BuildInfo) *cobra.Command {
	globals := &GlobalOptions{}
	deps := commandDeps{
		out:     out,
		errOut:  os.Stderr,
		globals: globals,
		build:   build,
	}

	cmd := &cobra.Command{
		Use:   "adapt",
		Short: "Replay and inspect recorded desktop sessions",
		Long: "adapt manages recorded desktop sessions: import and export recordings,\n" +
			"replay them with an optional LLM-guided strategy, and browse them in a\n" +
			"terminal or web visualization.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageErrorf("%v", err)
	})

	flags := cmd.PersistentFlags()
	flags.BoolVar(&globals.JSON, "json", false, "Print machine-readable JSON output")
	flags.BoolVar(&globals.Quiet, "quiet", false, "Suppress non-error output")
	flags.DurationVar(&globals.Timeout, "timeout", 0, "Abort the command after this duration (0 disables)")
	flags.StringVar(&globals.ConfigPath, "config", "", "Config file path")
	flags.StringVar(&globals.DBPath, "db", "", "Recording database path")
	flags.StringVar(&globals.LogLevel, "log-level", "", "Log level: debug, info, warn or error")
	flags.BoolVar(&globals.Yes, "yes", false, "Assume yes for confirmation prompts")

	cmd.AddCommand(
		newVersionCommand(deps),
		newInitCommand(deps),
		newRecordingCommand(deps),
		newReplayCommand(deps),
		newVisualizeCommand(deps),
		newUpdateCommand(deps),
		newDBCommand(deps),
		newProviderCommand(deps),
		newAuditCommand(deps),
		newDebugCommand(deps),
	)
	cmd.InitDefaultCompletionCmd()
	return cmd
}
