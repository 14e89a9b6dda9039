package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tonimelisma/feishu-go/internal/config"
	"github.com/tonimelisma/feishu-go/internal/feishu"
)

// version is set at build time via ldflags.
var version = "dev"

// Rotated log files are capped at this size before lumberjack rolls them.
const logFileMaxSizeMB = 50

// CLIFlags holds the persistent flags shared by every command.
type CLIFlags struct {
	ConfigPath string
	App        string
	Auth       string
	JSON       bool
	Verbose    bool
	Quiet      bool
}

// CLIContext is built by the root PersistentPreRunE and carried in the
// command context. Resolved is nil for commands in skipConfigCommands.
type CLIContext struct {
	Flags    CLIFlags
	Env      config.EnvOverrides
	Logger   *slog.Logger
	Resolved *config.ResolvedApp

	logCloser io.Closer
}

type cliContextKey struct{}

// mustCLIContext returns the CLIContext stored by the root pre-run. It
// panics if called outside a command, which is a programming error.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok || cc == nil {
		panic("CLIContext missing from command context")
	}

	return cc
}

// Overrides converts the flags into the config layer's CLI overrides.
func (cc *CLIContext) Overrides() config.CLIOverrides {
	return config.CLIOverrides{
		ConfigPath: cc.Flags.ConfigPath,
		App:        cc.Flags.App,
		Auth:       cc.Flags.Auth,
	}
}

// ConfigPath is the config file the command reads and writes.
func (cc *CLIContext) ConfigPath() string {
	return config.ResolveConfigPath(cc.Env, cc.Overrides())
}

func (cc *CLIContext) close() {
	if cc.logCloser != nil {
		cc.logCloser.Close()
		cc.logCloser = nil
	}
}

// skipConfigCommands lists commands that never need a resolved app: they
// only describe the catalog or edit the config file itself. Uses
// CommandPath() so a future "run add" cannot collide with "config app add".
var skipConfigCommands = map[string]bool{
	"feishu-go operations":        true,
	"feishu-go describe":          true,
	"feishu-go config":            true,
	"feishu-go config init":       true,
	"feishu-go config app":        true,
	"feishu-go config app add":    true,
	"feishu-go config app set":    true,
	"feishu-go config app remove": true,
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	var flags CLIFlags

	cmd := &cobra.Command{
		Use:     "feishu-go",
		Short:   "Feishu/Lark open-platform operations from the command line",
		Long:    "Run Feishu/Lark API operations from job files, or serve them over HTTP.",
		Version: version,
		// Errors are printed once by exitOnError.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setupCLIContext(cmd, flags)
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if cc, ok := cmd.Context().Value(cliContextKey{}).(*CLIContext); ok {
				cc.close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flags.App, "app", "", "app section to use (name, app_id, or unique prefix)")
	cmd.PersistentFlags().StringVar(&flags.Auth, "auth", "", "authentication mode: app or oauth2")
	cmd.PersistentFlags().BoolVar(&flags.JSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flags.Verbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flags.Quiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newOperationsCmd())
	cmd.AddCommand(newDescribeCmd())
	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// setupCLIContext resolves configuration (unless the command skips it),
// builds the logger and stores the CLIContext on the command.
func setupCLIContext(cmd *cobra.Command, flags CLIFlags) error {
	if flags.Auth != "" {
		mode, err := feishu.ParseAuthMode(flags.Auth)
		if err != nil {
			return err
		}

		flags.Auth = string(mode)
	}

	cc := &CLIContext{
		Flags:  flags,
		Env:    config.ReadEnvOverrides(),
		Logger: bootstrapLogger(flags),
	}

	if !skipConfigCommands[cmd.CommandPath()] {
		if err := loadConfig(cc); err != nil {
			return err
		}

		logger, closer, err := buildLogger(cc.Resolved, flags)
		if err != nil {
			return err
		}

		cc.Logger = logger
		cc.logCloser = closer
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

	return nil
}

// loadConfig resolves the effective app from the four-layer override chain.
func loadConfig(cc *CLIContext) error {
	resolved, err := config.Resolve(cc.Env, cc.Overrides(), cc.Logger)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cc.Resolved = resolved

	return nil
}

// bootstrapLogger is used until config is loaded, and for commands that
// never load it. Only the CLI flags affect it.
func bootstrapLogger(flags CLIFlags) *slog.Logger {
	level := logLevel("", flags)

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// logLevel applies the config-file level, then the CLI flags, which always
// win.
func logLevel(configured string, flags CLIFlags) slog.Level {
	level := slog.LevelInfo

	switch configured {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	return level
}

// buildLogger creates the logger described by the resolved config. When
// log_file is set, records go to a lumberjack-rotated file and the returned
// closer must be closed on exit.
func buildLogger(ra *config.ResolvedApp, flags CLIFlags) (*slog.Logger, io.Closer, error) {
	level := logLevel(ra.LogLevel, flags)

	if ra.LogFile == "" {
		tty := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())

		return slog.New(newLogHandler(os.Stderr, ra.LogFormat, tty, level)), nil, nil
	}

	rotator := &lumberjack.Logger{
		Filename: ra.LogFile,
		MaxSize:  logFileMaxSizeMB,
		MaxAge:   ra.LogRetentionDays,
		Compress: true,
	}

	// Open the file once so a bad path fails now rather than on the first record.
	if _, err := rotator.Write(nil); err != nil {
		return nil, nil, fmt.Errorf("opening log file %s: %w", ra.LogFile, err)
	}

	return slog.New(newLogHandler(rotator, ra.LogFormat, false, level)), rotator, nil
}

// newLogHandler picks text or JSON output. "auto" means text for a
// terminal and JSON otherwise.
func newLogHandler(w io.Writer, format string, tty bool, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	switch {
	case format == "json", format == "auto" && !tty:
		return slog.NewJSONHandler(w, opts)
	default:
		return slog.NewTextHandler(w, opts)
	}
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
