package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/feishu-go/internal/config"
	"github.com/tonimelisma/feishu-go/internal/feishu"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigAppCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	}
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	if cc.Resolved == nil {
		return fmt.Errorf("no configuration loaded")
	}

	if cc.Flags.JSON {
		shown := *cc.Resolved
		shown.AppSecret = config.MaskSecret(shown.AppSecret)

		return printJSON(cmd.OutOrStdout(), &shown)
	}

	return config.RenderEffective(cc.Resolved, cmd.OutOrStdout())
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())
			path := cc.ConfigPath()

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
			}

			if err := config.CreateConfig(path); err != nil {
				return err
			}

			cc.Statusf("Wrote %s\n", path)

			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")

	return cmd
}

func newConfigAppCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "app",
		Short: "Add, change or remove app sections",
	}

	cmd.AddCommand(newConfigAppAddCmd())
	cmd.AddCommand(newConfigAppSetCmd())
	cmd.AddCommand(newConfigAppRemoveCmd())

	return cmd
}

func newConfigAppAddCmd() *cobra.Command {
	var fields config.AppFields

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add an app section",
		Long: `Add an [app.<name>] section. The secret can be left out and supplied
through FEISHU_GO_APP_SECRET instead.

Examples:
  feishu-go config app add work --app-id cli_a1b2 --app-secret s3cr3t
  feishu-go config app add lark --app-id cli_x --base-url open.larksuite.com`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			if fields.AppID == "" {
				return fmt.Errorf("--app-id is required")
			}

			if fields.Auth != "" {
				mode, err := feishu.ParseAuthMode(fields.Auth)
				if err != nil {
					return err
				}

				fields.Auth = string(mode)
			}

			if err := config.AppendAppSection(cc.ConfigPath(), args[0], fields); err != nil {
				return err
			}

			cc.Statusf("Added app %s\n", args[0])
			notifyServer(cc.Logger)

			return nil
		},
	}

	cmd.Flags().StringVar(&fields.AppID, "app-id", "", "app ID (cli_...)")
	cmd.Flags().StringVar(&fields.AppSecret, "app-secret", "", "app secret")
	cmd.Flags().StringVar(&fields.BaseURL, "base-url", "", "open-platform host, e.g. open.larksuite.com")
	cmd.Flags().StringVar(&fields.Auth, "app-auth", "", "default authentication mode: app or oauth2")

	return cmd
}

func newConfigAppSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <name> <key> <value>",
		Short: "Set a key in an app section",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			if err := config.SetAppKey(cc.ConfigPath(), args[0], args[1], args[2]); err != nil {
				return err
			}

			cc.Statusf("Set %s for app %s\n", args[1], args[0])
			notifyServer(cc.Logger)

			return nil
		},
	}
}

func newConfigAppRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove an app section",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			if err := config.DeleteAppSection(cc.ConfigPath(), args[0]); err != nil {
				return err
			}

			cc.Statusf("Removed app %s\n", args[0])
			notifyServer(cc.Logger)

			return nil
		},
	}
}

// notifyServer asks a running serve to reload its config. Having no server
// running is the common case and not an error.
func notifyServer(logger *slog.Logger) {
	path := servePIDPath()
	if path == "" {
		return
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return
	}

	if err := sendSIGHUP(path); err != nil {
		logger.Debug("could not notify server", slog.String("error", err.Error()))
		return
	}

	logger.Info("notified running server to reload config")
}
