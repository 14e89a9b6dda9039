package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/feishu-go/internal/config"
	"github.com/tonimelisma/feishu-go/internal/feishu"
	"github.com/tonimelisma/feishu-go/internal/session"
	"github.com/tonimelisma/feishu-go/internal/tokenfile"
)

// Identity endpoints for whoami.
const (
	userInfoPath = "/open-apis/authen/v1/user_info"
	botInfoPath  = "/open-apis/bot/v3/info"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authorize as a user in the browser (OAuth2)",
		Long: `Open the Feishu authorization page, wait for the redirect on the local
callback port and save the user token for the selected app. The app's
redirect URL must be http://127.0.0.1:<callback_port>/callback.`,
		Args: cobra.NoArgs,
		RunE: runLogin,
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved user token",
		Args:  cobra.NoArgs,
		RunE:  runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Display the identity requests are made as",
		Args:  cobra.NoArgs,
		RunE:  runWhoami,
	}
}

// openBrowser launches the platform's URL opener. Tests replace it.
var openBrowser = func(url string) error {
	name := "xdg-open"
	if runtime.GOOS == "darwin" {
		name = "open"
	}

	return exec.Command(name, url).Start()
}

func runLogin(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ra := cc.Resolved
	logger := cc.Logger

	tokenPath := ra.TokenPath()
	if tokenPath == "" {
		return fmt.Errorf("cannot determine token path for app %q", ra.Name)
	}

	if ra.AppID == "" || ra.AppSecret == "" {
		return fmt.Errorf("app %q: %w (login needs app_id and app_secret)", ra.Name, feishu.ErrNoCredentials)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	ctx = shutdownContext(ctx, logger)

	logger.Info("login started", slog.String("app", ra.Name))

	ts, err := feishu.LoginWithBrowser(ctx, session.UserAuth(ra), tokenPath, openBrowser, logger)
	if err != nil {
		return err
	}

	client := feishu.NewClient(feishu.AuthOAuth2, feishu.UserBaseURL, session.NewHTTPClient(ra), ts, logger)

	id, err := fetchIdentity(ctx, client)
	if err != nil {
		// The token is saved; only the display name is missing.
		logger.Warn("fetching user profile failed", slog.String("error", err.Error()))
		cc.Statusf("Login successful.\n")

		return nil
	}

	if err := tokenfile.UpdateMeta(tokenPath, map[string]string{
		tokenfile.MetaName:   id.Name,
		tokenfile.MetaOpenID: id.OpenID,
	}); err != nil {
		logger.Warn("saving user profile failed", slog.String("error", err.Error()))
	}

	logger.Info("login successful", slog.String("app", ra.Name), slog.String("open_id", id.OpenID))
	cc.Statusf("Logged in as %s.\n", id.Name)

	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ra := cc.Resolved

	tokenPath := ra.TokenPath()
	if tokenPath == "" {
		return fmt.Errorf("cannot determine token path for app %q", ra.Name)
	}

	if err := feishu.Logout(tokenPath, cc.Logger); err != nil {
		return err
	}

	cc.Statusf("Logged out of app %s.\n", ra.Name)

	return nil
}

// identity is the JSON schema for `whoami --json`.
type identity struct {
	App    string `json:"app"`
	AppID  string `json:"app_id"`
	Mode   string `json:"mode"`
	Name   string `json:"name"`
	OpenID string `json:"open_id"`
	Email  string `json:"email,omitempty"`
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ra := cc.Resolved

	provider := session.NewProvider(session.NewHTTPClient(ra), cc.Logger)

	id, err := whoami(cmd.Context(), provider, ra)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		return printJSON(cmd.OutOrStdout(), id)
	}

	printIdentity(cmd.OutOrStdout(), id)

	return nil
}

func whoami(ctx context.Context, provider *session.Provider, ra *config.ResolvedApp) (*identity, error) {
	sess, err := provider.Session(ctx, ra, "")
	if err != nil {
		return nil, err
	}

	id, err := fetchIdentity(ctx, sess.Client)
	if err != nil {
		if errors.Is(err, feishu.ErrTokenExpired) && sess.Mode == feishu.AuthOAuth2 {
			return nil, fmt.Errorf("user token rejected; run 'feishu-go login --app %s' again: %w", ra.Name, err)
		}

		return nil, err
	}

	id.App = ra.Name
	id.AppID = ra.AppID

	return id, nil
}

// fetchIdentity asks the platform who the client's token belongs to: the
// signed-in user for OAuth2, the app's bot for app credentials.
func fetchIdentity(ctx context.Context, client *feishu.Client) (*identity, error) {
	if client.Mode() == feishu.AuthOAuth2 {
		var user struct {
			Name   string `json:"name"`
			OpenID string `json:"open_id"`
			Email  string `json:"email"`
		}

		if err := client.Decode(ctx, &feishu.Request{Method: http.MethodGet, Path: userInfoPath}, &user); err != nil {
			return nil, fmt.Errorf("fetching user info: %w", err)
		}

		return &identity{Mode: string(feishu.AuthOAuth2), Name: user.Name, OpenID: user.OpenID, Email: user.Email}, nil
	}

	var info struct {
		Bot struct {
			AppName string `json:"app_name"`
			OpenID  string `json:"open_id"`
		} `json:"bot"`
	}

	if err := client.Decode(ctx, &feishu.Request{Method: http.MethodGet, Path: botInfoPath}, &info); err != nil {
		return nil, fmt.Errorf("fetching bot info: %w", err)
	}

	return &identity{Mode: string(feishu.AuthApp), Name: info.Bot.AppName, OpenID: info.Bot.OpenID}, nil
}

func printIdentity(w io.Writer, id *identity) {
	fmt.Fprintf(w, "App:     %s (%s)\n", id.App, id.AppID)
	fmt.Fprintf(w, "Mode:    %s\n", id.Mode)
	fmt.Fprintf(w, "Name:    %s\n", id.Name)
	fmt.Fprintf(w, "Open ID: %s\n", id.OpenID)

	if id.Email != "" {
		fmt.Fprintf(w, "Email:   %s\n", id.Email)
	}
}
