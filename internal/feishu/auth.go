package feishu

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/tonimelisma/feishu-go/internal/tokenfile"
)

// Feishu OAuth2 endpoints for user access tokens.
var userEndpoint = oauth2.Endpoint{
	AuthURL:   "https://accounts.feishu.cn/open-apis/authen/v1/authorize",
	TokenURL:  UserBaseURL + "/open-apis/authen/v2/oauth/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

// offline_access is required for a refresh token to be issued.
var defaultScopes = []string{"offline_access"}

// callbackPath is the HTTP path the OAuth2 redirect hits on the local
// server. It must match the redirect URL registered for the app.
const callbackPath = "/callback"

// shutdownTimeout is how long to wait for the callback server to drain.
const shutdownTimeout = 5 * time.Second

// UserAuthConfig identifies the app a user authorizes.
type UserAuthConfig struct {
	AppID        string
	AppSecret    string
	Scopes       []string
	CallbackPort int // 0 picks a free port (tests only; the platform checks the redirect URL)
}

// callbackResult carries the authorization code or error from the callback handler.
type callbackResult struct {
	code string
	err  error
}

// LoginWithBrowser performs the authorization code + PKCE flow:
//  1. Binds a localhost HTTP server on the configured callback port
//  2. Opens the browser to the authorization page
//  3. Receives the callback with the authorization code
//  4. Exchanges the code for tokens and saves them at tokenPath
//
// openURL is called with the authorization URL. If it fails, the URL is
// printed to stderr so the user can open it manually.
func LoginWithBrowser(
	ctx context.Context,
	auth UserAuthConfig,
	tokenPath string,
	openURL func(string) error,
	logger *slog.Logger,
) (TokenSource, error) {
	cfg := oauthConfig(auth, tokenPath, nil, logger)

	return doAuthCodeLogin(ctx, cfg, auth.CallbackPort, tokenPath, openURL, logger)
}

// doAuthCodeLogin accepts a pre-built oauth2.Config so tests can inject a
// mock endpoint.
func doAuthCodeLogin(
	ctx context.Context,
	cfg *oauth2.Config,
	port int,
	tokenPath string,
	openURL func(string) error,
	logger *slog.Logger,
) (TokenSource, error) {
	logger.Info("starting browser auth flow (authorization code + PKCE)",
		slog.String("path", tokenPath),
	)

	resultCh := make(chan callbackResult, 1)
	mux := http.NewServeMux()

	srv, port, err := startCallbackServer(ctx, mux, port, resultCh, logger)
	if err != nil {
		return nil, err
	}

	defer shutdownCallbackServer(srv, logger)

	cfg.RedirectURL = fmt.Sprintf("http://localhost:%d%s", port, callbackPath)

	verifier := oauth2.GenerateVerifier()
	state := uuid.NewString()

	registerCallbackHandler(mux, state, resultCh)

	authURL := cfg.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))

	launchBrowser(authURL, openURL, logger)

	code, err := waitForCallback(ctx, resultCh)
	if err != nil {
		return nil, err
	}

	return exchangeAndSave(ctx, cfg, tokenPath, code, verifier, logger)
}

// startCallbackServer binds 127.0.0.1:port and serves mux on it.
func startCallbackServer(
	ctx context.Context,
	mux *http.ServeMux,
	port int,
	resultCh chan<- callbackResult,
	logger *slog.Logger,
) (*http.Server, int, error) {
	lc := net.ListenConfig{}

	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, 0, fmt.Errorf("feishu: binding localhost listener: %w", err)
	}

	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		listener.Close()
		return nil, 0, fmt.Errorf("feishu: listener address is not TCP")
	}

	logger.Info("callback server listening", slog.Int("port", tcpAddr.Port))

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: shutdownTimeout,
	}

	go func() {
		if serveErr := srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			resultCh <- callbackResult{err: fmt.Errorf("feishu: callback server error: %w", serveErr)}
		}
	}()

	return srv, tcpAddr.Port, nil
}

func registerCallbackHandler(mux *http.ServeMux, state string, resultCh chan<- callbackResult) {
	mux.HandleFunc("GET "+callbackPath, func(w http.ResponseWriter, r *http.Request) {
		handleOAuthCallback(w, r, state, resultCh)
	})
}

// handleOAuthCallback validates the state, extracts the code, and sends the result.
func handleOAuthCallback(w http.ResponseWriter, r *http.Request, state string, resultCh chan<- callbackResult) {
	q := r.URL.Query()

	if q.Get("state") != state {
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		resultCh <- callbackResult{err: fmt.Errorf("feishu: OAuth2 state mismatch (possible CSRF)")}

		return
	}

	if errParam := q.Get("error"); errParam != "" {
		http.Error(w, "Authorization failed: "+errParam, http.StatusBadRequest)
		resultCh <- callbackResult{err: fmt.Errorf("feishu: authorization failed: %s", errParam)}

		return
	}

	code := q.Get("code")
	if code == "" {
		http.Error(w, "Missing authorization code", http.StatusBadRequest)
		resultCh <- callbackResult{err: fmt.Errorf("feishu: callback missing authorization code")}

		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<html><body><h1>Authentication successful</h1>"+
		"<p>You can close this window and return to the terminal.</p></body></html>")
	resultCh <- callbackResult{code: code}
}

func shutdownCallbackServer(srv *http.Server, logger *slog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("callback server shutdown error", slog.String("error", err.Error()))
	}
}

func launchBrowser(authURL string, openURL func(string) error, logger *slog.Logger) {
	logger.Info("opening browser for authorization")

	if openErr := openURL(authURL); openErr != nil {
		logger.Warn("failed to open browser, printing URL",
			slog.String("error", openErr.Error()),
		)

		fmt.Fprintf(os.Stderr, "Open this URL in your browser:\n%s\n", authURL)
	}
}

// waitForCallback blocks until the callback fires or the context is canceled.
func waitForCallback(ctx context.Context, resultCh <-chan callbackResult) (string, error) {
	select {
	case result := <-resultCh:
		if result.err != nil {
			return "", result.err
		}

		return result.code, nil
	case <-ctx.Done():
		return "", fmt.Errorf("feishu: browser auth canceled: %w", ctx.Err())
	}
}

func exchangeAndSave(
	ctx context.Context,
	cfg *oauth2.Config,
	tokenPath, code, verifier string,
	logger *slog.Logger,
) (TokenSource, error) {
	logger.Info("received authorization code, exchanging for token")

	tok, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("feishu: token exchange failed: %w", err)
	}

	meta := map[string]string{"app_id": cfg.ClientID}

	if saveErr := tokenfile.Save(tokenPath, tok, meta); saveErr != nil {
		return nil, fmt.Errorf("feishu: saving token: %w", saveErr)
	}

	logger.Info("browser login successful",
		slog.String("path", tokenPath),
		slog.Time("expiry", tok.Expiry),
	)

	return &tokenBridge{src: cfg.TokenSource(ctx, tok), logger: logger}, nil
}

// UserTokenSource loads a saved user token and returns a TokenSource that
// refreshes and re-persists it. Returns ErrNotLoggedIn when no token is
// saved, or when it was issued to a different app.
//
// ctx must outlive the returned source; refreshes run under it.
func UserTokenSource(ctx context.Context, auth UserAuthConfig, tokenPath string, logger *slog.Logger) (TokenSource, error) {
	tok, meta, err := tokenfile.Load(tokenPath)
	if err != nil {
		return nil, err
	}

	if tok == nil {
		return nil, ErrNotLoggedIn
	}

	if owner := meta["app_id"]; owner != "" && owner != auth.AppID {
		return nil, fmt.Errorf("%w: saved token belongs to app %s", ErrNotLoggedIn, owner)
	}

	logger.Debug("loaded saved user token",
		slog.String("path", tokenPath),
		slog.Time("expiry", tok.Expiry),
	)

	cfg := oauthConfig(auth, tokenPath, meta, logger)

	return &tokenBridge{src: cfg.TokenSource(ctx, tok), logger: logger}, nil
}

// Logout removes the saved token file. A missing file is not an error.
func Logout(tokenPath string, logger *slog.Logger) error {
	err := os.Remove(tokenPath)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Info("logout: no token file to remove (already logged out)",
			slog.String("path", tokenPath),
		)

		return nil
	}

	if err != nil {
		return fmt.Errorf("feishu: removing token: %w", err)
	}

	logger.Info("logout: removed token file", slog.String("path", tokenPath))

	return nil
}

// oauthConfig builds an oauth2.Config whose OnTokenChange persists
// refreshed tokens along with meta.
func oauthConfig(auth UserAuthConfig, tokenPath string, meta map[string]string, logger *slog.Logger) *oauth2.Config {
	scopes := auth.Scopes
	if len(scopes) == 0 {
		scopes = defaultScopes
	}

	return &oauth2.Config{
		ClientID:     auth.AppID,
		ClientSecret: auth.AppSecret,
		Scopes:       scopes,
		Endpoint:     userEndpoint,
		OnTokenChange: func(tok *oauth2.Token) {
			if err := tokenfile.Save(tokenPath, tok, meta); err != nil {
				logger.Warn("failed to persist refreshed token",
					slog.String("path", tokenPath),
					slog.String("error", err.Error()),
				)

				return
			}

			logger.Info("persisted refreshed user token",
				slog.String("path", tokenPath),
				slog.Time("new_expiry", tok.Expiry),
			)
		},
	}
}

// tokenBridge adapts oauth2.TokenSource to TokenSource. Refresh is owned
// by the oauth2 source, so rejected is ignored.
type tokenBridge struct {
	src    oauth2.TokenSource
	logger *slog.Logger
}

func (b *tokenBridge) Token(_ context.Context, _ string) (string, error) {
	t, err := b.src.Token()
	if err != nil {
		b.logger.Warn("user token acquisition failed", slog.String("error", err.Error()))
		return "", fmt.Errorf("feishu: obtaining user token: %w", err)
	}

	return t.AccessToken, nil
}
