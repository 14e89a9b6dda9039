package feishu

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/tonimelisma/feishu-go/internal/tokenfile"
)

const testTokenJSON = `{
	"code": 0,
	"access_token": "u-access",
	"token_type": "Bearer",
	"refresh_token": "u-refresh",
	"expires_in": 7200
}`

func newMockAuthCodeServer(t *testing.T, tokenHandler http.HandlerFunc) *oauth2.Endpoint {
	t.Helper()

	mux := http.NewServeMux()

	mux.HandleFunc("GET /authorize", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "S256", r.URL.Query().Get("code_challenge_method"))

		redirectURI := r.URL.Query().Get("redirect_uri")
		state := r.URL.Query().Get("state")
		http.Redirect(w, r, redirectURI+"?code=test-auth-code&state="+url.QueryEscape(state), http.StatusFound)
	})

	handler := tokenHandler
	if handler == nil {
		handler = func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "cli_app", r.PostForm.Get("client_id"))
			assert.Equal(t, "secret", r.PostForm.Get("client_secret"))
			assert.NotEmpty(t, r.PostForm.Get("code_verifier"))
			writeJSON(w, testTokenJSON)
		}
	}

	mux.HandleFunc("POST /token", handler)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &oauth2.Endpoint{
		AuthURL:   srv.URL + "/authorize",
		TokenURL:  srv.URL + "/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
}

func testAuthConfig() UserAuthConfig {
	return UserAuthConfig{AppID: "cli_app", AppSecret: "secret"}
}

func testOAuthConfig(t *testing.T, tokenPath string, endpoint *oauth2.Endpoint) *oauth2.Config {
	t.Helper()

	cfg := oauthConfig(testAuthConfig(), tokenPath, nil, slog.Default())
	cfg.Endpoint = *endpoint

	return cfg
}

// simulateBrowserCallback acts as the browser: fetches the auth URL and
// follows its redirect to the localhost callback server.
func simulateBrowserCallback(t *testing.T) func(string) error {
	t.Helper()

	client := &http.Client{
		CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return func(authURL string) error {
		resp, err := client.Get(authURL) //nolint:noctx // test helper
		require.NoError(t, err)
		resp.Body.Close()

		location := resp.Header.Get("Location")
		require.NotEmpty(t, location, "authorize endpoint must redirect")

		callbackResp, err := http.Get(location) //nolint:noctx // test helper
		require.NoError(t, err)
		callbackResp.Body.Close()

		return nil
	}
}

func TestDoAuthCodeLogin_Success(t *testing.T) {
	endpoint := newMockAuthCodeServer(t, nil)
	tokenPath := filepath.Join(t.TempDir(), "tokens", "user.json")

	cfg := testOAuthConfig(t, tokenPath, endpoint)

	ts, err := doAuthCodeLogin(context.Background(), cfg, 0, tokenPath, simulateBrowserCallback(t), slog.Default())
	require.NoError(t, err)

	tok, meta, err := tokenfile.Load(tokenPath)
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.Equal(t, "u-access", tok.AccessToken)
	assert.Equal(t, "u-refresh", tok.RefreshToken)
	assert.Equal(t, "cli_app", meta["app_id"])

	got, err := ts.Token(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "u-access", got)
}

func TestDoAuthCodeLogin_InvalidState(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /authorize", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, r.URL.Query().Get("redirect_uri")+"?code=c&state=forged", http.StatusFound)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	tokenPath := filepath.Join(t.TempDir(), "user.json")
	cfg := testOAuthConfig(t, tokenPath, &oauth2.Endpoint{AuthURL: srv.URL + "/authorize", TokenURL: srv.URL + "/token"})

	_, err := doAuthCodeLogin(context.Background(), cfg, 0, tokenPath, simulateBrowserCallback(t), slog.Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "state mismatch")
}

func TestDoAuthCodeLogin_ContextCancel(t *testing.T) {
	endpoint := newMockAuthCodeServer(t, nil)
	tokenPath := filepath.Join(t.TempDir(), "user.json")
	cfg := testOAuthConfig(t, tokenPath, endpoint)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := doAuthCodeLogin(ctx, cfg, 0, tokenPath, func(string) error { return nil }, slog.Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "browser auth canceled")
}

func TestDoAuthCodeLogin_ExchangeError(t *testing.T) {
	endpoint := newMockAuthCodeServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		writeJSON(w, `{"error":"invalid_grant"}`)
	})
	tokenPath := filepath.Join(t.TempDir(), "user.json")
	cfg := testOAuthConfig(t, tokenPath, endpoint)

	_, err := doAuthCodeLogin(context.Background(), cfg, 0, tokenPath, simulateBrowserCallback(t), slog.Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token exchange failed")
}

func TestUserTokenSource_NotLoggedIn(t *testing.T) {
	_, err := UserTokenSource(context.Background(), testAuthConfig(), filepath.Join(t.TempDir(), "missing.json"), slog.Default())
	assert.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestUserTokenSource_OtherAppRejected(t *testing.T) {
	tokenPath := filepath.Join(t.TempDir(), "user.json")
	tok := &oauth2.Token{AccessToken: "a", Expiry: time.Now().Add(time.Hour)}
	require.NoError(t, tokenfile.Save(tokenPath, tok, map[string]string{"app_id": "cli_other"}))

	_, err := UserTokenSource(context.Background(), testAuthConfig(), tokenPath, slog.Default())
	assert.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestUserTokenSource_ValidToken(t *testing.T) {
	tokenPath := filepath.Join(t.TempDir(), "user.json")
	tok := &oauth2.Token{AccessToken: "u-valid", Expiry: time.Now().Add(time.Hour)}
	require.NoError(t, tokenfile.Save(tokenPath, tok, map[string]string{"app_id": "cli_app"}))

	ts, err := UserTokenSource(context.Background(), testAuthConfig(), tokenPath, slog.Default())
	require.NoError(t, err)

	got, err := ts.Token(context.Background(), "u-valid")
	require.NoError(t, err)
	assert.Equal(t, "u-valid", got)
}

func TestOAuthConfig_OnTokenChangePersists(t *testing.T) {
	tokenPath := filepath.Join(t.TempDir(), "user.json")
	meta := map[string]string{"app_id": "cli_app", "name": "Ada"}

	cfg := oauthConfig(testAuthConfig(), tokenPath, meta, slog.Default())
	cfg.OnTokenChange(&oauth2.Token{AccessToken: "refreshed"})

	tok, gotMeta, err := tokenfile.Load(tokenPath)
	require.NoError(t, err)
	assert.Equal(t, "refreshed", tok.AccessToken)
	assert.Equal(t, meta, gotMeta)
	assert.Equal(t, defaultScopes, cfg.Scopes)
}

func TestLogout(t *testing.T) {
	tokenPath := filepath.Join(t.TempDir(), "user.json")
	require.NoError(t, tokenfile.Save(tokenPath, &oauth2.Token{AccessToken: "a"}, nil))

	require.NoError(t, Logout(tokenPath, slog.Default()))

	_, err := os.Stat(tokenPath)
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, Logout(tokenPath, slog.Default()), "second logout is a no-op")
}
