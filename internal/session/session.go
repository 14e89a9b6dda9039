// Package session turns a resolved app configuration into authenticated
// gateway clients. Token sources are cached so every client for the same
// credential shares one refresh path.
package session

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	gosync "sync"

	"github.com/tonimelisma/feishu-go/internal/config"
	"github.com/tonimelisma/feishu-go/internal/feishu"
)

// Session holds the gateway client for one app and authentication mode.
type Session struct {
	Client   *feishu.Client
	Mode     feishu.AuthMode
	Resolved *config.ResolvedApp
}

// AppTokenSourceFunc creates an app-credential TokenSource.
type AppTokenSourceFunc func(baseURL, appID, appSecret string, httpClient *http.Client, logger *slog.Logger) feishu.TokenSource

// UserTokenSourceFunc loads a saved user token.
type UserTokenSourceFunc func(ctx context.Context, auth feishu.UserAuthConfig, tokenPath string, logger *slog.Logger) (feishu.TokenSource, error)

// Provider caches TokenSources by credential and creates Sessions on
// demand. Two OAuth2 sources refreshing the same token file would rotate
// each other's refresh tokens away, so there is only ever one per file.
type Provider struct {
	httpClient *http.Client
	logger     *slog.Logger

	// Exported for test injection.
	AppTokenSourceFn  AppTokenSourceFunc
	UserTokenSourceFn UserTokenSourceFunc

	// BaseURLOverride replaces both base URLs. Tests point it at httptest.
	BaseURLOverride string

	mu         gosync.Mutex
	tokenCache map[string]feishu.TokenSource
}

// NewProvider creates a Provider with the real token sources.
func NewProvider(httpClient *http.Client, logger *slog.Logger) *Provider {
	return &Provider{
		httpClient: httpClient,
		logger:     logger,
		AppTokenSourceFn: func(baseURL, appID, appSecret string, hc *http.Client, l *slog.Logger) feishu.TokenSource {
			return feishu.NewAppTokenSource(baseURL, appID, appSecret, hc, l)
		},
		UserTokenSourceFn: feishu.UserTokenSource,
		tokenCache:        make(map[string]feishu.TokenSource),
	}
}

// Session returns a client for ra in the given mode. An empty mode uses
// the app's configured default.
func (p *Provider) Session(ctx context.Context, ra *config.ResolvedApp, mode feishu.AuthMode) (*Session, error) {
	if mode == "" {
		m, err := feishu.ParseAuthMode(ra.Auth)
		if err != nil {
			return nil, err
		}

		mode = m
	}

	if ra.AppID == "" {
		return nil, fmt.Errorf("app %q: %w (set app_id in config or %s)", ra.Name, feishu.ErrNoCredentials, config.EnvAppID)
	}

	var (
		baseURL string
		ts      feishu.TokenSource
		err     error
	)

	switch mode {
	case feishu.AuthApp:
		baseURL = feishu.AppBaseURL(ra.BaseURL)
		ts, err = p.appTokenSource(baseURL, ra)
	case feishu.AuthOAuth2:
		baseURL = feishu.UserBaseURL
		ts, err = p.userTokenSource(ctx, ra)
	default:
		return nil, fmt.Errorf("unsupported authentication mode %q", mode)
	}

	if err != nil {
		return nil, err
	}

	if p.BaseURLOverride != "" {
		baseURL = p.BaseURLOverride
	}

	p.logger.Debug("session created",
		slog.String("app", ra.Name),
		slog.String("mode", string(mode)),
		slog.String("base_url", baseURL),
	)

	return &Session{
		Client:   feishu.NewClient(mode, baseURL, p.httpClient, ts, p.logger),
		Mode:     mode,
		Resolved: ra,
	}, nil
}

func (p *Provider) appTokenSource(baseURL string, ra *config.ResolvedApp) (feishu.TokenSource, error) {
	if ra.AppSecret == "" {
		return nil, fmt.Errorf("app %q: %w (set app_secret in config or %s)", ra.Name, feishu.ErrNoCredentials, config.EnvAppSecret)
	}

	if p.BaseURLOverride != "" {
		baseURL = p.BaseURLOverride
	}

	key := "app:" + baseURL + ":" + ra.AppID

	p.mu.Lock()
	defer p.mu.Unlock()

	if ts, ok := p.tokenCache[key]; ok {
		return ts, nil
	}

	ts := p.AppTokenSourceFn(baseURL, ra.AppID, ra.AppSecret, p.httpClient, p.logger)
	p.tokenCache[key] = ts

	return ts, nil
}

func (p *Provider) userTokenSource(ctx context.Context, ra *config.ResolvedApp) (feishu.TokenSource, error) {
	tokenPath := ra.TokenPath()
	if tokenPath == "" {
		return nil, fmt.Errorf("cannot determine token path for app %q", ra.Name)
	}

	key := "user:" + tokenPath

	p.mu.Lock()
	defer p.mu.Unlock()

	if ts, ok := p.tokenCache[key]; ok {
		return ts, nil
	}

	ts, err := p.UserTokenSourceFn(ctx, UserAuth(ra), tokenPath, p.logger)
	if err != nil {
		if errors.Is(err, feishu.ErrNotLoggedIn) {
			return nil, fmt.Errorf("not logged in; run 'feishu-go login --app %s' first: %w", ra.Name, err)
		}

		return nil, err
	}

	p.tokenCache[key] = ts

	return ts, nil
}

// UserAuth is the OAuth2 configuration for ra.
func UserAuth(ra *config.ResolvedApp) feishu.UserAuthConfig {
	return feishu.UserAuthConfig{
		AppID:        ra.AppID,
		AppSecret:    ra.AppSecret,
		Scopes:       ra.Scopes,
		CallbackPort: ra.CallbackPort,
	}
}

// NewHTTPClient builds the shared HTTP client from network settings.
// connect_timeout bounds dialing and data_timeout bounds the wait for
// response headers; a node's options.timeout sets a whole-request deadline
// through the gateway.
func NewHTTPClient(ra *config.ResolvedApp) *http.Client {
	dialer := &net.Dialer{Timeout: ra.DialTimeout()}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	transport.ResponseHeaderTimeout = ra.RequestTimeout()

	if ra.ForceHTTP11 {
		transport.ForceAttemptHTTP2 = false
		transport.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}
	}

	var rt http.RoundTripper = transport
	if ra.UserAgent != "" {
		rt = &userAgentTransport{base: transport, userAgent: ra.UserAgent}
	}

	return &http.Client{Transport: rt}
}

// userAgentTransport sets a configured User-Agent on every request.
type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("User-Agent", t.userAgent)

	return t.base.RoundTrip(r)
}
