package feishu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const tenantTokenPath = "/open-apis/auth/v3/tenant_access_token/internal"

// expiryMargin is subtracted from the reported token lifetime so a token
// is never used in its last minutes.
const expiryMargin = 5 * time.Minute

// AppTokenSource mints and caches tenant access tokens from an app's
// id and secret. Safe for concurrent use.
type AppTokenSource struct {
	baseURL    string
	appID      string
	appSecret  string
	httpClient *http.Client
	logger     *slog.Logger

	mu     sync.Mutex
	token  string
	expiry time.Time

	nowFunc func() time.Time
}

// NewAppTokenSource creates a token source for the app credential.
func NewAppTokenSource(baseURL, appID, appSecret string, httpClient *http.Client, logger *slog.Logger) *AppTokenSource {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &AppTokenSource{
		baseURL:    baseURL,
		appID:      appID,
		appSecret:  appSecret,
		httpClient: httpClient,
		logger:     logger,
		nowFunc:    time.Now,
	}
}

// Token returns the cached tenant token, minting a new one when the cache
// is empty or stale. A rejected token is only discarded while it is still
// the cached one; a sibling request may already have replaced it.
func (s *AppTokenSource) Token(ctx context.Context, rejected string) (string, error) {
	if s.appID == "" || s.appSecret == "" {
		return "", ErrNoCredentials
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if rejected != "" && rejected == s.token {
		s.token = ""
	}

	if s.token != "" && s.nowFunc().Before(s.expiry) {
		return s.token, nil
	}

	tok, lifetime, err := s.mint(ctx)
	if err != nil {
		return "", err
	}

	s.token = tok
	s.expiry = s.nowFunc().Add(lifetime - expiryMargin)

	s.logger.Debug("tenant access token minted",
		slog.Duration("lifetime", lifetime),
		slog.Bool("replaced_rejected", rejected != ""),
	)

	return tok, nil
}

type tenantTokenResponse struct {
	Code              int    `json:"code"`
	Msg               string `json:"msg"`
	TenantAccessToken string `json:"tenant_access_token"`
	Expire            int    `json:"expire"`
}

func (s *AppTokenSource) mint(ctx context.Context) (string, time.Duration, error) {
	body, err := json.Marshal(map[string]string{
		"app_id":     s.appID,
		"app_secret": s.appSecret,
	})
	if err != nil {
		return "", 0, fmt.Errorf("feishu: encoding token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+tenantTokenPath, bytes.NewReader(body))
	if err != nil {
		return "", 0, fmt.Errorf("feishu: creating token request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("%w: minting tenant token: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("%w: reading tenant token response: %w", ErrTransport, err)
	}

	var parsed tenantTokenResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", 0, fmt.Errorf("feishu: decoding tenant token response (status %d): %w", resp.StatusCode, err)
	}

	if parsed.Code != CodeOK {
		return "", 0, &APIError{
			StatusCode: resp.StatusCode,
			Code:       parsed.Code,
			Msg:        parsed.Msg,
			LogID:      resp.Header.Get(logIDHeader),
			Err:        classifyCode(parsed.Code),
		}
	}

	if parsed.TenantAccessToken == "" {
		return "", 0, fmt.Errorf("feishu: tenant token response carried no token")
	}

	lifetime := time.Duration(parsed.Expire) * time.Second
	if lifetime <= expiryMargin {
		lifetime = expiryMargin + time.Minute
	}

	return parsed.TenantAccessToken, lifetime, nil
}
