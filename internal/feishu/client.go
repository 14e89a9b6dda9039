package feishu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	userAgent = "feishu-go/0.1"

	// UserBaseURL is the fixed API host for OAuth2 user credentials.
	UserBaseURL = "https://open.feishu.cn"

	// DefaultAppHost is used when app credentials carry no base URL.
	DefaultAppHost = "open.feishu.cn"

	// logIDHeader carries the platform's request trace id.
	logIDHeader = "X-Tt-Logid"

	// maxErrorBody bounds how much of a non-JSON error body is kept.
	maxErrorBody = 2048
)

// AuthMode selects how requests are authenticated.
type AuthMode string

const (
	AuthApp    AuthMode = "app"
	AuthOAuth2 AuthMode = "oauth2"
)

// ParseAuthMode maps the user-facing names (including the node's
// credential type identifiers) to an AuthMode.
func ParseAuthMode(s string) (AuthMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "app", "tenant", "feishucredentialsapi":
		return AuthApp, nil
	case "oauth2", "user", "feishuoauth2api":
		return AuthOAuth2, nil
	default:
		return "", fmt.Errorf("feishu: unknown authentication mode %q (want app or oauth2)", s)
	}
}

// AppBaseURL turns a configured host ("open.feishu.cn") into a base URL.
func AppBaseURL(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		host = DefaultAppHost
	}

	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return strings.TrimRight(host, "/")
	}

	return "https://" + strings.TrimRight(host, "/")
}

// TokenSource provides bearer tokens. rejected is a token the platform
// refused on the previous attempt; the source must not hand it out again.
// Empty means any cached token is acceptable. Defined at the consumer so
// both credential kinds and test doubles satisfy it.
type TokenSource interface {
	Token(ctx context.Context, rejected string) (string, error)
}

// RetryPolicy decides whether a failed request is re-issued with a fresh
// credential.
type RetryPolicy struct {
	MaxRetries  int
	ShouldRetry func(error) bool
}

// ExpiredTokenRetry re-issues a request exactly once when the platform
// reports an expired access token.
var ExpiredTokenRetry = RetryPolicy{MaxRetries: 1, ShouldRetry: IsExpiredToken}

// NoRetry never re-issues.
var NoRetry = RetryPolicy{}

// Request describes one platform call. Body is JSON-encoded; Form, when
// set, takes precedence and is sent as multipart/form-data. Both are
// re-encoded on every attempt.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Body    any
	Form    *Form
	Timeout time.Duration
}

// Client is the request gateway for one credential. It is safe for
// concurrent use.
type Client struct {
	baseURL    string
	mode       AuthMode
	httpClient *http.Client
	tokens     TokenSource
	retry      RetryPolicy
	logger     *slog.Logger
}

// NewClient creates a gateway. App-credential clients retry once on an
// expired token; OAuth2 clients leave refresh to the oauth2 token source.
func NewClient(mode AuthMode, baseURL string, httpClient *http.Client, tokens TokenSource, logger *slog.Logger) *Client {
	if tokens == nil {
		panic("feishu: NewClient called with nil TokenSource")
	}

	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	retry := NoRetry
	if mode == AuthApp {
		retry = ExpiredTokenRetry
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		mode:       mode,
		httpClient: httpClient,
		tokens:     tokens,
		retry:      retry,
		logger:     logger,
	}
}

// Mode returns the client's authentication mode.
func (c *Client) Mode() AuthMode {
	return c.mode
}

// Send performs the request and returns the decoded payload: the
// envelope's data member, or the whole body when data is absent.
func (c *Client) Send(ctx context.Context, req *Request) (any, error) {
	raw, err := c.SendRaw(ctx, req)
	if err != nil {
		return nil, err
	}

	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("feishu: %s %s: decoding payload: %w", req.Method, req.Path, err)
	}

	return out, nil
}

// Decode performs the request and unmarshals the payload into v.
func (c *Client) Decode(ctx context.Context, req *Request, v any) error {
	raw, err := c.SendRaw(ctx, req)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("feishu: %s %s: decoding payload: %w", req.Method, req.Path, err)
	}

	return nil
}

// SendRaw performs the request and returns the undecoded payload bytes.
func (c *Client) SendRaw(ctx context.Context, req *Request) (json.RawMessage, error) {
	var payload []byte

	err := c.withRetry(ctx, req, func(rejected string) (string, error) {
		resp, err := c.roundTrip(ctx, req, rejected)
		if err != nil {
			return "", err
		}

		payload, err = unwrapEnvelope(resp)

		return resp.bearer, err
	})
	if err != nil {
		return nil, err
	}

	return payload, nil
}

// withRetry runs attempt, re-running it with a fresh credential while the
// retry policy allows. attempt returns the token it sent so the retry can
// name it as rejected.
func (c *Client) withRetry(ctx context.Context, req *Request, attempt func(rejected string) (string, error)) error {
	rejected := ""

	for retries := 0; ; retries++ {
		used, err := attempt(rejected)
		if err == nil {
			c.logger.Debug("request succeeded",
				slog.String("method", req.Method),
				slog.String("path", req.Path),
				slog.Int("retries", retries),
			)

			return nil
		}

		if ctx.Err() != nil {
			return fmt.Errorf("feishu: request canceled: %w", ctx.Err())
		}

		if retries < c.retry.MaxRetries && c.retry.ShouldRetry != nil && c.retry.ShouldRetry(err) {
			c.logger.Warn("retrying with fresh credential",
				slog.String("method", req.Method),
				slog.String("path", req.Path),
				slog.Int("attempt", retries+1),
				slog.String("error", err.Error()),
			)

			rejected = used

			continue
		}

		c.logger.Debug("request failed",
			slog.String("method", req.Method),
			slog.String("path", req.Path),
			slog.Int("retries", retries),
			slog.String("error", err.Error()),
		)

		return err
	}
}

// response is a fully read HTTP response and the token that was sent.
type response struct {
	status int
	header http.Header
	body   []byte
	bearer string
}

// roundTrip executes one attempt: it encodes the body, applies the
// credential and the per-request timeout, and reads the whole response.
func (c *Client) roundTrip(ctx context.Context, req *Request, rejected string) (*response, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	body, contentType, err := encodeBody(req)
	if err != nil {
		return nil, err
	}

	target := c.baseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("feishu: creating request: %w", err)
	}

	tok, err := c.tokens.Token(ctx, rejected)
	if err != nil {
		return nil, fmt.Errorf("feishu: obtaining token: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+tok)
	httpReq.Header.Set("User-Agent", userAgent)

	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrTransport, req.Method, req.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: reading body: %w", ErrTransport, req.Method, req.Path, err)
	}

	return &response{status: resp.StatusCode, header: resp.Header, body: data, bearer: tok}, nil
}

// encodeBody builds a fresh body reader for one attempt.
func encodeBody(req *Request) (io.Reader, string, error) {
	if req.Form != nil {
		return req.Form.encode()
	}

	if req.Body == nil {
		return nil, "", nil
	}

	var data []byte

	switch b := req.Body.(type) {
	case json.RawMessage:
		data = b
	case []byte:
		data = b
	default:
		var err error
		if data, err = json.Marshal(b); err != nil {
			return nil, "", fmt.Errorf("feishu: encoding request body: %w", err)
		}
	}

	return bytes.NewReader(data), "application/json; charset=utf-8", nil
}

// envelope is the platform's uniform response wrapper.
type envelope struct {
	Code  *int            `json:"code"`
	Msg   string          `json:"msg"`
	Data  json.RawMessage `json:"data"`
	Error json.RawMessage `json:"error"`
}

// unwrapEnvelope applies the envelope rules: code 0 or absent is success
// and yields data (or the whole body when data is absent); any other code
// is an APIError.
func unwrapEnvelope(resp *response) ([]byte, error) {
	logID := resp.header.Get(logIDHeader)

	var env envelope
	if err := json.Unmarshal(resp.body, &env); err != nil {
		if !isSuccess(resp.status) {
			return nil, &APIError{
				StatusCode: resp.status,
				Msg:        truncate(string(resp.body)),
				LogID:      logID,
				Err:        ErrHTTP,
			}
		}

		if json.Valid(resp.body) {
			return resp.body, nil
		}

		return nil, fmt.Errorf("feishu: response is not JSON (status %d): %s", resp.status, truncate(string(resp.body)))
	}

	if env.Code != nil && *env.Code != CodeOK {
		return nil, &APIError{
			StatusCode: resp.status,
			Code:       *env.Code,
			Msg:        env.Msg,
			Detail:     env.Error,
			LogID:      logID,
			Err:        classifyCode(*env.Code),
		}
	}

	if !isSuccess(resp.status) {
		return nil, &APIError{
			StatusCode: resp.status,
			Msg:        truncate(string(resp.body)),
			LogID:      logID,
			Err:        ErrHTTP,
		}
	}

	if len(env.Data) > 0 && string(env.Data) != "null" {
		return env.Data, nil
	}

	return resp.body, nil
}

func isSuccess(status int) bool {
	return status >= http.StatusOK && status < http.StatusMultipleChoices
}

func truncate(s string) string {
	if len(s) <= maxErrorBody {
		return s
	}

	return s[:maxErrorBody] + "..."
}
