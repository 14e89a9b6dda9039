// Package feishu provides the request gateway for the Feishu/Lark open
// platform: authentication, envelope unwrapping, error classification and
// the single expired-token retry.
package feishu

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Platform codes with dedicated handling.
const (
	CodeOK              = 0
	CodeTokenExpired    = 99991663
	CodeTokenInvalid    = 99991661
	CodeRateLimited     = 99991400
	CodeNoPermission    = 99991672
	CodeAppTokenInvalid = 99991664
)

// Sentinel errors. Use errors.Is(err, feishu.ErrTokenExpired) to check.
var (
	ErrAPI           = errors.New("feishu: api error")
	ErrTokenExpired  = errors.New("feishu: access token expired")
	ErrTokenInvalid  = errors.New("feishu: access token invalid")
	ErrRateLimited   = errors.New("feishu: rate limited")
	ErrNoPermission  = errors.New("feishu: permission denied")
	ErrHTTP          = errors.New("feishu: unexpected http status")
	ErrTransport     = errors.New("feishu: transport error")
	ErrNotLoggedIn   = errors.New("feishu: not logged in")
	ErrNoCredentials = errors.New("feishu: app credentials not configured")
)

// APIError is a non-zero envelope code (or a non-JSON error response)
// returned by the platform.
type APIError struct {
	StatusCode int
	Code       int
	Msg        string
	Detail     json.RawMessage // the envelope's "error" member, if any
	LogID      string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("feishu: request error: code %d: %s", e.Code, e.Msg)

	if len(e.Detail) > 0 {
		msg += " " + string(e.Detail)
	}

	if e.LogID != "" {
		msg += fmt.Sprintf(" (log-id: %s)", e.LogID)
	}

	return msg
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyCode maps a platform code to a sentinel error.
func classifyCode(code int) error {
	switch code {
	case CodeTokenExpired:
		return ErrTokenExpired
	case CodeTokenInvalid, CodeAppTokenInvalid:
		return ErrTokenInvalid
	case CodeRateLimited:
		return ErrRateLimited
	case CodeNoPermission:
		return ErrNoPermission
	default:
		return ErrAPI
	}
}

// IsExpiredToken reports whether err is the platform's expired-token
// response. It is the predicate of the default retry policy.
func IsExpiredToken(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}

	return apiErr.Code == CodeTokenExpired
}
