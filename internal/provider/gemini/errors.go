package gemini

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// ErrorType classifies Gemini API errors for credential disposition and
// caller retry decisions.
type ErrorType int

const (
	ErrRateLimit  ErrorType = iota // HTTP 429, quota exhausted
	ErrAuth                        // HTTP 401, 403: key revoked or unauthorized
	ErrOverloaded                  // HTTP 500, 502, 503
	ErrTimeout                     // request deadline exceeded
	ErrMalformed                   // JSON parse failure
	ErrUnknown                     // anything else
)

// String returns the human-readable name of the error type.
func (e ErrorType) String() string {
	switch e {
	case ErrRateLimit:
		return "rate_limit"
	case ErrAuth:
		return "auth_error"
	case ErrOverloaded:
		return "overloaded"
	case ErrTimeout:
		return "timeout"
	case ErrMalformed:
		return "malformed_response"
	default:
		return "unknown"
	}
}

// ClassifiedError wraps an API error with its classification. It
// implements the keypool disposition interfaces so a scoped credential
// session can translate it into a cooldown or quarantine.
type ClassifiedError struct {
	Type       ErrorType
	StatusCode int
	Message    string
	RetryAfter time.Duration // only set for rate limit errors
}

func (e *ClassifiedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("gemini %s (HTTP %d): %s (retry after %s)", e.Type, e.StatusCode, e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("gemini %s (HTTP %d): %s", e.Type, e.StatusCode, e.Message)
}

// CredentialFatal reports whether the key that made this call must be
// quarantined. Only authorization rejections are fatal.
func (e *ClassifiedError) CredentialFatal() bool {
	return e.Type == ErrAuth
}

// RateLimited reports whether this was a quota rejection.
func (e *ClassifiedError) RateLimited() bool {
	return e.Type == ErrRateLimit
}

// geminiErrorBody is the JSON error envelope returned by the API.
type geminiErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// classifyHTTPError classifies a non-200 HTTP response.
func classifyHTTPError(resp *http.Response) *ClassifiedError {
	body, _ := io.ReadAll(resp.Body)

	var errBody geminiErrorBody
	json.Unmarshal(body, &errBody) //nolint:errcheck // best-effort parse

	msg := errBody.Error.Message
	if msg == "" {
		msg = string(body)
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return &ClassifiedError{
			Type:       ErrRateLimit,
			StatusCode: resp.StatusCode,
			Message:    msg,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}

	case http.StatusUnauthorized, http.StatusForbidden:
		return &ClassifiedError{
			Type:       ErrAuth,
			StatusCode: resp.StatusCode,
			Message:    msg,
		}

	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return &ClassifiedError{
			Type:       ErrOverloaded,
			StatusCode: resp.StatusCode,
			Message:    msg,
		}

	default:
		return &ClassifiedError{
			Type:       ErrUnknown,
			StatusCode: resp.StatusCode,
			Message:    msg,
		}
	}
}

// parseRetryAfter parses the Retry-After header value as seconds.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	secs, err := strconv.Atoi(header)
	if err != nil {
		return 0
	}
	return time.Duration(secs) * time.Second
}
