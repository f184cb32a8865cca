package command

import (
	"errors"
	"fmt"
	"net/http"
)

// ConfigError reports malformed pipeline input. It is always surfaced before
// any network traffic.
type ConfigError struct {
	Op  string // stage or field that rejected the input
	Msg string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config: %s: %s: %v", e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("config: %s: %s", e.Op, e.Msg)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError builds a ConfigError for op.
func NewConfigError(op, format string, args ...any) *ConfigError {
	return &ConfigError{Op: op, Msg: fmt.Sprintf(format, args...)}
}

// ProviderError wraps a failure from the provider adapter. When a
// recognizable HTTP-like status is present, Hint carries an actionable
// suggestion for the caller.
type ProviderError struct {
	Op         string
	HTTPStatus int
	Hint       string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("provider: %s (status %d): %v", e.Op, e.HTTPStatus, e.Err)
	}
	return fmt.Sprintf("provider: %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// WrapProvider annotates err with op and a status-derived hint.
func WrapProvider(op string, status int, err error) *ProviderError {
	return &ProviderError{Op: op, HTTPStatus: status, Hint: hintForStatus(status), Err: err}
}

func hintForStatus(status int) string {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return "check the API key and project permissions"
	case http.StatusTooManyRequests:
		return "rate limited; lower concurrency or upgrade the tier"
	case http.StatusBadRequest:
		return "the request was rejected; inspect prompt and source MIME types"
	case http.StatusServiceUnavailable, http.StatusInternalServerError, http.StatusBadGateway:
		return "provider-side trouble; retry later"
	default:
		return ""
	}
}

// IsConfigError reports whether err is (or wraps) a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsProviderError reports whether err is (or wraps) a ProviderError.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}
