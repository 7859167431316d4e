package apierr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

func NotFound(code string, err error) *Error {
	return New(http.StatusNotFound, code, err)
}

func Unauthorized(code string, err error) *Error {
	return New(http.StatusUnauthorized, code, err)
}

// FromUpstream classifies a provider failure. Timeout-shaped errors map to
// 504 so clients can offer a retry; everything else is a generic 500.
func FromUpstream(err error) *Error {
	if IsTimeout(err) {
		return New(http.StatusGatewayTimeout, "upstream_timeout", err)
	}
	return New(http.StatusInternalServerError, "upstream_failure", err)
}

func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "timed out") ||
		strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "etimedout") ||
		strings.Contains(msg, "econnaborted")
}
