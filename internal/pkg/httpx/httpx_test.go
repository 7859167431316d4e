package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

type statusErr struct {
	code int
}

func (e *statusErr) Error() string       { return fmt.Sprintf("http %d", e.code) }
func (e *statusErr) HTTPStatusCode() int { return e.code }

func TestIsRetryableHTTPStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		code int
		want bool
	}{
		{code: 200, want: false},
		{code: 400, want: false},
		{code: 401, want: false},
		{code: 404, want: false},
		{code: 408, want: true},
		{code: 429, want: true},
		{code: 500, want: true},
		{code: 502, want: true},
		{code: 503, want: true},
		{code: 599, want: true},
		{code: 600, want: false},
	}
	for _, tc := range cases {
		if got := IsRetryableHTTPStatus(tc.code); got != tc.want {
			t.Errorf("IsRetryableHTTPStatus(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestIsRetryableError(t *testing.T) {
	t.Parallel()

	if IsRetryableError(nil) {
		t.Error("nil error reported retryable")
	}
	if IsRetryableError(errors.New("validation failed")) {
		t.Error("plain error reported retryable")
	}
	if !IsRetryableError(&statusErr{code: 503}) {
		t.Error("503 not retryable")
	}
	if IsRetryableError(&statusErr{code: 400}) {
		t.Error("400 reported retryable")
	}
	if !IsRetryableError(fmt.Errorf("request: %w", &statusErr{code: 429})) {
		t.Error("wrapped 429 not retryable")
	}
}

func TestRetryAfterDuration(t *testing.T) {
	t.Parallel()

	resp := &http.Response{Header: http.Header{}}
	resp.Header.Set("Retry-After", "3")
	if got := RetryAfterDuration(resp, time.Second, 10*time.Second); got != 3*time.Second {
		t.Fatalf("RetryAfterDuration honored header = %v, want 3s", got)
	}

	resp.Header.Set("Retry-After", "300")
	if got := RetryAfterDuration(resp, time.Second, 10*time.Second); got != 10*time.Second {
		t.Fatalf("RetryAfterDuration cap = %v, want 10s", got)
	}

	if got := RetryAfterDuration(nil, 2*time.Second, 10*time.Second); got != 2*time.Second {
		t.Fatalf("RetryAfterDuration fallback = %v, want 2s", got)
	}

	resp.Header.Set("Retry-After", "soon")
	if got := RetryAfterDuration(resp, 2*time.Second, 10*time.Second); got != 2*time.Second {
		t.Fatalf("RetryAfterDuration unparseable header = %v, want fallback", got)
	}
}

func TestJitterSleepStaysNearBase(t *testing.T) {
	t.Parallel()

	if got := JitterSleep(0); got != 0 {
		t.Fatalf("JitterSleep(0) = %v", got)
	}

	base := time.Second
	for i := 0; i < 100; i++ {
		got := JitterSleep(base)
		if got < 800*time.Millisecond || got > 1200*time.Millisecond {
			t.Fatalf("JitterSleep(%v) = %v, outside the 20%% band", base, got)
		}
	}
}
