package types

import (
	"errors"
	"testing"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrUpstreamError, "upstream failed").
		WithCause(root).
		WithHTTPStatus(502).
		WithRetryable(true).
		WithProvider("openai")

	if GetErrorCode(err) != ErrUpstreamError {
		t.Fatalf("expected code %s, got %s", ErrUpstreamError, GetErrorCode(err))
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable")
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
}

func TestDefaultHTTPStatusAndOpenAIType(t *testing.T) {
	t.Parallel()

	cases := []struct {
		code   ErrorCode
		status int
		typ    string
	}{
		{ErrModelNotFound, 404, "model_not_found"},
		{ErrNoCapableEndpoints, 503, "service_unavailable"},
		{ErrBackpressure, 429, "rate_limit"},
		{ErrForbidden, 403, "forbidden"},
		{ErrUpstreamTimeout, 502, "upstream_error"},
	}
	for _, tc := range cases {
		if got := DefaultHTTPStatus(tc.code); got != tc.status {
			t.Errorf("DefaultHTTPStatus(%s) = %d, want %d", tc.code, got, tc.status)
		}
		if got := OpenAIType(tc.code); got != tc.typ {
			t.Errorf("OpenAIType(%s) = %s, want %s", tc.code, got, tc.typ)
		}
	}

	e := NewError(ErrModelNotFound, "no such model")
	if e.HTTPStatus != 404 {
		t.Errorf("NewError should default HTTPStatus from code, got %d", e.HTTPStatus)
	}
}
