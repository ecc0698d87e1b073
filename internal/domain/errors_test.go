package domain

import (
	"errors"
	"net/http"
	"testing"
)

func TestCoreErrorHTTPStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  *CoreError
		want int
	}{
		{"validation", ErrValidation("bad"), http.StatusBadRequest},
		{"not found", ErrNotFound("missing"), http.StatusNotFound},
		{"configuration", ErrConfiguration("broken"), http.StatusInternalServerError},
		{"timeout", ErrTimeout("slow"), http.StatusGatewayTimeout},
		{"provider", ErrProvider("down"), http.StatusBadGateway},
		{"tool", ErrUnknownTool("calc"), http.StatusBadGateway},
		{"cancelled", ErrCancelled("gone"), 499},
		{"explicit override", ErrValidation("limited").WithStatusCode(http.StatusTooManyRequests), http.StatusTooManyRequests},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.HTTPStatusCode(); got != tt.want {
				t.Errorf("HTTPStatusCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCoreErrorMessageIncludesCode(t *testing.T) {
	err := ErrProvider("rate limited").WithCode(ErrorCodeRateLimited)
	want := "provider (rate_limited): rate limited"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestCoreErrorUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := ErrProvider("unreachable").WithCause(cause)
	if !errors.Is(err, cause) {
		t.Error("wrapped cause not reachable via errors.Is")
	}
}

func TestAsCoreError(t *testing.T) {
	ce := ErrValidation("no")
	if got := AsCoreError(ce); got != ce {
		t.Error("core errors should pass through unchanged")
	}

	plain := errors.New("something broke")
	got := AsCoreError(plain)
	if got.Type != ErrorTypeServer {
		t.Errorf("plain error type = %s, want server", got.Type)
	}
	if !errors.Is(got, plain) {
		t.Error("normalized error should wrap the original")
	}

	if AsCoreError(nil) != nil {
		t.Error("nil in, nil out")
	}
}

func TestIsFatalToChain(t *testing.T) {
	if !IsFatalToChain(ErrProvider("down")) {
		t.Error("provider errors abort the chain")
	}
	if !IsFatalToChain(ErrTimeout("slow")) {
		t.Error("timeouts abort the chain")
	}
	if IsFatalToChain(ErrValidation("bad")) {
		t.Error("validation errors are pre-run, not chain-fatal")
	}
}
