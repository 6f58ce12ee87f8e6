package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestStatusByCode(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeAgentNotFound, http.StatusNotFound},
		{CodeMCPNotFound, http.StatusNotFound},
		{CodeInvalidRequest, http.StatusBadRequest},
		{CodeUnauthorized, http.StatusUnauthorized},
		{CodeInternal, http.StatusInternalServerError},
		{Code("SOMETHING_ELSE"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := New(tt.code, "").Status(); got != tt.want {
			t.Errorf("status for %s = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestDefaultMessage(t *testing.T) {
	if got := New(CodeAgentNotFound, "").Message(); got != "agent not found" {
		t.Errorf("unexpected default message %q", got)
	}
}

func TestFromWrapped(t *testing.T) {
	base := New(CodeInvalidRequest, "bad transport")
	wrapped := fmt.Errorf("create mcp: %w", base)

	got := From(wrapped)
	if got.Code() != CodeInvalidRequest || got.Message() != "bad transport" {
		t.Errorf("unexpected error %v", got)
	}
	if !errors.Is(wrapped, New(CodeInvalidRequest, "other")) {
		t.Error("expected errors.Is to match by code")
	}
}

func TestFromPlainErrorIsInternal(t *testing.T) {
	cause := errors.New("disk on fire")
	got := From(cause)
	if got.Code() != CodeInternal {
		t.Errorf("expected internal code, got %s", got.Code())
	}
	if !errors.Is(got, cause) {
		t.Error("expected cause to be preserved")
	}
}
