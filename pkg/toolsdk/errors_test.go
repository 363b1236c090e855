package toolsdk

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestToolErrorFormatting(t *testing.T) {
	err := NewExecutionError("filesystem", "walk failed", errors.New("permission denied"))
	msg := err.Error()
	if !strings.Contains(msg, "execution_error") || !strings.Contains(msg, "filesystem") || !strings.Contains(msg, "walk failed") {
		t.Fatalf("message = %q", msg)
	}

	// Message falls back to the cause when empty.
	err = &ToolError{Code: CodeConnection, Cause: errors.New("dial tcp: refused")}
	if !strings.Contains(err.Error(), "dial tcp: refused") {
		t.Fatalf("message = %q", err.Error())
	}
}

func TestToolErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	wrapped := fmt.Errorf("invoke: %w", NewTimeoutError("system", "took too long"))

	var te *ToolError
	if !errors.As(wrapped, &te) {
		t.Fatal("errors.As failed through wrapping")
	}
	if te.Code != CodeTimeout {
		t.Fatalf("code = %s", te.Code)
	}

	err := NewAuthenticationError("mail", "bad token", cause)
	if !errors.Is(err, cause) {
		t.Fatal("errors.Is failed to reach the cause")
	}
}

func TestCodeOf(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorCode
	}{
		{NewAuthenticationError("t", "m", nil), CodeAuthentication},
		{NewConnectionError("t", "m", nil), CodeConnection},
		{NewCapabilityNotFoundError("t", "c"), CodeCapabilityNotFound},
		{NewParameterValidationError("t", "m", nil), CodeParameterValidation},
		{NewTimeoutError("t", "m"), CodeTimeout},
		{fmt.Errorf("wrapped: %w", NewTimeoutError("t", "m")), CodeTimeout},
		{errors.New("plain"), CodeExecution},
	}
	for i, tc := range cases {
		if got := CodeOf(tc.err); got != tc.want {
			t.Errorf("case %d: CodeOf = %s, want %s", i, got, tc.want)
		}
	}
}

func TestIsParameterValidation(t *testing.T) {
	if !IsParameterValidation(NewParameterValidationError("t", "bad", nil)) {
		t.Fatal("expected true for parameter validation error")
	}
	if IsParameterValidation(NewTimeoutError("t", "slow")) {
		t.Fatal("expected false for timeout error")
	}
}
