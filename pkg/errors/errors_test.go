package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNewError(t *testing.T) {
	t.Parallel()

	t.Run("creates error with all defaults", func(t *testing.T) {
		err := NewError(ErrCodeInvalidConfig, "configuration is invalid")
		if err.Code != ErrCodeInvalidConfig {
			t.Errorf("Code = %v, want %v", err.Code, ErrCodeInvalidConfig)
		}
		if err.Category != CategoryConfiguration {
			t.Errorf("Category = %v, want %v", err.Category, CategoryConfiguration)
		}
		if err.Details == nil || err.Context == nil {
			t.Error("Details and Context maps should be initialized")
		}
		if err.Timestamp.IsZero() {
			t.Error("Timestamp not set")
		}
	})

	t.Run("sets correct retryable defaults", func(t *testing.T) {
		if !NewError(ErrCodeLockRejected, "lock rejected").Retryable {
			t.Error("LockRejected should be retryable by default")
		}
		if NewError(ErrCodeRemoteNotFound, "missing").Retryable {
			t.Error("RemoteNotFound should not be retryable by default")
		}
	})
}

func TestGetCategory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code     ErrorCode
		expected ErrorCategory
	}{
		{ErrCodeInvalidConfig, CategoryConfiguration},
		{ErrCodeConfigLoad, CategoryConfiguration},
		{ErrCodeConnectionFailed, CategoryConnection},
		{ErrCodeHostKeyMismatch, CategoryConnection},
		{ErrCodeRemoteNotSupported, CategoryRemote},
		{ErrCodeCommandFailed, CategoryRemote},
		{ErrCodeMountInUse, CategoryFilesystem},
		{ErrCodeInvalidState, CategoryState},
		{ErrCodeRetryExhausted, CategoryOperation},
		{ErrCodeLockUnavailable, CategoryLock},
		{ErrCodeCredentialsMissing, CategoryAuth},
		{ErrCodePanicRecovered, CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := GetCategory(tt.code); got != tt.expected {
				t.Errorf("GetCategory(%v) = %v, want %v", tt.code, got, tt.expected)
			}
		})
	}
}

func TestSSHFSError_Error(t *testing.T) {
	t.Parallel()

	cause := fmt.Errorf("dial tcp: refused")
	err := Wrap(ErrCodeConnectionFailed, "cannot reach host", cause).
		WithComponent("remote").
		WithOperation("dial")

	msg := err.Error()
	for _, want := range []string{"[remote:dial]", "CONNECTION_FAILED", "cannot reach host", "refused"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}
}

func TestSSHFSError_Is(t *testing.T) {
	t.Parallel()

	a := NewError(ErrCodeMountInUse, "drive X in use")
	b := NewError(ErrCodeMountInUse, "other message")
	c := NewError(ErrCodeMountFailed, "drive X in use")

	if !errors.Is(fmt.Errorf("wrapped: %w", a), b) {
		t.Error("errors with the same code should match")
	}
	if errors.Is(a, c) {
		t.Error("errors with different codes should not match")
	}

	var target *SSHFSError
	if !errors.As(fmt.Errorf("wrapped: %w", a), &target) || target.Code != ErrCodeMountInUse {
		t.Error("errors.As should extract the structured error")
	}
}

func TestBuilders(t *testing.T) {
	t.Parallel()

	err := NewError(ErrCodeRemoteFailure, "stat failed").
		WithContext("path", "/a").
		WithDetail("attempt", 2).
		WithRetryable(false)

	if err.Context["path"] != "/a" {
		t.Errorf("Context[path] = %q", err.Context["path"])
	}
	if err.Details["attempt"] != 2 {
		t.Errorf("Details[attempt] = %v", err.Details["attempt"])
	}
	if err.Retryable {
		t.Error("WithRetryable(false) should override the default")
	}
	if !strings.Contains(err.String(), "Details=") {
		t.Errorf("String() = %q, want details", err.String())
	}
}
