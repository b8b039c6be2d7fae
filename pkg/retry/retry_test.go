package retry

import (
	"context"
	stderr "errors"
	"fmt"
	"testing"
	"time"

	"github.com/sshfs/sshfs/pkg/errors"
)

func fastConfig(attempts int) Config {
	config := DefaultConfig()
	config.MaxAttempts = attempts
	config.InitialDelay = time.Millisecond
	config.MaxDelay = 5 * time.Millisecond
	config.Jitter = false
	return config
}

func TestRetryer_Success(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := New(fastConfig(3)).Do(func() error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestRetryer_RetryableError(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := New(fastConfig(3)).Do(func() error {
		attempts++
		if attempts < 3 {
			return errors.NewError(errors.ErrCodeLockRejected, "status 503")
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetryer_NonRetryableError(t *testing.T) {
	t.Parallel()

	attempts := 0
	testErr := errors.NewError(errors.ErrCodeRemoteNotFound, "no such file")

	err := New(fastConfig(3)).Do(func() error {
		attempts++
		return testErr
	})

	if !stderr.Is(err, testErr) {
		t.Errorf("Expected original error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt (no retry), got %d", attempts)
	}
}

func TestRetryer_Exhausted(t *testing.T) {
	t.Parallel()

	var retries []int
	config := fastConfig(4)
	config.OnRetry = func(attempt int, err error, delay time.Duration) {
		retries = append(retries, attempt)
	}

	cause := errors.NewError(errors.ErrCodeNetworkError, "reset by peer")
	err := New(config).Do(func() error { return cause })

	var sErr *errors.SSHFSError
	if !stderr.As(err, &sErr) || sErr.Code != errors.ErrCodeRetryExhausted {
		t.Fatalf("Expected RETRY_EXHAUSTED, got %v", err)
	}
	if !stderr.Is(err, cause) {
		t.Error("exhausted error should wrap the last cause")
	}
	if len(retries) != 3 {
		t.Errorf("Expected OnRetry 3 times, got %v", retries)
	}
}

func TestRetryer_RetryIf(t *testing.T) {
	t.Parallel()

	config := fastConfig(3)
	config.RetryIf = func(err error) bool { return true }

	attempts := 0
	_ = New(config).Do(func() error {
		attempts++
		return fmt.Errorf("plain error")
	})

	if attempts != 3 {
		t.Errorf("RetryIf should force retries of plain errors, got %d attempts", attempts)
	}
}

func TestRetryer_ContextCanceled(t *testing.T) {
	t.Parallel()

	config := fastConfig(10)
	config.InitialDelay = time.Second
	config.MaxDelay = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := New(config).DoWithContext(ctx, func(context.Context) error {
		attempts++
		cancel()
		return errors.NewError(errors.ErrCodeNetworkError, "down")
	})

	if !stderr.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestCalculateDelay(t *testing.T) {
	t.Parallel()

	r := New(Config{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     300 * time.Millisecond,
		Multiplier:   2,
	})

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 300 * time.Millisecond},
		{4, 300 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := r.calculateDelay(tt.attempt); got != tt.want {
			t.Errorf("calculateDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	r := New(Config{})
	def := DefaultConfig()
	if r.Config().MaxAttempts != def.MaxAttempts || r.Config().Multiplier != def.Multiplier {
		t.Errorf("zero config should take defaults, got %+v", r.Config())
	}
	if r.WithMaxAttempts(2).Config().MaxAttempts != 2 {
		t.Error("WithMaxAttempts did not apply")
	}
}
