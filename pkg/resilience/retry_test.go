// Copyright 2026 © The Kopl Authors
// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	kerrors "github.com/jllopis/kopl/pkg/errors"
)

func fastConfig() RetryConfig {
	return DefaultRetryConfig().WithInitialDelay(time.Millisecond).WithMaxDelay(5 * time.Millisecond)
}

func TestRetrySuccess(t *testing.T) {
	attempts := 0
	err := fastConfig().Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient error")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryMaxAttemptsExceeded(t *testing.T) {
	attempts := 0
	err := fastConfig().WithMaxAttempts(2).Do(context.Background(), func() error {
		attempts++
		return errors.New("always fails")
	})
	if err == nil {
		t.Fatalf("expected error after max attempts")
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestRetryNotRecoverable(t *testing.T) {
	cases := []struct {
		name string
		err  error
	}{
		{"marked", kerrors.New(kerrors.CodeLLMError, "bad request", nil).WithRecoverable(false)},
		{"canceled", context.Canceled},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			attempts := 0
			err := fastConfig().Do(context.Background(), func() error {
				attempts++
				return tc.err
			})
			if !errors.Is(err, tc.err) {
				t.Fatalf("expected %v, got %v", tc.err, err)
			}
			if attempts != 1 {
				t.Fatalf("expected 1 attempt, got %d", attempts)
			}
		})
	}
}

func TestRetryContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := DefaultRetryConfig().WithInitialDelay(time.Second)

	attempts := 0
	err := cfg.Do(ctx, func() error {
		attempts++
		cancel()
		return errors.New("transient error")
	})
	if !kerrors.HasCode(err, kerrors.CodeContextLost) {
		t.Fatalf("expected CONTEXT_LOST, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestRetryGenericResult(t *testing.T) {
	attempts := 0
	got, err := Retry(context.Background(), fastConfig(), func() (string, error) {
		attempts++
		if attempts < 2 {
			return "", kerrors.New(kerrors.CodeLLMError, "rate limited", nil).WithRecoverable(true)
		}
		return "Final Answer: 2", nil
	})
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if got != "Final Answer: 2" || attempts != 2 {
		t.Fatalf("unexpected result %q after %d attempts", got, attempts)
	}
}
