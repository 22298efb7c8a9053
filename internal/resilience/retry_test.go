// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(n int) RetryConfig {
	return RetryConfig{
		MaxRetries:      n,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2.0,
	}
}

func TestRetryWithBackoff_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), fastRetry(3), func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryWithBackoff_RetriesTransientPredictorErrors(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), fastRetry(3), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return NewTransientError("model busy", nil)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryWithBackoff_StopsOnPermanentError(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), fastRetry(5), func(ctx context.Context) error {
		calls++
		return NewPermanentError("unsupported label set", nil)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryWithBackoff_DoesNotRetryDeadline(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), fastRetry(5), func(ctx context.Context) error {
		calls++
		return fmt.Errorf("predict: %w", context.DeadlineExceeded)
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, calls)
}

func TestRetryWithBackoff_ExhaustsRetries(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), fastRetry(3), func(ctx context.Context) error {
		calls++
		return NewTransientError("always fails", nil)
	})
	require.Error(t, err)
	assert.Equal(t, 4, calls, "initial attempt plus three retries")
}

func TestRetryWithBackoff_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	cfg := RetryConfig{
		MaxRetries:      10,
		InitialInterval: 100 * time.Millisecond,
		Multiplier:      1.0,
		OnRetry:         func(int, error) { cancel() },
	}
	err := RetryWithBackoff(ctx, cfg, func(ctx context.Context) error {
		calls++
		return NewTransientError("fail", nil)
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetryWithBackoff_OnRetryCallback(t *testing.T) {
	var attempts []int
	cfg := fastRetry(2)
	cfg.OnRetry = func(attempt int, err error) { attempts = append(attempts, attempt) }

	_ = RetryWithBackoff(context.Background(), cfg, func(ctx context.Context) error {
		return NewTransientError("fail", nil)
	})
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestRetryWithResult(t *testing.T) {
	calls := 0
	got, err := RetryWithResult(context.Background(), fastRetry(2), func(ctx context.Context) ([]string, error) {
		calls++
		if calls == 1 {
			return nil, NewTransientError("rate limit", nil)
		}
		return []string{"PERSON"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"PERSON"}, got)
}

func TestModelRetryConfig(t *testing.T) {
	cfg := ModelRetryConfig(2)
	assert.Equal(t, 2, cfg.MaxRetries)
	assert.Greater(t, cfg.Multiplier, 1.0)
	assert.GreaterOrEqual(t, cfg.MaxInterval, cfg.InitialInterval)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		want      ErrorType
		retryable bool
	}{
		{"deadline", context.DeadlineExceeded, ErrorTypeTimeout, false},
		{"canceled", fmt.Errorf("wrapped: %w", context.Canceled), ErrorTypeCanceled, false},
		{"throttled", errors.New("Throttled by upstream"), ErrorTypeTransient, true},
		{"invalid", errors.New("invalid input"), ErrorTypePermanent, false},
		{"unknown", errors.New("boom"), ErrorTypeUnknown, false},
		{"already classified", NewTransientError("x", nil), ErrorTypeTransient, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyError(tt.err)
			assert.Equal(t, tt.want, got.Type)
			assert.Equal(t, tt.retryable, got.Retryable)
		})
	}
	assert.Nil(t, ClassifyError(nil))
	assert.False(t, IsRetryable(nil))
}

func TestClassifiedError_UnwrapsCause(t *testing.T) {
	cause := errors.New("socket closed")
	err := NewTransientError("predict", cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "predict: socket closed", err.Error())
}
