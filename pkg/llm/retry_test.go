/*
 * Copyright (c) 2025, bin2nlp authors. All rights reserved.
 * See LICENSE for license information.
 */

package llm

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	r := NewRetrier(fastRetryConfig())
	attempts := 0

	err := r.Do(context.Background(), func(ctx context.Context, attempt int) error {
		attempts++
		if attempts < 3 {
			return &ProviderError{Provider: "openai", StatusCode: 503, Message: "unavailable"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	r := NewRetrier(fastRetryConfig())
	attempts := 0

	err := r.Do(context.Background(), func(ctx context.Context, attempt int) error {
		attempts++
		return &ProviderError{Provider: "openai", StatusCode: 401, Message: "bad key"}
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	r := NewRetrier(fastRetryConfig())
	attempts := 0

	err := r.Do(context.Background(), func(ctx context.Context, attempt int) error {
		attempts++
		return &ProviderError{Provider: "openai", StatusCode: 429, Message: "rate limited"}
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryObservesCancellation(t *testing.T) {
	r := NewRetrier(&RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	})
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := r.Do(ctx, func(ctx context.Context, attempt int) error {
		attempts++
		return &ProviderError{Provider: "openai", StatusCode: 500, Message: "boom"}
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestDoWithResult(t *testing.T) {
	r := NewRetrier(fastRetryConfig())
	attempts := 0

	got, err := DoWithResult(context.Background(), r, func(ctx context.Context, attempt int) (string, error) {
		attempts++
		if attempts < 2 {
			return "", fmt.Errorf("%w", &ProviderError{Provider: "gemini", StatusCode: 500})
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 2, attempts)
}

func TestIsRetryableError(t *testing.T) {
	assert.True(t, IsRetryableError(&ProviderError{StatusCode: 429}))
	assert.True(t, IsRetryableError(&ProviderError{StatusCode: 500}))
	assert.True(t, IsRetryableError(&ProviderError{StatusCode: 503}))
	assert.True(t, IsRetryableError(context.DeadlineExceeded))
	assert.False(t, IsRetryableError(&ProviderError{StatusCode: 400}))
	assert.False(t, IsRetryableError(&ProviderError{StatusCode: 401}))
	assert.False(t, IsRetryableError(&ProviderError{StatusCode: 422}))
	assert.False(t, IsRetryableError(ErrCircuitOpen))
	assert.False(t, IsRetryableError(context.Canceled))
	assert.False(t, IsRetryableError(nil))
}
