/*
 * Copyright (c) 2025, bin2nlp authors. All rights reserved.
 * See LICENSE for license information.
 */

package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrCircuitOpen is returned when a provider's circuit rejects the call.
var ErrCircuitOpen = errors.New("circuit breaker open")

// ProviderError wraps a failed provider HTTP call with enough context to
// classify it for retry.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider %s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsRetryableError reports whether the error is transient: 429, 5xx,
// timeouts and network failures. Auth and validation failures (other 4xx)
// are not retried.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		if pe.StatusCode == 429 {
			return true
		}
		if pe.StatusCode >= 500 {
			return true
		}
		if pe.StatusCode >= 400 {
			return false
		}
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}
