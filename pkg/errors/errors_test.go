/*
 * Copyright (c) 2025, bin2nlp authors. All rights reserved.
 * See LICENSE for license information.
 */

package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusForType(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatusForType(TypeValidation))
	assert.Equal(t, http.StatusRequestEntityTooLarge, HTTPStatusForType(TypePayloadTooLarge))
	assert.Equal(t, http.StatusUnprocessableEntity, HTTPStatusForType(TypeUnsupportedFormat))
	assert.Equal(t, http.StatusUnprocessableEntity, HTTPStatusForType(TypeDecompiler))
	assert.Equal(t, http.StatusUnauthorized, HTTPStatusForType(TypeAuthentication))
	assert.Equal(t, http.StatusForbidden, HTTPStatusForType(TypeAuthorization))
	assert.Equal(t, http.StatusNotFound, HTTPStatusForType(TypeNotFound))
	assert.Equal(t, http.StatusTooManyRequests, HTTPStatusForType(TypeRateLimited))
	assert.Equal(t, http.StatusPaymentRequired, HTTPStatusForType(TypeCostLimit))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatusForType(TypeProviderUnavailable))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatusForType(TypeQueueFull))
	assert.Equal(t, http.StatusRequestTimeout, HTTPStatusForType(TypeTimeout))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusForType(TypeInternal))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusForType("unknown"))
}

func TestBuilderChain(t *testing.T) {
	inner := fmt.Errorf("dial tcp: refused")
	err := NewError().WithType(TypeProviderUnavailable).
		WithMessagef("provider %s unreachable", "openai").
		WithError(inner).
		WithDetail("provider", "openai")

	assert.Equal(t, TypeProviderUnavailable, err.Type)
	assert.Equal(t, http.StatusServiceUnavailable, err.HTTPStatus)
	assert.Equal(t, "provider openai unreachable", err.Message)
	assert.Equal(t, inner, err.Unwrap())
	assert.Equal(t, "openai", err.Details["provider"])
	assert.Contains(t, err.Error(), "dial tcp: refused")
	assert.NotEmpty(t, err.GetTopStackString())
}

func TestWithHTTPStatusOverride(t *testing.T) {
	err := NewValidation("file too large").WithHTTPStatus(http.StatusRequestEntityTooLarge)
	assert.Equal(t, TypeValidation, err.Type)
	assert.Equal(t, http.StatusRequestEntityTooLarge, err.HTTPStatus)
}

func TestIsNotFound(t *testing.T) {
	err := NewNotFound("job", "dec_0123")
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Message, "dec_0123")

	err2 := fmt.Errorf("test")
	assert.False(t, IsNotFound(err2))

	err3 := NewInternal("test")
	assert.False(t, IsNotFound(err3))

	wrapped := fmt.Errorf("outer: %w", err)
	assert.True(t, IsNotFound(wrapped))
}

func TestIgnoreNotFound(t *testing.T) {
	assert.NoError(t, IgnoreNotFound(nil))
	assert.NoError(t, IgnoreNotFound(NewNotFound("job", "x")))
	assert.Error(t, IgnoreNotFound(NewInternal("boom")))
}

func TestWrapError(t *testing.T) {
	inner := fmt.Errorf("read: eof")
	err := WrapError(inner, "session terminated", TypeDecompiler)
	assert.Equal(t, TypeDecompiler, err.Type)
	assert.Equal(t, http.StatusUnprocessableEntity, err.HTTPStatus)
	assert.Equal(t, inner, err.Unwrap())
}
