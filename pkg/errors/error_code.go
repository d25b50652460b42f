/*
 * Copyright (c) 2025, bin2nlp authors. All rights reserved.
 * See LICENSE for license information.
 */

package errors

import (
	stderrors "errors"
	"net/http"
)

// Error taxonomy. Every error surfaced by the REST layer carries one of
// these types; the HTTP status is derived from the type unless overridden.
const (
	TypeValidation          = "validation_error"
	TypePayloadTooLarge     = "payload_too_large"
	TypeUnsupportedFormat   = "unsupported_format"
	TypeAuthentication      = "authentication_error"
	TypeAuthorization       = "authorization_error"
	TypeNotFound            = "not_found"
	TypeRateLimited         = "rate_limit_exceeded"
	TypeCostLimit           = "cost_limit_exceeded"
	TypeProviderUnavailable = "provider_unavailable"
	TypeTimeout             = "timeout"
	TypeDecompiler          = "decompiler_error"
	TypeQueueFull           = "queue_full"
	TypeInternal            = "internal_error"
)

func HTTPStatusForType(errType string) int {
	switch errType {
	case TypeValidation:
		return http.StatusBadRequest
	case TypePayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case TypeUnsupportedFormat, TypeDecompiler:
		return http.StatusUnprocessableEntity
	case TypeAuthentication:
		return http.StatusUnauthorized
	case TypeAuthorization:
		return http.StatusForbidden
	case TypeNotFound:
		return http.StatusNotFound
	case TypeRateLimited:
		return http.StatusTooManyRequests
	case TypeCostLimit:
		return http.StatusPaymentRequired
	case TypeProviderUnavailable, TypeQueueFull:
		return http.StatusServiceUnavailable
	case TypeTimeout:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func NewValidation(message string) *Error {
	return newError(2).WithType(TypeValidation).WithMessage(message)
}

func NewPayloadTooLarge(message string) *Error {
	return newError(2).WithType(TypePayloadTooLarge).WithMessage(message)
}

func NewUnauthorized(message string) *Error {
	return newError(2).WithType(TypeAuthentication).WithMessage(message)
}

func NewForbidden(message string) *Error {
	return newError(2).WithType(TypeAuthorization).WithMessage(message)
}

func NewNotFound(kind, name string) *Error {
	return newError(2).WithType(TypeNotFound).
		WithMessagef("%s %s not found", kind, name).
		WithDetail("kind", kind).WithDetail("name", name)
}

func NewNotFoundWithMessage(message string) *Error {
	return newError(2).WithType(TypeNotFound).WithMessage(message)
}

func NewRateLimited(message string, retryAfterSeconds int) *Error {
	return newError(2).WithType(TypeRateLimited).WithMessage(message).
		WithDetail("retry_after_seconds", retryAfterSeconds)
}

func NewCostLimit(message string) *Error {
	return newError(2).WithType(TypeCostLimit).WithMessage(message)
}

func NewProviderUnavailable(message string) *Error {
	return newError(2).WithType(TypeProviderUnavailable).WithMessage(message)
}

func NewTimeout(message string) *Error {
	return newError(2).WithType(TypeTimeout).WithMessage(message)
}

func NewDecompiler(message string) *Error {
	return newError(2).WithType(TypeDecompiler).WithMessage(message)
}

func NewQueueFull(message string) *Error {
	return newError(2).WithType(TypeQueueFull).WithMessage(message)
}

func NewInternal(message string) *Error {
	return newError(2).WithType(TypeInternal).WithMessage(message)
}

func GetType(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	return ""
}

func IsType(err error, errType string) bool {
	return GetType(err) == errType
}

func IsNotFound(err error) bool {
	return IsType(err, TypeNotFound)
}

func IsValidation(err error) bool {
	return IsType(err, TypeValidation)
}

func IgnoreNotFound(err error) error {
	if err == nil || IsNotFound(err) {
		return nil
	}
	return err
}
