/*
 * Copyright (c) 2025, bin2nlp authors. All rights reserved.
 * See LICENSE for license information.
 */

// Package middleware contains the gin middleware chain of the REST surface.
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	HeaderCorrelationID = "X-Correlation-ID"

	correlationIDKey = "correlation_id"
)

// HandleCorrelation attaches a correlation id to every request: the caller's
// X-Correlation-ID when present, a fresh UUID otherwise. The id is echoed in
// the response and available to every downstream handler and log line.
func HandleCorrelation() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderCorrelationID)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(correlationIDKey, id)
		c.Writer.Header().Set(HeaderCorrelationID, id)
		c.Next()
	}
}

// CorrelationID returns the request's correlation id, empty if the
// middleware did not run.
func CorrelationID(c *gin.Context) string {
	return c.GetString(correlationIDKey)
}
