/*
 * Copyright (c) 2025, bin2nlp authors. All rights reserved.
 * See LICENSE for license information.
 */

package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Onegaishimas/bin2nlp-sub003/pkg/errors"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/logger/conf"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/logger/log"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/metrics"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/model/rest"
)

var errorCounter = metrics.NewCounterVec(
	"http_errors", "Errors surfaced to clients by type", []string{"type"})

// HandleErrors converts errors pushed onto the gin context into the error
// envelope. Stack traces never reach the client; they go to the log with the
// correlation id.
func HandleErrors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors[0].Err
		status := http.StatusInternalServerError
		errType := errors.TypeInternal

		if e, ok := err.(*errors.Error); ok {
			status = e.HTTPStatus
			errType = e.Type
			if errType == errors.TypeRateLimited {
				if retryAfter, ok := e.Details["retry_after_seconds"].(int); ok {
					c.Writer.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				}
			}
		}

		errorCounter.Inc(errType)
		log.WithField(correlationIDKey, CorrelationID(c)).
			Logf(conf.ErrorLevel, "request failed: path=%s type=%s err=%v", c.Request.URL.Path, errType, err)

		c.AbortWithStatusJSON(status, rest.NewErrorResponse(err))
	}
}

// AbortWithError is the handler-side helper: push the error and stop.
func AbortWithError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}
