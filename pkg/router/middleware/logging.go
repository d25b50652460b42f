/*
 * Copyright (c) 2025, bin2nlp authors. All rights reserved.
 * See LICENSE for license information.
 */

package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Onegaishimas/bin2nlp-sub003/pkg/logger"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/logger/conf"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/logger/log"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/metrics"
)

var requestDuration = metrics.NewHistogramVec(
	"http_request_duration_seconds", "HTTP request latency", []string{"method", "path", "status"})

// HandleLogging logs one line per request with the correlation id and
// observes the latency histogram.
func HandleLogging() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		duration := time.Since(startTime)
		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		requestDuration.Observe(duration.Seconds(), c.Request.Method, path, statusClass(status))

		log.WithFields(logger.Fields{
			correlationIDKey: CorrelationID(c),
			"method":         c.Request.Method,
			"path":           c.Request.URL.Path,
			"status":         status,
			"client_ip":      c.ClientIP(),
			"duration_ms":    duration.Milliseconds(),
		}).Logf(conf.InfoLevel, "request completed")
	}
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
