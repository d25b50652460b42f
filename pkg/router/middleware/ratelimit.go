/*
 * Copyright (c) 2025, bin2nlp authors. All rights reserved.
 * See LICENSE for license information.
 */

package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Onegaishimas/bin2nlp-sub003/pkg/errors"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/ratelimit"
)

const (
	headerRateLimitLimit     = "X-RateLimit-Limit"
	headerRateLimitRemaining = "X-RateLimit-Remaining"
	headerRateLimitReset     = "X-RateLimit-Reset"
	headerRateLimitWindow    = "X-RateLimit-Window"
)

// HandleRateLimit checks every applicable limit for the request's identity
// and shapes the X-RateLimit-* headers from the most restrictive grant.
// Denials answer 429 with Retry-After. A kv-store outage fails open with a
// response flag.
func HandleRateLimit(limiter *ratelimit.Limiter, category ratelimit.Category, enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !enabled {
			c.Next()
			return
		}

		identity := IdentityOf(c)
		decision := limiter.Check(c.Request.Context(), identity.UserID, identity.Tier, category)

		if decision.FailedOpen {
			c.Writer.Header().Set("X-RateLimit-Warning", "rate_limiting_disabled")
			c.Next()
			return
		}

		c.Writer.Header().Set(headerRateLimitLimit, strconv.FormatInt(decision.Limit, 10))
		c.Writer.Header().Set(headerRateLimitRemaining, strconv.FormatInt(decision.Remaining, 10))
		c.Writer.Header().Set(headerRateLimitReset, strconv.Itoa(decision.ResetSeconds))
		c.Writer.Header().Set(headerRateLimitWindow, strconv.Itoa(decision.WindowSeconds))

		if !decision.Allowed {
			AbortWithError(c, errors.NewRateLimited("rate limit exceeded", decision.RetryAfterSeconds).
				WithDetail("limit_name", decision.LimitName))
			return
		}
		c.Next()
	}
}
