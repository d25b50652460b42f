/*
 * Copyright (c) 2025, bin2nlp authors. All rights reserved.
 * See LICENSE for license information.
 */

package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Onegaishimas/bin2nlp-sub003/pkg/auth"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/errors"
)

const identityKey = "identity"

// publicPaths are reachable without credentials; they get an anonymous
// identity keyed by client IP.
var publicPaths = map[string]bool{
	"/":                    true,
	"/api/v1/health":       true,
	"/api/v1/health/ready": true,
	"/api/v1/health/live":  true,
	"/api/v1/system/info":  true,
	"/docs":                true,
}

// HandleAuth validates the bearer API key (or api_key query parameter) and
// attaches the resulting identity to the request. enabled=false (dev mode)
// grants every request an anonymous identity.
func HandleAuth(service *auth.Service, enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !enabled {
			// dev mode: unauthenticated but unrestricted
			c.Set(identityKey, &auth.Identity{
				UserID:      "anon:" + c.ClientIP(),
				Tier:        auth.TierEnterprise,
				Permissions: []auth.Permission{auth.PermissionAdmin},
				Anonymous:   true,
			})
			c.Next()
			return
		}
		if publicPaths[c.Request.URL.Path] {
			c.Set(identityKey, auth.AnonymousIdentity(c.ClientIP()))
			c.Next()
			return
		}

		rawKey := extractKey(c)
		if rawKey == "" {
			AbortWithError(c, errors.NewUnauthorized("missing API key"))
			return
		}

		key, err := service.ValidateKey(c.Request.Context(), rawKey)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Set(identityKey, &auth.Identity{
			UserID:      key.UserID,
			Tier:        key.Tier,
			Permissions: key.Permissions,
			KeyID:       key.KeyID,
		})
		c.Next()
	}
}

func extractKey(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return c.Query("api_key")
}

// IdentityOf returns the request identity; a missing identity degrades to
// anonymous so handlers never observe nil.
func IdentityOf(c *gin.Context) *auth.Identity {
	if v, ok := c.Get(identityKey); ok {
		if id, ok := v.(*auth.Identity); ok {
			return id
		}
	}
	return auth.AnonymousIdentity(c.ClientIP())
}

// RequirePermission rejects requests whose identity lacks the permission.
func RequirePermission(p auth.Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IdentityOf(c).HasPermission(p) {
			AbortWithError(c, errors.NewForbidden("permission denied").
				WithDetail("required_permission", string(p)))
			return
		}
		c.Next()
	}
}

// RequireTier rejects requests below the required tier.
func RequireTier(t auth.Tier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IdentityOf(c).Tier.AtLeast(t) {
			AbortWithError(c, errors.NewForbidden("tier too low").
				WithDetail("required_tier", string(t)))
			return
		}
		c.Next()
	}
}
