/*
 * Copyright (c) 2025, bin2nlp authors. All rights reserved.
 * See LICENSE for license information.
 */

package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Onegaishimas/bin2nlp-sub003/pkg/auth"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/errors"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/jobs"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/llm"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/metrics"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/model/rest"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/router/middleware"
)

type AdminHandler struct {
	auth     *auth.Service
	jobs     *jobs.Service
	registry *llm.Registry
	devMode  bool
}

func NewAdminHandler(authService *auth.Service, jobService *jobs.Service, registry *llm.Registry, devMode bool) *AdminHandler {
	return &AdminHandler{
		auth:     authService,
		jobs:     jobService,
		registry: registry,
		devMode:  devMode,
	}
}

type createKeyRequest struct {
	UserID      string   `json:"user_id" binding:"required"`
	Tier        string   `json:"tier"`
	Permissions []string `json:"permissions"`
	ExpiresIn   string   `json:"expires_in,omitempty"`
}

// CreateKey mints a new API key. The raw key appears in this response and
// nowhere else.
func (h *AdminHandler) CreateKey(c *gin.Context) {
	var req createKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithError(c, errors.NewValidation("invalid request body: "+err.Error()))
		return
	}

	tier := auth.TierBasic
	if req.Tier != "" {
		tier = auth.Tier(req.Tier)
	}
	permissions := []auth.Permission{auth.PermissionRead, auth.PermissionWrite}
	if len(req.Permissions) > 0 {
		permissions = permissions[:0]
		for _, p := range req.Permissions {
			permissions = append(permissions, auth.Permission(p))
		}
	}

	var expiresAt *time.Time
	if req.ExpiresIn != "" {
		d, err := time.ParseDuration(req.ExpiresIn)
		if err != nil {
			middleware.AbortWithError(c, errors.NewValidation("expires_in must be a duration like 720h"))
			return
		}
		t := time.Now().UTC().Add(d)
		expiresAt = &t
	}

	rawKey, key, err := h.auth.CreateKey(c.Request.Context(), req.UserID, tier, permissions, expiresAt)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rest.CreateKeyResponse{Success: true, RawKey: rawKey, Key: key})
}

// ListKeys returns a user's keys, raw keys excluded by construction.
func (h *AdminHandler) ListKeys(c *gin.Context) {
	keys, err := h.auth.ListKeys(c.Request.Context(), c.Param("user"))
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"keys": keys})
}

// RevokeKey marks a key revoked; it fails validation from then on.
func (h *AdminHandler) RevokeKey(c *gin.Context) {
	if err := h.auth.RevokeKey(c.Request.Context(), c.Param("user"), c.Param("keyId")); err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Stats aggregates queue depth, circuit state and the raw metric families.
func (h *AdminHandler) Stats(c *gin.Context) {
	depth, err := h.jobs.Queue().Depth(c.Request.Context())
	if err != nil {
		middleware.AbortWithError(c, errors.WrapError(err, "read queue depth", errors.TypeInternal))
		return
	}

	text, err := metrics.GetPrometheusAsFmtText()
	if err != nil {
		middleware.AbortWithError(c, errors.WrapError(err, "collect metrics", errors.TypeInternal))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"queue_depth": depth,
		"circuits":    h.registry.Breaker().AllStats(),
		"metrics":     text,
	})
}

// DevCreateKey is the dev-mode shortcut; production configurations must not
// route it.
func (h *AdminHandler) DevCreateKey(c *gin.Context) {
	if !h.devMode {
		middleware.AbortWithError(c, errors.NewForbidden("dev endpoints are disabled"))
		return
	}
	rawKey, key, err := h.auth.CreateKey(c.Request.Context(), "dev-user", auth.TierEnterprise,
		[]auth.Permission{auth.PermissionAdmin}, nil)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rest.CreateKeyResponse{Success: true, RawKey: rawKey, Key: key})
}
