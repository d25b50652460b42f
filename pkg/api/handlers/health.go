/*
 * Copyright (c) 2025, bin2nlp authors. All rights reserved.
 * See LICENSE for license information.
 */

package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Onegaishimas/bin2nlp-sub003/pkg/kvstore"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/llm"
)

type HealthHandler struct {
	kv       *kvstore.Client
	registry *llm.Registry
	started  time.Time
}

func NewHealthHandler(kv *kvstore.Client, registry *llm.Registry) *HealthHandler {
	return &HealthHandler{kv: kv, registry: registry, started: time.Now()}
}

// Health summarizes service and provider state. Degraded when any provider
// circuit is open or the kv-store is unreachable.
func (h *HealthHandler) Health(c *gin.Context) {
	status := "healthy"

	kvOK := h.kv.Ping(c.Request.Context()) == nil
	if !kvOK {
		status = "degraded"
	}

	providers := map[string]string{}
	for _, id := range h.registry.IDs() {
		state := h.registry.Breaker().GetState(id)
		providers[id] = state.String()
		if state == llm.CircuitOpen {
			status = "degraded"
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":         status,
		"kv_store":       kvOK,
		"providers":      providers,
		"uptime_seconds": int(time.Since(h.started).Seconds()),
	})
}

// Ready answers 200 once the kv-store is reachable, 503 before that.
func (h *HealthHandler) Ready(c *gin.Context) {
	if err := h.kv.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false, "error": "kv-store unreachable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true})
}

// Live is the liveness probe; reaching the handler is the signal.
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"alive": true})
}
