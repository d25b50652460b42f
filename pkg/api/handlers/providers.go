/*
 * Copyright (c) 2025, bin2nlp authors. All rights reserved.
 * See LICENSE for license information.
 */

package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Onegaishimas/bin2nlp-sub003/pkg/errors"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/llm"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/model/rest"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/router/middleware"
)

type ProviderHandler struct {
	registry     *llm.Registry
	probeTimeout time.Duration
}

func NewProviderHandler(registry *llm.Registry, probeTimeout time.Duration) *ProviderHandler {
	if probeTimeout <= 0 {
		probeTimeout = 10 * time.Second
	}
	return &ProviderHandler{registry: registry, probeTimeout: probeTimeout}
}

// List returns every registered provider with its circuit health.
func (h *ProviderHandler) List(c *gin.Context) {
	infos := make([]rest.ProviderInfo, 0)
	for _, id := range h.registry.IDs() {
		if info, ok := h.providerInfo(id); ok {
			infos = append(infos, info)
		}
	}
	c.JSON(http.StatusOK, gin.H{"providers": infos})
}

// Detail returns one provider.
func (h *ProviderHandler) Detail(c *gin.Context) {
	id := c.Param("id")
	info, ok := h.providerInfo(id)
	if !ok {
		middleware.AbortWithError(c, errors.NewNotFound("provider", id))
		return
	}
	c.JSON(http.StatusOK, info)
}

// ForceHealthCheck runs the provider's health probe immediately and feeds
// the outcome into the circuit breaker.
func (h *ProviderHandler) ForceHealthCheck(c *gin.Context) {
	id := c.Param("id")
	provider, ok := h.registry.Get(id)
	if !ok {
		middleware.AbortWithError(c, errors.NewNotFound("provider", id))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.probeTimeout)
	defer cancel()
	err := provider.HealthCheck(ctx)

	healthy := err == nil
	if healthy {
		h.registry.Breaker().NoteHealthy(id)
	} else {
		h.registry.Breaker().RecordFailure(id, err.Error())
	}

	info, _ := h.providerInfo(id)
	resp := gin.H{"healthy": healthy, "provider": info}
	if err != nil {
		resp["error"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *ProviderHandler) providerInfo(id string) (rest.ProviderInfo, bool) {
	provider, ok := h.registry.Get(id)
	if !ok {
		return rest.ProviderInfo{}, false
	}
	stats := h.registry.Breaker().GetStats(id)
	return rest.ProviderInfo{
		ID:             provider.ID(),
		Model:          provider.Model(),
		CostPer1k:      provider.CostPer1kTokens(),
		LatencyEMAMs:   h.registry.LatencyEMA(id),
		CircuitState:   stats.State,
		SuccessRate:    stats.SuccessRate,
		TotalCalls:     stats.TotalCalls,
		RecentFailures: stats.RecentFailures,
	}, true
}
