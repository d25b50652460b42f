/*
 * Copyright (c) 2025, bin2nlp authors. All rights reserved.
 * See LICENSE for license information.
 */

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Onegaishimas/bin2nlp-sub003/pkg/llm"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/model"
)

type SystemHandler struct {
	registry      *llm.Registry
	maxFileSize   int64
	maxTimeoutSec int
	queueCeiling  int
}

func NewSystemHandler(registry *llm.Registry, maxFileSize int64, maxTimeoutSec, queueCeiling int) *SystemHandler {
	return &SystemHandler{
		registry:      registry,
		maxFileSize:   maxFileSize,
		maxTimeoutSec: maxTimeoutSec,
		queueCeiling:  queueCeiling,
	}
}

// Info lists capabilities and limits so clients can validate before upload.
func (h *SystemHandler) Info(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"supported_formats":   []model.BinaryFormat{model.FormatPE, model.FormatELF, model.FormatMachO},
		"analysis_depths":     []model.AnalysisDepth{model.DepthBasic, model.DepthStandard, model.DepthComprehensive},
		"translation_details": []model.TranslationDetail{model.DetailBrief, model.DetailStandard, model.DetailComprehensive},
		"priorities":          []model.JobPriority{model.JobPriorityLow, model.JobPriorityNormal, model.JobPriorityHigh},
		"llm_providers":       h.registry.IDs(),
		"limits": gin.H{
			"max_file_size_bytes": h.maxFileSize,
			"max_timeout_seconds": h.maxTimeoutSec,
			"queue_ceiling":       h.queueCeiling,
		},
	})
}
