/*
 * Copyright (c) 2025, bin2nlp authors. All rights reserved.
 * See LICENSE for license information.
 */

// Package handlers implements the REST endpoints.
package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Onegaishimas/bin2nlp-sub003/pkg/decompiler"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/errors"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/jobs"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/model"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/model/rest"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/router/middleware"
)

type DecompileHandler struct {
	service        *jobs.Service
	maxFileSize    int64
	defaultTimeout int
	defaultCostUSD float64
	blobDir        string
}

func NewDecompileHandler(service *jobs.Service, maxFileSize int64, defaultTimeout int, defaultCostUSD float64, blobDir string) *DecompileHandler {
	if blobDir == "" {
		blobDir = os.TempDir()
	}
	return &DecompileHandler{
		service:        service,
		maxFileSize:    maxFileSize,
		defaultTimeout: defaultTimeout,
		defaultCostUSD: defaultCostUSD,
		blobDir:        blobDir,
	}
}

// Submit accepts a multipart upload and enqueues a decompilation job.
func (h *DecompileHandler) Submit(c *gin.Context) {
	identity := middleware.IdentityOf(c)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		middleware.AbortWithError(c, errors.NewValidation("file field is required"))
		return
	}
	if fileHeader.Size == 0 {
		middleware.AbortWithError(c, errors.NewValidation("uploaded file is empty"))
		return
	}
	if fileHeader.Size > h.maxFileSize {
		middleware.AbortWithError(c, errors.NewPayloadTooLarge(
			fmt.Sprintf("file exceeds the %d byte limit", h.maxFileSize)).
			WithDetail("size_bytes", fileHeader.Size).
			WithDetail("max_bytes", h.maxFileSize))
		return
	}

	job, err := h.jobFromForm(c, identity.UserID)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	job.Filename = fileHeader.Filename
	job.SizeBytes = fileHeader.Size

	src, err := fileHeader.Open()
	if err != nil {
		middleware.AbortWithError(c, errors.WrapError(err, "read upload", errors.TypeInternal))
		return
	}
	defer src.Close()

	blobPath, sum, format, err := h.persistBlob(src)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	if format == model.FormatUnknown {
		removeFile(blobPath)
		middleware.AbortWithError(c, errors.NewError().
			WithType(errors.TypeUnsupportedFormat).
			WithMessage("file is not a recognized PE, ELF or Mach-O binary"))
		return
	}
	job.BlobPath = blobPath
	job.SHA256 = sum

	if err := h.service.Submit(c.Request.Context(), job); err != nil {
		removeFile(blobPath)
		middleware.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, rest.SubmitResponse{
		Success: true,
		JobID:   job.ID,
		Status:  "queued",
		FileInfo: rest.FileInfo{
			Filename:    job.Filename,
			SizeBytes:   job.SizeBytes,
			ContentType: fileHeader.Header.Get("Content-Type"),
		},
		Config: map[string]interface{}{
			"analysis_depth":     job.AnalysisDepth,
			"llm_provider":       job.Provider,
			"llm_model":          job.Model,
			"translation_detail": job.TranslationDetail,
			"priority":           job.Priority,
		},
		EstimatedCompletion: time.Now().UTC().Add(estimatedDuration(job.AnalysisDepth)).Format(time.RFC3339),
		CheckStatusURL:      "/api/v1/decompile/" + job.ID,
	})
}

// Status returns the job snapshot plus, once completed, the results.
func (h *DecompileHandler) Status(c *gin.Context) {
	id := c.Param("id")
	if !model.IsValidJobID(id) {
		middleware.AbortWithError(c, errors.NewNotFound("job", id))
		return
	}

	job, result, err := h.service.Fetch(c.Request.Context(), id)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	resp := rest.StatusResponse{
		JobID:              job.ID,
		Status:             string(job.Status),
		ProgressPercentage: job.ProgressPercentage,
		CreatedAt:          job.CreatedAt.Format(time.RFC3339),
		Results:            result,
		Errors:             emptyIfNil(job.Errors),
		Warnings:           emptyIfNil(job.Warnings),
	}
	if job.StartedAt != nil {
		resp.StartedAt = job.StartedAt.Format(time.RFC3339)
	}
	if job.CompletedAt != nil {
		resp.CompletedAt = job.CompletedAt.Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, resp)
}

// Cancel stops a pending or not-yet-decompiling job. Safe to repeat.
func (h *DecompileHandler) Cancel(c *gin.Context) {
	id := c.Param("id")
	if !model.IsValidJobID(id) {
		middleware.AbortWithError(c, errors.NewNotFound("job", id))
		return
	}

	ok, err := h.service.Cancel(c.Request.Context(), id)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	job, jerr := h.service.Store().GetJob(c.Request.Context(), id)
	status := ""
	if jerr == nil {
		status = string(job.Status)
	}
	resp := rest.CancelResponse{Success: ok, JobID: id, Status: status}
	if !ok {
		resp.Message = "job can no longer be cancelled"
	}
	c.JSON(http.StatusOK, resp)
}

// TestProbe is a cheap connectivity check for clients.
func (h *DecompileHandler) TestProbe(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "decompile endpoint reachable",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *DecompileHandler) jobFromForm(c *gin.Context, userID string) (*model.Job, error) {
	job := &model.Job{
		UserID:                userID,
		AnalysisDepth:         model.DepthStandard,
		TranslationDetail:     model.DetailStandard,
		Priority:              model.JobPriorityNormal,
		IncludeFunctions:      true,
		IncludeImports:        true,
		IncludeOverallSummary: true,
		MaxFunctionsTranslate: model.UnlimitedFunctions,
		CostLimitUSD:          h.defaultCostUSD,
		TimeoutSecond:         h.defaultTimeout,
	}

	if v := c.PostForm("analysis_depth"); v != "" {
		job.AnalysisDepth = model.AnalysisDepth(v)
	}
	if v := c.PostForm("translation_detail"); v != "" {
		job.TranslationDetail = model.TranslationDetail(v)
	}
	if v := c.PostForm("priority"); v != "" {
		job.Priority = model.JobPriority(v)
	}
	job.Provider = c.PostForm("llm_provider")
	job.Model = c.PostForm("llm_model")

	if v := c.PostForm("include_functions"); v != "" {
		job.IncludeFunctions = v == "true"
	}
	if v := c.PostForm("include_imports"); v != "" {
		job.IncludeImports = v == "true"
	}
	if v := c.PostForm("include_overall_summary"); v != "" {
		job.IncludeOverallSummary = v == "true"
	}
	if v := c.PostForm("max_functions_translate"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, errors.NewValidation("max_functions_translate must be an integer")
		}
		job.MaxFunctionsTranslate = n
	}
	if v := c.PostForm("cost_limit_usd"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, errors.NewValidation("cost_limit_usd must be a number")
		}
		job.CostLimitUSD = f
	}
	if v := c.PostForm("timeout_second"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, errors.NewValidation("timeout_second must be an integer")
		}
		job.TimeoutSecond = n
	}
	return job, nil
}

// persistBlob streams the upload to a temp file, hashing and sniffing the
// format on the way through.
func (h *DecompileHandler) persistBlob(src io.Reader) (string, string, model.BinaryFormat, error) {
	tmp, err := os.CreateTemp(h.blobDir, "bin2nlp-*.bin")
	if err != nil {
		return "", "", model.FormatUnknown, errors.WrapError(err, "create temp blob", errors.TypeInternal)
	}
	defer tmp.Close()

	head := make([]byte, 16)
	n, err := io.ReadFull(src, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		removeFile(tmp.Name())
		return "", "", model.FormatUnknown, errors.WrapError(err, "read upload", errors.TypeInternal)
	}
	format := decompiler.SniffFormat(head[:n])

	hasher := sha256.New()
	out := io.MultiWriter(tmp, hasher)
	if _, err := out.Write(head[:n]); err != nil {
		removeFile(tmp.Name())
		return "", "", model.FormatUnknown, errors.WrapError(err, "write temp blob", errors.TypeInternal)
	}
	if _, err := io.Copy(out, src); err != nil {
		removeFile(tmp.Name())
		return "", "", model.FormatUnknown, errors.WrapError(err, "write temp blob", errors.TypeInternal)
	}
	return tmp.Name(), hex.EncodeToString(hasher.Sum(nil)), format, nil
}

func estimatedDuration(depth model.AnalysisDepth) time.Duration {
	switch depth {
	case model.DepthBasic:
		return 1 * time.Minute
	case model.DepthComprehensive:
		return 10 * time.Minute
	default:
		return 3 * time.Minute
	}
}

func emptyIfNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}

func removeFile(path string) {
	if path != "" {
		_ = os.Remove(path)
	}
}
