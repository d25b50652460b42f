/*
 * Copyright (c) 2025, bin2nlp authors. All rights reserved.
 * See LICENSE for license information.
 */

package rest

import (
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/auth"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/errors"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/model"
)

// ErrorBody is the inner object of the error envelope.
type ErrorBody struct {
	Type       string                 `json:"type"`
	Message    string                 `json:"message"`
	StatusCode int                    `json:"status_code"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

// ErrorResponse is the envelope returned on any error.
// Success responses return the native resource representation instead.
type ErrorResponse struct {
	Success bool      `json:"success"`
	Error   ErrorBody `json:"error"`
}

func NewErrorResponse(err error) ErrorResponse {
	if e, ok := err.(*errors.Error); ok {
		message := e.Message
		if message == "" {
			message = "internal error"
		}
		return ErrorResponse{
			Success: false,
			Error: ErrorBody{
				Type:       e.Type,
				Message:    message,
				StatusCode: e.HTTPStatus,
				Details:    e.Details,
			},
		}
	}
	return ErrorResponse{
		Success: false,
		Error: ErrorBody{
			Type:       errors.TypeInternal,
			Message:    "internal error",
			StatusCode: errors.HTTPStatusForType(errors.TypeInternal),
		},
	}
}

// SubmitResponse is returned by POST /decompile with status 202.
type SubmitResponse struct {
	Success             bool                   `json:"success"`
	JobID               string                 `json:"job_id"`
	Status              string                 `json:"status"`
	FileInfo            FileInfo               `json:"file_info"`
	Config              map[string]interface{} `json:"config"`
	EstimatedCompletion string                 `json:"estimated_completion,omitempty"`
	CheckStatusURL      string                 `json:"check_status_url"`
}

type FileInfo struct {
	Filename    string `json:"filename"`
	SizeBytes   int64  `json:"size_bytes"`
	ContentType string `json:"content_type,omitempty"`
}

// StatusResponse is returned by GET /decompile/{id}. Results are present
// only once the job completed.
type StatusResponse struct {
	JobID              string           `json:"job_id"`
	Status             string           `json:"status"`
	ProgressPercentage int              `json:"progress_percentage"`
	CreatedAt          string           `json:"created_at"`
	StartedAt          string           `json:"started_at,omitempty"`
	CompletedAt        string           `json:"completed_at,omitempty"`
	Results            *model.JobResult `json:"results,omitempty"`
	Errors             []string         `json:"errors"`
	Warnings           []string         `json:"warnings"`
}

// CancelResponse is returned by DELETE /decompile/{id}. Cancel is
// idempotent: repeating it on a terminal job yields the same refusal.
type CancelResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ProviderInfo describes one LLM provider and its circuit health.
type ProviderInfo struct {
	ID             string   `json:"id"`
	Model          string   `json:"model"`
	CostPer1k      float64  `json:"cost_per_1k_tokens_usd"`
	LatencyEMAMs   float64  `json:"latency_ema_ms"`
	CircuitState   string   `json:"circuit_state"`
	SuccessRate    float64  `json:"success_rate"`
	TotalCalls     int64    `json:"total_calls"`
	RecentFailures []string `json:"recent_failures,omitempty"`
}

// CreateKeyResponse carries the raw key exactly once, at creation time.
type CreateKeyResponse struct {
	Success bool         `json:"success"`
	RawKey  string       `json:"api_key"`
	Key     *auth.APIKey `json:"key"`
}
