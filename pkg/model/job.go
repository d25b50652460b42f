/*
 * Copyright (c) 2025, bin2nlp authors. All rights reserved.
 * See LICENSE for license information.
 */

package model

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Onegaishimas/bin2nlp-sub003/pkg/errors"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether the status graph permits moving to next.
// Terminal states are sinks.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusProcessing || next == JobStatusCancelled
	case JobStatusProcessing:
		return next == JobStatusCompleted || next == JobStatusFailed || next == JobStatusCancelled
	}
	return false
}

type JobPriority string

const (
	JobPriorityLow    JobPriority = "low"
	JobPriorityNormal JobPriority = "normal"
	JobPriorityHigh   JobPriority = "high"
)

func IsValidPriority(p JobPriority) bool {
	return p == JobPriorityLow || p == JobPriorityNormal || p == JobPriorityHigh
}

type AnalysisDepth string

const (
	DepthBasic         AnalysisDepth = "basic"
	DepthStandard      AnalysisDepth = "standard"
	DepthComprehensive AnalysisDepth = "comprehensive"
)

func IsValidDepth(d AnalysisDepth) bool {
	return d == DepthBasic || d == DepthStandard || d == DepthComprehensive
}

type TranslationDetail string

const (
	DetailBrief         TranslationDetail = "brief"
	DetailStandard      TranslationDetail = "standard"
	DetailComprehensive TranslationDetail = "comprehensive"
)

func IsValidDetail(d TranslationDetail) bool {
	return d == DetailBrief || d == DetailStandard || d == DetailComprehensive
}

// UnlimitedFunctions means no cap was requested; an explicit zero disables
// function translation entirely.
const UnlimitedFunctions = -1

const JobIDPrefix = "dec_"

// NewJobID returns a fresh job identifier: "dec_" + 32 hex chars.
func NewJobID() string {
	return JobIDPrefix + strings.ReplaceAll(uuid.New().String(), "-", "")
}

func IsValidJobID(id string) bool {
	if !strings.HasPrefix(id, JobIDPrefix) {
		return false
	}
	rest := strings.TrimPrefix(id, JobIDPrefix)
	if len(rest) != 32 {
		return false
	}
	for _, c := range rest {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}

type Job struct {
	ID        string `json:"job_id" redis:"id"`
	UserID    string `json:"user_id" redis:"user_id"`
	Filename  string `json:"filename" redis:"filename"`
	SizeBytes int64  `json:"size_bytes" redis:"size_bytes"`
	SHA256    string `json:"sha256" redis:"sha256"`
	BlobPath  string `json:"-" redis:"blob_path"`

	AnalysisDepth     AnalysisDepth     `json:"analysis_depth" redis:"analysis_depth"`
	Provider          string            `json:"llm_provider,omitempty" redis:"provider"`
	Model             string            `json:"llm_model,omitempty" redis:"model"`
	TranslationDetail TranslationDetail `json:"translation_detail" redis:"translation_detail"`

	IncludeFunctions      bool `json:"include_functions" redis:"include_functions"`
	IncludeImports        bool `json:"include_imports" redis:"include_imports"`
	IncludeOverallSummary bool `json:"include_overall_summary" redis:"include_overall_summary"`

	MaxFunctionsTranslate int     `json:"max_functions_translate,omitempty" redis:"max_functions_translate"`
	CostLimitUSD          float64 `json:"cost_limit_usd,omitempty" redis:"cost_limit_usd"`
	TimeoutSecond         int     `json:"timeout_second,omitempty" redis:"timeout_second"`

	Priority           JobPriority `json:"priority" redis:"priority"`
	Status             JobStatus   `json:"status" redis:"status"`
	ProgressPercentage int         `json:"progress_percentage" redis:"progress_percentage"`

	CreatedAt   time.Time  `json:"created_at" redis:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty" redis:"-"`
	CompletedAt *time.Time `json:"completed_at,omitempty" redis:"-"`

	Errors   []string `json:"errors" redis:"-"`
	Warnings []string `json:"warnings" redis:"-"`
}

// Validate checks the request-shaped fields of a job before it is persisted.
func (j *Job) Validate() error {
	if j.Filename == "" {
		return errors.NewValidation("filename is required")
	}
	if j.SizeBytes <= 0 {
		return errors.NewValidation("uploaded file is empty")
	}
	if !IsValidDepth(j.AnalysisDepth) {
		return errors.NewValidation("analysis_depth must be one of basic, standard, comprehensive").
			WithDetail("analysis_depth", string(j.AnalysisDepth))
	}
	if !IsValidDetail(j.TranslationDetail) {
		return errors.NewValidation("translation_detail must be one of brief, standard, comprehensive").
			WithDetail("translation_detail", string(j.TranslationDetail))
	}
	if !IsValidPriority(j.Priority) {
		return errors.NewValidation("priority must be one of low, normal, high").
			WithDetail("priority", string(j.Priority))
	}
	if j.MaxFunctionsTranslate < UnlimitedFunctions {
		return errors.NewValidation("max_functions_translate must be >= 0")
	}
	if j.CostLimitUSD < 0 {
		return errors.NewValidation("cost_limit_usd must be >= 0")
	}
	if j.TimeoutSecond < 0 {
		return errors.NewValidation("timeout_second must be >= 0")
	}
	return nil
}

func (j *Job) AddWarning(warning string) {
	j.Warnings = append(j.Warnings, warning)
}

func (j *Job) AddError(err string) {
	j.Errors = append(j.Errors, err)
}
