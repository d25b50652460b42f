/*
 * Copyright (c) 2025, bin2nlp authors. All rights reserved.
 * See LICENSE for license information.
 */

// Package jobs holds the job store, the ready queue, the worker pool and the
// background maintenance loops.
package jobs

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/Onegaishimas/bin2nlp-sub003/pkg/errors"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/kvstore"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/model"
)

const (
	fieldStatus           = "status"
	fieldProgress         = "progress_percentage"
	fieldStartedAt        = "started_at"
	fieldCompletedAt      = "completed_at"
	fieldErrors           = "errors"
	fieldWarnings         = "warnings"
	fieldDecompileStarted = "decompile_started"
)

// Store persists jobs as kv hashes and results as JSON blobs. Terminal jobs
// and their results expire after the configured TTL.
type Store struct {
	kv        *kvstore.Client
	resultTTL time.Duration
}

func NewStore(kv *kvstore.Client, resultTTL time.Duration) *Store {
	if resultTTL <= 0 {
		resultTTL = 24 * time.Hour
	}
	return &Store{kv: kv, resultTTL: resultTTL}
}

func (s *Store) ResultTTL() time.Duration {
	return s.resultTTL
}

// SaveJob writes the full job hash. Used at submit time; later mutations go
// through the narrower field setters so concurrent readers see consistent
// snapshots.
func (s *Store) SaveJob(ctx context.Context, job *model.Job) error {
	fields, err := jobToFields(job)
	if err != nil {
		return err
	}
	if err := s.kv.HSet(ctx, kvstore.JobKey(job.ID), fields); err != nil {
		return errors.WrapError(err, "persist job", errors.TypeInternal)
	}
	return nil
}

// GetJob loads a snapshot of the job.
func (s *Store) GetJob(ctx context.Context, id string) (*model.Job, error) {
	fields, err := s.kv.HGetAll(ctx, kvstore.JobKey(id))
	if err != nil {
		return nil, errors.WrapError(err, "load job", errors.TypeInternal)
	}
	if len(fields) == 0 {
		return nil, errors.NewNotFound("job", id)
	}
	return jobFromFields(fields)
}

// TransitionStatus is the single linearization point for a job's lifecycle:
// a compare-and-set on the status field. Terminal transitions stamp
// completed_at and start the eviction TTL.
func (s *Store) TransitionStatus(ctx context.Context, id string, from, to model.JobStatus) (bool, error) {
	if !from.CanTransition(to) {
		return false, nil
	}
	ok, err := s.kv.CompareAndSetField(ctx, kvstore.JobKey(id), fieldStatus, string(from), string(to))
	if err != nil || !ok {
		return ok, err
	}

	stamp := map[string]interface{}{}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if to == model.JobStatusProcessing {
		stamp[fieldStartedAt] = now
	}
	if to.IsTerminal() {
		stamp[fieldCompletedAt] = now
	}
	if len(stamp) > 0 {
		if err := s.kv.HSet(ctx, kvstore.JobKey(id), stamp); err != nil {
			return true, errors.WrapError(err, "stamp transition", errors.TypeInternal)
		}
	}
	if to.IsTerminal() {
		if err := s.kv.Expire(ctx, kvstore.JobKey(id), s.resultTTL); err != nil {
			return true, errors.WrapError(err, "set job ttl", errors.TypeInternal)
		}
	}
	return true, nil
}

// SetProgress updates the monotonic progress percentage.
func (s *Store) SetProgress(ctx context.Context, id string, pct int) error {
	return s.kv.HSet(ctx, kvstore.JobKey(id), map[string]interface{}{fieldProgress: pct})
}

// MarkDecompileStarted flags that the worker has handed the blob to the
// disassembler; cancellation is refused past this point.
func (s *Store) MarkDecompileStarted(ctx context.Context, id string) error {
	return s.kv.HSet(ctx, kvstore.JobKey(id), map[string]interface{}{fieldDecompileStarted: "1"})
}

func (s *Store) DecompileStarted(ctx context.Context, id string) (bool, error) {
	val, found, err := s.kv.HGet(ctx, kvstore.JobKey(id), fieldDecompileStarted)
	if err != nil {
		return false, err
	}
	return found && val == "1", nil
}

// SetDiagnostics replaces the job's error and warning lists.
func (s *Store) SetDiagnostics(ctx context.Context, id string, errs, warnings []string) error {
	errJSON, err := json.Marshal(errs)
	if err != nil {
		return errors.WrapError(err, "marshal errors", errors.TypeInternal)
	}
	warnJSON, err := json.Marshal(warnings)
	if err != nil {
		return errors.WrapError(err, "marshal warnings", errors.TypeInternal)
	}
	return s.kv.HSet(ctx, kvstore.JobKey(id), map[string]interface{}{
		fieldErrors:   string(errJSON),
		fieldWarnings: string(warnJSON),
	})
}

// SaveResult stores the result blob with the eviction TTL.
func (s *Store) SaveResult(ctx context.Context, id string, result *model.JobResult) error {
	if err := s.kv.SetJSON(ctx, kvstore.JobResultKey(id), result, s.resultTTL); err != nil {
		return errors.WrapError(err, "persist result", errors.TypeInternal)
	}
	return nil
}

// GetResult loads the result blob; found is false when it never existed or
// has already been evicted.
func (s *Store) GetResult(ctx context.Context, id string) (*model.JobResult, bool, error) {
	var result model.JobResult
	found, err := s.kv.GetJSON(ctx, kvstore.JobResultKey(id), &result)
	if err != nil {
		return nil, false, errors.WrapError(err, "load result", errors.TypeInternal)
	}
	if !found {
		return nil, false, nil
	}
	return &result, true, nil
}

// SweepTerminalTTLs re-arms the eviction TTL on terminal jobs that lost it,
// covering a crash between the terminal CAS and the Expire call. Returns the
// number of keys re-armed.
func (s *Store) SweepTerminalTTLs(ctx context.Context) (int, error) {
	keys, err := s.kv.Scan(ctx, kvstore.JobKey("*"), 100)
	if err != nil {
		return 0, err
	}
	rearmed := 0
	for _, key := range keys {
		status, found, err := s.kv.HGet(ctx, key, fieldStatus)
		if err != nil {
			return rearmed, err
		}
		if !found || !model.JobStatus(status).IsTerminal() {
			continue
		}
		ttl, err := s.kv.TTL(ctx, key)
		if err != nil {
			return rearmed, err
		}
		if ttl >= 0 {
			continue
		}
		if err := s.kv.Expire(ctx, key, s.resultTTL); err != nil {
			return rearmed, err
		}
		rearmed++
	}
	return rearmed, nil
}

// ProcessingJobIDs scans for jobs currently in processing, used by the
// timeout sweeper.
func (s *Store) ProcessingJobIDs(ctx context.Context) ([]string, error) {
	keys, err := s.kv.Scan(ctx, kvstore.JobKey("*"), 100)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, key := range keys {
		status, found, err := s.kv.HGet(ctx, key, fieldStatus)
		if err != nil {
			return nil, err
		}
		if found && model.JobStatus(status) == model.JobStatusProcessing {
			ids = append(ids, key[len("job:"):])
		}
	}
	return ids, nil
}

func jobToFields(job *model.Job) (map[string]interface{}, error) {
	errJSON, err := json.Marshal(job.Errors)
	if err != nil {
		return nil, errors.WrapError(err, "marshal errors", errors.TypeInternal)
	}
	warnJSON, err := json.Marshal(job.Warnings)
	if err != nil {
		return nil, errors.WrapError(err, "marshal warnings", errors.TypeInternal)
	}
	return map[string]interface{}{
		"id":                      job.ID,
		"user_id":                 job.UserID,
		"filename":                job.Filename,
		"size_bytes":              job.SizeBytes,
		"sha256":                  job.SHA256,
		"blob_path":               job.BlobPath,
		"analysis_depth":          string(job.AnalysisDepth),
		"provider":                job.Provider,
		"model":                   job.Model,
		"translation_detail":      string(job.TranslationDetail),
		"include_functions":       strconv.FormatBool(job.IncludeFunctions),
		"include_imports":         strconv.FormatBool(job.IncludeImports),
		"include_overall_summary": strconv.FormatBool(job.IncludeOverallSummary),
		"max_functions_translate": job.MaxFunctionsTranslate,
		"cost_limit_usd":          job.CostLimitUSD,
		"timeout_second":          job.TimeoutSecond,
		"priority":                string(job.Priority),
		fieldStatus:               string(job.Status),
		fieldProgress:             job.ProgressPercentage,
		"created_at":              job.CreatedAt.UTC().Format(time.RFC3339Nano),
		fieldErrors:               string(errJSON),
		fieldWarnings:             string(warnJSON),
	}, nil
}

func jobFromFields(fields map[string]string) (*model.Job, error) {
	job := &model.Job{
		ID:                fields["id"],
		UserID:            fields["user_id"],
		Filename:          fields["filename"],
		SHA256:            fields["sha256"],
		BlobPath:          fields["blob_path"],
		AnalysisDepth:     model.AnalysisDepth(fields["analysis_depth"]),
		Provider:          fields["provider"],
		Model:             fields["model"],
		TranslationDetail: model.TranslationDetail(fields["translation_detail"]),
		Priority:          model.JobPriority(fields["priority"]),
		Status:            model.JobStatus(fields[fieldStatus]),
	}
	job.SizeBytes, _ = strconv.ParseInt(fields["size_bytes"], 10, 64)
	job.IncludeFunctions, _ = strconv.ParseBool(fields["include_functions"])
	job.IncludeImports, _ = strconv.ParseBool(fields["include_imports"])
	job.IncludeOverallSummary, _ = strconv.ParseBool(fields["include_overall_summary"])
	job.MaxFunctionsTranslate, _ = strconv.Atoi(fields["max_functions_translate"])
	job.CostLimitUSD, _ = strconv.ParseFloat(fields["cost_limit_usd"], 64)
	job.TimeoutSecond, _ = strconv.Atoi(fields["timeout_second"])
	job.ProgressPercentage, _ = strconv.Atoi(fields[fieldProgress])

	if ts, err := time.Parse(time.RFC3339Nano, fields["created_at"]); err == nil {
		job.CreatedAt = ts
	}
	if raw := fields[fieldStartedAt]; raw != "" {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			job.StartedAt = &ts
		}
	}
	if raw := fields[fieldCompletedAt]; raw != "" {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			job.CompletedAt = &ts
		}
	}
	if raw := fields[fieldErrors]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &job.Errors); err != nil {
			return nil, errors.WrapError(err, "parse job errors", errors.TypeInternal)
		}
	}
	if raw := fields[fieldWarnings]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &job.Warnings); err != nil {
			return nil, errors.WrapError(err, "parse job warnings", errors.TypeInternal)
		}
	}
	return job, nil
}
