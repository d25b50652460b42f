/*
 * Copyright (c) 2025, bin2nlp authors. All rights reserved.
 * See LICENSE for license information.
 */

package jobs

import (
	"context"
	"os"
	"time"

	"github.com/Onegaishimas/bin2nlp-sub003/pkg/kvstore"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/logger/log"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/metrics"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/model"
)

var jobsSubmitted = metrics.NewCounterVec(
	"jobs_submitted", "Jobs accepted for processing", []string{"priority"})

// Service is the submit/fetch/cancel surface over the store and queue,
// shared by the REST handlers and the CLI.
type Service struct {
	store *Store
	queue *Queue
}

func NewService(store *Store, queue *Queue) *Service {
	return &Service{store: store, queue: queue}
}

func (s *Service) Store() *Store {
	return s.store
}

func (s *Service) Queue() *Queue {
	return s.queue
}

// Submit validates and persists a new job, then enqueues it. The job must
// already carry its blob path and fingerprint.
func (s *Service) Submit(ctx context.Context, job *model.Job) error {
	if job.ID == "" {
		job.ID = model.NewJobID()
	}
	job.Status = model.JobStatusPending
	job.ProgressPercentage = 0
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if err := job.Validate(); err != nil {
		return err
	}

	if err := s.store.SaveJob(ctx, job); err != nil {
		return err
	}
	if err := s.queue.Enqueue(ctx, job.ID, job.Priority); err != nil {
		// roll back the record so a queue-full submission leaves no trace
		if delErr := s.store.kv.Del(ctx, kvstore.JobKey(job.ID)); delErr != nil {
			log.Warnf("failed to roll back job %s after enqueue failure: %v", job.ID, delErr)
		}
		return err
	}
	jobsSubmitted.Inc(string(job.Priority))
	return nil
}

// Fetch returns a snapshot of the job and, when it completed, the result.
func (s *Service) Fetch(ctx context.Context, id string) (*model.Job, *model.JobResult, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if job.Status != model.JobStatusCompleted {
		return job, nil, nil
	}
	result, found, err := s.store.GetResult(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !found {
		return job, nil, nil
	}
	return job, result, nil
}

// Cancel attempts to stop a job. Only pending jobs and processing jobs that
// have not yet reached the disassembler can be cancelled; the status CAS
// decides races with the worker. Idempotent: a second cancel on a terminal
// job returns false without touching state.
func (s *Service) Cancel(ctx context.Context, id string) (bool, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return false, err
	}
	if job.Status.IsTerminal() {
		return false, nil
	}

	ok, err := s.store.TransitionStatus(ctx, id, model.JobStatusPending, model.JobStatusCancelled)
	if err != nil {
		return false, err
	}
	if ok {
		if err := s.queue.Remove(ctx, id, job.Priority); err != nil {
			log.Warnf("cancelled job %s left in ready queue: %v", id, err)
		}
		removeBlob(job.BlobPath)
		return true, nil
	}

	started, err := s.store.DecompileStarted(ctx, id)
	if err != nil {
		return false, err
	}
	if started {
		return false, nil
	}
	ok, err = s.store.TransitionStatus(ctx, id, model.JobStatusProcessing, model.JobStatusCancelled)
	if err != nil {
		return false, err
	}
	if ok {
		removeBlob(job.BlobPath)
	}
	return ok, nil
}

func removeBlob(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warnf("failed to remove job blob %s: %v", path, err)
	}
}
