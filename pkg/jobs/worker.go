/*
 * Copyright (c) 2025, bin2nlp authors. All rights reserved.
 * See LICENSE for license information.
 */

package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/Onegaishimas/bin2nlp-sub003/pkg/errors"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/logger/log"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/metrics"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/model"
)

const (
	progressProcessing = 10
	progressDecompiled = 60
	progressDone       = 100

	idlePollInterval = 500 * time.Millisecond
)

var (
	jobsProcessed = metrics.NewCounterVec(
		"jobs_processed", "Jobs finished per terminal status", []string{"status"})
	jobDuration = metrics.NewHistogramVec(
		"job_duration_seconds", "Wall time from pickup to terminal state", []string{"status"})
	activeWorkers = metrics.NewGaugeVec(
		"workers_active", "Workers currently processing a job", nil)
)

// Decompiler is the decompile stage as the worker sees it.
type Decompiler interface {
	Decompile(ctx context.Context, filePath string, depth model.AnalysisDepth) (*model.DecompilationArtifact, error)
}

// Translator is the translation stage as the worker sees it.
type Translator interface {
	Translate(ctx context.Context, job *model.Job, artifact *model.DecompilationArtifact) (*model.TranslationResult, error)
}

type PoolConfig struct {
	Workers           int
	MaxTimeoutSecond  int
	DefaultTimeoutSec int
}

// Pool drives jobs through decompile then translate. Workers share nothing
// but the kv-store; the status CAS arbitrates against concurrent cancel.
type Pool struct {
	store      *Store
	queue      *Queue
	decompiler Decompiler
	translator Translator
	cfg        PoolConfig

	wg sync.WaitGroup
}

func NewPool(store *Store, queue *Queue, decompiler Decompiler, translator Translator, cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxTimeoutSecond <= 0 {
		cfg.MaxTimeoutSecond = 1800
	}
	if cfg.DefaultTimeoutSec <= 0 {
		cfg.DefaultTimeoutSec = 600
	}
	return &Pool{
		store:      store,
		queue:      queue,
		decompiler: decompiler,
		translator: translator,
		cfg:        cfg,
	}
}

// Start launches the workers. They drain until ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go func(worker int) {
			defer p.wg.Done()
			p.runWorker(ctx, worker)
		}(i)
	}
}

// Wait blocks until every worker has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) runWorker(ctx context.Context, worker int) {
	for {
		if ctx.Err() != nil {
			return
		}
		id, ok, err := p.queue.Dequeue(ctx)
		if err != nil {
			log.Warnf("worker %d: dequeue failed: %v", worker, err)
			ok = false
		}
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(idlePollInterval):
			}
			continue
		}
		p.process(ctx, id)
	}
}

// process runs one job to a terminal state. Every early return has already
// recorded the terminal transition or deliberately dropped the job.
func (p *Pool) process(ctx context.Context, id string) {
	activeWorkers.Inc()
	defer activeWorkers.Dec()
	start := time.Now()

	job, err := p.store.GetJob(ctx, id)
	if err != nil {
		log.Warnf("dropping queued job %s: %v", id, err)
		return
	}

	ok, err := p.store.TransitionStatus(ctx, id, model.JobStatusPending, model.JobStatusProcessing)
	if err != nil {
		log.Errorf("job %s: claim failed: %v", id, err)
		return
	}
	if !ok {
		// cancelled between enqueue and pickup
		return
	}
	if err := p.store.SetProgress(ctx, id, progressProcessing); err != nil {
		log.Warnf("job %s: progress update failed: %v", id, err)
	}

	jobCtx, cancel := context.WithTimeout(ctx, p.deadline(job))
	defer cancel()

	artifact, failed := p.decompileStage(jobCtx, job)
	if failed {
		p.finish(ctx, job, model.JobStatusFailed, start)
		return
	}
	if err := p.store.SetProgress(ctx, id, progressDecompiled); err != nil {
		log.Warnf("job %s: progress update failed: %v", id, err)
	}

	result := &model.JobResult{Artifact: artifact}
	translation, err := p.translator.Translate(jobCtx, job, artifact)
	if jobCtx.Err() == context.DeadlineExceeded {
		job.AddError("timeout")
		p.finish(ctx, job, model.JobStatusFailed, start)
		return
	}
	if err != nil {
		// translation-stage failures are non-fatal; the decompilation stands
		job.AddWarning("translation skipped: " + err.Error())
		log.Warnf("job %s: translation stage failed: %v", id, err)
	} else {
		result.Translation = translation
	}

	if err := p.store.SaveResult(ctx, id, result); err != nil {
		job.AddError("failed to persist result: " + err.Error())
		p.finish(ctx, job, model.JobStatusFailed, start)
		return
	}
	if err := p.store.SetProgress(ctx, id, progressDone); err != nil {
		log.Warnf("job %s: progress update failed: %v", id, err)
	}
	p.finish(ctx, job, model.JobStatusCompleted, start)
}

// decompileStage runs the disassembler. Its failures are fatal for the job.
func (p *Pool) decompileStage(ctx context.Context, job *model.Job) (*model.DecompilationArtifact, bool) {
	if err := p.store.MarkDecompileStarted(ctx, job.ID); err != nil {
		log.Warnf("job %s: could not mark decompile start: %v", job.ID, err)
	}

	// cancel may have won the CAS before the mark landed
	current, err := p.store.GetJob(ctx, job.ID)
	if err == nil && current.Status != model.JobStatusProcessing {
		return nil, true
	}

	artifact, err := p.decompiler.Decompile(ctx, job.BlobPath, job.AnalysisDepth)
	if err != nil {
		if errors.IsType(err, errors.TypeTimeout) || ctx.Err() == context.DeadlineExceeded {
			job.AddError("timeout")
		} else {
			job.AddError(err.Error())
		}
		return nil, true
	}
	job.Warnings = append(job.Warnings, artifact.Warnings...)
	return artifact, false
}

// finish records diagnostics and attempts the terminal CAS. Losing the CAS
// means cancel got there first; the worker's results are discarded.
func (p *Pool) finish(ctx context.Context, job *model.Job, to model.JobStatus, start time.Time) {
	if err := p.store.SetDiagnostics(ctx, job.ID, job.Errors, job.Warnings); err != nil {
		log.Warnf("job %s: diagnostics update failed: %v", job.ID, err)
	}

	ok, err := p.store.TransitionStatus(ctx, job.ID, model.JobStatusProcessing, to)
	if err != nil {
		log.Errorf("job %s: terminal transition to %s failed: %v", job.ID, to, err)
		return
	}
	if !ok {
		log.Infof("job %s: lost terminal transition to %s, discarding", job.ID, to)
		removeBlob(job.BlobPath)
		return
	}
	removeBlob(job.BlobPath)

	jobsProcessed.Inc(string(to))
	jobDuration.Observe(time.Since(start).Seconds(), string(to))
	log.Infof("job %s finished with status %s in %.2fs", job.ID, to, time.Since(start).Seconds())
}

func (p *Pool) deadline(job *model.Job) time.Duration {
	timeout := job.TimeoutSecond
	if timeout <= 0 {
		timeout = p.cfg.DefaultTimeoutSec
	}
	if timeout > p.cfg.MaxTimeoutSecond {
		timeout = p.cfg.MaxTimeoutSecond
	}
	return time.Duration(timeout) * time.Second
}
