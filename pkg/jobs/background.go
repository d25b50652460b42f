/*
 * Copyright (c) 2025, bin2nlp authors. All rights reserved.
 * See LICENSE for license information.
 */

package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/Onegaishimas/bin2nlp-sub003/pkg/llm"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/logger/log"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/metrics"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/model"
)

var (
	healthProbes = metrics.NewCounterVec(
		"provider_health_probes", "Background provider health probes", []string{"provider", "result"})
	sweptJobs = metrics.NewCounterVec(
		"jobs_swept", "Processing jobs failed by the timeout sweeper", nil)
	rearmedTTLs = metrics.NewCounterVec(
		"jobs_ttl_rearmed", "Terminal jobs whose eviction TTL was re-armed by the cleanup loop", nil)
)

type BackgroundConfig struct {
	HealthInterval   time.Duration
	HealthTimeout    time.Duration
	SweepInterval    time.Duration
	CleanupInterval  time.Duration
	MaxTimeoutSecond int
}

// Background owns the maintenance loops: the provider health prober, the
// stuck-job sweeper and the terminal-TTL cleanup. Start returns immediately;
// Stop waits for the loops.
type Background struct {
	store    *Store
	registry *llm.Registry
	cfg      BackgroundConfig

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewBackground(store *Store, registry *llm.Registry, cfg BackgroundConfig) *Background {
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = 60 * time.Second
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = 10 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 60 * time.Second
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 300 * time.Second
	}
	if cfg.MaxTimeoutSecond <= 0 {
		cfg.MaxTimeoutSecond = 1800
	}
	return &Background{store: store, registry: registry, cfg: cfg}
}

func (b *Background) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)

	b.wg.Add(3)
	go func() {
		defer b.wg.Done()
		b.healthLoop(ctx)
	}()
	go func() {
		defer b.wg.Done()
		b.sweepLoop(ctx)
	}()
	go func() {
		defer b.wg.Done()
		b.cleanupLoop(ctx)
	}()
}

func (b *Background) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
}

func (b *Background) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.ProbeProviders(ctx)
		}
	}
}

// ProbeProviders health-checks every registered provider. A healthy probe
// nudges an open circuit to half-open so real traffic can close it.
func (b *Background) ProbeProviders(ctx context.Context) {
	for _, id := range b.registry.IDs() {
		provider, ok := b.registry.Get(id)
		if !ok {
			continue
		}
		probeCtx, cancel := context.WithTimeout(ctx, b.cfg.HealthTimeout)
		err := provider.HealthCheck(probeCtx)
		cancel()

		if err != nil {
			healthProbes.Inc(id, "unhealthy")
			log.Warnf("provider %s failed health probe: %v", id, err)
			continue
		}
		healthProbes.Inc(id, "healthy")
		b.registry.Breaker().NoteHealthy(id)
	}
}

func (b *Background) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.SweepStuckJobs(ctx); err != nil {
				log.Warnf("timeout sweep failed: %v", err)
			}
		}
	}
}

func (b *Background) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := b.store.SweepTerminalTTLs(ctx)
			if err != nil {
				log.Warnf("ttl cleanup failed: %v", err)
				continue
			}
			if n > 0 {
				rearmedTTLs.Add(float64(n))
				log.Infof("re-armed eviction ttl on %d terminal jobs", n)
			}
		}
	}
}

// SweepStuckJobs fails processing jobs whose wall clock exceeded the global
// maximum, covering workers that died without a terminal transition.
func (b *Background) SweepStuckJobs(ctx context.Context) error {
	ids, err := b.store.ProcessingJobIDs(ctx)
	if err != nil {
		return err
	}
	limit := time.Duration(b.cfg.MaxTimeoutSecond) * time.Second

	for _, id := range ids {
		job, err := b.store.GetJob(ctx, id)
		if err != nil {
			continue
		}
		if job.StartedAt == nil || time.Since(*job.StartedAt) <= limit {
			continue
		}
		job.AddError("timeout")
		if err := b.store.SetDiagnostics(ctx, id, job.Errors, job.Warnings); err != nil {
			log.Warnf("sweeper: diagnostics update for %s failed: %v", id, err)
		}
		ok, err := b.store.TransitionStatus(ctx, id, model.JobStatusProcessing, model.JobStatusFailed)
		if err != nil {
			log.Warnf("sweeper: failed to fail job %s: %v", id, err)
			continue
		}
		if ok {
			sweptJobs.Inc()
			removeBlob(job.BlobPath)
			log.Warnf("job %s failed by timeout sweeper after %.0fs", id, time.Since(*job.StartedAt).Seconds())
		}
	}
	return nil
}
