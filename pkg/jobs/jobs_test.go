/*
 * Copyright (c) 2025, bin2nlp authors. All rights reserved.
 * See LICENSE for license information.
 */

package jobs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Onegaishimas/bin2nlp-sub003/pkg/errors"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/kvstore"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/model"
)

type fakeDecompiler struct {
	err      error
	onCalled func()
}

func (d *fakeDecompiler) Decompile(ctx context.Context, filePath string, depth model.AnalysisDepth) (*model.DecompilationArtifact, error) {
	if d.onCalled != nil {
		d.onCalled()
	}
	if d.err != nil {
		return nil, d.err
	}
	return &model.DecompilationArtifact{
		Format:  model.FormatELF,
		Success: true,
		Functions: []model.Function{
			{Name: "main", Address: "0x1000", Size: 32},
		},
	}, nil
}

type fakeTranslator struct {
	err error
}

func (t *fakeTranslator) Translate(ctx context.Context, job *model.Job, artifact *model.DecompilationArtifact) (*model.TranslationResult, error) {
	if t.err != nil {
		return nil, t.err
	}
	return &model.TranslationResult{
		Provider: "openai",
		FunctionTranslations: []model.FunctionTranslation{
			{FunctionName: "main", Address: "0x1000", Translation: "entry point"},
		},
	}, nil
}

func newTestHarness(t *testing.T) (*miniredis.Miniredis, *Store, *Queue, *Service) {
	t.Helper()
	mr := miniredis.RunT(t)
	kv, err := kvstore.NewClient("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	store := NewStore(kv, 24*time.Hour)
	queue := NewQueue(kv, 10)
	return mr, store, queue, NewService(store, queue)
}

func newJob(t *testing.T, priority model.JobPriority) *model.Job {
	t.Helper()
	blob := filepath.Join(t.TempDir(), "blob")
	require.NoError(t, os.WriteFile(blob, []byte{0x7f, 'E', 'L', 'F'}, 0o600))
	return &model.Job{
		UserID:                "user-1",
		Filename:              "sample.bin",
		SizeBytes:             4,
		SHA256:                "deadbeef",
		BlobPath:              blob,
		AnalysisDepth:         model.DepthBasic,
		TranslationDetail:     model.DetailBrief,
		Priority:              priority,
		IncludeFunctions:      true,
		MaxFunctionsTranslate: model.UnlimitedFunctions,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	_, store, _, svc := newTestHarness(t)
	ctx := context.Background()

	job := newJob(t, model.JobPriorityNormal)
	job.Warnings = []string{"w1"}
	require.NoError(t, svc.Submit(ctx, job))

	loaded, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.UserID, loaded.UserID)
	assert.Equal(t, job.Filename, loaded.Filename)
	assert.Equal(t, model.JobStatusPending, loaded.Status)
	assert.Equal(t, model.UnlimitedFunctions, loaded.MaxFunctionsTranslate)
	assert.Equal(t, []string{"w1"}, loaded.Warnings)
	assert.True(t, loaded.IncludeFunctions)

	_, err = store.GetJob(ctx, "dec_00000000000000000000000000000000")
	assert.True(t, errors.IsNotFound(err))
}

func TestTransitionStatusCAS(t *testing.T) {
	mr, store, _, svc := newTestHarness(t)
	ctx := context.Background()

	job := newJob(t, model.JobPriorityNormal)
	require.NoError(t, svc.Submit(ctx, job))

	ok, err := store.TransitionStatus(ctx, job.ID, model.JobStatusPending, model.JobStatusProcessing)
	require.NoError(t, err)
	assert.True(t, ok)

	// second claim loses
	ok, err = store.TransitionStatus(ctx, job.ID, model.JobStatusPending, model.JobStatusProcessing)
	require.NoError(t, err)
	assert.False(t, ok)

	// illegal edge is refused without touching the store
	ok, err = store.TransitionStatus(ctx, job.ID, model.JobStatusProcessing, model.JobStatusPending)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.TransitionStatus(ctx, job.ID, model.JobStatusProcessing, model.JobStatusCompleted)
	require.NoError(t, err)
	assert.True(t, ok)

	loaded, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.NotNil(t, loaded.StartedAt)
	assert.NotNil(t, loaded.CompletedAt)
	assert.False(t, loaded.CompletedAt.Before(*loaded.StartedAt))

	// terminal jobs carry the eviction TTL
	assert.Greater(t, mr.TTL(kvstore.JobKey(job.ID)), time.Duration(0))
}

func TestQueuePriorityOrdering(t *testing.T) {
	_, _, queue, _ := newTestHarness(t)
	ctx := context.Background()

	require.NoError(t, queue.Enqueue(ctx, "low-1", model.JobPriorityLow))
	require.NoError(t, queue.Enqueue(ctx, "normal-1", model.JobPriorityNormal))
	require.NoError(t, queue.Enqueue(ctx, "normal-2", model.JobPriorityNormal))
	require.NoError(t, queue.Enqueue(ctx, "high-1", model.JobPriorityHigh))

	var order []string
	for {
		id, ok, err := queue.Dequeue(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		order = append(order, id)
	}
	assert.Equal(t, []string{"high-1", "normal-1", "normal-2", "low-1"}, order)
}

func TestQueueCeiling(t *testing.T) {
	mr := miniredis.RunT(t)
	kv, err := kvstore.NewClient("redis://" + mr.Addr())
	require.NoError(t, err)
	defer kv.Close()

	queue := NewQueue(kv, 2)
	ctx := context.Background()
	require.NoError(t, queue.Enqueue(ctx, "a", model.JobPriorityNormal))
	require.NoError(t, queue.Enqueue(ctx, "b", model.JobPriorityNormal))

	err = queue.Enqueue(ctx, "c", model.JobPriorityNormal)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.TypeQueueFull))
}

func TestSubmitRollbackOnFullQueue(t *testing.T) {
	mr := miniredis.RunT(t)
	kv, err := kvstore.NewClient("redis://" + mr.Addr())
	require.NoError(t, err)
	defer kv.Close()

	store := NewStore(kv, time.Hour)
	queue := NewQueue(kv, 1)
	svc := NewService(store, queue)
	ctx := context.Background()

	require.NoError(t, svc.Submit(ctx, newJob(t, model.JobPriorityNormal)))

	job := newJob(t, model.JobPriorityNormal)
	err = svc.Submit(ctx, job)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.TypeQueueFull))

	// the rejected submission leaves no record behind
	_, err = store.GetJob(ctx, job.ID)
	assert.True(t, errors.IsNotFound(err))
}

func TestCancelPending(t *testing.T) {
	_, store, queue, svc := newTestHarness(t)
	ctx := context.Background()

	job := newJob(t, model.JobPriorityLow)
	require.NoError(t, svc.Submit(ctx, job))

	ok, err := svc.Cancel(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	loaded, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, loaded.Status)

	depth, err := queue.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)

	_, statErr := os.Stat(job.BlobPath)
	assert.True(t, os.IsNotExist(statErr))

	// second cancel on a terminal job is a no-op
	ok, err = svc.Cancel(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCancelRefusedAfterDecompileStarts(t *testing.T) {
	_, store, _, svc := newTestHarness(t)
	ctx := context.Background()

	job := newJob(t, model.JobPriorityNormal)
	require.NoError(t, svc.Submit(ctx, job))

	ok, err := store.TransitionStatus(ctx, job.ID, model.JobStatusPending, model.JobStatusProcessing)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, store.MarkDecompileStarted(ctx, job.ID))

	ok, err = svc.Cancel(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	loaded, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusProcessing, loaded.Status)
}

func TestWorkerHappyPath(t *testing.T) {
	_, store, queue, svc := newTestHarness(t)
	ctx := context.Background()

	job := newJob(t, model.JobPriorityNormal)
	require.NoError(t, svc.Submit(ctx, job))

	pool := NewPool(store, queue, &fakeDecompiler{}, &fakeTranslator{}, PoolConfig{Workers: 1})
	id, ok, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	pool.process(ctx, id)

	loaded, result, err := svc.Fetch(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, loaded.Status)
	assert.Equal(t, progressDone, loaded.ProgressPercentage)
	require.NotNil(t, result)
	require.NotNil(t, result.Artifact)
	require.NotNil(t, result.Translation)
	assert.Equal(t, "main", result.Translation.FunctionTranslations[0].FunctionName)

	_, statErr := os.Stat(job.BlobPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestWorkerDecompileFailureIsFatal(t *testing.T) {
	_, store, queue, svc := newTestHarness(t)
	ctx := context.Background()

	job := newJob(t, model.JobPriorityNormal)
	require.NoError(t, svc.Submit(ctx, job))

	pool := NewPool(store, queue, &fakeDecompiler{err: errors.NewDecompiler("corrupt header")}, &fakeTranslator{}, PoolConfig{Workers: 1})
	id, _, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	pool.process(ctx, id)

	loaded, result, err := svc.Fetch(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, loaded.Status)
	assert.Nil(t, result)
	assert.NotEmpty(t, loaded.Errors)
}

func TestWorkerTranslationFailureIsNonFatal(t *testing.T) {
	_, store, queue, svc := newTestHarness(t)
	ctx := context.Background()

	job := newJob(t, model.JobPriorityNormal)
	require.NoError(t, svc.Submit(ctx, job))

	pool := NewPool(store, queue, &fakeDecompiler{},
		&fakeTranslator{err: errors.NewNotFound("provider", "acme")}, PoolConfig{Workers: 1})
	id, _, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	pool.process(ctx, id)

	loaded, result, err := svc.Fetch(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, loaded.Status)
	require.NotNil(t, result)
	assert.NotNil(t, result.Artifact)
	assert.Nil(t, result.Translation)
	assert.NotEmpty(t, loaded.Warnings)
}

// stallingTranslator holds the translation stage until the job deadline
// fires, then reports a clean result as if nothing happened.
type stallingTranslator struct{}

func (s *stallingTranslator) Translate(ctx context.Context, job *model.Job, artifact *model.DecompilationArtifact) (*model.TranslationResult, error) {
	<-ctx.Done()
	return &model.TranslationResult{}, nil
}

func TestWorkerDeadlineDuringTranslationFailsJob(t *testing.T) {
	_, store, queue, svc := newTestHarness(t)
	ctx := context.Background()

	job := newJob(t, model.JobPriorityNormal)
	job.TimeoutSecond = 1
	require.NoError(t, svc.Submit(ctx, job))

	pool := NewPool(store, queue, &fakeDecompiler{}, &stallingTranslator{}, PoolConfig{Workers: 1})
	id, _, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	pool.process(ctx, id)

	loaded, result, err := svc.Fetch(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, loaded.Status)
	assert.Contains(t, loaded.Errors, "timeout")
	assert.Nil(t, result)
}

func TestWorkerDropsJobCancelledBeforePickup(t *testing.T) {
	_, store, queue, svc := newTestHarness(t)
	ctx := context.Background()

	job := newJob(t, model.JobPriorityNormal)
	require.NoError(t, svc.Submit(ctx, job))

	// cancel wins before the worker claims; the queue entry is already gone,
	// but simulate a stale pickup of the same id
	ok, err := svc.Cancel(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, ok)

	pool := NewPool(store, queue, &fakeDecompiler{}, &fakeTranslator{}, PoolConfig{Workers: 1})
	pool.process(ctx, job.ID)

	loaded, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, loaded.Status)
}

func TestWorkerLosesTerminalRaceToCancel(t *testing.T) {
	_, store, queue, svc := newTestHarness(t)
	ctx := context.Background()

	job := newJob(t, model.JobPriorityNormal)
	require.NoError(t, svc.Submit(ctx, job))

	// cancel sneaks in mid-stage, after the worker claimed the job
	dec := &fakeDecompiler{}
	dec.onCalled = func() {
		ok, err := store.TransitionStatus(ctx, job.ID, model.JobStatusProcessing, model.JobStatusCancelled)
		require.NoError(t, err)
		require.True(t, ok)
	}

	pool := NewPool(store, queue, dec, &fakeTranslator{}, PoolConfig{Workers: 1})
	id, _, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	pool.process(ctx, id)

	loaded, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, loaded.Status)
}

func TestSweepStuckJobs(t *testing.T) {
	mr, store, _, svc := newTestHarness(t)
	ctx := context.Background()

	job := newJob(t, model.JobPriorityNormal)
	require.NoError(t, svc.Submit(ctx, job))
	ok, err := store.TransitionStatus(ctx, job.ID, model.JobStatusPending, model.JobStatusProcessing)
	require.NoError(t, err)
	require.True(t, ok)

	// age the started_at stamp past the global maximum
	old := time.Now().Add(-2 * time.Hour).UTC().Format(time.RFC3339Nano)
	mr.HSet(kvstore.JobKey(job.ID), fieldStartedAt, old)

	bg := NewBackground(store, nil, BackgroundConfig{MaxTimeoutSecond: 1800})
	require.NoError(t, bg.SweepStuckJobs(ctx))

	loaded, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, loaded.Status)
	assert.Contains(t, loaded.Errors, "timeout")
}

func TestSweepTerminalTTLsRearmsLostExpiry(t *testing.T) {
	mr, store, _, svc := newTestHarness(t)
	ctx := context.Background()

	job := newJob(t, model.JobPriorityNormal)
	require.NoError(t, svc.Submit(ctx, job))
	_, err := store.TransitionStatus(ctx, job.ID, model.JobStatusPending, model.JobStatusProcessing)
	require.NoError(t, err)
	_, err = store.TransitionStatus(ctx, job.ID, model.JobStatusProcessing, model.JobStatusCompleted)
	require.NoError(t, err)

	// simulate a crash between the terminal CAS and the Expire call
	require.NoError(t, store.kv.Redis().Persist(ctx, kvstore.JobKey(job.ID)).Err())
	require.Zero(t, mr.TTL(kvstore.JobKey(job.ID)))

	n, err := store.SweepTerminalTTLs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Greater(t, mr.TTL(kvstore.JobKey(job.ID)), time.Duration(0))

	// second pass finds nothing to do
	n, err = store.SweepTerminalTTLs(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSweepLeavesFreshJobsAlone(t *testing.T) {
	_, store, _, svc := newTestHarness(t)
	ctx := context.Background()

	job := newJob(t, model.JobPriorityNormal)
	require.NoError(t, svc.Submit(ctx, job))
	_, err := store.TransitionStatus(ctx, job.ID, model.JobStatusPending, model.JobStatusProcessing)
	require.NoError(t, err)

	bg := NewBackground(store, nil, BackgroundConfig{MaxTimeoutSecond: 1800})
	require.NoError(t, bg.SweepStuckJobs(ctx))

	loaded, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusProcessing, loaded.Status)
}
