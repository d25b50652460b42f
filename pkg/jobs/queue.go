/*
 * Copyright (c) 2025, bin2nlp authors. All rights reserved.
 * See LICENSE for license information.
 */

package jobs

import (
	"context"

	"github.com/Onegaishimas/bin2nlp-sub003/pkg/errors"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/kvstore"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/metrics"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/model"
)

var queueDepthGauge = metrics.NewGaugeVec(
	"job_queue_depth", "Ready-queue depth per priority", []string{"priority"})

// dequeueOrder: priority is a hint, not a strict ordering, but a single pull
// always prefers high over normal over low. FIFO within a priority.
var dequeueOrder = []model.JobPriority{
	model.JobPriorityHigh,
	model.JobPriorityNormal,
	model.JobPriorityLow,
}

// Queue is the priority-ordered ready queue of job ids.
type Queue struct {
	kv      *kvstore.Client
	ceiling int64
}

func NewQueue(kv *kvstore.Client, ceiling int) *Queue {
	if ceiling <= 0 {
		ceiling = 1000
	}
	return &Queue{kv: kv, ceiling: int64(ceiling)}
}

// Enqueue pushes a job id onto its priority list. A full queue rejects the
// submission so the REST layer can answer 503.
func (q *Queue) Enqueue(ctx context.Context, jobID string, priority model.JobPriority) error {
	depth, err := q.Depth(ctx)
	if err != nil {
		return errors.WrapError(err, "read queue depth", errors.TypeInternal)
	}
	if depth >= q.ceiling {
		return errors.NewQueueFull("job queue is full").WithDetail("depth", depth)
	}
	if err := q.kv.LPush(ctx, kvstore.QueueKey(string(priority)), jobID); err != nil {
		return errors.WrapError(err, "enqueue job", errors.TypeInternal)
	}
	queueDepthGauge.Inc(string(priority))
	return nil
}

// Dequeue pops the next job id, highest priority first. ok is false when
// every list is empty.
func (q *Queue) Dequeue(ctx context.Context) (string, bool, error) {
	for _, priority := range dequeueOrder {
		id, ok, err := q.kv.RPop(ctx, kvstore.QueueKey(string(priority)))
		if err != nil {
			return "", false, errors.WrapError(err, "dequeue job", errors.TypeInternal)
		}
		if ok {
			queueDepthGauge.Dec(string(priority))
			return id, true, nil
		}
	}
	return "", false, nil
}

// Remove deletes a specific job id from its priority list, used by cancel
// while the job is still pending.
func (q *Queue) Remove(ctx context.Context, jobID string, priority model.JobPriority) error {
	if err := q.kv.LRem(ctx, kvstore.QueueKey(string(priority)), jobID); err != nil {
		return errors.WrapError(err, "remove queued job", errors.TypeInternal)
	}
	return nil
}

func (q *Queue) Depth(ctx context.Context) (int64, error) {
	var total int64
	for _, priority := range dequeueOrder {
		n, err := q.kv.LLen(ctx, kvstore.QueueKey(string(priority)))
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}
