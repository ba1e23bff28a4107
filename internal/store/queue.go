package store

import (
	"context"
	"fmt"

	"github.com/agenr/memory/internal/embedcache"
	"github.com/agenr/memory/internal/types"
	"github.com/agenr/memory/internal/writequeue"
)

// QueuedPipeline serializes every StoreEntries call behind a single
// writequeue.Queue consumer (component I), so concurrent ingest sources
// never race for the same database connection. It is the production
// entry point for writers; callers that genuinely need a one-off
// synchronous write (tests, one-shot CLI ingest) may still call
// Pipeline.StoreEntries directly.
type QueuedPipeline struct {
	pipeline *Pipeline
	embed    embedcache.EmbedFunc
	opts     Options
	queue    *writequeue.Queue
}

// NewQueued wraps pipeline in a write queue using cfg for batch sizing,
// backpressure, and retry behavior. embed and opts are applied to every
// batch drained from the queue.
func NewQueued(pipeline *Pipeline, embed embedcache.EmbedFunc, opts Options, cfg writequeue.Config) *QueuedPipeline {
	qp := &QueuedPipeline{pipeline: pipeline, embed: embed, opts: opts}
	qp.queue = writequeue.New(func(ctx context.Context, fileKey string, entries []*types.Entry) (any, error) {
		result, err := pipeline.StoreEntries(ctx, entries, opts, embed)
		if err != nil {
			return nil, fmt.Errorf("queued store for %q: %w", fileKey, err)
		}
		return result, nil
	}, cfg)
	return qp
}

// Push enqueues entries under fileKey and blocks until the write queue's
// consumer goroutine has committed (or given up on) the sub-batch they
// land in, returning the aggregated Result for that sub-batch.
func (qp *QueuedPipeline) Push(ctx context.Context, fileKey string, entries []*types.Entry) (Result, error) {
	if len(entries) == 0 {
		return Result{}, nil
	}
	out, err := qp.queue.Push(ctx, fileKey, entries)
	if out == nil {
		return Result{}, err
	}
	result, ok := out.(Result)
	if !ok {
		return Result{}, err
	}
	return result, err
}

// RunExclusive schedules fn to run alone on the writer goroutine, used by
// the consolidator to serialize against ingest writes.
func (qp *QueuedPipeline) RunExclusive(ctx context.Context, fn func(ctx context.Context) error) error {
	return qp.queue.RunExclusive(ctx, fn)
}

// Cancel drops not-yet-dispatched items for fileKey, used when a watched
// file is removed or a session switches mid-flight.
func (qp *QueuedPipeline) Cancel(fileKey string) { qp.queue.Cancel(fileKey) }

// Drain blocks until the queue has no pending or in-flight work.
func (qp *QueuedPipeline) Drain(ctx context.Context) error { return qp.queue.Drain(ctx) }

// Close stops accepting new work and shuts the consumer goroutine down.
func (qp *QueuedPipeline) Close(ctx context.Context) error { return qp.queue.Close(ctx) }
