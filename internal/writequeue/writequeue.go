// Package writequeue serializes all database writes behind a single
// consumer goroutine: a preference for message
// passing over a mutex, backpressure and cancellation become ordinary
// channel operations instead of ad-hoc locking.
package writequeue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agenr/memory/internal/types"
)

var (
	ErrClosed    = errors.New("writequeue: closed")
	ErrCancelled = errors.New("writequeue: cancelled")
)

// WriteFunc performs one sub-batch write for entries sharing fileKey and
// returns an implementation-defined result (typically a store.Result) that
// is handed back to every Push call in the sub-batch.
type WriteFunc func(ctx context.Context, fileKey string, entries []*types.Entry) (any, error)

// Config tunes consumer-loop behavior.
type Config struct {
	BatchSize         int
	HighWatermark     int
	RetryOnFailure    bool
	RetryBackoff      time.Duration
	ShutdownRequested func() bool
}

func DefaultConfig() Config {
	return Config{BatchSize: 40, HighWatermark: 500, RetryOnFailure: true, RetryBackoff: 2 * time.Second}
}

type outcome struct {
	result any
	err    error
}

type message struct {
	fileKey   string
	entries   []*types.Entry
	exclusive func(ctx context.Context) error
	marker    bool
	cancelKey string
	cancelled bool
	done      chan outcome
}

// Queue is a single-writer FIFO-per-file-key work queue.
type Queue struct {
	cfg     Config
	writeFn WriteFunc

	msgCh    chan *message
	doneCh   chan struct{}
	closed   atomic.Bool
	closeSig chan struct{}
	once     sync.Once

	pendingMu sync.Mutex
	pendingCv *sync.Cond
	pending   int
}

// New starts the consumer goroutine and returns the queue handle.
func New(writeFn WriteFunc, cfg Config) *Queue {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 40
	}
	if cfg.HighWatermark <= 0 {
		cfg.HighWatermark = 500
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 2 * time.Second
	}
	q := &Queue{
		cfg:      cfg,
		writeFn:  writeFn,
		msgCh:    make(chan *message, 256),
		doneCh:   make(chan struct{}),
		closeSig: make(chan struct{}),
	}
	q.pendingCv = sync.NewCond(&q.pendingMu)
	go q.run()
	return q
}

// Push enqueues entries under fileKey as one write unit and blocks until
// they've been written (or the queue is cancelled/closed/ctx is done). It
// blocks before enqueueing while the queue's pending item count would
// exceed HighWatermark, so a slow consumer applies backpressure upstream.
func (q *Queue) Push(ctx context.Context, fileKey string, entries []*types.Entry) (any, error) {
	if q.closed.Load() {
		return nil, ErrClosed
	}
	if err := q.waitForRoom(ctx); err != nil {
		return nil, err
	}

	m := &message{fileKey: fileKey, entries: entries, done: make(chan outcome, 1)}
	q.incPending()
	select {
	case q.msgCh <- m:
	case <-q.closeSig:
		q.decPending()
		return nil, ErrCancelled
	case <-ctx.Done():
		q.decPending()
		return nil, ctx.Err()
	}
	select {
	case out := <-m.done:
		return out.result, out.err
	case <-q.closeSig:
		return nil, ErrCancelled
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RunExclusive submits fn to run alone on the consumer goroutine, blocking
// every other queued item until it completes.
func (q *Queue) RunExclusive(ctx context.Context, fn func(ctx context.Context) error) error {
	if q.closed.Load() {
		return ErrClosed
	}
	m := &message{exclusive: fn, done: make(chan outcome, 1)}
	select {
	case q.msgCh <- m:
	case <-q.closeSig:
		return ErrCancelled
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case out := <-m.done:
		return out.err
	case <-q.closeSig:
		return ErrCancelled
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel drops queued (not yet dispatched) items matching fileKey, each
// completing with ErrCancelled, and returns once any batch for fileKey
// already in flight has finished.
func (q *Queue) Cancel(fileKey string) {
	m := &message{marker: true, cancelKey: fileKey, done: make(chan outcome, 1)}
	select {
	case q.msgCh <- m:
	case <-q.closeSig:
		return
	}
	select {
	case <-m.done:
	case <-q.closeSig:
	}
}

// Drain blocks until every item enqueued before this call has completed.
func (q *Queue) Drain(ctx context.Context) error {
	if q.closed.Load() {
		return ErrClosed
	}
	m := &message{marker: true, done: make(chan outcome, 1)}
	select {
	case q.msgCh <- m:
	case <-q.closeSig:
		return ErrCancelled
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case out := <-m.done:
		return out.err
	case <-q.closeSig:
		return ErrCancelled
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting new work, waits for already-enqueued items to
// finish, and shuts down the consumer goroutine.
func (q *Queue) Close(ctx context.Context) error {
	if q.closed.Swap(true) {
		<-q.doneCh
		return nil
	}
	q.pendingCv.Broadcast() // release anyone blocked in waitForRoom
	close(q.msgCh)
	select {
	case <-q.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) incPending() {
	q.pendingMu.Lock()
	q.pending++
	q.pendingMu.Unlock()
}

func (q *Queue) decPending() {
	q.pendingMu.Lock()
	q.pending--
	q.pendingMu.Unlock()
	q.pendingCv.Broadcast()
}

func (q *Queue) waitForRoom(ctx context.Context) error {
	q.pendingMu.Lock()
	defer q.pendingMu.Unlock()
	if q.pending < q.cfg.HighWatermark {
		return nil
	}

	// sync.Cond.Wait only wakes on Broadcast/Signal, not ctx cancellation,
	// so a goroutine nudges it once ctx is done to bound the wait.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			q.pendingCv.Broadcast()
		case <-done:
		}
	}()

	for q.pending >= q.cfg.HighWatermark {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if q.closed.Load() {
			return ErrClosed
		}
		q.pendingCv.Wait()
	}
	return nil
}

func (q *Queue) run() {
	defer close(q.doneCh)
	var pending []*message
	for {
		if len(pending) == 0 {
			m, ok := <-q.msgCh
			if !ok {
				return
			}
			pending = append(pending, m)
		}

	drain:
		for {
			select {
			case m, ok := <-q.msgCh:
				if !ok {
					q.processBatch(pending)
					return
				}
				pending = append(pending, m)
			default:
				break drain
			}
		}

		q.processBatch(pending)
		pending = nil

		if q.cfg.ShutdownRequested != nil && q.cfg.ShutdownRequested() {
			q.closed.Store(true)
			q.once.Do(func() { close(q.closeSig) })
			return
		}
	}
}

// processBatch walks pending in order, coalescing consecutive same-file-key
// regular items into sub-batches up to cfg.BatchSize and running exclusive
// items alone, preserving overall submission order throughout.
func (q *Queue) processBatch(pending []*message) {
	i := 0
	for i < len(pending) {
		m := pending[i]
		switch {
		case m.cancelled:
			i++
		case m.marker && m.cancelKey != "":
			for k := i + 1; k < len(pending); k++ {
				p := pending[k]
				if !p.cancelled && p.exclusive == nil && !p.marker && p.fileKey == m.cancelKey {
					p.done <- outcome{err: ErrCancelled}
					p.cancelled = true
					q.decPending()
				}
			}
			m.done <- outcome{}
			i++
		case m.marker:
			m.done <- outcome{}
			i++
		case m.exclusive != nil:
			m.done <- outcome{err: m.exclusive(context.Background())}
			i++
		default:
			key := m.fileKey
			j := i
			var group []*message
			for j < len(pending) && len(group) < q.cfg.BatchSize &&
				pending[j].exclusive == nil && !pending[j].marker && !pending[j].cancelled && pending[j].fileKey == key {
				group = append(group, pending[j])
				j++
			}
			q.processGroup(group)
			i = j
		}
	}
}

func (q *Queue) processGroup(group []*message) {
	if len(group) == 0 {
		return
	}
	var entries []*types.Entry
	for _, m := range group {
		entries = append(entries, m.entries...)
	}
	result, err := q.writeFn(context.Background(), group[0].fileKey, entries)
	if err != nil && q.cfg.RetryOnFailure {
		time.Sleep(q.cfg.RetryBackoff)
		result, err = q.writeFn(context.Background(), group[0].fileKey, entries)
	}
	for _, m := range group {
		m.done <- outcome{result: result, err: err}
		q.decPending()
	}
}
