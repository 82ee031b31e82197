// Package batcher accumulates transcript entries and flushes them to the
// backend in batches so persistence never stalls the live session.
package batcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/interviewlab/sessionkit/pkg/observability"
	"github.com/interviewlab/sessionkit/pkg/transcript"
)

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("batcher is closed")

const (
	defaultMaxBatch  = 5
	defaultIdleFlush = 2 * time.Second
	finalFlushTries  = 4
)

// Sink receives flushed batches together with the progress snapshot taken
// when the batch was cut. It must be idempotent by entry ID: a retried
// batch may overlap a previous one. Returns the number of entries that
// were new.
type Sink interface {
	Persist(ctx context.Context, entries []transcript.Entry, elapsedTime, questionCount int, metrics transcript.Metrics) (int, error)
}

// SnapshotFunc reports current session progress; it is called at flush
// time so the persisted snapshot matches the batch being cut.
type SnapshotFunc func() (elapsedTime, questionCount int, metrics transcript.Metrics)

// Config holds batcher tuning. Zero values take defaults.
type Config struct {
	// MaxBatch triggers an immediate flush once this many entries are
	// pending (default 5).
	MaxBatch int
	// IdleFlush flushes a non-empty queue after this much quiet time
	// (default 2s).
	IdleFlush time.Duration
}

// Batcher buffers transcript entries and flushes when the batch fills or
// the queue sits idle. Failed flushes re-queue the batch at the front so
// order is preserved; delivery is at-least-once against an idempotent sink.
type Batcher struct {
	sink     Sink
	snapshot SnapshotFunc
	maxBatch int
	idle     time.Duration
	log      zerolog.Logger

	mu       sync.Mutex
	pending  []transcript.Entry
	timer    *time.Timer
	flushing bool
	closed   bool
}

// New creates a batcher flushing to sink. snapshot may not be nil.
func New(sink Sink, snapshot SnapshotFunc, cfg Config, log zerolog.Logger) *Batcher {
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = defaultMaxBatch
	}
	if cfg.IdleFlush <= 0 {
		cfg.IdleFlush = defaultIdleFlush
	}
	return &Batcher{
		sink:     sink,
		snapshot: snapshot,
		maxBatch: cfg.MaxBatch,
		idle:     cfg.IdleFlush,
		log:      log.With().Str("component", "batcher").Logger(),
	}
}

// Enqueue adds an entry to the pending queue. The call returns before any
// network activity happens.
func (b *Batcher) Enqueue(entry transcript.Entry) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}

	b.pending = append(b.pending, entry)
	observability.SetPendingEntries(len(b.pending))

	if len(b.pending) >= b.maxBatch {
		b.stopTimerLocked()
		b.mu.Unlock()
		go b.flush(context.Background())
		return nil
	}

	b.resetTimerLocked()
	b.mu.Unlock()
	return nil
}

// Flush forces a flush of everything pending. Used on pause and before
// ending a session.
func (b *Batcher) Flush(ctx context.Context) error {
	return b.flush(ctx)
}

// Pending reports the number of queued entries.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Drain force-flushes everything pending, retrying with exponential
// backoff. Called before pause or end teardown so intentional exits lose
// nothing.
func (b *Batcher) Drain(ctx context.Context) error {
	op := func() (struct{}, error) {
		if err := b.flush(ctx); err != nil {
			return struct{}{}, err
		}
		if b.Pending() > 0 {
			return struct{}{}, errors.New("entries still pending")
		}
		return struct{}{}, nil
	}
	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(finalFlushTries),
	)
	if err != nil {
		b.log.Error().Err(err).Int("pending", b.Pending()).Msg("drain failed")
		return err
	}
	return nil
}

// Close stops the idle timer and drains the remaining entries. After
// Close, Enqueue fails with ErrClosed.
func (b *Batcher) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.stopTimerLocked()
	b.mu.Unlock()

	return b.Drain(ctx)
}

// stopTimerLocked and resetTimerLocked manage the idle-flush timer; the
// caller must hold b.mu.
func (b *Batcher) stopTimerLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

func (b *Batcher) resetTimerLocked() {
	b.stopTimerLocked()
	b.timer = time.AfterFunc(b.idle, func() {
		_ = b.flush(context.Background())
	})
}

func (b *Batcher) flush(ctx context.Context) error {
	b.mu.Lock()
	if b.flushing || len(b.pending) == 0 {
		b.mu.Unlock()
		return nil
	}
	b.flushing = true
	batch := b.pending
	b.pending = nil
	b.stopTimerLocked()
	b.mu.Unlock()

	ctx, span := observability.StartSpan(ctx, "batcher.flush")
	defer span.End()

	elapsed, questions, metrics := b.snapshot()
	accepted, err := b.sink.Persist(ctx, batch, elapsed, questions, metrics)

	b.mu.Lock()
	b.flushing = false
	if err != nil {
		// Re-queue at the front so a later flush preserves order.
		b.pending = append(batch, b.pending...)
		observability.SetPendingEntries(len(b.pending))
		if !b.closed && len(b.pending) > 0 {
			b.resetTimerLocked()
		}
		b.mu.Unlock()

		span.RecordError(err)
		observability.RecordFlush(false, 0)
		b.log.Warn().Err(err).Int("batch", len(batch)).Msg("flush failed, batch re-queued")
		return err
	}
	// Entries enqueued while the flush was in flight still need a trigger:
	// a full queue flushes again right away, a partial one rearms the idle
	// timer.
	observability.SetPendingEntries(len(b.pending))
	refire := !b.closed && len(b.pending) >= b.maxBatch
	if !b.closed && len(b.pending) > 0 && !refire {
		b.resetTimerLocked()
	}
	b.mu.Unlock()

	if refire {
		go b.flush(context.Background())
	}

	observability.RecordFlush(true, accepted)
	b.log.Debug().Int("batch", len(batch)).Int("accepted", accepted).Msg("flushed")
	return nil
}
