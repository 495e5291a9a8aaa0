// Package journal is the durable write-behind between the race engine
// and the store: records are admitted without blocking the engine
// goroutine, grouped into batches, and written as single transactions.
// Full-state checkpoints are written alongside so recovery replays at
// most one checkpoint interval of records.
package journal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	microbatch "github.com/joeycumines/go-microbatch"
	"github.com/rs/zerolog"

	"github.com/hybridsix/chronocore/model"
	"github.com/hybridsix/chronocore/store"
)

// ErrJournalUnavailable wraps store failures that survived the in-place
// retry. Surfaced by ForceFlush when the last admitted batch was lost.
var ErrJournalUnavailable = errors.New("journal: store unavailable")

const (
	defaultBatchMax = 50
	defaultBatchMs  = 200 * time.Millisecond
	writeTimeout    = 5 * time.Second
)

// Options tunes the write-behind.
type Options struct {
	// BatchMax is the record count that forces an early flush.
	BatchMax int

	// BatchMs is the longest a record sits in the buffer before its
	// batch is flushed regardless of size.
	BatchMs time.Duration

	// Fsync mirrors the store's synchronous=FULL setting. When set, a
	// checkpoint request fires after each successful flush (see
	// SetOnFlush) so durable state never trails the journal by much.
	Fsync bool

	Log zerolog.Logger
}

// Counts is a point-in-time view of journal activity, reported by the
// serve digest and the doctor.
type Counts struct {
	Flushed int64 // records written to the store
	Dropped int64 // records lost to failed flushes or a closed writer
	Retried int64 // flushes that needed the in-place retry
	Failed  int64 // flushes lost after the retry
}

// Writer batches journal records and writes them to the store as
// grouped transactions. Put is safe for concurrent use and cheap
// enough to call from the engine goroutine; the store writes happen
// behind it on the batcher's worker.
type Writer struct {
	db   *store.DB
	opts Options
	log  zerolog.Logger

	batcher *microbatch.Batcher[*model.Record]

	mu      sync.Mutex
	lastJR  *microbatch.JobResult[*model.Record]
	onFlush func()

	checkpointPending atomic.Bool

	flushed atomic.Int64
	dropped atomic.Int64
	retried atomic.Int64
	failed  atomic.Int64
}

// New builds a Writer over the given store. Zero option fields take
// the defaults (50 records, 200ms).
func New(db *store.DB, opts Options) *Writer {
	if opts.BatchMax <= 0 {
		opts.BatchMax = defaultBatchMax
	}
	if opts.BatchMs <= 0 {
		opts.BatchMs = defaultBatchMs
	}
	w := &Writer{
		db:   db,
		opts: opts,
		log:  opts.Log.With().Str("comp", "journal").Logger(),
	}
	w.batcher = microbatch.NewBatcher[*model.Record](&microbatch.BatcherConfig{
		MaxSize:        opts.BatchMax,
		FlushInterval:  opts.BatchMs,
		MaxConcurrency: 1,
	}, w.flush)
	return w
}

// SetOnFlush registers the post-flush checkpoint request hook. Wire it
// before traffic starts; it fires asynchronously after successful
// flushes when Fsync is set, with at most one request in flight.
func (w *Writer) SetOnFlush(fn func()) {
	w.mu.Lock()
	w.onFlush = fn
	w.mu.Unlock()
}

// Put admits one record to the pending batch. It returns once the
// batcher owns the record; the store write happens behind. A record
// that cannot be admitted (writer closed) is dropped and logged, never
// bubbled back into the engine.
func (w *Writer) Put(rec model.Record) {
	jr, err := w.batcher.Submit(context.Background(), &rec)
	if err != nil {
		w.dropped.Add(1)
		w.log.Error().Err(err).Str("type", string(rec.Type)).Msg("record dropped")
		return
	}
	w.mu.Lock()
	w.lastJR = jr
	w.mu.Unlock()
}

// Checkpoint writes a full-state snapshot synchronously. Called from
// the engine goroutine on its cadence; one bounded store write.
func (w *Writer) Checkpoint(cp model.Checkpoint) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := w.db.WriteCheckpoint(ctx, cp); err != nil {
		w.log.Error().Err(err).Str("race_id", cp.RaceID).Msg("checkpoint write failed")
		return
	}
	w.log.Debug().Str("race_id", cp.RaceID).Int64("clock_ms", cp.ClockMs).Msg("checkpoint written")
}

// ForceFlush waits until every record admitted before the call has hit
// the store or failed. Bounded by one batch interval plus one write;
// call it before process exit.
func (w *Writer) ForceFlush(ctx context.Context) error {
	w.mu.Lock()
	jr := w.lastJR
	w.mu.Unlock()
	if jr == nil {
		return nil
	}
	return jr.Wait(ctx)
}

// Close drains the pending batch and stops the batcher. Put calls
// after Close drop their records.
func (w *Writer) Close(ctx context.Context) error {
	return w.batcher.Shutdown(ctx)
}

// Counts reports cumulative journal activity.
func (w *Writer) Counts() Counts {
	return Counts{
		Flushed: w.flushed.Load(),
		Dropped: w.dropped.Load(),
		Retried: w.retried.Load(),
		Failed:  w.failed.Load(),
	}
}

// flush is the batch processor: one grouped INSERT transaction per
// batch. A transient store error gets one in-place retry; re-queueing
// would land the batch behind newer records and break journal order.
func (w *Writer) flush(ctx context.Context, recs []*model.Record) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	err := w.db.AppendEvents(wctx, recs)
	if err != nil {
		w.retried.Add(1)
		w.log.Warn().Err(err).Int("records", len(recs)).Msg("flush retry")
		err = w.db.AppendEvents(wctx, recs)
	}
	if err != nil {
		w.failed.Add(1)
		w.dropped.Add(int64(len(recs)))
		w.log.Error().Err(err).Int("records", len(recs)).Msg("flush failed, batch lost")
		return fmt.Errorf("%w: %v", ErrJournalUnavailable, err)
	}
	w.flushed.Add(int64(len(recs)))

	if w.opts.Fsync {
		w.mu.Lock()
		fn := w.onFlush
		w.mu.Unlock()
		if fn != nil && w.checkpointPending.CompareAndSwap(false, true) {
			go func() {
				defer w.checkpointPending.Store(false)
				fn()
			}()
		}
	}
	return nil
}
