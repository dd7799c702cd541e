package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"pulse/internal/domain"
)

// TelemetryInserter is the store dependency a BatchWriter flushes through.
type TelemetryInserter interface {
	InsertTelemetryBatch(ctx context.Context, records []domain.TelemetryRecord) error
}

// BatchWriter accumulates validated records and flushes them on size or
// interval triggers, whichever comes first (spec.md §4.1 Batch Writer).
type BatchWriter struct {
	store         TelemetryInserter
	logger        *slog.Logger
	batchSize     int
	flushInterval time.Duration
	maxBufferSize int

	mu      sync.Mutex
	buffer  []domain.TelemetryRecord
	dropped uint64
}

// NewBatchWriter constructs a BatchWriter. Call Run in its own goroutine
// to drive the interval-triggered flush.
func NewBatchWriter(store TelemetryInserter, batchSize, maxBufferSize int, flushInterval time.Duration, logger *slog.Logger) *BatchWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchWriter{
		store:         store,
		logger:        logger,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		maxBufferSize: maxBufferSize,
	}
}

// Submit enqueues one record, evicting the oldest buffered record (and
// incrementing the drop counter) if the buffer is already at capacity.
func (w *BatchWriter) Submit(r domain.TelemetryRecord) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buffer) >= w.maxBufferSize {
		w.buffer = w.buffer[1:]
		w.dropped++
	}
	w.buffer = append(w.buffer, r)
}

// Dropped returns the count of records evicted due to buffer overflow.
func (w *BatchWriter) Dropped() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}

// Run drives size- and interval-triggered flushes until ctx is cancelled.
func (w *BatchWriter) Run(ctx context.Context) {
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.flush(context.Background())
			return
		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

// MaybeFlushOnSize should be called after every Submit by callers that want
// size-triggered flushing without waiting for the next tick.
func (w *BatchWriter) MaybeFlushOnSize(ctx context.Context) {
	w.mu.Lock()
	ready := len(w.buffer) >= w.batchSize
	w.mu.Unlock()
	if ready {
		w.flush(ctx)
	}
}

func (w *BatchWriter) flush(ctx context.Context) {
	w.mu.Lock()
	if len(w.buffer) == 0 {
		w.mu.Unlock()
		return
	}
	batch := w.buffer
	w.buffer = nil
	w.mu.Unlock()

	// On failure the batch is dropped rather than requeued: callers accept
	// at-most-once durability for buffered-but-uncommitted records
	// (spec.md §4.1).
	if err := w.store.InsertTelemetryBatch(ctx, batch); err != nil {
		w.logger.Error("telemetry batch flush failed", "error", err, "records", len(batch))
	}
}
