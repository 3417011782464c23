// Package storage: batched loading.
//
// Batcher groups rows pushed one at a time and hands each full batch to a
// CopyFn. The load stage feeds it from the record stream; on every
// successful flush a progress line is logged with running totals and
// instantaneous rows/sec since the previous flush.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// CopyFn abstracts a backend's bulk insert capability; Repository.CopyFrom
// satisfies it.
type CopyFn func(ctx context.Context, columns []string, rows [][]any) (int64, error)

// Batcher accumulates rows and flushes them in batches of Size.
type Batcher struct {
	columns []string
	size    int
	copyFn  CopyFn
	log     *slog.Logger

	// OnFlush, when set, is called after each successful flush with the
	// number of rows the backend reported.
	OnFlush func(n int64)

	batch   [][]any
	total   int64
	batches int64
	start   time.Time
	last    time.Time
}

// NewBatcher validates its arguments and returns an empty Batcher.
func NewBatcher(columns []string, size int, copyFn CopyFn, log *slog.Logger) (*Batcher, error) {
	if size <= 0 {
		return nil, fmt.Errorf("batchSize must be > 0")
	}
	if copyFn == nil {
		return nil, fmt.Errorf("copyFn must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	now := time.Now()
	return &Batcher{
		columns: columns,
		size:    size,
		copyFn:  copyFn,
		log:     log,
		batch:   make([][]any, 0, size),
		start:   now,
		last:    now,
	}, nil
}

// Add appends row and flushes when the batch is full.
func (b *Batcher) Add(ctx context.Context, row []any) error {
	if len(row) != len(b.columns) {
		return fmt.Errorf("loader: row has %d values, want %d", len(row), len(b.columns))
	}
	b.batch = append(b.batch, row)
	if len(b.batch) >= b.size {
		return b.Flush(ctx)
	}
	return nil
}

// Flush copies the pending rows, if any.
func (b *Batcher) Flush(ctx context.Context) error {
	if len(b.batch) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	pending := len(b.batch)
	n, err := b.copyFn(ctx, b.columns, b.batch)
	b.total += n

	// Reuse allocated slice; keep capacity to avoid churn.
	b.batch = b.batch[:0]

	if err != nil {
		b.log.Error("loader: copy failed", "rows", pending, "inserted", n, "total", b.total, "err", err)
		return err
	}

	b.batches++
	now := time.Now()
	since := now.Sub(b.last)
	rps := float64(0)
	if since > 0 {
		rps = float64(n) / since.Seconds()
	}
	b.log.Info("loader: batch flushed",
		"batch", b.batches,
		"rps", int64(rps),
		"inserted", n,
		"total", b.total,
		"elapsed", now.Sub(b.start).Truncate(time.Millisecond),
	)
	b.last = now
	if b.OnFlush != nil {
		b.OnFlush(n)
	}
	return nil
}

// Pending returns the number of buffered rows.
func (b *Batcher) Pending() int { return len(b.batch) }

// Total returns the rows reported inserted so far.
func (b *Batcher) Total() int64 { return b.total }

// Batches returns the number of successful flushes.
func (b *Batcher) Batches() int64 { return b.batches }
