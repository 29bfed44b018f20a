package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"storefront-triage/internal/config"
	"storefront-triage/internal/incident"

	"github.com/google/uuid"
)

// auditRow is one timeline entry queued for insertion.
type auditRow struct {
	incidentID uuid.UUID
	code       string
	ts         time.Time
	action     string
	actor      string
	details    string
}

// AuditWriter batches incident timeline entries into ClickHouse. It
// implements the incident manager's audit sink. Appends buffer in memory;
// the append that fills a batch flushes synchronously on the caller's
// goroutine. A failed batch is logged and dropped after retries.
type AuditWriter struct {
	client *Client
	config config.BatchWriterConfig

	mu     sync.Mutex
	buffer []auditRow
	closed bool

	flushTimer *time.Timer

	totalWritten atomic.Uint64
	totalFailed  atomic.Uint64
}

// NewAuditWriter creates a writer flushing on size or interval.
func NewAuditWriter(client *Client, cfg config.BatchWriterConfig) *AuditWriter {
	w := &AuditWriter{
		client: client,
		config: cfg,
		buffer: make([]auditRow, 0, cfg.BatchSize),
	}
	w.flushTimer = time.AfterFunc(cfg.FlushInterval, w.timerFlush)
	return w
}

// WriteTimelineEntry queues one timeline entry for persistence.
func (w *AuditWriter) WriteTimelineEntry(incidentID uuid.UUID, code string, entry incident.TimelineEntry) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}

	w.buffer = append(w.buffer, auditRow{
		incidentID: incidentID,
		code:       code,
		ts:         entry.Timestamp,
		action:     entry.Action,
		actor:      entry.Actor,
		details:    entry.Details,
	})

	if len(w.buffer) >= w.config.BatchSize {
		if err := w.flushLocked(); err != nil {
			slog.Error("audit flush failed", "error", err)
		}
	}
}

func (w *AuditWriter) timerFlush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	if len(w.buffer) > 0 {
		if err := w.flushLocked(); err != nil {
			slog.Error("audit timer flush failed", "error", err)
		}
	}
	w.flushTimer.Reset(w.config.FlushInterval)
}

// flushLocked inserts the buffered rows with retries. Caller holds w.mu.
func (w *AuditWriter) flushLocked() error {
	if len(w.buffer) == 0 {
		return nil
	}

	rows := w.buffer
	w.buffer = make([]auditRow, 0, w.config.BatchSize)

	var lastErr error
	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(w.config.RetryDelay * time.Duration(attempt))
		}

		if err := w.insertBatch(rows); err != nil {
			lastErr = err
			slog.Warn("audit batch insert failed, retrying",
				"attempt", attempt+1,
				"max_retries", w.config.MaxRetries,
				"error", err)
			continue
		}

		w.totalWritten.Add(uint64(len(rows)))
		return nil
	}

	w.totalFailed.Add(uint64(len(rows)))
	return fmt.Errorf("%w after %d retries: %v", ErrBatchInsertFailed, w.config.MaxRetries, lastErr)
}

func (w *AuditWriter) insertBatch(rows []auditRow) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	batch, err := w.client.PrepareBatch(ctx,
		"INSERT INTO incident_timeline (incident_id, incident_code, ts, action, actor, details)")
	if err != nil {
		return NewStorageError("PrepareBatch", "incident_timeline", err)
	}

	for _, r := range rows {
		if err := batch.Append(r.incidentID, r.code, r.ts, r.action, r.actor, r.details); err != nil {
			return NewStorageError("Append", "incident_timeline", err)
		}
	}

	if err := batch.Send(); err != nil {
		return NewStorageError("Send", "incident_timeline", err)
	}
	return nil
}

// Stats returns written and failed row counts.
func (w *AuditWriter) Stats() (written, failed uint64) {
	return w.totalWritten.Load(), w.totalFailed.Load()
}

// Close flushes the remaining buffer and stops the timer.
func (w *AuditWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}
	w.closed = true
	w.flushTimer.Stop()

	return w.flushLocked()
}
