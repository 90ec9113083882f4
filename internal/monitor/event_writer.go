package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/plateful/doorman/internal/metrics"
	"github.com/plateful/doorman/internal/retry"
)

const (
	eventWriterChanSize  = 4096
	eventWriterBatchSize = 100
	eventWriterFlushMs   = 500
)

// EventWriter asynchronously batches audit entries to an AuditStore.
type EventWriter struct {
	store   AuditStore
	logger  *slog.Logger
	ch      chan *AuditEntry
	stop    chan struct{}
	running atomic.Bool
	dropped atomic.Int64
}

// NewEventWriter creates a new async audit writer.
func NewEventWriter(store AuditStore, logger *slog.Logger) *EventWriter {
	return &EventWriter{
		store:  store,
		logger: logger,
		ch:     make(chan *AuditEntry, eventWriterChanSize),
		stop:   make(chan struct{}),
	}
}

// Send enqueues an audit entry. Non-blocking: drops and increments a counter
// if the channel is full.
func (w *EventWriter) Send(entry *AuditEntry) {
	select {
	case w.ch <- entry:
	default:
		w.dropped.Add(1)
		metrics.AuditEventsDropped.Inc()
	}
}

// Dropped returns the number of entries dropped due to a full channel.
func (w *EventWriter) Dropped() int64 {
	return w.dropped.Load()
}

// Start begins draining the channel and flushing batches. Call in a goroutine.
func (w *EventWriter) Start(ctx context.Context) {
	w.running.Store(true)
	defer w.running.Store(false)

	ticker := time.NewTicker(time.Duration(eventWriterFlushMs) * time.Millisecond)
	defer ticker.Stop()

	var buf []*AuditEntry

	for {
		select {
		case <-ctx.Done():
			w.drainAndFlush(buf)
			return
		case <-w.stop:
			w.drainAndFlush(buf)
			return
		case entry := <-w.ch:
			buf = append(buf, entry)
			if len(buf) >= eventWriterBatchSize {
				w.flush(buf)
				buf = nil
			}
		case <-ticker.C:
			if len(buf) > 0 {
				w.flush(buf)
				buf = nil
			}
		}
	}
}

// Stop signals the writer to flush remaining entries and exit.
func (w *EventWriter) Stop() {
	select {
	case w.stop <- struct{}{}:
	default:
	}
}

// Running reports whether the writer loop is active.
func (w *EventWriter) Running() bool {
	return w.running.Load()
}

// drainAndFlush empties whatever is still queued before shutting down, so
// events reported just before shutdown reach the store.
func (w *EventWriter) drainAndFlush(buf []*AuditEntry) {
	for {
		select {
		case entry := <-w.ch:
			buf = append(buf, entry)
		default:
			w.flush(buf)
			return
		}
	}
}

func (w *EventWriter) flush(buf []*AuditEntry) {
	if len(buf) == 0 {
		return
	}
	w.safeFlush(buf)
}

func (w *EventWriter) safeFlush(buf []*AuditEntry) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("panic in audit writer flush", "panic", fmt.Sprint(r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := retry.Do(ctx, 3, 100*time.Millisecond, func() error {
		return w.store.AppendBatch(ctx, buf)
	})
	if err != nil {
		w.logger.Error("audit writer flush failed", "error", err, "count", len(buf))
	}
}
