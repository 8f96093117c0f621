package ledger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// BatchFlushThreshold is the number of entries that triggers an immediate write.
const BatchFlushThreshold = 100

// Writer accepts entries for recording.
type Writer interface {
	Write(entry *Entry)
	Close() error
}

// Logger buffers entries and writes them to a Store in batches from a
// background goroutine.
type Logger struct {
	store    Store
	buffer   chan *Entry
	done     chan struct{}
	wg       sync.WaitGroup
	writes   sync.WaitGroup
	interval time.Duration
	closed   atomic.Bool
}

// NewLogger starts a logger over store.
func NewLogger(store Store, cfg Config) *Logger {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}

	l := &Logger{
		store:    store,
		buffer:   make(chan *Entry, cfg.BufferSize),
		done:     make(chan struct{}),
		interval: cfg.FlushInterval,
	}

	l.wg.Add(1)
	go l.flushLoop()

	return l
}

// Write queues an entry without blocking. When the buffer is full the entry
// is dropped with a warning; after Close it is dropped silently.
func (l *Logger) Write(entry *Entry) {
	if entry == nil || l.closed.Load() {
		return
	}

	l.writes.Add(1)
	defer l.writes.Done()

	// Close may have started between the first check and Add.
	if l.closed.Load() {
		return
	}

	select {
	case l.buffer <- entry:
	default:
		slog.Warn("ledger buffer full, dropping entry",
			"id", entry.ID,
			"session_id", entry.SessionID,
			"model", entry.Model,
		)
	}
}

// Close writes what is buffered and stops the store. Safe to call more than once.
func (l *Logger) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	l.writes.Wait()
	close(l.done)
	l.wg.Wait()
	return l.store.Close()
}

func (l *Logger) flushLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	batch := make([]*Entry, 0, BatchFlushThreshold)

	for {
		select {
		case entry := <-l.buffer:
			batch = append(batch, entry)
			if len(batch) >= BatchFlushThreshold {
				l.flushBatch(batch)
				batch = make([]*Entry, 0, BatchFlushThreshold)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				l.flushBatch(batch)
				batch = make([]*Entry, 0, BatchFlushThreshold)
			}

		case <-l.done:
			close(l.buffer)
			for entry := range l.buffer {
				batch = append(batch, entry)
			}
			if len(batch) > 0 {
				l.flushBatch(batch)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := l.store.Flush(ctx); err != nil {
				slog.Error("failed to flush ledger store", "error", err)
			}
			cancel()
			return
		}
	}
}

func (l *Logger) flushBatch(batch []*Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := l.store.WriteBatch(ctx, batch); err != nil {
		slog.Error("failed to write ledger batch", "error", err, "count", len(batch))
	}
}

// NoopLogger discards entries. Used when the ledger is disabled.
type NoopLogger struct{}

// Write does nothing.
func (NoopLogger) Write(*Entry) {}

// Close does nothing.
func (NoopLogger) Close() error { return nil }
