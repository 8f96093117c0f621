package langfuse

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// BatchFlushThreshold is the number of queued events that triggers an
// immediate flush.
const BatchFlushThreshold = 50

// Sink accepts events for delivery.
type Sink interface {
	Enqueue(ev Event)
	Close() error
}

// Ingester delivers a batch of events.
type Ingester interface {
	Ingest(ctx context.Context, events []Event) error
}

// ExporterConfig tunes the background exporter.
type ExporterConfig struct {
	BufferSize    int
	FlushInterval time.Duration
}

// Exporter buffers events and ships them in batches from a background
// goroutine.
type Exporter struct {
	ingester Ingester
	buffer   chan Event
	done     chan struct{}
	wg       sync.WaitGroup
	enqueues sync.WaitGroup
	interval time.Duration
	closed   atomic.Bool
}

// NewExporter starts an exporter.
func NewExporter(ing Ingester, cfg ExporterConfig) *Exporter {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}

	e := &Exporter{
		ingester: ing,
		buffer:   make(chan Event, cfg.BufferSize),
		done:     make(chan struct{}),
		interval: cfg.FlushInterval,
	}

	e.wg.Add(1)
	go e.loop()

	return e
}

// Enqueue queues an event without blocking. Events are dropped with a warning
// when the buffer is full, and silently after Close.
func (e *Exporter) Enqueue(ev Event) {
	if e.closed.Load() {
		return
	}

	e.enqueues.Add(1)
	defer e.enqueues.Done()

	// Close may have run between the first check and Add.
	if e.closed.Load() {
		return
	}

	select {
	case e.buffer <- ev:
	default:
		slog.Warn("telemetry buffer full, dropping event", "event_type", ev.Type, "event_id", ev.ID)
	}
}

// Close drains the buffer and sends what is left. Safe to call more than once.
func (e *Exporter) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	e.enqueues.Wait()
	close(e.done)
	e.wg.Wait()
	return nil
}

func (e *Exporter) loop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	batch := make([]Event, 0, BatchFlushThreshold)

	for {
		select {
		case ev := <-e.buffer:
			batch = append(batch, ev)
			if len(batch) >= BatchFlushThreshold {
				e.send(batch)
				batch = make([]Event, 0, BatchFlushThreshold)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				e.send(batch)
				batch = make([]Event, 0, BatchFlushThreshold)
			}

		case <-e.done:
			close(e.buffer)
			for ev := range e.buffer {
				batch = append(batch, ev)
			}
			for len(batch) > 0 {
				n := min(len(batch), BatchFlushThreshold)
				e.send(batch[:n])
				batch = batch[n:]
			}
			return
		}
	}
}

func (e *Exporter) send(batch []Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := e.ingester.Ingest(ctx, batch); err != nil {
		slog.Error("failed to export telemetry batch", "error", err, "count", len(batch))
	}
}

// NoopExporter discards events. Used when Langfuse credentials are absent.
type NoopExporter struct{}

// Enqueue does nothing.
func (NoopExporter) Enqueue(Event) {}

// Close does nothing.
func (NoopExporter) Close() error { return nil }

// NewSink returns an exporter backed by the ingestion API, or a NoopExporter
// when credentials are missing.
func NewSink(cfg Config, ecfg ExporterConfig) Sink {
	if !cfg.Enabled() {
		return NoopExporter{}
	}
	return NewExporter(NewClient(cfg), ecfg)
}
