// Package journal persists the audit trail. Every externally visible engine
// action emits one domain.Event; the journal is append-only and failures in
// it never propagate into the trading path.
package journal

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"tradesim/internal/domain"
	"tradesim/internal/util"
)

// ---------------------------------------------------------------------------
// Compile-time interface checks
// ---------------------------------------------------------------------------

var _ Journal = (*AsyncJournal)(nil)
var _ Journal = (*Multi)(nil)
var _ Journal = Nop{}
var _ Journal = (Func)(nil)

// Journal records audit events. Record must never block the caller and must
// never return an error: journaling is best effort from the trading path's
// point of view.
type Journal interface {
	Record(ev domain.Event)
	Close() error
}

// Sink is a synchronous event writer, typically durable storage.
type Sink interface {
	Write(ev domain.Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Record(domain.Event) {}
func (Nop) Close() error        { return nil }

// Func adapts a function to the Journal interface. Used to tee events into
// in-process consumers such as the websocket hub.
type Func func(ev domain.Event)

func (f Func) Record(ev domain.Event) { f(ev) }
func (Func) Close() error             { return nil }

// Multi fans each event out to several journals.
type Multi []Journal

func (m Multi) Record(ev domain.Event) {
	for _, j := range m {
		j.Record(ev)
	}
}

func (m Multi) Close() error {
	var errs []error
	for _, j := range m {
		if err := j.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AsyncJournal decouples the trading path from sink latency with a bounded
// queue. When the queue is full the event is dropped and counted rather than
// blocking a submit.
type AsyncJournal struct {
	sink    Sink
	queue   chan domain.Event
	dropped atomic.Int64
	log     *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewAsync starts the background writer. queueSize bounds the number of
// events buffered ahead of the sink.
func NewAsync(sink Sink, queueSize int, log *slog.Logger) *AsyncJournal {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if log == nil {
		log = slog.Default()
	}
	j := &AsyncJournal{
		sink:  sink,
		queue: make(chan domain.Event, queueSize),
		log:   log,
		done:  make(chan struct{}),
	}
	go j.run()
	return j
}

// Record enqueues the event without blocking. Full queue drops the event.
func (j *AsyncJournal) Record(ev domain.Event) {
	select {
	case j.queue <- ev:
	default:
		n := j.dropped.Add(1)
		if n%100 == 1 {
			j.log.Warn("journal queue full, dropping events", "dropped_total", n)
		}
	}
}

// Dropped returns the number of events dropped due to a full queue.
func (j *AsyncJournal) Dropped() int64 {
	return j.dropped.Load()
}

// Close drains the queue, flushes the sink, and closes it.
func (j *AsyncJournal) Close() error {
	var err error
	j.closeOnce.Do(func() {
		close(j.queue)
		<-j.done
		err = j.sink.Close()
	})
	return err
}

func (j *AsyncJournal) run() {
	defer close(j.done)
	for ev := range j.queue {
		err := util.Retry(context.Background(), 3, 50*time.Millisecond, func() error {
			return j.sink.Write(ev)
		})
		if err != nil {
			// Journal failures are logged and swallowed; they must never
			// reach the trading path.
			j.log.Error("journal write failed", "kind", ev.Kind(), "error", err)
		}
	}
}
