package device

import (
	"context"
	"sync/atomic"
	"time"
)

const (
	defaultJournalQueue = 1024
	journalWriteTimeout = 5 * time.Second
)

// Journal records lifecycle events into an EventRepository without making
// the caller wait on disk.
//
// Record enqueues and returns immediately; Run drains the queue. When the
// queue is full the event is dropped and counted.
type Journal struct {
	repo    EventRepository
	queue   chan Event
	dropped atomic.Uint64
	logger  Logger
}

// NewJournal creates a journal writing to repo with room for size queued
// events (a default is used when size <= 0).
func NewJournal(repo EventRepository, size int) *Journal {
	if size <= 0 {
		size = defaultJournalQueue
	}
	return &Journal{
		repo:   repo,
		queue:  make(chan Event, size),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the journal.
func (j *Journal) SetLogger(logger Logger) {
	j.logger = logger
}

// ObserveDeviceEvent queues ev for writing. It never blocks.
func (j *Journal) ObserveDeviceEvent(ev Event) {
	j.Record(ev)
}

// Record queues ev for writing. Returns false if the queue was full.
func (j *Journal) Record(ev Event) bool {
	select {
	case j.queue <- ev:
		return true
	default:
		n := j.dropped.Add(1)
		j.logger.Warn("device event dropped, journal queue full", "kind", ev.Kind, "device_id", ev.DeviceID, "dropped_total", n)
		return false
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (j *Journal) Dropped() uint64 {
	return j.dropped.Load()
}

// Run writes queued events until ctx is cancelled, then flushes whatever is
// still queued. It always returns nil.
func (j *Journal) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-j.queue:
			j.write(context.Background(), ev)
		case <-ctx.Done():
			j.flush()
			return nil
		}
	}
}

func (j *Journal) flush() {
	for {
		select {
		case ev := <-j.queue:
			j.write(context.Background(), ev)
		default:
			return
		}
	}
}

func (j *Journal) write(ctx context.Context, ev Event) {
	ctx, cancel := context.WithTimeout(ctx, journalWriteTimeout)
	defer cancel()

	if err := j.repo.Create(ctx, &ev); err != nil {
		j.logger.Error("writing device event", "kind", ev.Kind, "device_id", ev.DeviceID, "error", err)
	}
}

// List queries the underlying repository.
func (j *Journal) List(ctx context.Context, filter EventFilter) (*EventListResult, error) {
	return j.repo.List(ctx, filter)
}
