package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"carbontrace.io/internal/obs"
)

const defaultBuffer = 256

// Dispatcher forwards events to a sink on a background goroutine. LogEvent
// never blocks the caller: when the buffer is full the event is dropped and
// counted. Sink errors are logged and swallowed, because audit durability
// must never gate the primary authentication flow.
type Dispatcher struct {
	sink      Sink
	ch        chan Event
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closeOnce sync.Once
}

// NewDispatcher starts the background worker. A buffer of zero or less
// selects the default.
func NewDispatcher(sink Sink, buffer int) *Dispatcher {
	if sink == nil {
		sink = NopSink{}
	}
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	d := &Dispatcher{
		sink: sink,
		ch:   make(chan Event, buffer),
		done: make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// LogEvent enqueues the event without blocking. Always returns nil.
func (d *Dispatcher) LogEvent(ctx context.Context, event Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if event.RequestID == "" {
		event.RequestID = RequestIDFromContext(ctx)
	}
	select {
	case <-d.done:
	case d.ch <- event:
	default:
		if n := d.dropped.Add(1); n%100 == 1 {
			obs.Warn("audit buffer full, dropping events", map[string]any{"dropped_total": n})
		}
	}
	return nil
}

// Dropped reports how many events were discarded due to a full buffer.
func (d *Dispatcher) Dropped() uint64 { return d.dropped.Load() }

// Close drains the buffer and stops the worker.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.done)
	})
	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case event := <-d.ch:
			d.emit(event)
		case <-d.done:
			for {
				select {
				case event := <-d.ch:
					d.emit(event)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) emit(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.sink.LogEvent(ctx, event); err != nil {
		obs.Error("audit sink write failed", map[string]any{
			"action": event.Action,
			"error":  err.Error(),
		})
	}
}
