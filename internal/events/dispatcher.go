// internal/events/dispatcher.go
// Package events hands tick events from the audio thread to a consumer goroutine.
package events

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/ColonelBlimp/tickrate/internal/dsp"
)

// DefaultQueueSize holds several minutes of ticks at any plausible beat rate.
const DefaultQueueSize = 256

// ErrAlreadyRunning indicates Run was called while a consumer is active
var ErrAlreadyRunning = errors.New("dispatcher already running")

// Handler receives events in emission order on the consumer goroutine.
type Handler func(event dsp.TickEvent)

// Dispatcher is a bounded FIFO between the detector callback and a single
// consumer. Posting never blocks: when the queue is full the event is
// dropped and counted.
type Dispatcher struct {
	queue   chan dsp.TickEvent
	dropped atomic.Uint64
	running atomic.Bool
}

// NewDispatcher creates a dispatcher with the given queue capacity.
// Non-positive sizes use DefaultQueueSize.
func NewDispatcher(size int) *Dispatcher {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Dispatcher{
		queue: make(chan dsp.TickEvent, size),
	}
}

// Post queues an event without blocking. It reports false if the event was dropped.
func (d *Dispatcher) Post(event dsp.TickEvent) bool {
	select {
	case d.queue <- event:
		return true
	default:
		d.dropped.Add(1)
		return false
	}
}

// Run delivers queued events to handle until ctx is cancelled, then delivers
// whatever is still queued and returns.
func (d *Dispatcher) Run(ctx context.Context, handle Handler) error {
	if !d.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer d.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			d.drain(handle)
			return nil
		case event := <-d.queue:
			handle(event)
		}
	}
}

func (d *Dispatcher) drain(handle Handler) {
	for {
		select {
		case event := <-d.queue:
			handle(event)
		default:
			return
		}
	}
}

// Dropped returns how many events were lost to a full queue
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Pending returns the number of queued events
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}
