// internal/events/dispatcher_test.go
package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ColonelBlimp/tickrate/internal/dsp"
)

func TestNewDispatcher_DefaultSize(t *testing.T) {
	d := NewDispatcher(0)
	if cap(d.queue) != DefaultQueueSize {
		t.Errorf("queue capacity = %d, want %d", cap(d.queue), DefaultQueueSize)
	}

	d = NewDispatcher(8)
	if cap(d.queue) != 8 {
		t.Errorf("queue capacity = %d, want 8", cap(d.queue))
	}
}

func TestDispatcher_PostDropsWhenFull(t *testing.T) {
	d := NewDispatcher(2)

	for i := 0; i < 2; i++ {
		if !d.Post(dsp.TickEvent{Timestamp: float64(i)}) {
			t.Fatalf("Post(%d) dropped with free capacity", i)
		}
	}
	if d.Post(dsp.TickEvent{Timestamp: 2}) {
		t.Error("Post() on full queue reported success")
	}
	if d.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", d.Dropped())
	}
	if d.Pending() != 2 {
		t.Errorf("Pending() = %d, want 2", d.Pending())
	}
}

func TestDispatcher_PostNeverBlocks(t *testing.T) {
	d := NewDispatcher(1)
	done := make(chan struct{})

	go func() {
		for i := 0; i < 1000; i++ {
			d.Post(dsp.TickEvent{Timestamp: float64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Post() blocked with no consumer")
	}
	if d.Dropped() != 999 {
		t.Errorf("Dropped() = %d, want 999", d.Dropped())
	}
}

func TestDispatcher_RunPreservesOrder(t *testing.T) {
	d := NewDispatcher(64)
	ctx, cancel := context.WithCancel(context.Background())

	var mu sync.Mutex
	var got []float64
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx, func(ev dsp.TickEvent) {
			mu.Lock()
			got = append(got, ev.Timestamp)
			mu.Unlock()
		})
	}()

	for i := 0; i < 50; i++ {
		d.Post(dsp.TickEvent{Timestamp: float64(i)})
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 50 || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	if len(got) != 50 {
		t.Fatalf("delivered %d events, want 50", len(got))
	}
	for i, ts := range got {
		if ts != float64(i) {
			t.Fatalf("event %d has timestamp %v, out of order", i, ts)
		}
	}
}

func TestDispatcher_RunDrainsOnCancel(t *testing.T) {
	d := NewDispatcher(16)
	for i := 0; i < 5; i++ {
		d.Post(dsp.TickEvent{Timestamp: float64(i)})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var got []float64
	if err := d.Run(ctx, func(ev dsp.TickEvent) {
		got = append(got, ev.Timestamp)
	}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(got) != 5 {
		t.Fatalf("drained %d events, want 5", len(got))
	}
	for i, ts := range got {
		if ts != float64(i) {
			t.Errorf("drained event %d = %v, want %v", i, ts, float64(i))
		}
	}
	if d.Pending() != 0 {
		t.Errorf("Pending() = %d after drain, want 0", d.Pending())
	}
}

func TestDispatcher_RunTwice(t *testing.T) {
	d := NewDispatcher(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx, func(dsp.TickEvent) { close(started) })
	}()
	d.Post(dsp.TickEvent{})
	<-started

	if err := d.Run(ctx, func(dsp.TickEvent) {}); err != ErrAlreadyRunning {
		t.Errorf("second Run() error = %v, want ErrAlreadyRunning", err)
	}

	cancel()
	<-done
}
