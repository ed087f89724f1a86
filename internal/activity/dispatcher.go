package activity

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Tyrowin/roomrelay/internal/room"
)

// Dispatcher implements room.Observer. Events are queued without blocking
// and published by a background worker; when the queue is full the event is
// dropped and counted.
type Dispatcher struct {
	sink    Sink
	queue   chan room.Activity
	timeout time.Duration
	done    chan struct{}

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64

	sinkOnce sync.Once
	sinkErr  error
}

var _ room.Observer = (*Dispatcher)(nil)

// NewDispatcher starts a worker that publishes to sink.
func NewDispatcher(sink Sink, cfg Config) *Dispatcher {
	cfg = cfg.withDefaults()
	d := &Dispatcher{
		sink:    sink,
		queue:   make(chan room.Activity, cfg.BufferSize),
		timeout: cfg.PublishTimeout,
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// RoomActivity queues a for publication.
func (d *Dispatcher) RoomActivity(a room.Activity) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return
	}
	select {
	case d.queue <- a:
	default:
		if n := d.dropped.Add(1); n == 1 || n%100 == 0 {
			log.Printf("Activity queue full; dropped %d events so far", n)
		}
	}
}

// Dropped reports how many events were discarded because the queue was full.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for a := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := d.sink.Publish(ctx, a); err != nil {
			log.Printf("Error publishing %s activity for room %s: %v", a.Kind, a.RoomID, err)
		}
		cancel()
	}
}

// Close stops accepting events, drains the queue and closes the sink. If
// ctx expires first the remaining events are abandoned.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
	case <-ctx.Done():
		log.Printf("Activity dispatcher close: %v; %d events not published", ctx.Err(), len(d.queue))
		return ctx.Err()
	}
	d.sinkOnce.Do(func() { d.sinkErr = d.sink.Close() })
	return d.sinkErr
}
