// Package broadcast fans committed session events out to connected clients and
// downstream consumers.
//
// A Dispatcher implements collab.Broadcaster. Publish only enqueues; a single
// worker drains the queue so events of one session reach every sink in the
// order they were committed. When the queue is full the event is dropped.
package broadcast

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"devconnect/api/internal/collab"
)

// Sink delivers one event to a destination. Deliver may be retried.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, event collab.Event) error
}

type Options struct {
	QueueSize   int
	MaxRetry    int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	SendTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = 1024
	}
	if o.MaxRetry < 0 {
		o.MaxRetry = 0
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 50 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = time.Second
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 2 * time.Second
	}
	return o
}

type Dispatcher struct {
	sinks []Sink
	opt   Options
	queue chan collab.Event

	mu     sync.RWMutex
	closed bool
	done   chan struct{}

	dropped   atomic.Int64
	delivered atomic.Int64
	sleep     func(time.Duration)
}

func NewDispatcher(opt Options, sinks ...Sink) *Dispatcher {
	opt = opt.withDefaults()
	d := &Dispatcher{
		sinks: sinks,
		opt:   opt,
		queue: make(chan collab.Event, opt.QueueSize),
		done:  make(chan struct{}),
		sleep: time.Sleep,
	}
	go d.run()
	return d
}

// Publish enqueues the event without blocking.
func (d *Dispatcher) Publish(event collab.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.dropped.Add(1)
		return
	}
	select {
	case d.queue <- event:
	default:
		d.dropped.Add(1)
		log.Printf("broadcast queue full, drop event session=%s type=%s", event.SessionID, event.Type)
	}
}

// Close stops accepting events and waits until the queued ones are delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.done
}

func (d *Dispatcher) Dropped() int64   { return d.dropped.Load() }
func (d *Dispatcher) Delivered() int64 { return d.delivered.Load() }

func (d *Dispatcher) run() {
	defer close(d.done)
	for event := range d.queue {
		for _, sink := range d.sinks {
			if d.deliverWithRetry(sink, event) {
				d.delivered.Add(1)
			}
		}
	}
}

func (d *Dispatcher) deliverWithRetry(sink Sink, event collab.Event) bool {
	for attempt := 0; attempt <= d.opt.MaxRetry; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), d.opt.SendTimeout)
		err := sink.Deliver(ctx, event)
		cancel()
		if err == nil {
			return true
		}
		if attempt == d.opt.MaxRetry {
			log.Printf("broadcast %s failed, drop event session=%s type=%s err=%v", sink.Name(), event.SessionID, event.Type, err)
			return false
		}
		backoff := d.opt.BaseBackoff * time.Duration(1<<attempt)
		if backoff > d.opt.MaxBackoff {
			backoff = d.opt.MaxBackoff
		}
		d.sleep(backoff)
	}
	return false
}
