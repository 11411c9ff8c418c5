// Package dispatch queues inbound chat events and feeds them to the flow
// engine with bounded concurrency. Events for one identity are processed in
// arrival order; distinct identities proceed in parallel.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/mukisa/paybot/core/chat"
	"github.com/mukisa/paybot/core/logger"
)

var (
	// ErrQueueClosed is returned when enqueue is attempted after Close.
	ErrQueueClosed = errors.New("dispatch: queue closed")
	// ErrQueueFull indicates the queue is saturated and the event was not accepted.
	ErrQueueFull = errors.New("dispatch: queue full")
	// ErrDuplicate indicates the event id is already queued or in flight.
	ErrDuplicate = errors.New("dispatch: duplicate event")
)

// Handler consumes one inbound event.
type Handler func(ctx context.Context, ev chat.Event) error

// DropFunc is invoked after an event exhausts its retries. The event will not
// be attempted again.
type DropFunc func(ctx context.Context, ev chat.Event, err error)

// Options controls the behaviour of the inbound dispatcher.
type Options struct {
	QueueSize   int
	Concurrency int
	// MaxAttempts caps total processing attempts per event.
	MaxAttempts  int
	RetryBackoff time.Duration
	// MaxDuration bounds a single processing attempt.
	MaxDuration time.Duration
}

func (o *Options) normalize() {
	if o.QueueSize <= 0 {
		o.QueueSize = 1024
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 8
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = time.Second
	}
	if o.MaxDuration <= 0 {
		o.MaxDuration = 30 * time.Second
	}
}

type queued struct {
	ev       chat.Event
	failures int
}

// Stats is a point-in-time view of the queue.
type Stats struct {
	Pending int
	Lanes   int
	Errors  uint64
}

// Dispatcher fans inbound events out to the handler. One lane exists per
// identity with pending work; a lane runs at most one attempt at a time, so
// session mutations for an identity never race.
type Dispatcher struct {
	opts    Options
	handler Handler
	onDrop  DropFunc

	mu      sync.Mutex
	lanes   map[string][]queued
	seen    map[string]struct{}
	pending int
	closed  bool

	sem  chan struct{}
	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
	errs atomic.Uint64
}

// New starts a dispatcher with sane defaults if options are zeroed. The
// handler must be non-nil; onDrop may be nil.
func New(opts Options, handler Handler, onDrop DropFunc) *Dispatcher {
	opts.normalize()
	return &Dispatcher{
		opts:    opts,
		handler: handler,
		onDrop:  onDrop,
		lanes:   make(map[string][]queued),
		seen:    make(map[string]struct{}),
		sem:     make(chan struct{}, opts.Concurrency),
		stop:    make(chan struct{}),
	}
}

// Enqueue accepts an inbound event for asynchronous processing. Duplicate
// event ids are coalesced while the first copy is queued or in flight.
func (d *Dispatcher) Enqueue(ctx context.Context, ev chat.Event) error {
	if ev.Identity == "" {
		return errors.New("dispatch: event without identity")
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrQueueClosed
	}
	if ev.ID != "" {
		if _, dup := d.seen[ev.ID]; dup {
			d.mu.Unlock()
			logger.Debug(ctx, "queue", "queue.duplicate",
				slog.String("event_id", ev.ID),
				slog.String("identity", ev.Identity),
			)
			return ErrDuplicate
		}
	}
	if d.pending >= d.opts.QueueSize {
		d.mu.Unlock()
		logger.Warn(ctx, "queue", "queue.full",
			slog.String("event_id", ev.ID),
			slog.String("identity", ev.Identity),
			slog.Int("queue_len", d.opts.QueueSize),
		)
		return ErrQueueFull
	}

	if ev.ID != "" {
		d.seen[ev.ID] = struct{}{}
	}
	// A lane key is present exactly while a runner owns it, so key presence,
	// not lane length, decides whether to start one.
	lane, running := d.lanes[ev.Identity]
	d.lanes[ev.Identity] = append(lane, queued{ev: ev})
	d.pending++
	if !running {
		d.wg.Add(1)
	}
	d.mu.Unlock()

	logger.Debug(ctx, "queue", "queue.accepted",
		slog.String("event_id", ev.ID),
		slog.String("identity", ev.Identity),
	)
	if !running {
		go d.runLane(ev.Identity)
	}
	return nil
}

// Stats returns queue depth and failure counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		Pending: d.pending,
		Lanes:   len(d.lanes),
		Errors:  d.errs.Load(),
	}
}

// Close stops accepting events and waits for queued work to drain.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		close(d.stop)
		d.wg.Wait()
	})
}

// runLane drains one identity's queue sequentially. Removing the last item
// and deleting the lane key happen in one critical section, and the runner
// exits without touching the map again, so the lane key is present exactly
// while a runner owns it and the same identity never has two runners.
func (d *Dispatcher) runLane(identity string) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		lane := d.lanes[identity]
		if len(lane) == 0 {
			delete(d.lanes, identity)
			d.mu.Unlock()
			return
		}
		item := lane[0]
		d.mu.Unlock()

		d.sem <- struct{}{}
		err := d.attempt(item)
		<-d.sem

		if err != nil && item.failures+1 < d.opts.MaxAttempts {
			d.mu.Lock()
			d.lanes[identity][0].failures++
			d.mu.Unlock()
			d.backoff(item.failures + 1)
			continue
		}

		d.mu.Lock()
		rest := d.lanes[identity][1:]
		done := len(rest) == 0
		if done {
			delete(d.lanes, identity)
		} else {
			d.lanes[identity] = rest
		}
		if item.ev.ID != "" {
			delete(d.seen, item.ev.ID)
		}
		d.pending--
		d.mu.Unlock()

		if err != nil {
			d.errs.Add(1)
			d.dropped(item, err)
		}
		if done {
			return
		}
	}
}

func (d *Dispatcher) attempt(item queued) (err error) {
	ctx, cancel := context.WithTimeout(d.eventContext(item.ev), d.opts.MaxDuration)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch: handler panic: %v", r)
			logger.Error(ctx, "queue", "queue.handler.panic",
				slog.String("event_id", item.ev.ID),
				slog.String("identity", item.ev.Identity),
				slog.String("payload", logger.Sanitize(fmt.Sprint(r))),
			)
		}
	}()

	start := time.Now()
	err = d.handler(ctx, item.ev)
	if err != nil {
		logger.Warn(ctx, "queue", "queue.attempt.failed",
			slog.String("event_id", item.ev.ID),
			slog.String("identity", item.ev.Identity),
			slog.Int("attempt", item.failures+1),
			slog.Duration("duration", time.Since(start)),
			slog.Any("err", err),
		)
		return err
	}
	logger.Debug(ctx, "queue", "queue.attempt.ok",
		slog.String("event_id", item.ev.ID),
		slog.String("identity", item.ev.Identity),
		slog.Int("attempt", item.failures+1),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

// backoff sleeps before a retry, cut short by shutdown so draining lanes do
// not stall on sleep timers.
func (d *Dispatcher) backoff(failures int) {
	delay := d.opts.RetryBackoff * time.Duration(failures)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-d.stop:
	case <-timer.C:
	}
}

func (d *Dispatcher) dropped(item queued, err error) {
	ctx := d.eventContext(item.ev)
	logger.Error(ctx, "queue", "queue.dropped",
		slog.String("status", "drop"),
		slog.String("event_id", item.ev.ID),
		slog.String("identity", item.ev.Identity),
		slog.Int("attempt", d.opts.MaxAttempts),
		slog.Any("err", err),
	)
	if d.onDrop != nil {
		d.onDrop(ctx, item.ev, err)
	}
}

// eventContext builds the logging context for one event's processing.
func (d *Dispatcher) eventContext(ev chat.Event) context.Context {
	ctx := logger.WithEventMeta(context.Background(), ev.ID, ev.Identity)
	return logger.WithRID(ctx, logger.BuildRID(ev.ID, ev.Identity))
}
