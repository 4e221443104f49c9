package archive

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"

	"github.com/suPer8Hu/polylog/internal/chat"
)

// Sink persists one event somewhere durable.
type Sink interface {
	Store(ctx context.Context, conversationID string, ev chat.Event) error
}

type namedSink struct {
	name string
	Sink
}

type item struct {
	conversationID string
	ev             chat.Event
}

// Dispatcher hands events to its sinks off the relay's path. Submit never
// blocks; when the buffer is full the event is dropped and counted.
type Dispatcher struct {
	queue   chan item
	sinks   []namedSink
	timeout time.Duration
	log     *slog.Logger

	mu      sync.RWMutex
	closed  bool
	started bool
	done    chan struct{}
	dropped atomic.Int64
	failed  atomic.Int64
}

func NewDispatcher(buffer int, timeout time.Duration, log *slog.Logger) *Dispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		queue:   make(chan item, buffer),
		timeout: timeout,
		log:     log,
		done:    make(chan struct{}),
	}
}

// AddSink registers a named sink. Sinks run in registration order.
// Call before Start.
func (d *Dispatcher) AddSink(name string, s Sink) {
	d.sinks = append(d.sinks, namedSink{name: name, Sink: s})
}

func (d *Dispatcher) Sinks() []string {
	return lo.Map(d.sinks, func(s namedSink, _ int) string { return s.name })
}

func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	go d.run()
}

func (d *Dispatcher) Submit(conversationID string, ev chat.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- item{conversationID: conversationID, ev: ev}:
	default:
		d.dropped.Add(1)
		d.log.Warn("archive queue full, event dropped",
			"conversation_id", conversationID,
			"event_id", ev.ID,
		)
	}
}

// Close stops accepting events and waits for the queue to drain.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
		if !d.started {
			close(d.done)
		}
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) Dropped() int64 { return d.dropped.Load() }
func (d *Dispatcher) Failed() int64  { return d.failed.Load() }

func (d *Dispatcher) run() {
	defer close(d.done)
	for it := range d.queue {
		for _, s := range d.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			err := s.Store(ctx, it.conversationID, it.ev)
			cancel()
			if err != nil {
				d.failed.Add(1)
				d.log.Error("archive sink failed",
					"sink", s.name,
					"conversation_id", it.conversationID,
					"event_id", it.ev.ID,
					"err", err,
				)
			}
		}
	}
}
