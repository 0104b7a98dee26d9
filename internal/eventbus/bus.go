package eventbus

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
)

const (
	// DefaultWorkers is the size of the dispatch worker pool.
	DefaultWorkers = 5
	// DefaultQueueDepth bounds the publish queue. Publish never blocks;
	// overflow is rejected and logged.
	DefaultQueueDepth = 100
)

// Bus dispatches events to registered handlers on a bounded worker pool.
// Publication is non-blocking: when the queue is full the event is dropped
// with a log entry rather than stalling the publisher.
type Bus struct {
	handlers []Handler
	mu       sync.RWMutex

	queue   chan *Event
	wg      sync.WaitGroup
	logger  *log.Logger
	started bool
	startMu sync.Mutex
	cancel  context.CancelFunc
	dropped uint64
	dropMu  sync.Mutex
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the bus logger.
func WithLogger(l *log.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// WithQueueDepth overrides the bounded queue size.
func WithQueueDepth(n int) Option {
	return func(b *Bus) { b.queue = make(chan *Event, n) }
}

// New creates a new event bus. Call Start before publishing.
func New(opts ...Option) *Bus {
	b := &Bus{
		queue:  make(chan *Event, DefaultQueueDepth),
		logger: log.Default(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Register adds a handler to the bus. Handlers are sorted by priority on
// each dispatch, so registration order does not matter.
func (b *Bus) Register(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Start spins up the worker pool. Workers run until Stop is called.
func (b *Bus) Start(ctx context.Context) {
	b.startMu.Lock()
	defer b.startMu.Unlock()
	if b.started {
		return
	}
	ctx, b.cancel = context.WithCancel(ctx)
	for i := 0; i < DefaultWorkers; i++ {
		b.wg.Add(1)
		go b.worker(ctx)
	}
	b.started = true
}

// Stop drains the workers. Queued events that have not been picked up are
// abandoned.
func (b *Bus) Stop() {
	b.startMu.Lock()
	defer b.startMu.Unlock()
	if !b.started {
		return
	}
	b.cancel()
	b.wg.Wait()
	b.started = false
}

func (b *Bus) worker(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.queue:
			b.dispatch(ctx, ev)
		}
	}
}

// Publish enqueues an event for asynchronous dispatch. Never blocks: if the
// queue is full the event is dropped and counted.
func (b *Bus) Publish(event *Event) {
	if event == nil {
		return
	}
	select {
	case b.queue <- event:
	default:
		b.dropMu.Lock()
		b.dropped++
		n := b.dropped
		b.dropMu.Unlock()
		b.logger.Printf("eventbus: queue full, dropped %s event (total dropped: %d)", event.Type, n)
	}
}

// Dropped returns the number of events rejected due to queue overflow.
func (b *Bus) Dropped() uint64 {
	b.dropMu.Lock()
	defer b.dropMu.Unlock()
	return b.dropped
}

// Dispatch sends an event synchronously to all matching handlers. Handler
// errors are logged but do not stop the chain.
func (b *Bus) Dispatch(ctx context.Context, event *Event) error {
	if event == nil {
		return fmt.Errorf("eventbus: nil event")
	}
	b.dispatch(ctx, event)
	return nil
}

func (b *Bus) dispatch(ctx context.Context, event *Event) {
	b.mu.RLock()
	matching := b.matchingHandlers(event.Type)
	b.mu.RUnlock()

	for _, h := range matching {
		if err := ctx.Err(); err != nil {
			return
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Printf("eventbus: handler %q panicked for %s: %v", h.ID(), event.Type, r)
				}
			}()
			if err := h.Handle(ctx, event); err != nil {
				b.logger.Printf("eventbus: handler %q error for %s: %v", h.ID(), event.Type, err)
			}
		}()
	}
}

// matchingHandlers returns handlers that handle the given event type, sorted
// by priority (lowest first). Must be called with at least a read lock held.
func (b *Bus) matchingHandlers(eventType EventType) []Handler {
	var matched []Handler
	for _, h := range b.handlers {
		for _, t := range h.Handles() {
			if t == eventType {
				matched = append(matched, h)
				break
			}
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Priority() < matched[j].Priority()
	})
	return matched
}
