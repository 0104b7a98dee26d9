package eventbus

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/remitflow/remitflow/internal/types"
)

// testHandler is a configurable handler for testing.
type testHandler struct {
	id       string
	handles  []EventType
	priority int
	fn       func(ctx context.Context, event *Event) error
}

func (h *testHandler) ID() string           { return h.id }
func (h *testHandler) Handles() []EventType { return h.handles }
func (h *testHandler) Priority() int        { return h.priority }

func (h *testHandler) Handle(ctx context.Context, event *Event) error {
	if h.fn != nil {
		return h.fn(ctx, event)
	}
	return nil
}

func TestDispatchNoHandlers(t *testing.T) {
	bus := New()
	err := bus.Dispatch(context.Background(), &Event{Type: EventBucketStatusChanged})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDispatchPriorityOrder(t *testing.T) {
	bus := New()
	var order []string
	mk := func(id string, pri int) Handler {
		return &testHandler{
			id: id, handles: []EventType{EventBucketStatusChanged}, priority: pri,
			fn: func(ctx context.Context, event *Event) error {
				order = append(order, id)
				return nil
			},
		}
	}
	bus.Register(mk("late", 10))
	bus.Register(mk("early", 1))
	bus.Register(mk("mid", 5))

	if err := bus.Dispatch(context.Background(), &Event{Type: EventBucketStatusChanged}); err != nil {
		t.Fatal(err)
	}
	want := []string{"early", "mid", "late"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("dispatch order = %v, want %v", order, want)
		}
	}
}

func TestHandlerErrorDoesNotStopChain(t *testing.T) {
	bus := New()
	var called atomic.Int32
	bus.Register(&testHandler{
		id: "failing", handles: []EventType{EventBucketStatusChanged}, priority: 0,
		fn: func(ctx context.Context, event *Event) error { return errors.New("boom") },
	})
	bus.Register(&testHandler{
		id: "second", handles: []EventType{EventBucketStatusChanged}, priority: 1,
		fn: func(ctx context.Context, event *Event) error { called.Add(1); return nil },
	})
	if err := bus.Dispatch(context.Background(), &Event{Type: EventBucketStatusChanged}); err != nil {
		t.Fatal(err)
	}
	if called.Load() != 1 {
		t.Error("second handler not called after first errored")
	}
}

func TestPublishAsync(t *testing.T) {
	bus := New()
	done := make(chan *Event, 1)
	bus.Register(&testHandler{
		id: "async", handles: []EventType{EventBucketStatusChanged},
		fn: func(ctx context.Context, event *Event) error {
			done <- event
			return nil
		},
	})
	bus.Start(context.Background())
	defer bus.Stop()

	bkt := &types.Bucket{BucketID: "b1", Status: types.BucketGenerating}
	bus.Publish(&Event{
		Type:           EventBucketStatusChanged,
		Bucket:         bkt,
		PreviousStatus: types.BucketAccumulating,
		NewStatus:      types.BucketGenerating,
	})

	select {
	case ev := <-done:
		if ev.Bucket.BucketID != "b1" || ev.NewStatus != types.BucketGenerating {
			t.Errorf("unexpected event payload: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered within 2s")
	}
}

func TestPublishOverflowDrops(t *testing.T) {
	bus := New(WithQueueDepth(1))
	// Not started: nothing drains the queue, so the second publish drops.
	bus.Publish(&Event{Type: EventFileGenerated})
	bus.Publish(&Event{Type: EventFileGenerated})
	if got := bus.Dropped(); got != 1 {
		t.Errorf("Dropped() = %d, want 1", got)
	}
}

func TestHandlerPanicIsContained(t *testing.T) {
	bus := New()
	var called atomic.Int32
	bus.Register(&testHandler{
		id: "panicky", handles: []EventType{EventFileGenerated}, priority: 0,
		fn: func(ctx context.Context, event *Event) error { panic("kaboom") },
	})
	bus.Register(&testHandler{
		id: "survivor", handles: []EventType{EventFileGenerated}, priority: 1,
		fn: func(ctx context.Context, event *Event) error { called.Add(1); return nil },
	})
	if err := bus.Dispatch(context.Background(), &Event{Type: EventFileGenerated}); err != nil {
		t.Fatal(err)
	}
	if called.Load() != 1 {
		t.Error("handler after panicking handler was not called")
	}
}
