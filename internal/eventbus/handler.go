package eventbus

import "context"

// Handler processes events on the bus. Handlers are called in priority order
// (lower priority value = called earlier) for matching event types.
type Handler interface {
	// ID returns a unique identifier for this handler.
	ID() string

	// Handles returns the event types this handler processes.
	Handles() []EventType

	// Priority determines call order. Lower values are called first.
	Priority() int

	// Handle processes a single event. Returning an error logs a warning
	// but does not stop the handler chain.
	Handle(ctx context.Context, event *Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc struct {
	HandlerID       string
	EventTypes      []EventType
	HandlerPriority int
	Fn              func(ctx context.Context, event *Event) error
}

func (h *HandlerFunc) ID() string           { return h.HandlerID }
func (h *HandlerFunc) Handles() []EventType { return h.EventTypes }
func (h *HandlerFunc) Priority() int        { return h.HandlerPriority }

func (h *HandlerFunc) Handle(ctx context.Context, event *Event) error {
	return h.Fn(ctx, event)
}
