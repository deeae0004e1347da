package audit

import (
	"context"
	"log/slog"

	"github.com/roach88/stablecall/internal/ir"
)

// Sink consumes committed audit events.
type Sink interface {
	Handle(ctx context.Context, ev ir.Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev ir.Event) error

// Handle calls f.
func (f SinkFunc) Handle(ctx context.Context, ev ir.Event) error {
	return f(ctx, ev)
}

// Dispatcher delivers published events to its sinks in publish order.
//
// Delivery happens on one goroutine: either the Run loop of a long-lived
// process, or Drain in one-shot commands that never start Run. A failing
// sink is logged and skipped; it never blocks other sinks or later events.
type Dispatcher struct {
	queue  *eventQueue
	sinks  []Sink
	logger *slog.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets the logger used to report sink failures.
func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithSink adds a sink.
func WithSink(s Sink) DispatcherOption {
	return func(d *Dispatcher) {
		d.sinks = append(d.sinks, s)
	}
}

// NewDispatcher creates a dispatcher with the given options.
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		queue:  newEventQueue(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Publish queues committed events for delivery.
// Returns false if the dispatcher has been stopped.
func (d *Dispatcher) Publish(events ...ir.Event) bool {
	if len(events) == 0 {
		return true
	}
	return d.queue.Enqueue(events...)
}

// Pending returns the number of events not yet delivered.
func (d *Dispatcher) Pending() int {
	return d.queue.Len()
}

// Run delivers events until ctx is cancelled or Stop is called.
// After Stop, Run drains what is already queued and returns nil.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		if err := d.Drain(ctx); err != nil {
			return err
		}
		if d.queue.Closed() && d.queue.Len() == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.queue.Wait():
		}
	}
}

// Drain synchronously delivers every queued event.
func (d *Dispatcher) Drain(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev, ok := d.queue.TryDequeue()
		if !ok {
			return nil
		}
		d.deliver(ctx, ev)
	}
}

// Stop refuses further events and lets Run finish.
func (d *Dispatcher) Stop() {
	d.queue.Close()
}

func (d *Dispatcher) deliver(ctx context.Context, ev ir.Event) {
	for _, s := range d.sinks {
		if err := s.Handle(ctx, ev); err != nil {
			d.logger.Error("audit sink failed",
				"seq", ev.Seq,
				"kind", ev.Kind,
				"proxy", ev.Proxy,
				"error", err)
		}
	}
}
