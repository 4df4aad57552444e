// Package notify fans booking lifecycle notifications out to external sinks.
// Delivery is asynchronous and best effort: failures are logged and counted,
// never reported back to the caller that raised the notification.
package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"spacebook/internal/events"
	"spacebook/internal/metrics"
	"spacebook/internal/models"
)

type Kind string

const (
	BookingCreated   Kind = "booking.created"
	BookingConfirmed Kind = "booking.confirmed"
	BookingPaid      Kind = "booking.paid"
	BookingCancelled Kind = "booking.cancelled"
	BookingCompleted Kind = "booking.completed"
)

func Kinds() []Kind {
	return []Kind{BookingCreated, BookingConfirmed, BookingPaid, BookingCancelled, BookingCompleted}
}

type Notification struct {
	Kind    Kind           `json:"kind"`
	Booking models.Booking `json:"booking"`
	At      time.Time      `json:"at"`
}

// Sink delivers one notification to one destination.
type Sink interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc struct {
	SinkName string
	Fn       func(ctx context.Context, n Notification) error
}

func (f SinkFunc) Name() string { return f.SinkName }

func (f SinkFunc) Send(ctx context.Context, n Notification) error { return f.Fn(ctx, n) }

type Options struct {
	RatePerSecond float64
	Burst         int
	QueueSize     int
}

// Dispatcher queues notifications and publishes them on an event bus that
// every sink subscribes to. The queue is bounded; when full, new
// notifications are dropped.
type Dispatcher struct {
	bus     *events.EventBus
	queue   chan Notification
	limiter *rate.Limiter
	logger  zerolog.Logger
}

func NewDispatcher(opts Options, logger *zerolog.Logger, sinks ...Sink) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}

	d := &Dispatcher{
		bus:     events.NewEventBus(),
		queue:   make(chan Notification, opts.QueueSize),
		limiter: rate.NewLimiter(limit, opts.Burst),
		logger:  logger.With().Str("component", "notify").Logger(),
	}
	for _, s := range sinks {
		d.Subscribe(s)
	}
	return d
}

// Subscribe attaches a sink to every notification kind.
func (d *Dispatcher) Subscribe(s Sink) {
	handler := func(ctx context.Context, e events.Event) error {
		n, ok := e.Payload.(Notification)
		if !ok {
			return nil
		}
		err := s.Send(ctx, n)
		metrics.IncNotification(s.Name(), err)
		if err != nil {
			return &models.NotificationError{Sink: s.Name(), Err: err}
		}
		return nil
	}
	for _, k := range Kinds() {
		d.bus.Subscribe(string(k), handler)
	}
}

// Notify enqueues n without blocking.
func (d *Dispatcher) Notify(n Notification) {
	if n.At.IsZero() {
		n.At = time.Now()
	}
	select {
	case d.queue <- n:
	default:
		d.logger.Warn().
			Str("kind", string(n.Kind)).
			Str("booking_id", n.Booking.ID).
			Msg("notification queue full, dropping")
	}
}

// Run delivers queued notifications until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-d.queue:
			if err := d.limiter.Wait(ctx); err != nil {
				return
			}
			err := d.bus.Publish(ctx, events.Event{Type: string(n.Kind), Payload: n, CreatedAt: n.At})
			if err != nil {
				d.logger.Warn().Err(err).
					Str("kind", string(n.Kind)).
					Str("booking_id", n.Booking.ID).
					Msg("notification delivery failed")
			}
		}
	}
}
