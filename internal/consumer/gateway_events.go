// Package consumer feeds gateway events from RabbitMQ into reconciliation.
package consumer

import (
	"context"
	"encoding/json"
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"spacebook/internal/models"
	"spacebook/internal/service"
)

type EventHandler interface {
	HandleGatewayEvent(ctx context.Context, ev service.GatewayEvent) (*models.Booking, error)
}

type DeliverySource interface {
	Deliveries(ctx context.Context) (<-chan amqp.Delivery, error)
}

// GatewayEventConsumer acknowledges a delivery once its event is reconciled.
// Gateway outages requeue the delivery; malformed events are dropped.
type GatewayEventConsumer struct {
	handler EventHandler
	source  DeliverySource
	logger  zerolog.Logger
}

func NewGatewayEventConsumer(handler EventHandler, source DeliverySource, logger *zerolog.Logger) *GatewayEventConsumer {
	return &GatewayEventConsumer{
		handler: handler,
		source:  source,
		logger:  logger.With().Str("component", "gateway_consumer").Logger(),
	}
}

// Run blocks until ctx is done or the delivery channel closes.
func (c *GatewayEventConsumer) Run(ctx context.Context) error {
	msgs, err := c.source.Deliveries(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return nil
			}
			c.handleDelivery(ctx, d)
		}
	}
}

type ackAction int

const (
	ack ackAction = iota
	requeue
	drop
)

func (c *GatewayEventConsumer) handleDelivery(ctx context.Context, d amqp.Delivery) ackAction {
	action := c.process(ctx, d)
	var err error
	switch action {
	case ack:
		err = d.Ack(false)
	case requeue:
		err = d.Nack(false, true)
	case drop:
		err = d.Nack(false, false)
	}
	if err != nil {
		c.logger.Error().Err(err).Uint64("delivery_tag", d.DeliveryTag).Msg("acknowledge failed")
	}
	return action
}

func (c *GatewayEventConsumer) process(ctx context.Context, d amqp.Delivery) ackAction {
	var ev service.GatewayEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		c.logger.Warn().Err(err).Str("message_id", d.MessageId).Msg("unreadable gateway event")
		return drop
	}
	ev.Source = "amqp"
	if ev.ID == "" {
		ev.ID = d.MessageId
	}

	_, err := c.handler.HandleGatewayEvent(ctx, ev)
	var (
		gerr *models.GatewayError
		verr *models.ValidationError
	)
	switch {
	case err == nil, errors.Is(err, models.ErrEventIgnored):
		return ack
	case errors.As(err, &gerr):
		return requeue
	case errors.As(err, &verr), models.IsPolicyError(err):
		return drop
	case errors.Is(err, models.ErrSlotUnavailable):
		// Paid but the window is taken; retrying cannot help.
		c.logger.Error().Err(err).Str("payment_intent_id", ev.PaymentIntentID).Msg("paid event conflicts with an active booking")
		return drop
	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrDuplicatePaymentIntent):
		// The event names a booking that does not exist or an intent bound
		// elsewhere. Redelivery sees the same rows.
		c.logger.Error().Err(err).Str("payment_intent_id", ev.PaymentIntentID).Msg("gateway event cannot be applied")
		return drop
	}
	return requeue
}
