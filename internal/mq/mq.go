// Package mq wraps the RabbitMQ connection used for booking events and
// inbound gateway events.
package mq

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

type conn struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func dial(url string) (*conn, error) {
	c, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := c.Channel()
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return &conn{conn: c, ch: ch}, nil
}

func (c *conn) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Publisher publishes JSON messages to a durable topic exchange.
type Publisher struct {
	*conn
	exchange string
}

func NewPublisher(url, exchange string) (*Publisher, error) {
	c, err := dial(url)
	if err != nil {
		return nil, err
	}
	if err := c.ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &Publisher{conn: c, exchange: exchange}, nil
}

func (p *Publisher) PublishJSON(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         b,
	})
}

// Consumer reads from a durable queue with manual acknowledgement.
type Consumer struct {
	*conn
	queue string
}

// NewConsumer declares queue and limits unacknowledged deliveries to prefetch.
func NewConsumer(url, queue string, prefetch int) (*Consumer, error) {
	c, err := dial(url)
	if err != nil {
		return nil, err
	}
	q, err := c.ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if prefetch > 0 {
		if err := c.ch.Qos(prefetch, 0, false); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("set qos: %w", err)
		}
	}
	return &Consumer{conn: c, queue: q.Name}, nil
}

func (c *Consumer) Deliveries(ctx context.Context) (<-chan amqp.Delivery, error) {
	return c.ch.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
}
