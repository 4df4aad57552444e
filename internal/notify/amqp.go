package notify

import "context"

type JSONPublisher interface {
	PublishJSON(ctx context.Context, key string, v any) error
}

// AMQPSink publishes each notification with its kind as routing key.
type AMQPSink struct {
	pub JSONPublisher
}

func NewAMQPSink(pub JSONPublisher) *AMQPSink {
	return &AMQPSink{pub: pub}
}

func (s *AMQPSink) Name() string { return "amqp" }

func (s *AMQPSink) Send(ctx context.Context, n Notification) error {
	return s.pub.PublishJSON(ctx, string(n.Kind), n)
}
