package consumer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"spacebook/internal/models"
	"spacebook/internal/service"
)

type mockHandler struct {
	mock.Mock
}

func (m *mockHandler) HandleGatewayEvent(ctx context.Context, ev service.GatewayEvent) (*models.Booking, error) {
	args := m.Called(ctx, ev)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

type fakeAck struct {
	acked, nacked, requeued int
}

func (a *fakeAck) Ack(uint64, bool) error { a.acked++; return nil }

func (a *fakeAck) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked++
	if requeue {
		a.requeued++
	}
	return nil
}

func (a *fakeAck) Reject(_ uint64, requeue bool) error { return a.Nack(0, false, requeue) }

type chanSource struct {
	ch chan amqp.Delivery
}

func (s chanSource) Deliveries(context.Context) (<-chan amqp.Delivery, error) { return s.ch, nil }

func delivery(ack *fakeAck, body string) amqp.Delivery {
	return amqp.Delivery{Acknowledger: ack, Body: []byte(body), MessageId: "msg-1", DeliveryTag: 1}
}

func newConsumer(h EventHandler) *GatewayEventConsumer {
	logger := zerolog.Nop()
	return NewGatewayEventConsumer(h, chanSource{}, &logger)
}

func TestHandleDelivery(t *testing.T) {
	ctx := context.Background()
	body := `{"payment_intent_id":"pi_123","metadata":{"create_booking_on_authorization":"true"}}`
	expected := service.GatewayEvent{
		ID:              "msg-1",
		PaymentIntentID: "pi_123",
		Metadata:        map[string]string{"create_booking_on_authorization": "true"},
		Source:          "amqp",
	}

	tests := []struct {
		name     string
		err      error
		action   ackAction
		requeued int
	}{
		{"reconciled", nil, ack, 0},
		{"ignored", models.ErrEventIgnored, ack, 0},
		{"gateway down", &models.GatewayError{Op: "retrieve", Err: errors.New("timeout")}, requeue, 1},
		{"bad metadata", &models.ValidationError{Fields: map[string]string{"date": "required"}}, drop, 0},
		{"slot taken", &models.ConflictError{SpaceType: models.SpaceOpenSpace, Date: "2025-06-01", Window: "full day"}, drop, 0},
		{"unknown booking", models.ErrNotFound, drop, 0},
		{"wrapped unknown booking", fmt.Errorf("attach intent: %w", models.ErrNotFound), drop, 0},
		{"intent bound elsewhere", models.ErrDuplicatePaymentIntent, drop, 0},
		{"store failure", errors.New("disk I/O error"), requeue, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := new(mockHandler)
			h.On("HandleGatewayEvent", ctx, expected).Return(nil, tt.err).Once()
			a := &fakeAck{}

			got := newConsumer(h).handleDelivery(ctx, delivery(a, body))
			assert.Equal(t, tt.action, got)
			assert.Equal(t, tt.requeued, a.requeued)
			h.AssertExpectations(t)
		})
	}
}

func TestHandleDelivery_Unreadable(t *testing.T) {
	h := new(mockHandler)
	a := &fakeAck{}
	got := newConsumer(h).handleDelivery(context.Background(), delivery(a, "not json"))
	assert.Equal(t, drop, got)
	assert.Equal(t, 1, a.nacked)
	assert.Zero(t, a.requeued)
	h.AssertNotCalled(t, "HandleGatewayEvent", mock.Anything, mock.Anything)
}

func TestRun(t *testing.T) {
	h := new(mockHandler)
	h.On("HandleGatewayEvent", mock.Anything, mock.Anything).Return(&models.Booking{ID: "b1"}, nil)
	ch := make(chan amqp.Delivery, 2)
	a := &fakeAck{}
	ch <- delivery(a, `{"payment_intent_id":"pi_1"}`)
	ch <- delivery(a, `{"payment_intent_id":"pi_2"}`)
	close(ch)

	logger := zerolog.Nop()
	c := NewGatewayEventConsumer(h, chanSource{ch: ch}, &logger)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Run(ctx))
	assert.Equal(t, 2, a.acked)
}
