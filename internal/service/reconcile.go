package service

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"spacebook/internal/booking"
	"spacebook/internal/gateway"
	"spacebook/internal/metrics"
	"spacebook/internal/models"
	"spacebook/internal/notify"
)

// GatewayEvent is a payment notification from the webhook, the queue or a
// manual replay. Its Metadata is unverified and never applied: only the
// metadata on the intent retrieved from the gateway is used.
type GatewayEvent struct {
	ID              string            `json:"id,omitempty"`
	Type            string            `json:"type,omitempty"`
	PaymentIntentID string            `json:"payment_intent_id"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	Source          string            `json:"-"`
}

// HandleGatewayEvent converges any number of deliveries for one payment
// intent onto a single booking. A known intent returns its booking unchanged.
func (s *BookingService) HandleGatewayEvent(ctx context.Context, ev GatewayEvent) (*models.Booking, error) {
	ctx, span := s.tracer.Start(ctx, "reconcile.gateway_event")
	defer span.End()
	span.SetAttributes(attribute.String("payment_intent_id", ev.PaymentIntentID), attribute.String("source", ev.Source))

	b, outcome, err := s.reconcile(ctx, ev)
	if err != nil && !errors.Is(err, models.ErrEventIgnored) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	metrics.IncReconciliation(sourceLabel(ev.Source), outcome)

	evt := s.logger.Info()
	if err != nil && outcome != "ignored" {
		evt = s.logger.Warn().Err(err)
	}
	evt.Str("payment_intent_id", ev.PaymentIntentID).
		Str("event_id", ev.ID).
		Str("source", sourceLabel(ev.Source)).
		Str("outcome", outcome).
		Msg("gateway event handled")
	return b, err
}

func sourceLabel(src string) string {
	if src == "" {
		return "unknown"
	}
	return src
}

func (s *BookingService) reconcile(ctx context.Context, ev GatewayEvent) (*models.Booking, string, error) {
	if ev.PaymentIntentID == "" {
		verr := models.NewValidationError()
		verr.Add("payment_intent_id", "required")
		return nil, "invalid", verr
	}

	existing, err := s.store.FindByPaymentIntent(ctx, ev.PaymentIntentID)
	if err == nil {
		return existing, "duplicate", nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, "error", err
	}

	intent, err := s.gateway.RetrieveIntent(ctx, ev.PaymentIntentID)
	if err != nil {
		return nil, "gateway_error", err
	}

	for k := range ev.Metadata {
		if _, ok := intent.Metadata[k]; !ok {
			s.logger.Debug().Str("payment_intent_id", intent.ID).Str("key", k).Msg("event metadata key not on intent, ignored")
		}
	}
	meta, err := ParseMetadata(intent.Metadata)
	if err != nil {
		return nil, "invalid", err
	}

	if !meta.CreateOnAuthorization {
		if meta.BookingID == "" {
			return nil, "ignored", models.ErrEventIgnored
		}
		b, err := s.applyIntent(ctx, meta.BookingID, intent)
		if err != nil {
			return nil, "error", err
		}
		if b.PaymentStatus == models.PaymentPaid {
			s.publish(notify.BookingPaid, b)
		}
		return b, "attached", nil
	}

	if intent.Status == gateway.IntentFailed {
		return nil, "ignored", models.ErrEventIgnored
	}

	b, err := s.draft(meta.Request)
	if err != nil {
		return nil, "invalid", err
	}
	b.PaymentIntentID = intent.ID
	if b.CaptureMethod == "" && intent.Status == gateway.IntentAuthorized {
		b.CaptureMethod = models.CaptureManual
	}
	b.PaymentStatus = paymentStatusFor(intent)
	if b.PaymentStatus == models.PaymentPaid {
		b.AmountPaid = intent.Amount
	}
	if err := booking.Prepare(b, s.now(), booking.DefaultConfirmationGenerator); err != nil {
		return nil, "invalid", err
	}
	if intent.Amount != b.TotalPrice {
		s.logger.Warn().
			Str("payment_intent_id", intent.ID).
			Int64("intent_amount", intent.Amount).
			Int64("total_price", b.TotalPrice).
			Msg("intent amount differs from quoted total")
	}

	if err := s.store.Create(ctx, b); err != nil {
		// Another delivery of the same intent won the race.
		if errors.Is(err, models.ErrDuplicatePaymentIntent) || errors.Is(err, models.ErrSlotUnavailable) {
			if winner, ferr := s.store.FindByPaymentIntent(ctx, intent.ID); ferr == nil {
				return winner, "duplicate", nil
			}
		}
		return nil, "error", err
	}

	metrics.IncBookingCreated("event", string(b.PaymentStatus))
	s.publish(notify.BookingCreated, b)
	return b, "created", nil
}
