package service

import (
	"context"
	"errors"
	"time"

	"spacebook/internal/booking"
	"spacebook/internal/cancellation"
	"spacebook/internal/database"
	"spacebook/internal/gateway"
	"spacebook/internal/metrics"
	"spacebook/internal/models"
	"spacebook/internal/notify"
)

type CancelRequest struct {
	BookingID string
	// RequestReceivedAt is when the guest asked; zero means now.
	RequestReceivedAt time.Time
	Override          *cancellation.Override
}

type CancelResult struct {
	Booking *models.Booking
	Fee     cancellation.Result
}

// CancelBooking computes the fee under the live policy and writes it with the
// cancelled status in one guarded update. A concurrent change to the booking
// makes it recompute, up to maxCancelAttempts times. Payment status is left
// for the refund process.
func (s *BookingService) CancelBooking(ctx context.Context, req CancelRequest) (*CancelResult, error) {
	ctx, span := s.tracer.Start(ctx, "booking.cancel")
	defer span.End()

	received := req.RequestReceivedAt
	if received.IsZero() {
		received = s.now()
	}
	received = received.In(s.loc)

	for attempt := 1; ; attempt++ {
		b, err := s.store.GetBooking(ctx, req.BookingID)
		if err != nil {
			return nil, err
		}
		if err := booking.CanCancel(b, received); err != nil {
			return nil, err
		}

		policy, err := s.policies.Policy(b.SpaceType)
		if err != nil {
			return nil, err
		}
		res, err := cancellation.ComputeFee(policy, b.Date, received, b.TotalPrice, b.AmountPaid)
		if err != nil {
			return nil, err
		}
		if req.Override != nil {
			if res, err = cancellation.ApplyOverride(res, b.TotalPrice, b.AmountPaid, *req.Override); err != nil {
				return nil, err
			}
		}

		outcome := &database.CancellationOutcome{
			ChargePercentage: res.ChargePercentage,
			CancellationFee:  res.CancellationFee,
			RefundAmount:     res.RefundAmount,
		}
		if o := res.Override; o != nil {
			outcome.OverrideReason = string(o.Reason)
			outcome.OverrideNote = o.Note
			outcome.OverrideBy = o.ApprovedBy
		}

		cancelled, err := s.store.UpdateStatus(ctx, b.ID, database.Transition{
			To:              models.StatusCancelled,
			At:              s.now(),
			ReceivedAt:      received,
			ExpectedVersion: b.Version,
			Cancellation:    outcome,
		})
		if errors.Is(err, models.ErrConcurrentModification) && attempt < maxCancelAttempts {
			s.logger.Debug().Str("booking_id", b.ID).Int("attempt", attempt).Msg("booking changed during cancellation, recomputing")
			continue
		}
		if err != nil {
			return nil, err
		}

		s.logger.Info().
			Str("booking_id", cancelled.ID).
			Int("days_until_booking", res.DaysUntilBooking).
			Int("charge_percentage", res.ChargePercentage).
			Int64("cancellation_fee", res.CancellationFee).
			Int64("refund_amount", res.RefundAmount).
			Str("override_reason", outcome.OverrideReason).
			Msg("booking cancelled")
		metrics.IncTransition(string(models.StatusCancelled))
		if outcome.OverrideReason != "" {
			metrics.IncFeeOverride(outcome.OverrideReason)
		}
		s.publish(notify.BookingCancelled, cancelled)
		return &CancelResult{Booking: cancelled, Fee: res}, nil
	}
}

// ConfirmBooking moves a pending booking to confirmed. Confirming twice
// returns the booking unchanged.
func (s *BookingService) ConfirmBooking(ctx context.Context, id string) (*models.Booking, error) {
	current, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == models.StatusConfirmed {
		return current, nil
	}
	if err := booking.CanConfirm(current); err != nil {
		return nil, err
	}

	b, err := s.store.UpdateStatus(ctx, id, database.Transition{To: models.StatusConfirmed, At: s.now()})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("booking_id", b.ID).Str("confirmation_number", b.ConfirmationNumber).Msg("booking confirmed")
	metrics.IncTransition(string(models.StatusConfirmed))
	s.publish(notify.BookingConfirmed, b)
	return b, nil
}

// CompleteBooking marks a booking whose date has elapsed as completed.
// Completing twice keeps the first completion time.
func (s *BookingService) CompleteBooking(ctx context.Context, id string) (*models.Booking, error) {
	current, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == models.StatusCompleted {
		return current, nil
	}
	now := s.localNow()
	if err := booking.CanComplete(current, now); err != nil {
		return nil, err
	}

	b, err := s.store.UpdateStatus(ctx, id, database.Transition{To: models.StatusCompleted, At: now})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("booking_id", b.ID).Msg("booking completed")
	metrics.IncTransition(string(models.StatusCompleted))
	s.publish(notify.BookingCompleted, b)
	return b, nil
}

// CapturePayment collects a manual authorization hold or charges the saved
// method of a deferred booking. A paid booking is returned unchanged.
func (s *BookingService) CapturePayment(ctx context.Context, id string) (*models.Booking, error) {
	ctx, span := s.tracer.Start(ctx, "booking.capture")
	defer span.End()

	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.PaymentStatus == models.PaymentPaid {
		return b, nil
	}
	if b.Status.IsTerminal() {
		return nil, &models.PolicyError{BookingID: id, Reason: "booking is already " + string(b.Status)}
	}

	var (
		intent *gateway.Intent
		op     string
	)
	switch {
	case b.PaymentIntentID != "" && b.PaymentStatus == models.PaymentPending:
		op = "capture"
		intent, err = s.gateway.Capture(ctx, b.PaymentIntentID)
	case b.PaymentIntentID == "" && b.PaymentMethodRef != "":
		op = "charge"
		intent, err = s.gateway.Charge(ctx, gateway.ChargeRequest{
			Amount:      b.TotalPrice,
			Currency:    b.Currency,
			CustomerRef: b.PaymentMethodRef,
			Description: "booking " + b.ID,
			Capture:     true,
			Metadata:    requestMetadata(b),
		})
	default:
		return nil, &models.PolicyError{BookingID: id, Reason: "no authorized payment to capture"}
	}
	if err != nil {
		return nil, err
	}

	captured, err := s.applyIntent(ctx, id, intent)
	if err != nil {
		return nil, err
	}
	if intent.Status == gateway.IntentFailed {
		return nil, declined(op, intent)
	}
	if captured.PaymentStatus == models.PaymentPaid {
		s.logger.Info().Str("booking_id", id).Str("payment_intent_id", intent.ID).Msg("payment captured")
		s.publish(notify.BookingPaid, captured)
	}
	return captured, nil
}
