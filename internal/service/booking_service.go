package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"spacebook/internal/booking"
	"spacebook/internal/cancellation"
	"spacebook/internal/database"
	"spacebook/internal/gateway"
	"spacebook/internal/metrics"
	"spacebook/internal/models"
	"spacebook/internal/notify"
	"spacebook/internal/pricing"
)

// Store is the booking persistence the service drives. Every method is a
// single atomic statement.
type Store interface {
	Create(ctx context.Context, b *models.Booking) error
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	FindByPaymentIntent(ctx context.Context, paymentIntentID string) (*models.Booking, error)
	UpdateStatus(ctx context.Context, id string, tr database.Transition) (*models.Booking, error)
	UpdatePayment(ctx context.Context, id string, upd database.PaymentUpdate) (*models.Booking, error)
	AttachPaymentMethod(ctx context.Context, id, ref string, deposit int64, at time.Time) (*models.Booking, error)
}

type Reserver interface {
	CheckAndReserve(ctx context.Context, b *models.Booking) (*models.Booking, error)
}

// Policies supplies the live cancellation tiers and price list.
type Policies interface {
	Policy(st models.SpaceType) (models.CancellationPolicy, error)
	Catalog() *pricing.Catalog
}

type Notifier interface {
	Notify(n notify.Notification)
}

type Options struct {
	// Location decides which calendar day a timestamp falls on.
	Location *time.Location
	// DeferredMinDays is the minimum lead time for deferred capture.
	DeferredMinDays int
	Now             func() time.Time
}

const maxCancelAttempts = 3

type BookingService struct {
	store    Store
	reserver Reserver
	gateway  gateway.Gateway
	policies Policies
	notifier Notifier

	loc             *time.Location
	deferredMinDays int
	now             func() time.Time

	tracer trace.Tracer
	logger zerolog.Logger
}

func NewBookingService(
	store Store,
	reserver Reserver,
	gw gateway.Gateway,
	policies Policies,
	notifier Notifier,
	opts Options,
	logger *zerolog.Logger,
) *BookingService {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &BookingService{
		store:           store,
		reserver:        reserver,
		gateway:         gw,
		policies:        policies,
		notifier:        notifier,
		loc:             opts.Location,
		deferredMinDays: opts.DeferredMinDays,
		now:             opts.Now,
		tracer:          otel.Tracer("spacebook/service"),
		logger:          logger.With().Str("component", "booking_service").Logger(),
	}
}

func (s *BookingService) localNow() time.Time {
	return s.now().In(s.loc)
}

// CreateBooking prices and reserves a booking, then applies its capture
// method through the gateway. A gateway failure after the reservation marks the
// payment failed, cancels the booking to free its slot and returns
// *models.GatewayError.
func (s *BookingService) CreateBooking(ctx context.Context, req BookingRequest) (*models.Booking, error) {
	ctx, span := s.tracer.Start(ctx, "booking.create")
	defer span.End()

	b, err := s.draft(req)
	if err != nil {
		return nil, err
	}
	if err := s.checkPaymentInputs(req, b); err != nil {
		return nil, err
	}
	if err := booking.Prepare(b, s.now(), booking.DefaultConfirmationGenerator); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("booking_id", b.ID), attribute.String("space_type", string(b.SpaceType)))

	reserved, err := s.reserver.CheckAndReserve(ctx, b)
	if err != nil {
		if errors.Is(err, models.ErrSlotUnavailable) {
			metrics.IncSlotConflict(string(b.SpaceType))
		}
		return nil, err
	}

	if req.requiresPayment() {
		reserved, err = s.collectPayment(ctx, reserved, req.CardToken)
		if err != nil {
			return nil, err
		}
	}

	s.logger.Info().
		Str("booking_id", reserved.ID).
		Str("space_type", string(reserved.SpaceType)).
		Str("date", reserved.DateString()).
		Str("payment_status", string(reserved.PaymentStatus)).
		Msg("booking created")
	metrics.IncBookingCreated("request", string(reserved.PaymentStatus))
	s.publish(notify.BookingCreated, reserved)
	return reserved, nil
}

// draft maps, validates and prices a request.
func (s *BookingService) draft(req BookingRequest) (*models.Booking, error) {
	b, err := req.toDraft()
	if err != nil {
		return nil, err
	}
	if err := booking.Validate(b); err != nil {
		return nil, err
	}
	if err := s.policies.Catalog().Quote(b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *BookingService) checkPaymentInputs(req BookingRequest, b *models.Booking) error {
	verr := models.NewValidationError()
	if req.requiresPayment() && req.CardToken == "" {
		verr.Add("card_token", "required when payment is due")
	}
	if b.CaptureMethod == models.CaptureDeferred {
		if days := cancellation.DaysUntil(b.Date, s.localNow()); days < s.deferredMinDays {
			verr.Add("capture_method", fmt.Sprintf("deferred capture needs at least %d days notice", s.deferredMinDays))
		}
	}
	return verr.OrNil()
}

func (s *BookingService) collectPayment(ctx context.Context, b *models.Booking, cardToken string) (*models.Booking, error) {
	if b.CaptureMethod == models.CaptureDeferred {
		ref, err := s.gateway.SavePaymentMethod(ctx, gateway.SaveMethodRequest{
			Email:       b.ContactEmail,
			Description: "booking " + b.ID,
			CardToken:   cardToken,
		})
		if err != nil {
			s.markPaymentFailed(ctx, b.ID)
			s.releaseReservation(ctx, b.ID)
			return nil, err
		}
		return s.store.AttachPaymentMethod(ctx, b.ID, ref, s.policies.Catalog().Deposit(b.TotalPrice), s.now())
	}

	intent, err := s.gateway.Charge(ctx, gateway.ChargeRequest{
		Amount:      b.TotalPrice,
		Currency:    b.Currency,
		CardToken:   cardToken,
		Description: "booking " + b.ID,
		Capture:     b.CaptureMethod == models.CaptureAutomatic,
		Metadata:    requestMetadata(b),
	})
	if err != nil {
		s.markPaymentFailed(ctx, b.ID)
		s.releaseReservation(ctx, b.ID)
		return nil, err
	}
	recorded, err := s.applyIntent(ctx, b.ID, intent)
	if err != nil {
		return nil, err
	}
	if intent.Status == gateway.IntentFailed {
		s.releaseReservation(ctx, b.ID)
		return nil, declined("charge", intent)
	}
	return recorded, nil
}

// applyIntent records the gateway's view of a payment on the booking.
func (s *BookingService) applyIntent(ctx context.Context, id string, intent *gateway.Intent) (*models.Booking, error) {
	upd := database.PaymentUpdate{
		To:              paymentStatusFor(intent),
		At:              s.now(),
		PaymentIntentID: intent.ID,
	}
	if upd.To == models.PaymentPaid {
		amount := intent.Amount
		upd.AmountPaid = &amount
	}

	b, err := s.store.UpdatePayment(ctx, id, upd)
	if models.IsPolicyError(err) {
		// A webhook for the same intent may already have moved the payment on.
		if current, gerr := s.store.GetBooking(ctx, id); gerr == nil && current.PaymentIntentID == intent.ID {
			b, err = current, nil
		}
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func declined(op string, intent *gateway.Intent) error {
	return &models.GatewayError{Op: op, Err: fmt.Errorf("payment declined: %s", intent.FailureCode)}
}

func (s *BookingService) markPaymentFailed(ctx context.Context, id string) {
	if _, err := s.store.UpdatePayment(ctx, id, database.PaymentUpdate{To: models.PaymentFailed, At: s.now()}); err != nil {
		s.logger.Error().Err(err).Str("booking_id", id).Msg("failed to mark payment failed")
	}
}

// releaseReservation cancels a booking whose payment never went through so the
// guest can retry the same slot. No fee applies.
func (s *BookingService) releaseReservation(ctx context.Context, id string) {
	now := s.now()
	if _, err := s.store.UpdateStatus(ctx, id, database.Transition{
		To:           models.StatusCancelled,
		At:           now,
		ReceivedAt:   now.In(s.loc),
		Cancellation: &database.CancellationOutcome{},
	}); err != nil {
		s.logger.Error().Err(err).Str("booking_id", id).Msg("failed to release reservation after payment failure")
		return
	}
	s.logger.Info().Str("booking_id", id).Msg("reservation released after payment failure")
}

func paymentStatusFor(intent *gateway.Intent) models.PaymentStatus {
	switch intent.Status {
	case gateway.IntentSucceeded:
		return models.PaymentPaid
	case gateway.IntentFailed:
		return models.PaymentFailed
	}
	return models.PaymentPending
}

func (s *BookingService) publish(kind notify.Kind, b *models.Booking) {
	if s.notifier == nil || b == nil {
		return
	}
	s.notifier.Notify(notify.Notification{Kind: kind, Booking: *b, At: s.now()})
}

// GetBooking loads a booking by id.
func (s *BookingService) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	return s.store.GetBooking(ctx, id)
}

// LookupByPaymentIntent is the diagnostics lookup for a gateway intent.
func (s *BookingService) LookupByPaymentIntent(ctx context.Context, intentID string) (*models.Booking, error) {
	return s.store.FindByPaymentIntent(ctx, intentID)
}
