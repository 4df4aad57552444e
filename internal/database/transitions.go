package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"spacebook/internal/booking"
	"spacebook/internal/models"
)

// CancellationOutcome is written together with the cancelled status.
type CancellationOutcome struct {
	ChargePercentage int
	CancellationFee  int64
	RefundAmount     int64
	OverrideReason   string
	OverrideNote     string
	OverrideBy       string
}

// Transition describes a lifecycle move for UpdateStatus.
type Transition struct {
	To models.Status
	At time.Time
	// ReceivedAt is the calendar reference for a cancellation: a booking dated
	// before that day cannot be cancelled. Zero uses At.
	ReceivedAt time.Time
	// ExpectedVersion guards against a concurrent writer; zero disables the guard.
	ExpectedVersion int64
	Cancellation    *CancellationOutcome
}

// PaymentUpdate describes a payment status move for UpdatePayment.
type PaymentUpdate struct {
	To               models.PaymentStatus
	At               time.Time
	AmountPaid       *int64
	DepositAmount    *int64
	PaymentIntentID  string
	PaymentMethodRef string
}

// UpdateStatus applies a lifecycle transition as one conditional UPDATE and
// returns the row as written. A transition the state machine forbids is a
// *models.PolicyError; repeating confirm or complete returns the booking unchanged.
func (db *DB) UpdateStatus(ctx context.Context, id string, tr Transition) (*models.Booking, error) {
	if tr.At.IsZero() {
		tr.At = time.Now()
	}
	if tr.ReceivedAt.IsZero() {
		tr.ReceivedAt = tr.At
	}
	switch tr.To {
	case models.StatusConfirmed:
		return db.confirm(ctx, id, tr)
	case models.StatusCancelled:
		return db.cancel(ctx, id, tr)
	case models.StatusCompleted:
		return db.complete(ctx, id, tr)
	}
	return nil, &models.PolicyError{BookingID: id, Reason: "no transition to " + string(tr.To)}
}

func (db *DB) confirm(ctx context.Context, id string, tr Transition) (*models.Booking, error) {
	sources, srcArgs := inClause(booking.Lifecycle.SourcesFor(models.StatusConfirmed))
	query := `UPDATE bookings SET
			status = 'confirmed',
			confirmation_number = COALESCE(confirmation_number, ?),
			updated_at = ?, version = version + 1
		WHERE id = ? AND status IN ` + sources + versionGuard(tr) + `
		RETURNING ` + bookingColumns

	for attempt := 1; ; attempt++ {
		args := append([]any{db.newConfirmation(), formatTime(tr.At), id}, srcArgs...)
		args = appendVersion(args, tr)
		b, err := scanBooking(db.QueryRowContext(ctx, query, args...))
		if err == nil {
			return b, nil
		}
		if errors.Is(err, sql.ErrNoRows) {
			return db.explainNoop(ctx, id, tr)
		}
		cerr := classify(err)
		if errors.Is(cerr, errConfirmationCollision) && attempt < db.confirmationAttempts {
			continue
		}
		return nil, cerr
	}
}

func (db *DB) cancel(ctx context.Context, id string, tr Transition) (*models.Booking, error) {
	out := tr.Cancellation
	if out == nil {
		out = &CancellationOutcome{}
	}
	sources, srcArgs := inClause(booking.Lifecycle.SourcesFor(models.StatusCancelled))
	query := `UPDATE bookings SET
			status = 'cancelled',
			cancelled_at = ?,
			charge_percentage = ?,
			cancellation_fee = ?,
			refund_amount = ?,
			fee_override_reason = ?,
			fee_override_note = ?,
			fee_override_by = ?,
			updated_at = ?, version = version + 1
		WHERE id = ? AND date >= ? AND status IN ` + sources + versionGuard(tr) + `
		RETURNING ` + bookingColumns

	at := formatTime(tr.At)
	today := booking.CalendarDate(tr.ReceivedAt).Format(models.DateLayout)
	args := append([]any{
		at, out.ChargePercentage, out.CancellationFee, out.RefundAmount,
		nullString(out.OverrideReason), nullString(out.OverrideNote), nullString(out.OverrideBy),
		at, id, today,
	}, srcArgs...)
	args = appendVersion(args, tr)

	b, err := scanBooking(db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return db.explainNoop(ctx, id, tr)
	}
	if err != nil {
		return nil, classify(err)
	}
	return b, nil
}

func (db *DB) complete(ctx context.Context, id string, tr Transition) (*models.Booking, error) {
	sources, srcArgs := inClause(booking.Lifecycle.SourcesFor(models.StatusCompleted))
	query := `UPDATE bookings SET
			status = 'completed',
			completed_at = ?,
			updated_at = ?, version = version + 1
		WHERE id = ? AND date < ? AND status IN ` + sources + versionGuard(tr) + `
		RETURNING ` + bookingColumns

	at := formatTime(tr.At)
	today := booking.CalendarDate(tr.At).Format(models.DateLayout)
	args := append([]any{at, at, id, today}, srcArgs...)
	args = appendVersion(args, tr)

	b, err := scanBooking(db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return db.explainNoop(ctx, id, tr)
	}
	if err != nil {
		return nil, classify(err)
	}
	return b, nil
}

func versionGuard(tr Transition) string {
	if tr.ExpectedVersion > 0 {
		return ` AND version = ?`
	}
	return ""
}

func appendVersion(args []any, tr Transition) []any {
	if tr.ExpectedVersion > 0 {
		return append(args, tr.ExpectedVersion)
	}
	return args
}

// explainNoop turns a zero-row UPDATE into the matching error by reading the
// current row. It never writes.
func (db *DB) explainNoop(ctx context.Context, id string, tr Transition) (*models.Booking, error) {
	current, err := db.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}

	if current.Status == tr.To && (tr.To == models.StatusConfirmed || tr.To == models.StatusCompleted) {
		return current, nil
	}
	switch tr.To {
	case models.StatusCancelled:
		if err := booking.CanCancel(current, tr.ReceivedAt); err != nil && current.Status.IsTerminal() {
			return nil, err
		}
	case models.StatusCompleted:
		if err := booking.CanComplete(current, tr.At); err != nil {
			return nil, err
		}
	case models.StatusConfirmed:
		if err := booking.CanConfirm(current); err != nil {
			return nil, err
		}
	}
	if tr.ExpectedVersion > 0 && current.Version != tr.ExpectedVersion {
		return nil, models.ErrConcurrentModification
	}
	if tr.To == models.StatusCancelled {
		if err := booking.CanCancel(current, tr.ReceivedAt); err != nil {
			return nil, err
		}
	}
	return nil, &models.PolicyError{BookingID: id, Reason: fmt.Sprintf("cannot move from %s to %s", current.Status, tr.To)}
}

// UpdatePayment moves payment status through the payment state machine in one
// conditional UPDATE. Reaching paid assigns a confirmation number if absent.
// A payment intent, once set, is never replaced.
func (db *DB) UpdatePayment(ctx context.Context, id string, upd PaymentUpdate) (*models.Booking, error) {
	if upd.At.IsZero() {
		upd.At = time.Now()
	}
	sources, srcArgs := inClause(booking.Payments.SourcesFor(upd.To))
	query := `UPDATE bookings SET
			payment_status = ?,
			amount_paid = COALESCE(?, amount_paid),
			deposit_amount = COALESCE(?, deposit_amount),
			payment_intent_id = COALESCE(payment_intent_id, ?),
			payment_method_ref = COALESCE(?, payment_method_ref),
			confirmation_number = CASE WHEN ? = 'paid' THEN COALESCE(confirmation_number, ?) ELSE confirmation_number END,
			updated_at = ?, version = version + 1
		WHERE id = ? AND payment_status IN ` + sources + `
		  AND (? IS NULL OR payment_intent_id IS NULL OR payment_intent_id = ?)
		RETURNING ` + bookingColumns

	intent := nullString(upd.PaymentIntentID)
	for attempt := 1; ; attempt++ {
		args := []any{
			string(upd.To), nullInt64(upd.AmountPaid), nullInt64(upd.DepositAmount), intent, nullString(upd.PaymentMethodRef),
			string(upd.To), db.newConfirmation(), formatTime(upd.At), id,
		}
		args = append(args, srcArgs...)
		args = append(args, intent, intent)

		b, err := scanBooking(db.QueryRowContext(ctx, query, args...))
		if err == nil {
			return b, nil
		}
		if errors.Is(err, sql.ErrNoRows) {
			return db.explainPaymentNoop(ctx, id, upd)
		}
		cerr := classify(err)
		if errors.Is(cerr, errConfirmationCollision) && attempt < db.confirmationAttempts {
			continue
		}
		return nil, cerr
	}
}

func (db *DB) explainPaymentNoop(ctx context.Context, id string, upd PaymentUpdate) (*models.Booking, error) {
	current, err := db.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.PaymentIntentID != "" && current.PaymentIntentID != "" && current.PaymentIntentID != upd.PaymentIntentID {
		return nil, &models.PolicyError{BookingID: id, Reason: "booking is bound to a different payment intent"}
	}
	if current.PaymentStatus == upd.To {
		return current, nil
	}
	return nil, &models.PolicyError{BookingID: id, Reason: fmt.Sprintf("payment cannot move from %s to %s", current.PaymentStatus, upd.To)}
}

func nullInt64(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

// AttachPaymentMethod stores a reusable payment method and the deposit to be
// taken at deferred capture. Only active bookings accept one.
func (db *DB) AttachPaymentMethod(ctx context.Context, id, ref string, deposit int64, at time.Time) (*models.Booking, error) {
	query := `UPDATE bookings SET
			payment_method_ref = ?,
			deposit_amount = ?,
			updated_at = ?, version = version + 1
		WHERE id = ? AND status IN ('pending', 'confirmed')
		RETURNING ` + bookingColumns

	b, err := scanBooking(db.QueryRowContext(ctx, query, ref, deposit, formatTime(at), id))
	if errors.Is(err, sql.ErrNoRows) {
		current, gerr := db.GetBooking(ctx, id)
		if gerr != nil {
			return nil, gerr
		}
		return nil, &models.PolicyError{BookingID: id, Reason: "booking is " + string(current.Status)}
	}
	if err != nil {
		return nil, classify(err)
	}
	return b, nil
}
