package booking

import (
	"time"

	"spacebook/internal/models"
)

// FSM is a table of allowed transitions between states of one kind.
type FSM[S comparable] struct {
	transitions map[S][]S
}

// NewStatusFSM returns the booking lifecycle machine. Nothing leaves a terminal
// state and nothing re-enters pending.
func NewStatusFSM() *FSM[models.Status] {
	return &FSM[models.Status]{
		transitions: map[models.Status][]models.Status{
			models.StatusPending:   {models.StatusConfirmed, models.StatusCancelled, models.StatusCompleted},
			models.StatusConfirmed: {models.StatusCancelled, models.StatusCompleted},
			models.StatusCancelled: {},
			models.StatusCompleted: {},
		},
	}
}

// NewPaymentFSM returns the payment status machine, tracked independently of lifecycle status.
func NewPaymentFSM() *FSM[models.PaymentStatus] {
	return &FSM[models.PaymentStatus]{
		transitions: map[models.PaymentStatus][]models.PaymentStatus{
			models.PaymentUnpaid:   {models.PaymentPending, models.PaymentPaid, models.PaymentFailed},
			models.PaymentPending:  {models.PaymentPaid, models.PaymentFailed, models.PaymentPartial},
			models.PaymentPartial:  {models.PaymentPaid, models.PaymentRefunded},
			models.PaymentPaid:     {models.PaymentRefunded, models.PaymentPartial},
			models.PaymentFailed:   {models.PaymentPending, models.PaymentPaid},
			models.PaymentRefunded: {},
		},
	}
}

// CanTransition checks if transition is allowed.
func (f *FSM[S]) CanTransition(from, to S) bool {
	allowed, ok := f.transitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// SourcesFor lists every state that may move to target. The store turns this
// into the guard of a conditional UPDATE.
func (f *FSM[S]) SourcesFor(target S) []S {
	var out []S
	for from, allowed := range f.transitions {
		for _, s := range allowed {
			if s == target {
				out = append(out, from)
				break
			}
		}
	}
	return out
}

var (
	// Lifecycle is the shared booking status machine.
	Lifecycle = NewStatusFSM()
	// Payments is the shared payment status machine.
	Payments = NewPaymentFSM()
)

// CalendarDate returns midnight UTC of t's calendar date in t's own location.
func CalendarDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// CanCancel allows cancellation of a non-terminal booking whose date is today or later.
func CanCancel(b *models.Booking, requestReceivedAt time.Time) error {
	if b.Status.IsTerminal() {
		return &models.PolicyError{BookingID: b.ID, Reason: "booking is already " + string(b.Status)}
	}
	if CalendarDate(b.Date).Before(CalendarDate(requestReceivedAt)) {
		return &models.PolicyError{BookingID: b.ID, Reason: "booking date is in the past"}
	}
	return nil
}

// CanComplete allows completion once the booking date has fully elapsed.
// An already completed booking passes so completion stays idempotent.
func CanComplete(b *models.Booking, now time.Time) error {
	if b.Status == models.StatusCompleted {
		return nil
	}
	if b.Status == models.StatusCancelled {
		return &models.PolicyError{BookingID: b.ID, Reason: "booking is cancelled"}
	}
	if !CalendarDate(b.Date).Before(CalendarDate(now)) {
		return &models.PolicyError{BookingID: b.ID, Reason: "booking date has not elapsed"}
	}
	return nil
}

// CanConfirm allows pending to confirmed. Confirming a confirmed booking is a no-op.
func CanConfirm(b *models.Booking) error {
	if b.Status == models.StatusConfirmed {
		return nil
	}
	if !Lifecycle.CanTransition(b.Status, models.StatusConfirmed) {
		return &models.PolicyError{BookingID: b.ID, Reason: "cannot confirm a " + string(b.Status) + " booking"}
	}
	return nil
}
