// Package cancellation computes the fee and refund owed when a booking is cancelled.
package cancellation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"spacebook/internal/booking"
	"spacebook/internal/models"
)

var ErrNoTiers = errors.New("cancellation policy has no tiers")

// Result is the outcome of applying a policy to one cancellation request.
type Result struct {
	DaysUntilBooking int
	ChargePercentage int
	CancellationFee  int64
	RefundAmount     int64
	Tier             models.Tier
	Override         *Override
}

// DaysUntil is the calendar-day distance from the request date to the booking date.
// It is negative when the booking date has passed.
func DaysUntil(bookingDate, requestReceivedAt time.Time) int {
	from := booking.CalendarDate(requestReceivedAt)
	to := booking.CalendarDate(bookingDate)
	return int(to.Sub(from).Hours() / 24)
}

// SelectTier picks the first tier, by threshold descending, whose threshold is
// within days. With no match the harshest tier applies.
func SelectTier(policy models.CancellationPolicy, days int) (models.Tier, error) {
	tiers := policy.SortedTiers()
	if len(tiers) == 0 {
		return models.Tier{}, ErrNoTiers
	}
	for _, t := range tiers {
		if t.DaysBeforeBooking <= days {
			return t, nil
		}
	}
	return tiers[len(tiers)-1], nil
}

// Fee returns totalPrice*pct/100 rounded half-up in minor units.
func Fee(totalPrice int64, pct int) int64 {
	if totalPrice <= 0 || pct <= 0 {
		return 0
	}
	return (totalPrice*int64(pct) + 50) / 100
}

// Refund returns max(0, amountPaid - fee).
func Refund(amountPaid, fee int64) int64 {
	if amountPaid <= fee {
		return 0
	}
	return amountPaid - fee
}

// ComputeFee applies the tier table for a cancellation received at requestReceivedAt.
func ComputeFee(policy models.CancellationPolicy, bookingDate, requestReceivedAt time.Time, totalPrice, amountPaid int64) (Result, error) {
	days := DaysUntil(bookingDate, requestReceivedAt)
	tier, err := SelectTier(policy, days)
	if err != nil {
		return Result{}, fmt.Errorf("policy for %s: %w", policy.SpaceType, err)
	}
	fee := Fee(totalPrice, tier.ChargePercentage)
	return Result{
		DaysUntilBooking: days,
		ChargePercentage: tier.ChargePercentage,
		CancellationFee:  fee,
		RefundAmount:     Refund(amountPaid, fee),
		Tier:             tier,
	}, nil
}

// OverrideReason is a closed set of codes staff may use to replace the tier fee.
type OverrideReason string

const (
	ReasonForceMajeure     OverrideReason = "force_majeure"
	ReasonVenueClosure     OverrideReason = "venue_closure"
	ReasonMedicalEmergency OverrideReason = "medical_emergency"
	ReasonBereavement      OverrideReason = "bereavement"
)

// ParseOverrideReason normalizes case and rejects unknown codes.
func ParseOverrideReason(s string) (OverrideReason, bool) {
	r := OverrideReason(strings.ToLower(strings.TrimSpace(s)))
	switch r {
	case ReasonForceMajeure, ReasonVenueClosure, ReasonMedicalEmergency, ReasonBereavement:
		return r, true
	}
	return "", false
}

// Override replaces the computed percentage. ApprovedBy names the staff member;
// approval itself happens outside the system.
type Override struct {
	Reason           OverrideReason
	Note             string
	ApprovedBy       string
	ChargePercentage int
}

// ApplyOverride recomputes fee and refund with the override percentage.
func ApplyOverride(r Result, totalPrice, amountPaid int64, o Override) (Result, error) {
	verr := models.NewValidationError()
	if _, ok := ParseOverrideReason(string(o.Reason)); !ok {
		verr.Add("override_reason", "unknown reason code")
	}
	if strings.TrimSpace(o.ApprovedBy) == "" {
		verr.Add("override_approved_by", "required")
	}
	if o.ChargePercentage < 0 || o.ChargePercentage > 100 {
		verr.Add("override_charge_percentage", "must be 0-100")
	}
	if err := verr.OrNil(); err != nil {
		return Result{}, err
	}

	o.Reason, _ = ParseOverrideReason(string(o.Reason))
	fee := Fee(totalPrice, o.ChargePercentage)
	r.ChargePercentage = o.ChargePercentage
	r.CancellationFee = fee
	r.RefundAmount = Refund(amountPaid, fee)
	r.Override = &o
	return r, nil
}
