package models

import (
	"time"
)

// SpaceType identifies a bookable kind of space.
type SpaceType string

const (
	SpaceOpenSpace     SpaceType = "open_space"
	SpaceMeetingRoom   SpaceType = "meeting_room"
	SpacePrivateOffice SpaceType = "private_office"
	SpaceEventSpace    SpaceType = "event_space"
)

var spaceSlugs = map[string]SpaceType{
	"open-space":     SpaceOpenSpace,
	"meeting-room":   SpaceMeetingRoom,
	"private-office": SpacePrivateOffice,
	"event-space":    SpaceEventSpace,
}

// SpaceTypes lists every known space type in display order.
func SpaceTypes() []SpaceType {
	return []SpaceType{SpaceOpenSpace, SpaceMeetingRoom, SpacePrivateOffice, SpaceEventSpace}
}

// ParseSpaceType accepts either the URL slug ("open-space") or the stored value ("open_space").
func ParseSpaceType(s string) (SpaceType, bool) {
	if st, ok := spaceSlugs[s]; ok {
		return st, true
	}
	st := SpaceType(s)
	return st, st.Valid()
}

func (s SpaceType) Valid() bool {
	switch s {
	case SpaceOpenSpace, SpaceMeetingRoom, SpacePrivateOffice, SpaceEventSpace:
		return true
	}
	return false
}

// Slug returns the URL form of the space type.
func (s SpaceType) Slug() string {
	for slug, st := range spaceSlugs {
		if st == s {
			return slug
		}
	}
	return string(s)
}

// Status is the booking lifecycle status.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// IsTerminal reports whether no further lifecycle transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// IsActive reports whether the booking still holds its slot.
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusConfirmed
}

// PaymentStatus tracks money movement independently of Status.
type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "unpaid"
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
	PaymentFailed   PaymentStatus = "failed"
	PaymentPartial  PaymentStatus = "partial"
)

// CaptureMethod selects when the gateway moves money.
type CaptureMethod string

const (
	CaptureAutomatic CaptureMethod = "automatic"
	CaptureManual    CaptureMethod = "manual"
	CaptureDeferred  CaptureMethod = "deferred"
)

func (c CaptureMethod) Valid() bool {
	return c == CaptureAutomatic || c == CaptureManual || c == CaptureDeferred
}

// AdditionalServiceItem is one priced extra attached to a booking.
type AdditionalServiceItem struct {
	Name       string `json:"name"`
	Quantity   int    `json:"quantity"`
	UnitPrice  int64  `json:"unit_price"`
	TotalPrice int64  `json:"total_price"`
}

// Booking is a reservation of one space for one date. Money fields are minor units.
type Booking struct {
	ID                 string    `json:"id"`
	PaymentIntentID    string    `json:"payment_intent_id,omitempty"`
	ConfirmationNumber string    `json:"confirmation_number,omitempty"`
	SpaceType          SpaceType `json:"space_type"`
	Date               time.Time `json:"date"`
	StartTime          string    `json:"start_time,omitempty"`
	EndTime            string    `json:"end_time,omitempty"`
	NumberOfPeople     int       `json:"number_of_people"`

	ContactName  string `json:"contact_name"`
	ContactEmail string `json:"contact_email"`
	ContactPhone string `json:"contact_phone,omitempty"`

	Currency        string `json:"currency"`
	BasePrice       int64  `json:"base_price"`
	ServicesPrice   int64  `json:"services_price"`
	TotalPrice      int64  `json:"total_price"`
	AmountPaid      int64  `json:"amount_paid"`
	CancellationFee int64  `json:"cancellation_fee"`
	RefundAmount    int64  `json:"refund_amount"`
	DepositAmount   int64  `json:"deposit_amount"`

	PaymentStatus    PaymentStatus `json:"payment_status"`
	CaptureMethod    CaptureMethod `json:"capture_method"`
	PaymentMethodRef string        `json:"payment_method_ref,omitempty"`

	Status           Status     `json:"status"`
	ChargePercentage *int       `json:"charge_percentage,omitempty"`
	CancelledAt      *time.Time `json:"cancelled_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`

	FeeOverrideReason string `json:"fee_override_reason,omitempty"`
	FeeOverrideNote   string `json:"fee_override_note,omitempty"`
	FeeOverrideBy     string `json:"fee_override_by,omitempty"`

	AdditionalServices []AdditionalServiceItem `json:"additional_services"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}

// MinutesPerDay is the exclusive end of a full-day window.
const MinutesPerDay = 24 * 60

// DateLayout is the wire and storage form of a booking date.
const DateLayout = "2006-01-02"

// IsFullDay reports whether the booking occupies the whole day.
func (b *Booking) IsFullDay() bool {
	return b.StartTime == "" && b.EndTime == ""
}

// DateString returns the booking date as YYYY-MM-DD.
func (b *Booking) DateString() string {
	return b.Date.Format(DateLayout)
}

// QualifiesForConfirmation reports whether a confirmation number should exist.
func (b *Booking) QualifiesForConfirmation() bool {
	return b.Status == StatusConfirmed || b.PaymentStatus == PaymentPaid
}
