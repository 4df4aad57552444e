package booking

import (
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"spacebook/internal/models"
)

// Validate checks a draft's fields and normalizes its time window in place.
// Every failing field is reported at once.
func Validate(b *models.Booking) error {
	verr := models.NewValidationError()

	if !b.SpaceType.Valid() {
		verr.Add("space_type", "unknown space type")
	}
	if b.Date.IsZero() {
		verr.Add("date", "required")
	}
	if b.NumberOfPeople <= 0 {
		verr.Add("number_of_people", "must be greater than zero")
	}
	if strings.TrimSpace(b.ContactName) == "" {
		verr.Add("contact_name", "required")
	}
	if strings.TrimSpace(b.ContactEmail) == "" {
		verr.Add("contact_email", "required")
	} else if _, err := mail.ParseAddress(b.ContactEmail); err != nil {
		verr.Add("contact_email", "invalid email address")
	}
	if b.CaptureMethod != "" && !b.CaptureMethod.Valid() {
		verr.Add("capture_method", "must be automatic, manual or deferred")
	}
	if b.BasePrice < 0 {
		verr.Add("base_price", "cannot be negative")
	}
	for _, item := range b.AdditionalServices {
		if strings.TrimSpace(item.Name) == "" {
			verr.Add("additional_services", "service name is required")
		}
		if item.Quantity <= 0 {
			verr.Add("additional_services", "quantity must be greater than zero")
		}
		if item.UnitPrice < 0 {
			verr.Add("additional_services", "unit price cannot be negative")
		}
	}

	start, end, err := NormalizeWindow(b.StartTime, b.EndTime)
	if err != nil {
		if wv, ok := err.(*models.ValidationError); ok {
			for f, msg := range wv.Fields {
				verr.Add(f, msg)
			}
		}
	} else {
		b.StartTime, b.EndTime = start, end
	}

	return verr.OrNil()
}

// ApplyTotals recomputes per-item totals, ServicesPrice and TotalPrice.
func ApplyTotals(b *models.Booking) {
	var services int64
	for i := range b.AdditionalServices {
		item := &b.AdditionalServices[i]
		item.TotalPrice = int64(item.Quantity) * item.UnitPrice
		services += item.TotalPrice
	}
	b.ServicesPrice = services
	b.TotalPrice = b.BasePrice + services
}

// Prepare runs every pure pre-write step: validation, window normalization,
// totals, defaults, timestamps and a confirmation number when the draft already qualifies.
func Prepare(b *models.Booking, now time.Time, gen ConfirmationGenerator) error {
	if err := Validate(b); err != nil {
		return err
	}
	ApplyTotals(b)

	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	b.Date = CalendarDate(b.Date)
	if b.Status == "" {
		b.Status = models.StatusPending
	}
	if b.PaymentStatus == "" {
		b.PaymentStatus = models.PaymentUnpaid
	}
	if b.CaptureMethod == "" {
		b.CaptureMethod = models.CaptureAutomatic
	}
	b.Currency = strings.ToUpper(b.Currency)
	if b.AdditionalServices == nil {
		b.AdditionalServices = []models.AdditionalServiceItem{}
	}
	b.CreatedAt = now.UTC()
	b.UpdatedAt = b.CreatedAt
	b.Version = 1

	if b.QualifiesForConfirmation() && b.ConfirmationNumber == "" && gen != nil {
		b.ConfirmationNumber = gen()
	}
	return nil
}
