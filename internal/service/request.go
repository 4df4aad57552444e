package service

import (
	"strings"
	"time"

	"spacebook/internal/models"
)

type ServiceRequest struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// BookingRequest is the inbound shape of a booking, shared by the HTTP API and
// by gateway metadata.
type BookingRequest struct {
	SpaceType          string           `json:"space_type"`
	Date               string           `json:"date"`
	StartTime          string           `json:"start_time,omitempty"`
	EndTime            string           `json:"end_time,omitempty"`
	NumberOfPeople     int              `json:"number_of_people"`
	ContactName        string           `json:"contact_name"`
	ContactEmail       string           `json:"contact_email"`
	ContactPhone       string           `json:"contact_phone,omitempty"`
	AdditionalServices []ServiceRequest `json:"additional_services,omitempty"`
	CaptureMethod      string           `json:"capture_method,omitempty"`
	// RequiresPayment defaults to true when omitted.
	RequiresPayment *bool  `json:"requires_payment,omitempty"`
	CardToken       string `json:"card_token,omitempty"`
}

func (r BookingRequest) requiresPayment() bool {
	return r.RequiresPayment == nil || *r.RequiresPayment
}

// toDraft maps the request onto an unpriced booking. Field-level checks beyond
// parsing are left to booking.Validate.
func (r BookingRequest) toDraft() (*models.Booking, error) {
	verr := models.NewValidationError()

	b := &models.Booking{
		StartTime:      strings.TrimSpace(r.StartTime),
		EndTime:        strings.TrimSpace(r.EndTime),
		NumberOfPeople: r.NumberOfPeople,
		ContactName:    strings.TrimSpace(r.ContactName),
		ContactEmail:   strings.TrimSpace(r.ContactEmail),
		ContactPhone:   strings.TrimSpace(r.ContactPhone),
		CaptureMethod:  models.CaptureMethod(strings.ToLower(strings.TrimSpace(r.CaptureMethod))),
	}

	if st, ok := models.ParseSpaceType(r.SpaceType); ok {
		b.SpaceType = st
	} else {
		verr.Add("space_type", "unknown space type")
	}

	if d, err := time.Parse(models.DateLayout, strings.TrimSpace(r.Date)); err == nil {
		b.Date = d
	} else {
		verr.Add("date", "must be YYYY-MM-DD")
	}

	b.AdditionalServices = make([]models.AdditionalServiceItem, 0, len(r.AdditionalServices))
	for _, s := range r.AdditionalServices {
		b.AdditionalServices = append(b.AdditionalServices, models.AdditionalServiceItem{
			Name:     strings.TrimSpace(s.Name),
			Quantity: s.Quantity,
		})
	}

	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	return b, nil
}
