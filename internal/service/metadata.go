package service

import (
	"encoding/json"
	"strconv"
	"strings"

	"spacebook/internal/models"
)

// Gateway metadata keys. Values are always strings on the wire.
const (
	MetaCreateOnAuthorization = "create_booking_on_authorization"
	MetaBookingID             = "booking_id"
	MetaSpaceType             = "space_type"
	MetaDate                  = "date"
	MetaStartTime             = "start_time"
	MetaEndTime               = "end_time"
	MetaNumberOfPeople        = "number_of_people"
	MetaContactName           = "contact_name"
	MetaContactEmail          = "contact_email"
	MetaContactPhone          = "contact_phone"
	MetaCaptureMethod         = "capture_method"
	MetaAdditionalServices    = "additional_services"
)

// EventMetadata is the typed form of the metadata attached to a payment intent.
type EventMetadata struct {
	CreateOnAuthorization bool
	BookingID             string
	Request               BookingRequest
}

// ParseMetadata converts gateway metadata in one step. Booking fields are only
// required when the intent asks for a booking to be created.
func ParseMetadata(md map[string]string) (*EventMetadata, error) {
	verr := models.NewValidationError()
	out := &EventMetadata{BookingID: strings.TrimSpace(md[MetaBookingID])}

	if raw, ok := md[MetaCreateOnAuthorization]; ok && raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			verr.Add(MetaCreateOnAuthorization, "must be true or false")
		}
		out.CreateOnAuthorization = v
	}
	if !out.CreateOnAuthorization {
		return out, verr.OrNil()
	}

	req := BookingRequest{
		SpaceType:     md[MetaSpaceType],
		Date:          md[MetaDate],
		StartTime:     md[MetaStartTime],
		EndTime:       md[MetaEndTime],
		ContactName:   md[MetaContactName],
		ContactEmail:  md[MetaContactEmail],
		ContactPhone:  md[MetaContactPhone],
		CaptureMethod: md[MetaCaptureMethod],
	}
	for _, key := range []string{MetaSpaceType, MetaDate, MetaNumberOfPeople, MetaContactName, MetaContactEmail} {
		if strings.TrimSpace(md[key]) == "" {
			verr.Add(key, "missing from payment metadata")
		}
	}
	if raw := md[MetaNumberOfPeople]; raw != "" {
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			verr.Add(MetaNumberOfPeople, "must be an integer")
		}
		req.NumberOfPeople = n
	}
	if raw := md[MetaAdditionalServices]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.AdditionalServices); err != nil {
			verr.Add(MetaAdditionalServices, "must be a JSON list of {name, quantity}")
		}
	}

	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	out.Request = req
	return out, nil
}

// requestMetadata tags a request-path charge so a replayed event attaches to
// the existing booking instead of creating one.
func requestMetadata(b *models.Booking) map[string]string {
	return map[string]string{
		MetaCreateOnAuthorization: "false",
		MetaBookingID:             b.ID,
		MetaSpaceType:             b.SpaceType.Slug(),
		MetaDate:                  b.DateString(),
	}
}
