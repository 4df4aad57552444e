package audit

import (
	"context"
	"fmt"
	"io"
	"time"

	"spacebook/internal/models"
)

// BookingSource lists bookings dated in [from, to).
type BookingSource interface {
	ListBookingsBetween(ctx context.Context, from, to time.Time) ([]models.Booking, error)
}

// DocumentSender delivers a finished report to staff.
type DocumentSender interface {
	SendDocument(ctx context.Context, filename string, data io.Reader, caption string) error
}

// Filename names the report for the month containing t, e.g. "bookings_2025-06.xlsx".
func Filename(t time.Time) string {
	return fmt.Sprintf("bookings_%04d-%02d.xlsx", t.Year(), int(t.Month()))
}

// MonthBounds returns the first day of t's month and of the month after.
func MonthBounds(t time.Time) (time.Time, time.Time) {
	from := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	return from, from.AddDate(0, 1, 0)
}
