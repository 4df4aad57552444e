// Package availability decides whether a requested window can be reserved.
package availability

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"spacebook/internal/booking"
	"spacebook/internal/models"
)

// Store is the subset of the booking store the checker needs.
type Store interface {
	CreateIfSlotFree(ctx context.Context, b *models.Booking) error
	ActiveBookingsOn(ctx context.Context, spaceType models.SpaceType, date time.Time) ([]models.Booking, error)
}

// Checker reserves slots through the store's guarded insert. It keeps no state
// and takes no locks.
type Checker struct {
	store  Store
	logger zerolog.Logger
}

func NewChecker(store Store, logger *zerolog.Logger) *Checker {
	return &Checker{
		store:  store,
		logger: logger.With().Str("component", "availability").Logger(),
	}
}

// CheckAndReserve writes the prepared booking if its window is free. A lost race
// or an existing overlap yields a *models.ConflictError.
func (c *Checker) CheckAndReserve(ctx context.Context, b *models.Booking) (*models.Booking, error) {
	if err := c.store.CreateIfSlotFree(ctx, b); err != nil {
		if errors.Is(err, models.ErrSlotUnavailable) {
			c.logger.Info().
				Str("space_type", string(b.SpaceType)).
				Str("date", b.DateString()).
				Str("window", booking.WindowLabel(b)).
				Msg("slot unavailable")
		}
		return nil, err
	}
	return b, nil
}

// Window is an occupied range in a day view.
type Window struct {
	Start   string `json:"start"`
	End     string `json:"end"`
	FullDay bool   `json:"full_day"`
}

// DayView is an advisory snapshot; it can be stale the moment it is returned.
type DayView struct {
	SpaceType models.SpaceType `json:"space_type"`
	Date      string           `json:"date"`
	Occupied  []Window         `json:"occupied"`
	FullDay   bool             `json:"full_day_available"`
}

// DayAvailability lists active windows for a space on a date.
func (c *Checker) DayAvailability(ctx context.Context, spaceType models.SpaceType, date time.Time) (*DayView, error) {
	active, err := c.store.ActiveBookingsOn(ctx, spaceType, date)
	if err != nil {
		return nil, err
	}
	view := &DayView{
		SpaceType: spaceType,
		Date:      date.Format(models.DateLayout),
		Occupied:  make([]Window, 0, len(active)),
		FullDay:   len(active) == 0,
	}
	for i := range active {
		start, end, err := booking.Window(&active[i])
		if err != nil {
			return nil, err
		}
		view.Occupied = append(view.Occupied, Window{
			Start:   booking.FormatClock(start),
			End:     booking.FormatClock(end),
			FullDay: active[i].IsFullDay(),
		})
	}
	return view, nil
}

// IsFree reports whether [start, end) avoids every occupied window of the view.
func (v *DayView) IsFree(start, end int) bool {
	for _, w := range v.Occupied {
		ws, err1 := booking.ParseClock(w.Start)
		we := models.MinutesPerDay
		if !w.FullDay {
			var err2 error
			we, err2 = booking.ParseClock(w.End)
			if err2 != nil {
				return false
			}
		}
		if err1 != nil || booking.Overlaps(start, end, ws, we) {
			return false
		}
	}
	return true
}
