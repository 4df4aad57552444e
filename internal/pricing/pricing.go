// Package pricing turns a booking draft into base and service prices.
package pricing

import (
	"spacebook/internal/booking"
	"spacebook/internal/models"
)

// Rates are the prices of one space type in minor units.
type Rates struct {
	FullDay  int64
	Hourly   int64
	Capacity int
}

// Catalog is an immutable price list.
type Catalog struct {
	Currency       string
	DepositPercent int
	Spaces         map[models.SpaceType]Rates
	Services       map[string]int64
}

// Quote fills BasePrice and each service UnitPrice from the catalog, then
// recomputes totals. Unknown services and oversubscribed spaces are rejected.
func (c *Catalog) Quote(b *models.Booking) error {
	verr := models.NewValidationError()

	rates, ok := c.Spaces[b.SpaceType]
	if !ok {
		verr.Add("space_type", "space type is not offered")
		return verr
	}
	if rates.Capacity > 0 && b.NumberOfPeople > rates.Capacity {
		verr.Add("number_of_people", "exceeds space capacity")
	}

	start, end, err := booking.Window(b)
	if err != nil {
		verr.Add("start_time", err.Error())
		return verr
	}
	if b.IsFullDay() {
		b.BasePrice = rates.FullDay
	} else {
		b.BasePrice = prorate(rates.Hourly, end-start)
	}

	for i := range b.AdditionalServices {
		unit, ok := c.Services[b.AdditionalServices[i].Name]
		if !ok {
			verr.Add("additional_services", "unknown service "+b.AdditionalServices[i].Name)
			continue
		}
		b.AdditionalServices[i].UnitPrice = unit
	}
	if err := verr.OrNil(); err != nil {
		return err
	}

	if b.Currency == "" {
		b.Currency = c.Currency
	}
	booking.ApplyTotals(b)
	return nil
}

// Deposit is the share of total held for deferred capture, rounded half-up.
func (c *Catalog) Deposit(total int64) int64 {
	if c.DepositPercent <= 0 || total <= 0 {
		return 0
	}
	return (total*int64(c.DepositPercent) + 50) / 100
}

func prorate(hourly int64, minutes int) int64 {
	return (hourly*int64(minutes) + 30) / 60
}
