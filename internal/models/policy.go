package models

import (
	"fmt"
	"sort"
)

// Tier charges ChargePercentage of the total when the cancellation arrives at
// least DaysBeforeBooking calendar days ahead.
type Tier struct {
	DaysBeforeBooking int `json:"days_before_booking" yaml:"days_before_booking"`
	ChargePercentage  int `json:"charge_percentage" yaml:"charge_percentage"`
}

// CancellationPolicy is the tier table for one space type.
type CancellationPolicy struct {
	SpaceType SpaceType `json:"space_type"`
	Tiers     []Tier    `json:"tiers"`
}

// SortedTiers returns a copy ordered by DaysBeforeBooking descending.
func (p CancellationPolicy) SortedTiers() []Tier {
	tiers := append([]Tier(nil), p.Tiers...)
	sort.SliceStable(tiers, func(i, j int) bool {
		return tiers[i].DaysBeforeBooking > tiers[j].DaysBeforeBooking
	})
	return tiers
}

// Validate rejects tables where an earlier cancellation could cost more than a later one.
func (p CancellationPolicy) Validate() error {
	if len(p.Tiers) == 0 {
		return fmt.Errorf("policy %s: no tiers", p.SpaceType)
	}
	seen := make(map[int]bool, len(p.Tiers))
	for i, t := range p.Tiers {
		if t.DaysBeforeBooking < 0 {
			return fmt.Errorf("policy %s: tier[%d]: days_before_booking cannot be negative", p.SpaceType, i)
		}
		if t.ChargePercentage < 0 || t.ChargePercentage > 100 {
			return fmt.Errorf("policy %s: tier[%d]: charge_percentage must be 0-100, got %d", p.SpaceType, i, t.ChargePercentage)
		}
		if seen[t.DaysBeforeBooking] {
			return fmt.Errorf("policy %s: tier[%d]: duplicate days_before_booking %d", p.SpaceType, i, t.DaysBeforeBooking)
		}
		seen[t.DaysBeforeBooking] = true
	}
	sorted := p.SortedTiers()
	for i := 1; i < len(sorted); i++ {
		if sorted[i].ChargePercentage < sorted[i-1].ChargePercentage {
			return fmt.Errorf("policy %s: tier at %d days charges less than tier at %d days",
				p.SpaceType, sorted[i].DaysBeforeBooking, sorted[i-1].DaysBeforeBooking)
		}
	}
	return nil
}
