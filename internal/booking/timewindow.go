// Package booking holds the pure rules applied to a booking before it is written:
// time window normalization, confirmation numbers and the lifecycle state machine.
package booking

import (
	"fmt"
	"strconv"
	"strings"

	"spacebook/internal/models"
)

const fullDaySentinel = "00:00"

// ParseClock converts "HH:mm" to minutes since midnight.
func ParseClock(s string) (int, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		return 0, fmt.Errorf("invalid time %q, expected HH:mm", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

// FormatClock is the inverse of ParseClock. 1440 renders as "24:00".
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// NormalizeWindow validates a start/end pair. Both absent or both "00:00" mean
// a full day and normalize to empty strings. A single bound is rejected.
func NormalizeWindow(start, end string) (string, string, error) {
	start, end = strings.TrimSpace(start), strings.TrimSpace(end)
	if (start == "" && end == "") || (start == fullDaySentinel && end == fullDaySentinel) {
		return "", "", nil
	}
	verr := models.NewValidationError()
	if start == "" {
		verr.Add("start_time", "required when end_time is set")
	}
	if end == "" {
		verr.Add("end_time", "required when start_time is set")
	}
	if err := verr.OrNil(); err != nil {
		return "", "", err
	}

	s, err := ParseClock(start)
	if err != nil {
		verr.Add("start_time", err.Error())
	}
	e, err := ParseClock(end)
	if err != nil {
		verr.Add("end_time", err.Error())
	}
	if err := verr.OrNil(); err != nil {
		return "", "", err
	}
	if e <= s {
		verr.Add("end_time", "must be after start_time")
		return "", "", verr
	}
	return start, end, nil
}

// Window returns the booking's occupied range in minutes, [start, end).
// A full-day booking covers [0, 1440).
func Window(b *models.Booking) (int, int, error) {
	if b.IsFullDay() {
		return 0, models.MinutesPerDay, nil
	}
	s, err := ParseClock(b.StartTime)
	if err != nil {
		return 0, 0, err
	}
	e, err := ParseClock(b.EndTime)
	if err != nil {
		return 0, 0, err
	}
	return s, e, nil
}

// Overlaps reports whether [aStart, aEnd) and [bStart, bEnd) intersect.
func Overlaps(aStart, aEnd, bStart, bEnd int) bool {
	return aStart < bEnd && aEnd > bStart
}

// WindowLabel renders a window for messages and logs.
func WindowLabel(b *models.Booking) string {
	if b.IsFullDay() {
		return "full day"
	}
	return b.StartTime + "-" + b.EndTime
}
