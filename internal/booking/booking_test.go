package booking

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spacebook/internal/models"
)

func TestNormalizeWindow(t *testing.T) {
	tests := []struct {
		name       string
		start, end string
		wantStart  string
		wantEnd    string
		wantFields []string
	}{
		{"absent is full day", "", "", "", "", nil},
		{"sentinel is full day", "00:00", "00:00", "", "", nil},
		{"morning", "09:00", "12:00", "09:00", "12:00", nil},
		{"equal times", "10:00", "10:00", "", "", []string{"end_time"}},
		{"reversed", "12:00", "09:00", "", "", []string{"end_time"}},
		{"only start", "09:00", "", "", "", []string{"end_time"}},
		{"bad format", "9am", "12:00", "", "", []string{"start_time"}},
		{"bad minute", "09:00", "12:75", "", "", []string{"end_time"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, e, err := NormalizeWindow(tt.start, tt.end)
			if tt.wantFields == nil {
				require.NoError(t, err)
				assert.Equal(t, tt.wantStart, s)
				assert.Equal(t, tt.wantEnd, e)
				return
			}
			var verr *models.ValidationError
			require.True(t, errors.As(err, &verr))
			for _, f := range tt.wantFields {
				assert.Contains(t, verr.Fields, f)
			}
		})
	}
}

func TestWindowAndOverlap(t *testing.T) {
	full := &models.Booking{}
	s, e, err := Window(full)
	require.NoError(t, err)
	assert.Equal(t, 0, s)
	assert.Equal(t, models.MinutesPerDay, e)

	morning := &models.Booking{StartTime: "09:00", EndTime: "12:00"}
	ms, me, err := Window(morning)
	require.NoError(t, err)
	assert.True(t, Overlaps(s, e, ms, me), "full day blocks every window")
	assert.False(t, Overlaps(540, 720, 720, 780), "touching windows do not overlap")
	assert.True(t, Overlaps(540, 720, 719, 780))
	assert.Equal(t, "09:00-12:00", WindowLabel(morning))
	assert.Equal(t, "full day", WindowLabel(full))
	assert.Equal(t, "24:00", FormatClock(models.MinutesPerDay))
}

func TestNewConfirmationNumber(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		n := NewConfirmationNumber(now)
		assert.True(t, ValidConfirmationNumber(n), n)
		seen[n] = true
	}
	assert.Greater(t, len(seen), 150, "random suffix must vary for the same instant")
	assert.False(t, ValidConfirmationNumber("abc-1"))
	assert.False(t, ValidConfirmationNumber("AB"))
}

func TestStatusFSM(t *testing.T) {
	tests := []struct {
		from, to models.Status
		allowed  bool
	}{
		{models.StatusPending, models.StatusConfirmed, true},
		{models.StatusPending, models.StatusCancelled, true},
		{models.StatusConfirmed, models.StatusCompleted, true},
		{models.StatusConfirmed, models.StatusPending, false},
		{models.StatusCancelled, models.StatusConfirmed, false},
		{models.StatusCompleted, models.StatusCancelled, false},
		{models.StatusCancelled, models.StatusPending, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, Lifecycle.CanTransition(tt.from, tt.to))
		})
	}
	assert.ElementsMatch(t, []models.Status{models.StatusPending, models.StatusConfirmed}, Lifecycle.SourcesFor(models.StatusCancelled))
	assert.Empty(t, Lifecycle.SourcesFor(models.StatusPending))
}

func TestPaymentFSM(t *testing.T) {
	assert.True(t, Payments.CanTransition(models.PaymentUnpaid, models.PaymentPaid))
	assert.True(t, Payments.CanTransition(models.PaymentFailed, models.PaymentPending))
	assert.True(t, Payments.CanTransition(models.PaymentPaid, models.PaymentRefunded))
	assert.False(t, Payments.CanTransition(models.PaymentRefunded, models.PaymentPaid))
	assert.False(t, Payments.CanTransition(models.PaymentPaid, models.PaymentUnpaid))
	assert.ElementsMatch(t,
		[]models.PaymentStatus{models.PaymentUnpaid, models.PaymentPending, models.PaymentPartial, models.PaymentFailed},
		Payments.SourcesFor(models.PaymentPaid))
}

func TestCanCancelAndComplete(t *testing.T) {
	received := time.Date(2025, 6, 10, 15, 0, 0, 0, time.UTC)
	b := &models.Booking{ID: "b1", Status: models.StatusConfirmed, Date: time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)}

	assert.NoError(t, CanCancel(b, received), "same-day cancellation is allowed")
	assert.True(t, models.IsPolicyError(CanCancel(b, received.AddDate(0, 0, 1))), "past date")
	assert.True(t, models.IsPolicyError(CanComplete(b, received)), "date not elapsed")
	assert.NoError(t, CanComplete(b, received.AddDate(0, 0, 1)))

	for _, st := range []models.Status{models.StatusCancelled, models.StatusCompleted} {
		terminal := *b
		terminal.Status = st
		assert.True(t, models.IsPolicyError(CanCancel(&terminal, received)))
		assert.True(t, models.IsPolicyError(CanConfirm(&terminal)))
	}
	done := *b
	done.Status = models.StatusCompleted
	assert.NoError(t, CanComplete(&done, received), "completion is idempotent")
}

func TestPrepare(t *testing.T) {
	now := time.Date(2025, 5, 1, 8, 30, 0, 0, time.UTC)
	calls := 0
	gen := func() string { calls++; return "CONF0001" }

	t.Run("computes totals and defaults", func(t *testing.T) {
		b := &models.Booking{
			SpaceType:      models.SpaceMeetingRoom,
			Date:           time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC),
			StartTime:      "00:00",
			EndTime:        "00:00",
			NumberOfPeople: 4,
			ContactName:    "Alex",
			ContactEmail:   "alex@example.com",
			Currency:       "thb",
			BasePrice:      10000,
			AdditionalServices: []models.AdditionalServiceItem{
				{Name: "coffee", Quantity: 4, UnitPrice: 500},
				{Name: "projector", Quantity: 1, UnitPrice: 1500},
			},
		}
		require.NoError(t, Prepare(b, now, gen))
		assert.NotEmpty(t, b.ID)
		assert.True(t, b.IsFullDay())
		assert.Equal(t, int64(2000), b.AdditionalServices[0].TotalPrice)
		assert.Equal(t, int64(3500), b.ServicesPrice)
		assert.Equal(t, int64(13500), b.TotalPrice)
		assert.Equal(t, "THB", b.Currency)
		assert.Equal(t, models.StatusPending, b.Status)
		assert.Equal(t, models.PaymentUnpaid, b.PaymentStatus)
		assert.Equal(t, models.CaptureAutomatic, b.CaptureMethod)
		assert.Equal(t, "2025-06-01", b.DateString())
		assert.Empty(t, b.ConfirmationNumber, "unpaid pending drafts get no number")
		assert.Equal(t, int64(1), b.Version)
	})

	t.Run("paid draft gets a number", func(t *testing.T) {
		b := &models.Booking{
			SpaceType: models.SpaceOpenSpace, Date: now, NumberOfPeople: 1,
			ContactName: "Sam", ContactEmail: "sam@example.com", PaymentStatus: models.PaymentPaid,
		}
		require.NoError(t, Prepare(b, now, gen))
		assert.Equal(t, "CONF0001", b.ConfirmationNumber)
		assert.Equal(t, 1, calls)
	})

	t.Run("reports all invalid fields", func(t *testing.T) {
		b := &models.Booking{SpaceType: "garage", StartTime: "10:00"}
		err := Prepare(b, now, gen)
		var verr *models.ValidationError
		require.True(t, errors.As(err, &verr))
		for _, f := range []string{"space_type", "date", "number_of_people", "contact_name", "contact_email", "end_time"} {
			assert.Contains(t, verr.Fields, f)
		}
	})
}
