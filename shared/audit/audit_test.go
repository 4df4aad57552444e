package audit

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"spacebook/internal/models"
)

type fakeSource struct {
	bookings []models.Booking
	from, to time.Time
}

func (f *fakeSource) ListBookingsBetween(_ context.Context, from, to time.Time) ([]models.Booking, error) {
	f.from, f.to = from, to
	return f.bookings, nil
}

type capturedDoc struct {
	filename, caption string
	data              []byte
}

type fakeSender struct {
	docs []capturedDoc
}

func (f *fakeSender) SendDocument(_ context.Context, filename string, data io.Reader, caption string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.docs = append(f.docs, capturedDoc{filename: filename, caption: caption, data: b})
	return nil
}

func mayBookings() []models.Booking {
	pct := 25
	cancelledAt := time.Date(2025, 5, 20, 10, 0, 0, 0, time.UTC)
	return []models.Booking{
		{
			ID: "b-1", ConfirmationNumber: "SB-AAA111", SpaceType: models.SpaceMeetingRoom,
			Date: time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC), StartTime: "09:00", EndTime: "11:00",
			Status: models.StatusCompleted, PaymentStatus: models.PaymentPaid,
			TotalPrice: 10000, AmountPaid: 10000, Currency: "THB", ContactName: "Ann",
		},
		{
			ID: "b-2", SpaceType: models.SpaceMeetingRoom,
			Date:   time.Date(2025, 5, 28, 0, 0, 0, 0, time.UTC),
			Status: models.StatusCancelled, PaymentStatus: models.PaymentPaid,
			TotalPrice: 10000, AmountPaid: 10000, CancellationFee: 2500, RefundAmount: 7500,
			ChargePercentage: &pct, CancelledAt: &cancelledAt, Currency: "THB",
		},
		{
			ID: "b-3", SpaceType: models.SpaceOpenSpace,
			Date:   time.Date(2025, 5, 31, 0, 0, 0, 0, time.UTC),
			Status: models.StatusConfirmed, PaymentStatus: models.PaymentPending,
			TotalPrice: 50000, Currency: "THB",
		},
	}
}

func newReporter(t *testing.T, src BookingSource, sender DocumentSender, dir string) *Reporter {
	t.Helper()
	logger := zerolog.Nop()
	r := NewReporter(Config{Dir: dir}, src, sender, &logger)
	r.now = func() time.Time { return time.Date(2025, 6, 1, 0, 30, 0, 0, time.UTC) }
	return r
}

func TestBuild(t *testing.T) {
	src := &fakeSource{bookings: mayBookings()}
	r := newReporter(t, src, nil, "")

	var buf bytes.Buffer
	require.NoError(t, r.Build(context.Background(), time.Date(2025, 5, 15, 0, 0, 0, 0, time.UTC), &buf))
	assert.Equal(t, time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC), src.from)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), src.to)

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{"Bookings", "Cancellations", "Summary"}, f.GetSheetList())

	rows, err := f.GetRows("Bookings")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, bookingColumns, rows[0])
	assert.Equal(t, "b-1", rows[1][0])
	assert.Equal(t, "meeting-room", rows[1][2])
	assert.Equal(t, "09:00-11:00", rows[1][4])

	rows, err = f.GetRows("Cancellations")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "b-2", rows[1][0])
	assert.Equal(t, "25", rows[1][4])

	rows, err = f.GetRows("Summary")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"meeting-room", "2", "1", "1"}, rows[1][:4])
	assert.Equal(t, []string{"open-space", "1", "0", "0"}, rows[2][:4])
}

func TestRunPreviousMonth(t *testing.T) {
	dir := t.TempDir()
	sender := &fakeSender{}
	r := newReporter(t, &fakeSource{bookings: mayBookings()}, sender, dir)

	name, err := r.RunPreviousMonth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "bookings_2025-05.xlsx", name)

	require.Len(t, sender.docs, 1)
	assert.Equal(t, name, sender.docs[0].filename)
	assert.Equal(t, "Bookings report May 2025", sender.docs[0].caption)

	onDisk, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	assert.Equal(t, sender.docs[0].data, onDisk)
}

func TestEmptyMonth(t *testing.T) {
	r := newReporter(t, &fakeSource{}, nil, "")
	var buf bytes.Buffer
	require.NoError(t, r.Build(context.Background(), time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), &buf))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Summary")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestNextRun(t *testing.T) {
	r := newReporter(t, &fakeSource{}, nil, "")
	r.cfg.RunAt = 1
	assert.Equal(t, time.Date(2025, 6, 1, 1, 0, 0, 0, time.UTC), r.nextRun())

	r.cfg.RunAt = 0
	assert.Equal(t, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), r.nextRun())
}

func TestWorkbookRequiresSheet(t *testing.T) {
	wb, err := NewWorkbook()
	require.NoError(t, err)
	defer wb.Close()
	assert.Error(t, wb.WriteRow([]any{"x"}))

	require.NoError(t, wb.AddSheet("a-very-long-sheet-name-that-excel-rejects"))
	require.NoError(t, wb.WriteHeader([]string{"A"}))
	require.NoError(t, wb.WriteRow([]any{Money(1234)}))
	assert.Equal(t, 1, wb.Rows())
}
