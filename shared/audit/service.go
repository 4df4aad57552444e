// Package audit builds the monthly booking and cancellation workbook.
package audit

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"spacebook/internal/booking"
	"spacebook/internal/models"
)

type Config struct {
	// Dir keeps a copy of every report; empty skips writing to disk.
	Dir      string
	Location *time.Location
	// RunAt is the hour on the 1st of the month when the previous month is reported.
	RunAt int
}

var bookingColumns = []string{
	"ID", "Confirmation", "Space", "Date", "Window", "People", "Status", "Payment",
	"Capture", "Guest", "Email", "Total", "Paid", "Currency", "Created",
}

var cancellationColumns = []string{
	"ID", "Space", "Date", "Cancelled", "Charge %", "Fee", "Refund", "Currency",
	"Override", "Override note", "Approved by",
}

var summaryColumns = []string{"Space", "Bookings", "Cancelled", "Completed", "Revenue", "Fees", "Refunds"}

// Reporter writes one workbook per month with Bookings, Cancellations and Summary sheets.
type Reporter struct {
	cfg    Config
	source BookingSource
	sender DocumentSender
	now    func() time.Time
	logger zerolog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

func NewReporter(cfg Config, source BookingSource, sender DocumentSender, logger *zerolog.Logger) *Reporter {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Reporter{
		cfg:    cfg,
		source: source,
		sender: sender,
		now:    time.Now,
		logger: logger.With().Str("component", "audit").Logger(),
		stopCh: make(chan struct{}),
	}
}

// Start reports the previous month on the 1st of every month until ctx ends.
func (r *Reporter) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.mu.Unlock()

	next := r.nextRun()
	timer := time.NewTimer(next.Sub(r.now()))
	defer timer.Stop()
	r.logger.Info().Time("next_run", next).Msg("monthly report scheduled")

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-timer.C:
			if _, err := r.RunPreviousMonth(ctx); err != nil {
				r.logger.Error().Err(err).Msg("monthly report failed")
			}
			next = r.nextRun()
			timer.Reset(next.Sub(r.now()))
			r.logger.Info().Time("next_run", next).Msg("monthly report scheduled")
		}
	}
}

func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.running {
		r.running = false
		close(r.stopCh)
	}
	r.mu.Unlock()
}

func (r *Reporter) nextRun() time.Time {
	now := r.now().In(r.cfg.Location)
	run := time.Date(now.Year(), now.Month(), 1, r.cfg.RunAt, 0, 0, 0, r.cfg.Location)
	if !run.After(now) {
		run = run.AddDate(0, 1, 0)
	}
	return run
}

// RunPreviousMonth builds, stores and sends the report for last month.
func (r *Reporter) RunPreviousMonth(ctx context.Context) (string, error) {
	now := r.now().In(r.cfg.Location)
	month := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, r.cfg.Location).AddDate(0, -1, 0)

	var buf bytes.Buffer
	if err := r.Build(ctx, month, &buf); err != nil {
		return "", err
	}
	name := Filename(month)

	if r.cfg.Dir != "" {
		if err := os.MkdirAll(r.cfg.Dir, 0o755); err != nil {
			return "", fmt.Errorf("create report dir: %w", err)
		}
		if err := os.WriteFile(filepath.Join(r.cfg.Dir, name), buf.Bytes(), 0o644); err != nil {
			return "", fmt.Errorf("write report: %w", err)
		}
	}
	if r.sender != nil {
		caption := fmt.Sprintf("Bookings report %s", month.Format("January 2006"))
		if err := r.sender.SendDocument(ctx, name, bytes.NewReader(buf.Bytes()), caption); err != nil {
			return name, fmt.Errorf("send report: %w", err)
		}
	}
	r.logger.Info().Str("filename", name).Int("bytes", buf.Len()).Msg("monthly report sent")
	return name, nil
}

type spaceTotals struct {
	bookings, cancelled, completed int
	revenue, fees, refunds         int64
}

// Build writes the workbook for the month containing month.
func (r *Reporter) Build(ctx context.Context, month time.Time, out io.Writer) error {
	from, to := MonthBounds(month)
	bookings, err := r.source.ListBookingsBetween(ctx, from, to)
	if err != nil {
		return fmt.Errorf("list bookings: %w", err)
	}

	wb, err := NewWorkbook()
	if err != nil {
		return err
	}
	defer wb.Close()

	totals := make(map[models.SpaceType]*spaceTotals)
	if err := wb.AddSheet("Bookings"); err != nil {
		return err
	}
	if err := wb.WriteHeader(bookingColumns); err != nil {
		return err
	}
	for i := range bookings {
		b := &bookings[i]
		t := totals[b.SpaceType]
		if t == nil {
			t = &spaceTotals{}
			totals[b.SpaceType] = t
		}
		t.bookings++
		switch b.Status {
		case models.StatusCancelled:
			t.cancelled++
			t.fees += b.CancellationFee
			t.refunds += b.RefundAmount
		case models.StatusCompleted:
			t.completed++
		}
		t.revenue += b.AmountPaid

		if err := wb.WriteRow([]any{
			b.ID, b.ConfirmationNumber, b.SpaceType.Slug(), b.DateString(), booking.WindowLabel(b),
			b.NumberOfPeople, string(b.Status), string(b.PaymentStatus), string(b.CaptureMethod),
			b.ContactName, b.ContactEmail, Money(b.TotalPrice), Money(b.AmountPaid), b.Currency,
			b.CreatedAt.In(r.cfg.Location).Format(time.DateTime),
		}); err != nil {
			return err
		}
	}

	if err := wb.AddSheet("Cancellations"); err != nil {
		return err
	}
	if err := wb.WriteHeader(cancellationColumns); err != nil {
		return err
	}
	for i := range bookings {
		b := &bookings[i]
		if b.Status != models.StatusCancelled {
			continue
		}
		cancelled, pct := "", ""
		if b.CancelledAt != nil {
			cancelled = b.CancelledAt.In(r.cfg.Location).Format(time.DateTime)
		}
		if b.ChargePercentage != nil {
			pct = fmt.Sprint(*b.ChargePercentage)
		}
		if err := wb.WriteRow([]any{
			b.ID, b.SpaceType.Slug(), b.DateString(), cancelled, pct,
			Money(b.CancellationFee), Money(b.RefundAmount), b.Currency,
			b.FeeOverrideReason, b.FeeOverrideNote, b.FeeOverrideBy,
		}); err != nil {
			return err
		}
	}

	if err := wb.AddSheet("Summary"); err != nil {
		return err
	}
	if err := wb.WriteHeader(summaryColumns); err != nil {
		return err
	}
	spaces := make([]models.SpaceType, 0, len(totals))
	for st := range totals {
		spaces = append(spaces, st)
	}
	sort.Slice(spaces, func(i, j int) bool { return spaces[i] < spaces[j] })
	for _, st := range spaces {
		t := totals[st]
		if err := wb.WriteRow([]any{
			st.Slug(), t.bookings, t.cancelled, t.completed,
			Money(t.revenue), Money(t.fees), Money(t.refunds),
		}); err != nil {
			return err
		}
	}

	r.logger.Debug().Str("month", from.Format("2006-01")).Int("bookings", len(bookings)).Msg("report built")
	return wb.Save(out)
}
