package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"spacebook/internal/booking"
	"spacebook/internal/models"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const bookingColumns = `id, payment_intent_id, confirmation_number, space_type, date, start_time, end_time,
	start_minute, end_minute, number_of_people, contact_name, contact_email, contact_phone, currency,
	base_price, services_price, total_price, amount_paid, cancellation_fee, refund_amount, deposit_amount,
	payment_status, capture_method, payment_method_ref, status, charge_percentage,
	fee_override_reason, fee_override_note, fee_override_by, additional_services,
	cancelled_at, completed_at, created_at, updated_at, version`

const bookingColumnCount = 35

var errConfirmationCollision = errors.New("confirmation number collision")

type rowScanner interface {
	Scan(dest ...any) error
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nullInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func inClause[S ~string](values []S) (string, []any) {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = string(v)
	}
	if len(values) == 0 {
		return "(NULL)", nil
	}
	return "(" + placeholders(len(values)) + ")", args
}

func insertArgs(b *models.Booking, startMin, endMin int) ([]any, error) {
	services, err := json.Marshal(b.AdditionalServices)
	if err != nil {
		return nil, fmt.Errorf("encode additional services: %w", err)
	}
	return []any{
		b.ID, nullString(b.PaymentIntentID), nullString(b.ConfirmationNumber), string(b.SpaceType), b.DateString(),
		nullString(b.StartTime), nullString(b.EndTime), startMin, endMin, b.NumberOfPeople,
		b.ContactName, b.ContactEmail, nullString(b.ContactPhone), b.Currency,
		b.BasePrice, b.ServicesPrice, b.TotalPrice, b.AmountPaid, b.CancellationFee, b.RefundAmount, b.DepositAmount,
		string(b.PaymentStatus), string(b.CaptureMethod), nullString(b.PaymentMethodRef), string(b.Status), nullInt(b.ChargePercentage),
		nullString(b.FeeOverrideReason), nullString(b.FeeOverrideNote), nullString(b.FeeOverrideBy), string(services),
		nullTime(b.CancelledAt), nullTime(b.CompletedAt), formatTime(b.CreatedAt), formatTime(b.UpdatedAt), b.Version,
	}, nil
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var (
		b                                    models.Booking
		paymentIntent, confirmation          sql.NullString
		startTime, endTime, phone, methodRef sql.NullString
		reason, note, by                     sql.NullString
		chargePct                            sql.NullInt64
		cancelledAt, completedAt             sqlTime
		createdAt, updatedAt                 sqlTime
		spaceType, date, paymentStatus       string
		captureMethod, status, services      string
		startMin, endMin                     int
	)
	err := row.Scan(
		&b.ID, &paymentIntent, &confirmation, &spaceType, &date, &startTime, &endTime,
		&startMin, &endMin, &b.NumberOfPeople, &b.ContactName, &b.ContactEmail, &phone, &b.Currency,
		&b.BasePrice, &b.ServicesPrice, &b.TotalPrice, &b.AmountPaid, &b.CancellationFee, &b.RefundAmount, &b.DepositAmount,
		&paymentStatus, &captureMethod, &methodRef, &status, &chargePct,
		&reason, &note, &by, &services,
		&cancelledAt, &completedAt, &createdAt, &updatedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}

	b.PaymentIntentID = paymentIntent.String
	b.ConfirmationNumber = confirmation.String
	b.SpaceType = models.SpaceType(spaceType)
	b.StartTime = startTime.String
	b.EndTime = endTime.String
	b.ContactPhone = phone.String
	b.PaymentStatus = models.PaymentStatus(paymentStatus)
	b.CaptureMethod = models.CaptureMethod(captureMethod)
	b.PaymentMethodRef = methodRef.String
	b.Status = models.Status(status)
	b.FeeOverrideReason = reason.String
	b.FeeOverrideNote = note.String
	b.FeeOverrideBy = by.String
	if chargePct.Valid {
		pct := int(chargePct.Int64)
		b.ChargePercentage = &pct
	}

	if b.Date, err = time.Parse(models.DateLayout, date); err != nil {
		return nil, fmt.Errorf("parse date %q: %w", date, err)
	}
	b.CreatedAt = createdAt.Time
	b.UpdatedAt = updatedAt.Time
	b.CancelledAt = cancelledAt.Ptr()
	b.CompletedAt = completedAt.Ptr()
	if err := json.Unmarshal([]byte(services), &b.AdditionalServices); err != nil {
		return nil, fmt.Errorf("decode additional services: %w", err)
	}
	return &b, nil
}

// sqlTime scans a DATETIME column. The driver hands back time.Time for
// declared DATETIME columns and raw text where the declared type is lost, so
// both are accepted. Text written by formatTime always parses as RFC 3339.
type sqlTime struct {
	Time  time.Time
	Valid bool
}

func (t *sqlTime) Scan(v any) error {
	switch x := v.(type) {
	case nil:
		t.Time, t.Valid = time.Time{}, false
		return nil
	case time.Time:
		t.Time, t.Valid = x.UTC(), true
		return nil
	case string:
		return t.parse(x)
	case []byte:
		return t.parse(string(x))
	}
	return fmt.Errorf("scan timestamp: unsupported type %T", v)
}

func (t *sqlTime) parse(s string) error {
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("scan timestamp %q: %w", s, err)
	}
	t.Time, t.Valid = parsed.UTC(), true
	return nil
}

// Ptr returns nil for a NULL column.
func (t sqlTime) Ptr() *time.Time {
	if !t.Valid {
		return nil
	}
	tt := t.Time
	return &tt
}

// classify maps raw sqlite constraint failures onto store errors. Nothing driver
// specific leaves this package.
func classify(err error) error {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return err
	}
	switch se.ExtendedCode {
	case sqlite3.ErrConstraintUnique:
		msg := se.Error()
		switch {
		case strings.Contains(msg, "bookings.payment_intent_id"):
			return models.ErrDuplicatePaymentIntent
		case strings.Contains(msg, "bookings.confirmation_number"):
			return errConfirmationCollision
		case strings.Contains(msg, "bookings.space_type"):
			return models.ErrSlotUnavailable
		}
	case sqlite3.ErrConstraintCheck:
		verr := models.NewValidationError()
		verr.Add("booking", "violates a table check constraint")
		return verr
	}
	return fmt.Errorf("sqlite: %w", err)
}

func conflictFor(b *models.Booking) error {
	return &models.ConflictError{SpaceType: b.SpaceType, Date: b.DateString(), Window: booking.WindowLabel(b)}
}

// Create inserts a prepared booking without an overlap guard. It is the write
// used when a gateway event materializes a booking: the payment intent index
// decides races between replays.
func (db *DB) Create(ctx context.Context, b *models.Booking) error {
	return db.insert(ctx, b, false)
}

// CreateIfSlotFree inserts b only when no active booking for the same space and
// date overlaps its window. Check and write are one statement.
func (db *DB) CreateIfSlotFree(ctx context.Context, b *models.Booking) error {
	return db.insert(ctx, b, true)
}

func (db *DB) insert(ctx context.Context, b *models.Booking, guarded bool) error {
	startMin, endMin, err := booking.Window(b)
	if err != nil {
		verr := models.NewValidationError()
		verr.Add("start_time", err.Error())
		return verr
	}

	query := `INSERT INTO bookings (` + bookingColumns + `) VALUES (` + placeholders(bookingColumnCount) + `)`
	if guarded {
		query = `INSERT INTO bookings (` + bookingColumns + `)
			SELECT ` + placeholders(bookingColumnCount) + `
			WHERE NOT EXISTS (
				SELECT 1 FROM bookings
				WHERE space_type = ? AND date = ? AND status IN ('pending', 'confirmed')
				  AND start_minute < ? AND end_minute > ?
			)`
	}

	for attempt := 1; ; attempt++ {
		args, err := insertArgs(b, startMin, endMin)
		if err != nil {
			return err
		}
		if guarded {
			args = append(args, string(b.SpaceType), b.DateString(), endMin, startMin)
		}

		res, err := db.ExecContext(ctx, query, args...)
		if err != nil {
			cerr := classify(err)
			switch {
			case errors.Is(cerr, errConfirmationCollision) && attempt < db.confirmationAttempts:
				db.logger.Warn().Str("booking_id", b.ID).Int("attempt", attempt).Msg("confirmation number collision, regenerating")
				b.ConfirmationNumber = db.newConfirmation()
				continue
			case errors.Is(cerr, models.ErrSlotUnavailable):
				return conflictFor(b)
			}
			return cerr
		}

		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			return conflictFor(b)
		}
		return nil
	}
}

// GetBooking loads a booking by internal id.
func (db *DB) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	row := db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	return b, err
}

// FindByPaymentIntent loads the booking bound to a gateway payment intent.
func (db *DB) FindByPaymentIntent(ctx context.Context, paymentIntentID string) (*models.Booking, error) {
	row := db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE payment_intent_id = ?`, paymentIntentID)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	return b, err
}

// ActiveBookingsOn lists pending and confirmed bookings of a space on a date, ordered by start.
func (db *DB) ActiveBookingsOn(ctx context.Context, spaceType models.SpaceType, date time.Time) ([]models.Booking, error) {
	return db.queryBookings(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE space_type = ? AND date = ? AND status IN ('pending', 'confirmed')
		ORDER BY start_minute`, string(spaceType), date.Format(models.DateLayout))
}

// ListElapsedActive returns active bookings dated before today, oldest first.
func (db *DB) ListElapsedActive(ctx context.Context, today time.Time, limit int) ([]models.Booking, error) {
	if limit <= 0 {
		limit = 100
	}
	return db.queryBookings(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE status IN ('pending', 'confirmed') AND date < ?
		ORDER BY date, start_minute LIMIT ?`, today.Format(models.DateLayout), limit)
}

// ListBookingsBetween returns bookings whose date falls in [from, to).
func (db *DB) ListBookingsBetween(ctx context.Context, from, to time.Time) ([]models.Booking, error) {
	return db.queryBookings(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE date >= ? AND date < ?
		ORDER BY date, space_type, start_minute`, from.Format(models.DateLayout), to.Format(models.DateLayout))
}

func (db *DB) queryBookings(ctx context.Context, query string, args ...any) ([]models.Booking, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}
