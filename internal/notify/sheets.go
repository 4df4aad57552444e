package notify

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"spacebook/internal/booking"
	"spacebook/internal/models"
)

// SheetsSink appends one ledger row per notification to a spreadsheet.
type SheetsSink struct {
	srv           *sheets.Service
	spreadsheetID string
	rng           string
}

// NewSheetsSink authenticates with a service account key file.
func NewSheetsSink(ctx context.Context, credentialsFile, spreadsheetID, rng string) (*SheetsSink, error) {
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read sheets credentials: %w", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, data, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse sheets credentials: %w", err)
	}
	srv, err := sheets.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return NewSheetsSinkWithService(srv, spreadsheetID, rng), nil
}

func NewSheetsSinkWithService(srv *sheets.Service, spreadsheetID, rng string) *SheetsSink {
	if rng == "" {
		rng = "Bookings!A1"
	}
	return &SheetsSink{srv: srv, spreadsheetID: spreadsheetID, rng: rng}
}

func (s *SheetsSink) Name() string { return "sheets" }

func (s *SheetsSink) Send(ctx context.Context, n Notification) error {
	row := append([]interface{}{string(n.Kind), n.At.UTC().Format("2006-01-02 15:04:05")}, bookingRowValues(&n.Booking)...)
	_, err := s.srv.Spreadsheets.Values.
		Append(s.spreadsheetID, s.rng, &sheets.ValueRange{Values: [][]interface{}{row}}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	return err
}

func bookingRowValues(b *models.Booking) []interface{} {
	return []interface{}{
		b.ID,
		b.ConfirmationNumber,
		b.SpaceType.Slug(),
		b.DateString(),
		booking.WindowLabel(b),
		string(b.Status),
		string(b.PaymentStatus),
		b.ContactName,
		b.ContactEmail,
		b.TotalPrice,
		b.AmountPaid,
		b.CancellationFee,
		b.RefundAmount,
		b.Currency,
	}
}
