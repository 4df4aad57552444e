package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"spacebook/internal/booking"
)

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSink posts a short summary to every staff chat.
type TelegramSink struct {
	bot     TelegramSender
	chatIDs []int64
}

func NewTelegramSink(bot TelegramSender, chatIDs []int64) *TelegramSink {
	return &TelegramSink{bot: bot, chatIDs: chatIDs}
}

func (s *TelegramSink) Name() string { return "telegram" }

func (s *TelegramSink) Send(_ context.Context, n Notification) error {
	text := FormatMessage(n)
	var errs []error
	for _, id := range s.chatIDs {
		if _, err := s.bot.Send(tgbotapi.NewMessage(id, text)); err != nil {
			errs = append(errs, fmt.Errorf("chat %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// SendDocument uploads a file to every staff chat.
func (s *TelegramSink) SendDocument(_ context.Context, filename string, data io.Reader, caption string) error {
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	var errs []error
	for _, id := range s.chatIDs {
		doc := tgbotapi.NewDocument(id, tgbotapi.FileBytes{Name: filename, Bytes: raw})
		doc.Caption = caption
		if _, err := s.bot.Send(doc); err != nil {
			errs = append(errs, fmt.Errorf("chat %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

var kindTitles = map[Kind]string{
	BookingCreated:   "New booking",
	BookingConfirmed: "Booking confirmed",
	BookingPaid:      "Payment captured",
	BookingCancelled: "Booking cancelled",
	BookingCompleted: "Booking completed",
}

func FormatMessage(n Notification) string {
	b := n.Booking
	title, ok := kindTitles[n.Kind]
	if !ok {
		title = string(n.Kind)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n", title)
	fmt.Fprintf(&sb, "%s %s (%s)\n", b.SpaceType.Slug(), b.DateString(), booking.WindowLabel(&b))
	fmt.Fprintf(&sb, "Guest: %s, %d people\n", b.ContactName, b.NumberOfPeople)
	fmt.Fprintf(&sb, "Total: %s %s, payment %s", formatMinor(b.TotalPrice), b.Currency, b.PaymentStatus)
	if b.ConfirmationNumber != "" {
		fmt.Fprintf(&sb, "\nConfirmation: %s", b.ConfirmationNumber)
	}
	if n.Kind == BookingCancelled {
		fmt.Fprintf(&sb, "\nFee: %s, refund: %s", formatMinor(b.CancellationFee), formatMinor(b.RefundAmount))
		if b.FeeOverrideReason != "" {
			fmt.Fprintf(&sb, "\nOverride: %s by %s", b.FeeOverrideReason, b.FeeOverrideBy)
		}
	}
	return sb.String()
}

func formatMinor(v int64) string {
	sign := ""
	if v < 0 {
		sign, v = "-", -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}
