package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"spacebook/internal/models"
)

type recordingSink struct {
	mu   sync.Mutex
	got  []Notification
	fail bool
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Send(_ context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, n)
	if s.fail {
		return errors.New("sink down")
	}
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func sample() models.Booking {
	return models.Booking{
		ID:                 "b1",
		ConfirmationNumber: "LX3K9ABCD",
		SpaceType:          models.SpaceMeetingRoom,
		Date:               time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		StartTime:          "09:00",
		EndTime:            "12:00",
		NumberOfPeople:     4,
		ContactName:        "Kim",
		ContactEmail:       "kim@example.com",
		Currency:           "THB",
		TotalPrice:         150050,
		Status:             models.StatusConfirmed,
		PaymentStatus:      models.PaymentPaid,
	}
}

func TestDispatcher_DeliversToEverySink(t *testing.T) {
	logger := zerolog.Nop()
	ok := &recordingSink{}
	broken := &recordingSink{fail: true}
	d := NewDispatcher(Options{QueueSize: 8}, &logger, broken, ok)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Notify(Notification{Kind: BookingCreated, Booking: sample()})
	d.Notify(Notification{Kind: BookingCancelled, Booking: sample()})

	assert.Eventually(t, func() bool { return ok.count() == 2 && broken.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.False(t, ok.got[0].At.IsZero())
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	logger := zerolog.Nop()
	sink := &recordingSink{}
	d := NewDispatcher(Options{QueueSize: 1}, &logger, sink)

	d.Notify(Notification{Kind: BookingCreated, Booking: sample()})
	d.Notify(Notification{Kind: BookingCreated, Booking: sample()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	assert.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, sink.count())
}

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	args := m.Called(c)
	return tgbotapi.Message{}, args.Error(0)
}

func TestTelegramSink(t *testing.T) {
	sender := new(mockSender)
	sender.On("Send", mock.MatchedBy(func(c tgbotapi.Chattable) bool {
		msg, ok := c.(tgbotapi.MessageConfig)
		return ok && msg.ChatID == 1 && strings.Contains(msg.Text, "LX3K9ABCD")
	})).Return(nil).Once()
	sender.On("Send", mock.MatchedBy(func(c tgbotapi.Chattable) bool {
		msg, ok := c.(tgbotapi.MessageConfig)
		return ok && msg.ChatID == 2
	})).Return(errors.New("bot was blocked")).Once()

	sink := NewTelegramSink(sender, []int64{1, 2})
	err := sink.Send(context.Background(), Notification{Kind: BookingConfirmed, Booking: sample()})
	assert.ErrorContains(t, err, "chat 2")
	sender.AssertExpectations(t)
}

func TestFormatMessage(t *testing.T) {
	b := sample()
	b.Status = models.StatusCancelled
	b.CancellationFee = 37513
	b.RefundAmount = 112537
	b.FeeOverrideReason = "venue_closure"
	b.FeeOverrideBy = "ops"

	text := FormatMessage(Notification{Kind: BookingCancelled, Booking: b})
	assert.Contains(t, text, "Booking cancelled")
	assert.Contains(t, text, "meeting-room 2025-06-01 (09:00-12:00)")
	assert.Contains(t, text, "Total: 1500.50 THB")
	assert.Contains(t, text, "Fee: 375.13, refund: 1125.37")
	assert.Contains(t, text, "Override: venue_closure by ops")
}

type recordingPublisher struct {
	key string
	v   any
}

func (p *recordingPublisher) PublishJSON(_ context.Context, key string, v any) error {
	p.key, p.v = key, v
	return nil
}

func TestAMQPSink(t *testing.T) {
	pub := &recordingPublisher{}
	require.NoError(t, NewAMQPSink(pub).Send(context.Background(), Notification{Kind: BookingPaid, Booking: sample()}))
	assert.Equal(t, "booking.paid", pub.key)
	assert.Equal(t, "b1", pub.v.(Notification).Booking.ID)
}

func TestSheetsSink(t *testing.T) {
	var (
		path string
		body sheets.ValueRange
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	srv, err := sheets.NewService(context.Background(),
		option.WithEndpoint(ts.URL+"/"),
		option.WithoutAuthentication(),
		option.WithHTTPClient(ts.Client()),
	)
	require.NoError(t, err)

	sink := NewSheetsSinkWithService(srv, "sheet-1", "")
	at := time.Date(2025, 5, 1, 8, 30, 0, 0, time.UTC)
	require.NoError(t, sink.Send(context.Background(), Notification{Kind: BookingCreated, Booking: sample(), At: at}))

	assert.Contains(t, path, "/spreadsheets/sheet-1/values/")
	require.Len(t, body.Values, 1)
	row := body.Values[0]
	assert.Equal(t, "booking.created", row[0])
	assert.Equal(t, "2025-05-01 08:30:00", row[1])
	assert.Equal(t, "b1", row[2])
	assert.Equal(t, "meeting-room", row[4])
}

func TestBookingRowValues(t *testing.T) {
	b := sample()
	values := bookingRowValues(&b)
	require.Len(t, values, 14)
	assert.Equal(t, "2025-06-01", values[3])
	assert.Equal(t, "09:00-12:00", values[4])
	assert.Equal(t, int64(150050), values[9])
}
