package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"spacebook/internal/availability"
	"spacebook/internal/cancellation"
	"spacebook/internal/config"
	"spacebook/internal/models"
	"spacebook/internal/service"
	"spacebook/shared/access"
)

type mockBookings struct {
	mock.Mock
}

func booked(args mock.Arguments) (*models.Booking, error) {
	b, _ := args.Get(0).(*models.Booking)
	return b, args.Error(1)
}

func (m *mockBookings) CreateBooking(ctx context.Context, req service.BookingRequest) (*models.Booking, error) {
	return booked(m.Called(ctx, req))
}

func (m *mockBookings) HandleGatewayEvent(ctx context.Context, ev service.GatewayEvent) (*models.Booking, error) {
	return booked(m.Called(ctx, ev))
}

func (m *mockBookings) CancelBooking(ctx context.Context, req service.CancelRequest) (*service.CancelResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*service.CancelResult)
	return res, args.Error(1)
}

func (m *mockBookings) ConfirmBooking(ctx context.Context, id string) (*models.Booking, error) {
	return booked(m.Called(ctx, id))
}

func (m *mockBookings) CompleteBooking(ctx context.Context, id string) (*models.Booking, error) {
	return booked(m.Called(ctx, id))
}

func (m *mockBookings) CapturePayment(ctx context.Context, id string) (*models.Booking, error) {
	return booked(m.Called(ctx, id))
}

func (m *mockBookings) LookupByPaymentIntent(ctx context.Context, intentID string) (*models.Booking, error) {
	return booked(m.Called(ctx, intentID))
}

type stubPolicies map[models.SpaceType]models.CancellationPolicy

func (s stubPolicies) Policy(_ context.Context, st models.SpaceType) (models.CancellationPolicy, error) {
	p, ok := s[st]
	if !ok {
		return models.CancellationPolicy{}, config.UnknownPolicyError{SpaceType: st}
	}
	return p, nil
}

type stubDays struct{}

func (stubDays) DayAvailability(_ context.Context, st models.SpaceType, date time.Time) (*availability.DayView, error) {
	return &availability.DayView{
		SpaceType: st,
		Date:      date.Format(models.DateLayout),
		Occupied:  []availability.Window{{Start: "09:00", End: "11:00"}},
	}, nil
}

type harness struct {
	router   *gin.Engine
	bookings *mockBookings
	auth     *access.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zerolog.Nop()
	h := &harness{
		bookings: &mockBookings{},
		auth:     access.NewService("test-secret", "spacebook", logger),
	}
	policies := stubPolicies{
		models.SpaceMeetingRoom: {SpaceType: models.SpaceMeetingRoom, Tiers: []models.Tier{
			{DaysBeforeBooking: 0, ChargePercentage: 100},
			{DaysBeforeBooking: 30, ChargePercentage: 0},
			{DaysBeforeBooking: 7, ChargePercentage: 25},
		}},
	}
	h.router = NewServer(h.bookings, policies, stubDays{}, h.auth, &logger).Router([]string{"https://app.example.com"})
	t.Cleanup(func() { h.bookings.AssertExpectations(t) })
	return h
}

func (h *harness) token(t *testing.T, role access.Role) string {
	t.Helper()
	tok, err := h.auth.IssueToken("u-1", "Dana", role, time.Hour)
	require.NoError(t, err)
	return tok
}

func (h *harness) do(method, path, body, token string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func sample() *models.Booking {
	return &models.Booking{
		ID:                 "b-1",
		ConfirmationNumber: "SB-ABC123",
		SpaceType:          models.SpaceMeetingRoom,
		Date:               time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC),
		Status:             models.StatusPending,
		PaymentStatus:      models.PaymentPaid,
		TotalPrice:         10000,
		AmountPaid:         10000,
		Currency:           "THB",
	}
}

func TestCreateBooking(t *testing.T) {
	h := newHarness(t)
	h.bookings.On("CreateBooking", mock.Anything, mock.MatchedBy(func(r service.BookingRequest) bool {
		return r.SpaceType == "meeting-room" && r.NumberOfPeople == 4
	})).Return(sample(), nil).Once()

	w := h.do(http.MethodPost, "/api/v1/bookings", `{"space_type":"meeting-room","date":"2025-06-11","number_of_people":4}`, "")
	require.Equal(t, http.StatusCreated, w.Code)
	body := decode(t, w)
	assert.Equal(t, "b-1", body["bookingId"])
	assert.Equal(t, "SB-ABC123", body["confirmationNumber"])
	assert.Equal(t, "paid", body["paymentStatus"])
}

func TestCreateBooking_Errors(t *testing.T) {
	verr := models.NewValidationError()
	verr.Add("contact_email", "required")

	tests := []struct {
		name string
		err  error
		code int
	}{
		{"validation", verr, http.StatusBadRequest},
		{"slot taken", &models.ConflictError{SpaceType: models.SpaceMeetingRoom, Date: "2025-06-11", Window: "09:00-11:00"}, http.StatusConflict},
		{"gateway", &models.GatewayError{Op: "charge", Err: assert.AnError}, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.bookings.On("CreateBooking", mock.Anything, mock.Anything).Return(nil, tt.err).Once()
			w := h.do(http.MethodPost, "/api/v1/bookings", `{"space_type":"meeting-room"}`, "")
			assert.Equal(t, tt.code, w.Code)
		})
	}

	h := newHarness(t)
	w := h.do(http.MethodPost, "/api/v1/bookings", `{not json`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateBooking_ValidationFields(t *testing.T) {
	h := newHarness(t)
	verr := models.NewValidationError()
	verr.Add("date", "must not be in the past")
	h.bookings.On("CreateBooking", mock.Anything, mock.Anything).Return(nil, verr).Once()

	w := h.do(http.MethodPost, "/api/v1/bookings", `{}`, "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	fields, ok := decode(t, w)["fields"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "must not be in the past", fields["date"])
}

func TestCancelBooking(t *testing.T) {
	h := newHarness(t)
	cancelled := sample()
	cancelled.Status = models.StatusCancelled
	h.bookings.On("CancelBooking", mock.Anything, service.CancelRequest{BookingID: "b-1"}).
		Return(&service.CancelResult{Booking: cancelled, Fee: cancellation.Result{
			DaysUntilBooking: 10, ChargePercentage: 25, CancellationFee: 2500, RefundAmount: 7500,
		}}, nil).Once()

	w := h.do(http.MethodPost, "/api/v1/bookings/b-1/cancel", "{}", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "cancelled", body["status"])
	assert.EqualValues(t, 2500, body["cancellationFee"])
	assert.EqualValues(t, 7500, body["refundAmount"])
	assert.EqualValues(t, 25, body["chargePercentage"])
}

func TestCancelBooking_IgnoresClientReceiptTime(t *testing.T) {
	h := newHarness(t)
	cancelled := sample()
	cancelled.Status = models.StatusCancelled
	// A backdated receipt would land in the free tier; the service must see a zero time and use its clock.
	h.bookings.On("CancelBooking", mock.Anything, service.CancelRequest{BookingID: "b-1"}).
		Return(&service.CancelResult{Booking: cancelled, Fee: cancellation.Result{ChargePercentage: 25}}, nil).Once()

	w := h.do(http.MethodPost, "/api/v1/bookings/b-1/cancel", `{"requestReceivedAt":"2025-05-01T10:00:00Z"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	h.bookings.AssertExpectations(t)
	h.bookings.AssertNotCalled(t, "CancelBooking", mock.Anything, mock.MatchedBy(func(r service.CancelRequest) bool {
		return !r.RequestReceivedAt.IsZero()
	}))
}

func TestCancelBooking_NoBodyAndPolicyError(t *testing.T) {
	h := newHarness(t)
	h.bookings.On("CancelBooking", mock.Anything, service.CancelRequest{BookingID: "b-2"}).
		Return(nil, &models.PolicyError{BookingID: "b-2", Reason: "booking is already cancelled"}).Once()

	w := h.do(http.MethodPost, "/api/v1/bookings/b-2/cancel", "", "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestAdminRoutes_RequireCapability(t *testing.T) {
	h := newHarness(t)
	body := `{"reason":"force_majeure","chargePercentage":0}`

	w := h.do(http.MethodPost, "/api/v1/admin/bookings/b-1/cancel", body, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = h.do(http.MethodPost, "/api/v1/admin/bookings/b-1/cancel", body, "garbage")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = h.do(http.MethodPost, "/api/v1/admin/bookings/b-1/cancel", body, h.token(t, access.RoleStaff))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = h.do(http.MethodPost, "/api/v1/admin/gateway/replay", `{"payment_intent_id":"chrg_1"}`, h.token(t, access.RoleStaff))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestOverrideCancel(t *testing.T) {
	h := newHarness(t)
	received := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	cancelled := sample()
	cancelled.Status = models.StatusCancelled
	h.bookings.On("CancelBooking", mock.Anything, mock.MatchedBy(func(r service.CancelRequest) bool {
		return r.BookingID == "b-1" && r.Override != nil &&
			r.RequestReceivedAt.Equal(received) &&
			r.Override.Reason == cancellation.ReasonForceMajeure &&
			r.Override.ApprovedBy == "Dana" &&
			r.Override.ChargePercentage == 0
	})).Return(&service.CancelResult{Booking: cancelled, Fee: cancellation.Result{
		RefundAmount: 10000,
		Override:     &cancellation.Override{Reason: cancellation.ReasonForceMajeure},
	}}, nil).Once()

	w := h.do(http.MethodPost, "/api/v1/admin/bookings/b-1/cancel",
		`{"reason":"force_majeure","note":"typhoon","chargePercentage":0,"requestReceivedAt":"2025-06-01T10:00:00Z"}`,
		h.token(t, access.RoleManager))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "force_majeure", decode(t, w)["overrideReason"])

	w = h.do(http.MethodPost, "/api/v1/admin/bookings/b-1/cancel", `{"reason":"force_majeure"}`, h.token(t, access.RoleManager))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConfirmCompleteCapture(t *testing.T) {
	h := newHarness(t)
	staff := h.token(t, access.RoleStaff)
	manager := h.token(t, access.RoleManager)

	h.bookings.On("ConfirmBooking", mock.Anything, "b-1").Return(sample(), nil).Once()
	h.bookings.On("CompleteBooking", mock.Anything, "b-1").
		Return(nil, &models.PolicyError{BookingID: "b-1", Reason: "booking date has not passed"}).Once()
	h.bookings.On("CapturePayment", mock.Anything, "b-1").Return(sample(), nil).Once()

	assert.Equal(t, http.StatusOK, h.do(http.MethodPost, "/api/v1/admin/bookings/b-1/confirm", "", staff).Code)
	assert.Equal(t, http.StatusUnprocessableEntity, h.do(http.MethodPost, "/api/v1/admin/bookings/b-1/complete", "", staff).Code)
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodPost, "/api/v1/admin/bookings/b-1/capture", "", staff).Code)
	assert.Equal(t, http.StatusOK, h.do(http.MethodPost, "/api/v1/admin/bookings/b-1/capture", "", manager).Code)
}

func TestGatewayWebhook_NativeEnvelope(t *testing.T) {
	h := newHarness(t)
	h.bookings.On("HandleGatewayEvent", mock.Anything, mock.MatchedBy(func(ev service.GatewayEvent) bool {
		return ev.ID == "evnt_1" &&
			ev.Type == "charge.complete" &&
			ev.PaymentIntentID == "chrg_1" &&
			ev.Source == "webhook" &&
			ev.Metadata["create_booking_on_authorization"] == "true" &&
			ev.Metadata["number_of_people"] == "4"
	})).Return(sample(), nil).Once()

	body := `{"object":"event","id":"evnt_1","key":"charge.complete","data":{"object":"charge","id":"chrg_1",
		"metadata":{"create_booking_on_authorization":"true","number_of_people":4,"note":null}}}`
	w := h.do(http.MethodPost, "/api/v1/gateway/events", body, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "SB-ABC123", decode(t, w)["confirmationNumber"])
}

func TestGatewayWebhook_Outcomes(t *testing.T) {
	h := newHarness(t)
	h.bookings.On("HandleGatewayEvent", mock.Anything, mock.MatchedBy(func(ev service.GatewayEvent) bool {
		return ev.PaymentIntentID == "chrg_ignored"
	})).Return(nil, models.ErrEventIgnored).Once()
	h.bookings.On("HandleGatewayEvent", mock.Anything, mock.MatchedBy(func(ev service.GatewayEvent) bool {
		return ev.PaymentIntentID == "chrg_down"
	})).Return(nil, &models.GatewayError{Op: "retrieve", Err: assert.AnError}).Once()

	assert.Equal(t, http.StatusAccepted, h.do(http.MethodPost, "/api/v1/gateway/events", `{"payment_intent_id":"chrg_ignored"}`, "").Code)
	assert.Equal(t, http.StatusBadGateway, h.do(http.MethodPost, "/api/v1/gateway/events", `{"payment_intent_id":"chrg_down"}`, "").Code)

	// Events about other objects never reach the service.
	w := h.do(http.MethodPost, "/api/v1/gateway/events", `{"key":"customer.create","data":{"object":"customer","id":"cust_1"}}`, "")
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestReplay(t *testing.T) {
	h := newHarness(t)
	h.bookings.On("HandleGatewayEvent", mock.Anything, mock.MatchedBy(func(ev service.GatewayEvent) bool {
		return ev.PaymentIntentID == "chrg_1" && ev.Source == "replay"
	})).Return(sample(), nil).Twice()

	tok := h.token(t, access.RoleManager)
	for i := 0; i < 2; i++ {
		w := h.do(http.MethodPost, "/api/v1/admin/gateway/replay", `{"payment_intent_id":"chrg_1"}`, tok)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "b-1", decode(t, w)["bookingId"])
	}
}

func TestGetPolicy(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodGet, "/api/v1/policies/meeting-room", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var p models.CancellationPolicy
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	require.Len(t, p.Tiers, 3)
	assert.Equal(t, 30, p.Tiers[0].DaysBeforeBooking)
	assert.Equal(t, 0, p.Tiers[2].DaysBeforeBooking)

	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/api/v1/policies/ballroom", "", "").Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/api/v1/policies/event-space", "", "").Code)
}

func TestGetAvailability(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodGet, "/api/v1/availability/meeting-room?date=2025-06-11", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "2025-06-11", body["date"])
	assert.Len(t, body["occupied"], 1)

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/api/v1/availability/meeting-room", "", "").Code)
}

func TestDiagnostics(t *testing.T) {
	h := newHarness(t)
	h.bookings.On("LookupByPaymentIntent", mock.Anything, "chrg_1").Return(sample(), nil).Once()
	h.bookings.On("LookupByPaymentIntent", mock.Anything, "chrg_missing").Return(nil, models.ErrNotFound).Once()
	tok := h.token(t, access.RoleStaff)

	w := h.do(http.MethodGet, "/api/v1/admin/diagnostics/payment-intents/chrg_1", "", tok)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 10000, decode(t, w)["amountPaid"])

	w = h.do(http.MethodGet, "/api/v1/admin/diagnostics/payment-intents/chrg_missing", "", tok)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCORS(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/bookings", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)

	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusConflict, statusFor(models.ErrConcurrentModification))
	assert.Equal(t, http.StatusConflict, statusFor(models.ErrDuplicatePaymentIntent))
	assert.Equal(t, http.StatusNotFound, statusFor(config.UnknownPolicyError{SpaceType: models.SpaceEventSpace}))
	assert.Equal(t, http.StatusForbidden, statusFor(&access.AccessDeniedError{Subject: "u", Capability: access.CapReplay}))
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
}
