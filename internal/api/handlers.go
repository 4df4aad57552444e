package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"spacebook/internal/cancellation"
	"spacebook/internal/models"
	"spacebook/internal/service"
)

type bookingSummary struct {
	BookingID          string               `json:"bookingId"`
	Status             models.Status        `json:"status"`
	PaymentStatus      models.PaymentStatus `json:"paymentStatus"`
	ConfirmationNumber string               `json:"confirmationNumber,omitempty"`
	PaymentIntentID    string               `json:"paymentIntentId,omitempty"`
	SpaceType          models.SpaceType     `json:"spaceType"`
	Date               string               `json:"date"`
	TotalPrice         int64                `json:"totalPrice"`
	AmountPaid         int64                `json:"amountPaid"`
	Currency           string               `json:"currency"`
}

func summarize(b *models.Booking) bookingSummary {
	return bookingSummary{
		BookingID:          b.ID,
		Status:             b.Status,
		PaymentStatus:      b.PaymentStatus,
		ConfirmationNumber: b.ConfirmationNumber,
		PaymentIntentID:    b.PaymentIntentID,
		SpaceType:          b.SpaceType,
		Date:               b.DateString(),
		TotalPrice:         b.TotalPrice,
		AmountPaid:         b.AmountPaid,
		Currency:           b.Currency,
	}
}

// POST /api/v1/bookings
func (s *Server) createBooking(c *gin.Context) {
	var req service.BookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "body", err.Error())
		return
	}
	b, err := s.bookings.CreateBooking(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, summarize(b))
}

type cancelBody struct {
	RequestReceivedAt *time.Time `json:"requestReceivedAt"`
}

type overrideBody struct {
	cancelBody
	Reason           string `json:"reason" binding:"required"`
	Note             string `json:"note"`
	ChargePercentage *int   `json:"chargePercentage" binding:"required"`
}

type cancelResponse struct {
	BookingID        string        `json:"bookingId"`
	Status           models.Status `json:"status"`
	DaysUntilBooking int           `json:"daysUntilBooking"`
	ChargePercentage int           `json:"chargePercentage"`
	CancellationFee  int64         `json:"cancellationFee"`
	RefundAmount     int64         `json:"refundAmount"`
	Currency         string        `json:"currency"`
	OverrideReason   string        `json:"overrideReason,omitempty"`
}

func (s *Server) cancel(c *gin.Context, req service.CancelRequest) {
	res, err := s.bookings.CancelBooking(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	out := cancelResponse{
		BookingID:        res.Booking.ID,
		Status:           res.Booking.Status,
		DaysUntilBooking: res.Fee.DaysUntilBooking,
		ChargePercentage: res.Fee.ChargePercentage,
		CancellationFee:  res.Fee.CancellationFee,
		RefundAmount:     res.Fee.RefundAmount,
		Currency:         res.Booking.Currency,
	}
	if res.Fee.Override != nil {
		out.OverrideReason = string(res.Fee.Override.Reason)
	}
	c.JSON(http.StatusOK, out)
}

// POST /api/v1/bookings/:id/cancel
//
// Receipt is stamped with the server clock. A guest-supplied requestReceivedAt
// is ignored here; staff record an earlier receipt through the admin route.
func (s *Server) cancelBooking(c *gin.Context) {
	var body cancelBody
	// The body is optional.
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "body", err.Error())
		return
	}
	if body.RequestReceivedAt != nil {
		s.logger.Debug().Str("booking_id", c.Param("id")).Msg("ignoring client supplied requestReceivedAt")
	}
	s.cancel(c, service.CancelRequest{BookingID: c.Param("id")})
}

// POST /api/v1/admin/bookings/:id/cancel
func (s *Server) overrideCancel(c *gin.Context) {
	var body overrideBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "body", err.Error())
		return
	}
	approvedBy := ""
	if p := principal(c); p != nil {
		approvedBy = p.Subject
		if p.Name != "" {
			approvedBy = p.Name
		}
	}
	req := service.CancelRequest{
		BookingID: c.Param("id"),
		Override: &cancellation.Override{
			Reason:           cancellation.OverrideReason(body.Reason),
			Note:             body.Note,
			ApprovedBy:       approvedBy,
			ChargePercentage: *body.ChargePercentage,
		},
	}
	if body.RequestReceivedAt != nil {
		req.RequestReceivedAt = *body.RequestReceivedAt
	}
	s.cancel(c, req)
}

func (s *Server) transition(c *gin.Context, fn func(*gin.Context, string) (*models.Booking, error)) {
	b, err := fn(c, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summarize(b))
}

// POST /api/v1/admin/bookings/:id/confirm
func (s *Server) confirmBooking(c *gin.Context) {
	s.transition(c, func(c *gin.Context, id string) (*models.Booking, error) {
		return s.bookings.ConfirmBooking(c.Request.Context(), id)
	})
}

// POST /api/v1/admin/bookings/:id/complete
func (s *Server) completeBooking(c *gin.Context) {
	s.transition(c, func(c *gin.Context, id string) (*models.Booking, error) {
		return s.bookings.CompleteBooking(c.Request.Context(), id)
	})
}

// POST /api/v1/admin/bookings/:id/capture
func (s *Server) capturePayment(c *gin.Context) {
	s.transition(c, func(c *gin.Context, id string) (*models.Booking, error) {
		return s.bookings.CapturePayment(c.Request.Context(), id)
	})
}

// GET /api/v1/admin/diagnostics/payment-intents/:id
func (s *Server) lookupIntent(c *gin.Context) {
	s.transition(c, func(c *gin.Context, id string) (*models.Booking, error) {
		return s.bookings.LookupByPaymentIntent(c.Request.Context(), id)
	})
}

func spaceTypeParam(c *gin.Context) (models.SpaceType, bool) {
	st, ok := models.ParseSpaceType(c.Param("spaceType"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown space type " + c.Param("spaceType")})
	}
	return st, ok
}

// GET /api/v1/policies/:spaceType
func (s *Server) getPolicy(c *gin.Context) {
	st, ok := spaceTypeParam(c)
	if !ok {
		return
	}
	p, err := s.policies.Policy(c.Request.Context(), st)
	if err != nil {
		writeError(c, err)
		return
	}
	p.Tiers = p.SortedTiers()
	c.JSON(http.StatusOK, p)
}

// GET /api/v1/availability/:spaceType?date=YYYY-MM-DD
func (s *Server) getAvailability(c *gin.Context) {
	st, ok := spaceTypeParam(c)
	if !ok {
		return
	}
	date, err := time.Parse(models.DateLayout, c.Query("date"))
	if err != nil {
		badRequest(c, "date", "expected YYYY-MM-DD")
		return
	}
	view, err := s.days.DayAvailability(c.Request.Context(), st, date)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}
