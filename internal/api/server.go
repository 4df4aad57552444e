// Package api exposes the booking service over HTTP.
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"spacebook/internal/availability"
	"spacebook/internal/metrics"
	"spacebook/internal/models"
	"spacebook/internal/service"
	"spacebook/shared/access"
)

// Bookings is the part of the booking service the HTTP layer calls.
type Bookings interface {
	CreateBooking(ctx context.Context, req service.BookingRequest) (*models.Booking, error)
	HandleGatewayEvent(ctx context.Context, ev service.GatewayEvent) (*models.Booking, error)
	CancelBooking(ctx context.Context, req service.CancelRequest) (*service.CancelResult, error)
	ConfirmBooking(ctx context.Context, id string) (*models.Booking, error)
	CompleteBooking(ctx context.Context, id string) (*models.Booking, error)
	CapturePayment(ctx context.Context, id string) (*models.Booking, error)
	LookupByPaymentIntent(ctx context.Context, intentID string) (*models.Booking, error)
}

type PolicyReader interface {
	Policy(ctx context.Context, st models.SpaceType) (models.CancellationPolicy, error)
}

type DayViewer interface {
	DayAvailability(ctx context.Context, spaceType models.SpaceType, date time.Time) (*availability.DayView, error)
}

// Authenticator validates bearer tokens and capability checks.
type Authenticator interface {
	Authenticate(token string) (*access.Principal, error)
	Authorize(p *access.Principal, c access.Capability) error
}

type Server struct {
	bookings Bookings
	policies PolicyReader
	days     DayViewer
	auth     Authenticator
	logger   zerolog.Logger
}

func NewServer(bookings Bookings, policies PolicyReader, days DayViewer, auth Authenticator, logger *zerolog.Logger) *Server {
	return &Server{
		bookings: bookings,
		policies: policies,
		days:     days,
		auth:     auth,
		logger:   logger.With().Str("component", "http").Logger(),
	}
}

// Router builds the gin engine. An empty origins list disables CORS.
func (s *Server) Router(corsOrigins []string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	if len(corsOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     corsOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	v1 := r.Group("/api/v1")
	{
		v1.POST("/bookings", s.createBooking)
		v1.POST("/bookings/:id/cancel", s.cancelBooking)
		v1.POST("/gateway/events", s.gatewayWebhook)
		v1.GET("/policies/:spaceType", s.getPolicy)
		v1.GET("/availability/:spaceType", s.getAvailability)

		admin := v1.Group("/admin")
		admin.Use(s.authenticate())
		admin.POST("/bookings/:id/cancel", s.require(access.CapCancelOverride), s.overrideCancel)
		admin.POST("/bookings/:id/confirm", s.require(access.CapConfirm), s.confirmBooking)
		admin.POST("/bookings/:id/complete", s.require(access.CapComplete), s.completeBooking)
		admin.POST("/bookings/:id/capture", s.require(access.CapCapture), s.capturePayment)
		admin.POST("/gateway/replay", s.require(access.CapReplay), s.replayEvent)
		admin.GET("/diagnostics/payment-intents/:id", s.require(access.CapDiagnostics), s.lookupIntent)
	}
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		metrics.IncHTTP(route, status)

		evt := s.logger.Debug()
		if status >= http.StatusInternalServerError {
			evt = s.logger.Warn()
		}
		if len(c.Errors) > 0 {
			evt = s.logger.Error().Str("error", c.Errors.String())
		}
		evt.Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Str("client_ip", c.ClientIP()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

const principalKey = "principal"

func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			abortWithError(c, access.ErrInvalidToken)
			return
		}
		p, err := s.auth.Authenticate(strings.TrimPrefix(h, "Bearer "))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.Set(principalKey, p)
		c.Next()
	}
}

func (s *Server) require(capability access.Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.auth.Authorize(principal(c), capability); err != nil {
			abortWithError(c, err)
			return
		}
		c.Next()
	}
}

func principal(c *gin.Context) *access.Principal {
	v, _ := c.Get(principalKey)
	p, _ := v.(*access.Principal)
	return p
}
