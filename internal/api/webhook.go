package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"spacebook/internal/models"
	"spacebook/internal/service"
)

// webhookBody accepts both the gateway's native event envelope
// ({"key": ..., "data": {"object": "charge", "id": ...}}) and the flat
// service.GatewayEvent shape used by the queue and by replays.
type webhookBody struct {
	ID              string            `json:"id"`
	Key             string            `json:"key"`
	Type            string            `json:"type"`
	PaymentIntentID string            `json:"payment_intent_id"`
	Metadata        map[string]string `json:"metadata"`
	Data            *struct {
		Object   string         `json:"object"`
		ID       string         `json:"id"`
		Metadata map[string]any `json:"metadata"`
	} `json:"data"`
}

// toEvent reports false when the envelope carries something other than a charge.
func (w webhookBody) toEvent(source string) (service.GatewayEvent, bool) {
	ev := service.GatewayEvent{
		ID:              w.ID,
		Type:            w.Type,
		PaymentIntentID: w.PaymentIntentID,
		Metadata:        w.Metadata,
		Source:          source,
	}
	if w.Key != "" {
		ev.Type = w.Key
	}
	if w.Data == nil {
		return ev, true
	}
	if w.Data.Object != "" && w.Data.Object != "charge" {
		return ev, false
	}
	ev.PaymentIntentID = w.Data.ID
	if len(w.Data.Metadata) > 0 {
		ev.Metadata = make(map[string]string, len(w.Data.Metadata))
		for k, v := range w.Data.Metadata {
			switch val := v.(type) {
			case nil:
			case string:
				ev.Metadata[k] = val
			default:
				ev.Metadata[k] = fmt.Sprint(val)
			}
		}
	}
	return ev, true
}

// POST /api/v1/gateway/events
func (s *Server) gatewayWebhook(c *gin.Context) {
	s.handleEvent(c, "webhook")
}

// POST /api/v1/admin/gateway/replay
func (s *Server) replayEvent(c *gin.Context) {
	s.handleEvent(c, "replay")
}

func (s *Server) handleEvent(c *gin.Context, source string) {
	var body webhookBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "body", err.Error())
		return
	}
	ev, ok := body.toEvent(source)
	if !ok {
		c.JSON(http.StatusAccepted, gin.H{"status": "ignored"})
		return
	}

	b, err := s.bookings.HandleGatewayEvent(c.Request.Context(), ev)
	if errors.Is(err, models.ErrEventIgnored) {
		c.JSON(http.StatusAccepted, gin.H{"status": "ignored"})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"bookingId":          b.ID,
		"confirmationNumber": b.ConfirmationNumber,
		"paymentStatus":      b.PaymentStatus,
	})
}
