package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"spacebook/internal/config"
	"spacebook/internal/models"
	"spacebook/shared/access"
)

// statusFor maps a service error to its HTTP status.
func statusFor(err error) int {
	var (
		verr    *models.ValidationError
		perr    *models.PolicyError
		gerr    *models.GatewayError
		denied  *access.AccessDeniedError
		unknown config.UnknownPolicyError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound), errors.As(err, &unknown):
		return http.StatusNotFound
	case errors.Is(err, models.ErrSlotUnavailable),
		errors.Is(err, models.ErrConcurrentModification),
		errors.Is(err, models.ErrDuplicatePaymentIntent):
		return http.StatusConflict
	case errors.As(err, &perr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &gerr):
		return http.StatusBadGateway
	case errors.Is(err, access.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.As(err, &denied):
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

func errorBody(err error, status int) gin.H {
	body := gin.H{"error": err.Error()}
	var verr *models.ValidationError
	if errors.As(err, &verr) {
		body["fields"] = verr.Fields
	}
	if status == http.StatusInternalServerError {
		body["error"] = "internal error"
	}
	return body
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, errorBody(err, status))
}

func abortWithError(c *gin.Context, err error) {
	status := statusFor(err)
	c.AbortWithStatusJSON(status, errorBody(err, status))
}

func badRequest(c *gin.Context, field, msg string) {
	verr := models.NewValidationError()
	verr.Add(field, msg)
	writeError(c, verr)
}
