package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNotFound               = errors.New("booking not found")
	ErrSlotUnavailable        = errors.New("slot unavailable")
	ErrDuplicatePaymentIntent = errors.New("duplicate payment intent")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrEventIgnored           = errors.New("gateway event ignored")
)

// ValidationError carries per-field messages for a rejected input.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError returns an empty error ready for Add.
func NewValidationError() *ValidationError {
	return &ValidationError{Fields: make(map[string]string)}
}

// Add records the first message for a field.
func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, ok := e.Fields[field]; !ok {
		e.Fields[field] = msg
	}
}

// OrNil returns nil when no field failed.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// ConflictError reports that the requested window collides with an active booking.
type ConflictError struct {
	SpaceType SpaceType
	Date      string
	Window    string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("slot unavailable: %s on %s (%s)", e.SpaceType, e.Date, e.Window)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrSlotUnavailable
}

// PolicyError reports a transition the lifecycle rules do not allow.
type PolicyError struct {
	BookingID string
	Reason    string
}

func (e *PolicyError) Error() string {
	if e.BookingID == "" {
		return "policy violation: " + e.Reason
	}
	return fmt.Sprintf("policy violation for booking %s: %s", e.BookingID, e.Reason)
}

// GatewayError wraps a failed call to the payment gateway. Callers may retry.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment gateway %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// NotificationError wraps a sink delivery failure. It is logged, never returned to callers of the core.
type NotificationError struct {
	Sink string
	Err  error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("notification via %s: %v", e.Sink, e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }

// IsPolicyError reports whether err is a *PolicyError.
func IsPolicyError(err error) bool {
	var pe *PolicyError
	return errors.As(err, &pe)
}
