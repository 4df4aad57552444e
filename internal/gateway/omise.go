package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"spacebook/internal/metrics"
	"spacebook/internal/models"
)

// backend narrows the SDK to the calls we make so the mapping can be tested.
type backend interface {
	CreateCharge(op *operations.CreateCharge) (*omise.Charge, error)
	RetrieveCharge(id string) (*omise.Charge, error)
	CaptureCharge(id string) (*omise.Charge, error)
	CreateCustomer(op *operations.CreateCustomer) (*omise.Customer, error)
}

type sdkBackend struct {
	c *omise.Client
}

func (s sdkBackend) CreateCharge(op *operations.CreateCharge) (*omise.Charge, error) {
	ch := &omise.Charge{}
	if err := s.c.Do(ch, op); err != nil {
		return nil, err
	}
	return ch, nil
}

func (s sdkBackend) RetrieveCharge(id string) (*omise.Charge, error) {
	ch := &omise.Charge{}
	if err := s.c.Do(ch, &operations.RetrieveCharge{ChargeID: id}); err != nil {
		return nil, err
	}
	return ch, nil
}

func (s sdkBackend) CaptureCharge(id string) (*omise.Charge, error) {
	ch := &omise.Charge{}
	if err := s.c.Do(ch, &operations.CaptureCharge{ChargeID: id}); err != nil {
		return nil, err
	}
	return ch, nil
}

func (s sdkBackend) CreateCustomer(op *operations.CreateCustomer) (*omise.Customer, error) {
	cust := &omise.Customer{}
	if err := s.c.Do(cust, op); err != nil {
		return nil, err
	}
	return cust, nil
}

// OmiseGateway implements Gateway over charges and customers.
type OmiseGateway struct {
	api    backend
	tracer trace.Tracer
	logger zerolog.Logger
}

func NewOmiseGateway(publicKey, secretKey string, logger *zerolog.Logger) (*OmiseGateway, error) {
	client, err := omise.NewClient(publicKey, secretKey)
	if err != nil {
		return nil, fmt.Errorf("omise client: %w", err)
	}
	return newOmiseGateway(sdkBackend{c: client}, logger), nil
}

func newOmiseGateway(api backend, logger *zerolog.Logger) *OmiseGateway {
	return &OmiseGateway{
		api:    api,
		tracer: otel.Tracer("spacebook/gateway"),
		logger: logger.With().Str("component", "gateway").Logger(),
	}
}

func (g *OmiseGateway) RetrieveIntent(ctx context.Context, id string) (*Intent, error) {
	var out *Intent
	err := g.call(ctx, "retrieve", id, func() error {
		ch, err := g.api.RetrieveCharge(id)
		if err != nil {
			return err
		}
		out = intentFromCharge(ch)
		return nil
	})
	return out, err
}

func (g *OmiseGateway) Charge(ctx context.Context, req ChargeRequest) (*Intent, error) {
	op := &operations.CreateCharge{
		Amount:      req.Amount,
		Currency:    strings.ToLower(req.Currency),
		Card:        req.CardToken,
		Customer:    req.CustomerRef,
		Description: req.Description,
		DontCapture: !req.Capture,
	}
	if len(req.Metadata) > 0 {
		op.Metadata = make(map[string]interface{}, len(req.Metadata))
		for k, v := range req.Metadata {
			op.Metadata[k] = v
		}
	}

	name := "charge"
	if !req.Capture {
		name = "authorize"
	}
	var out *Intent
	err := g.call(ctx, name, "", func() error {
		ch, err := g.api.CreateCharge(op)
		if err != nil {
			return err
		}
		out = intentFromCharge(ch)
		return nil
	})
	return out, err
}

func (g *OmiseGateway) Capture(ctx context.Context, id string) (*Intent, error) {
	var out *Intent
	err := g.call(ctx, "capture", id, func() error {
		ch, err := g.api.CaptureCharge(id)
		if err != nil {
			return err
		}
		out = intentFromCharge(ch)
		return nil
	})
	return out, err
}

func (g *OmiseGateway) SavePaymentMethod(ctx context.Context, req SaveMethodRequest) (string, error) {
	var ref string
	err := g.call(ctx, "save_method", "", func() error {
		cust, err := g.api.CreateCustomer(&operations.CreateCustomer{
			Email:       req.Email,
			Description: req.Description,
			Card:        req.CardToken,
		})
		if err != nil {
			return err
		}
		ref = cust.ID
		return nil
	})
	return ref, err
}

func (g *OmiseGateway) call(ctx context.Context, op, intentID string, fn func() error) error {
	_, span := g.tracer.Start(ctx, "gateway."+op)
	defer span.End()
	if intentID != "" {
		span.SetAttributes(attribute.String("payment_intent_id", intentID))
	}

	start := time.Now()
	err := fn()
	metrics.ObserveGateway(op, err, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.logger.Warn().Err(err).Str("op", op).Str("payment_intent_id", intentID).Msg("gateway call failed")
		return &models.GatewayError{Op: op, Err: err}
	}
	return nil
}

func intentFromCharge(ch *omise.Charge) *Intent {
	in := &Intent{
		ID:          ch.ID,
		Amount:      ch.Amount,
		Currency:    strings.ToUpper(ch.Currency),
		CustomerRef: ch.CustomerID,
		Metadata:    make(map[string]string, len(ch.Metadata)),
	}
	if ch.FailureCode != nil {
		in.FailureCode = *ch.FailureCode
	}
	for k, v := range ch.Metadata {
		switch val := v.(type) {
		case string:
			in.Metadata[k] = val
		case nil:
		default:
			in.Metadata[k] = fmt.Sprint(val)
		}
	}

	switch string(ch.Status) {
	case "successful":
		in.Status = IntentSucceeded
		in.Captured = true
	case "failed", "expired", "reversed":
		in.Status = IntentFailed
	default:
		if ch.Authorized && !ch.Paid {
			in.Status = IntentAuthorized
		} else {
			in.Status = IntentPending
		}
	}
	return in
}
