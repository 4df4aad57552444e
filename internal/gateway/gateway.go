// Package gateway talks to the external payment processor.
package gateway

import "context"

type IntentStatus string

const (
	IntentSucceeded  IntentStatus = "succeeded"
	IntentAuthorized IntentStatus = "authorized"
	IntentPending    IntentStatus = "pending"
	IntentFailed     IntentStatus = "failed"
)

// Intent is the gateway's view of a payment.
type Intent struct {
	ID          string
	Amount      int64
	Currency    string
	Status      IntentStatus
	Captured    bool
	CustomerRef string
	FailureCode string
	Metadata    map[string]string
}

type ChargeRequest struct {
	Amount      int64
	Currency    string
	CardToken   string
	CustomerRef string
	Description string
	// Capture false places an authorization hold.
	Capture  bool
	Metadata map[string]string
}

type SaveMethodRequest struct {
	Email       string
	Description string
	CardToken   string
}

// Gateway is implemented by the omise client and by fakes in tests.
type Gateway interface {
	RetrieveIntent(ctx context.Context, id string) (*Intent, error)
	Charge(ctx context.Context, req ChargeRequest) (*Intent, error)
	Capture(ctx context.Context, id string) (*Intent, error)
	// SavePaymentMethod stores a reusable method and returns its reference.
	SavePaymentMethod(ctx context.Context, req SaveMethodRequest) (string, error)
}
