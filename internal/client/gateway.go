package client

import (
	"context"
	"fmt"
	"net/http"

	"freshness-orders/internal/model"

	"github.com/shopspring/decimal"
)

// Payment methods offered at checkout.
const (
	MethodCard         = "card"
	MethodWallet       = "wallet"
	MethodBankTransfer = "bank_transfer"
)

type AuthorizeRequest struct {
	Amount       decimal.Decimal
	Currency     string
	Method       string
	PaymentToken string // card nonce or vaulted token, unused by redirect flows
	AttemptID    string // our ledger entry id, echoed back by the provider
	OrderID      string
	ReturnURL    string
	CancelURL    string
}

// GatewayResult is the provider-neutral view of a payment call.
type GatewayResult struct {
	Success           bool
	ProviderReference string
	RawAmount         decimal.Decimal
	RawStatus         string
	// RequiresAction is set when the customer still has to approve the
	// payment at ApprovalURL. The outcome then arrives by redirect or webhook.
	RequiresAction bool
	ApprovalURL    string
}

type PaymentGateway interface {
	Provider() string
	Authorize(ctx context.Context, req AuthorizeRequest) (*GatewayResult, error)
	Capture(ctx context.Context, reference string) (*GatewayResult, error)
	Refund(ctx context.Context, reference string, amount decimal.Decimal) (*GatewayResult, error)
}

// WebhookNotification is a verified provider callback reduced to what the
// ledger needs. Outcome is empty for events that carry no payment result.
type WebhookNotification struct {
	Provider          string
	EventID           string
	EventType         string
	ProviderReference string
	AttemptID         string
	Outcome           model.LedgerStatus
	Amount            decimal.Decimal
	Currency          string
	Payload           []byte
}

// WebhookGateway is a PaymentGateway whose provider also reports outcomes by
// callback.
type WebhookGateway interface {
	PaymentGateway
	WebhookVerifier
}

type WebhookVerifier interface {
	Provider() string
	// VerifyAndParse must authenticate the payload before decoding it. It
	// returns an *apperr.AuthenticityError when the check fails.
	VerifyAndParse(ctx context.Context, headers http.Header, body []byte) (*WebhookNotification, error)
}

// Gateways routes payment methods and provider names to gateways.
type Gateways struct {
	byMethod   map[string]PaymentGateway
	byProvider map[string]PaymentGateway
}

func NewGateways() *Gateways {
	return &Gateways{
		byMethod:   map[string]PaymentGateway{},
		byProvider: map[string]PaymentGateway{},
	}
}

func (g *Gateways) Register(method string, gw PaymentGateway) *Gateways {
	g.byMethod[method] = gw
	g.byProvider[gw.Provider()] = gw
	return g
}

func (g *Gateways) ForMethod(method string) (PaymentGateway, error) {
	gw, ok := g.byMethod[method]
	if !ok {
		return nil, fmt.Errorf("no gateway for payment method %q", method)
	}
	return gw, nil
}

func (g *Gateways) ForProvider(provider string) (PaymentGateway, error) {
	gw, ok := g.byProvider[provider]
	if !ok {
		return nil, fmt.Errorf("no gateway for provider %q", provider)
	}
	return gw, nil
}
