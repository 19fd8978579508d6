package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"freshness-orders/internal/apperr"
	"freshness-orders/internal/config"
	"freshness-orders/internal/model"

	"github.com/braintree-go/braintree-go"
	"github.com/shopspring/decimal"
)

const ProviderBraintree = "braintree"

const (
	btKindSettled            = "transaction_settled"
	btKindSettlementDeclined = "transaction_settlement_declined"
)

// braintreeGateway charges cards through the Braintree SDK. Authorize only
// authorizes, Capture submits for settlement.
type braintreeGateway struct {
	gateway *braintree.Braintree
}

// NewBraintreeGateway initializes the Braintree SDK gateway
func NewBraintreeGateway(cfg *config.Braintree) WebhookGateway {
	env := braintree.Sandbox
	if cfg.Environment == "production" {
		env = braintree.Production
	}

	return newBraintreeGateway(braintree.New(
		env,
		cfg.MerchantID,
		cfg.PublicKey,
		cfg.PrivateKey,
	))
}

func newBraintreeGateway(bt *braintree.Braintree) *braintreeGateway {
	return &braintreeGateway{gateway: bt}
}

func (c *braintreeGateway) Provider() string { return ProviderBraintree }

func (c *braintreeGateway) Authorize(ctx context.Context, req AuthorizeRequest) (*GatewayResult, error) {
	if req.PaymentToken == "" {
		return nil, c.fail("authorize", fmt.Errorf("missing card nonce"))
	}

	// Braintree echoes OrderId back in webhooks, so it carries our attempt id
	tx, err := c.gateway.Transaction().Create(ctx, &braintree.TransactionRequest{
		Type:               "sale",
		Amount:             toBraintreeDecimal(req.Amount),
		PaymentMethodNonce: req.PaymentToken,
		OrderId:            req.AttemptID,
	})
	if err != nil {
		return nil, c.fail("authorize", err)
	}

	return transactionResult(tx), nil
}

func (c *braintreeGateway) Capture(ctx context.Context, reference string) (*GatewayResult, error) {
	tx, err := c.gateway.Transaction().SubmitForSettlement(ctx, reference)
	if err != nil {
		return nil, c.fail("capture", err)
	}
	return transactionResult(tx), nil
}

func (c *braintreeGateway) Refund(ctx context.Context, reference string, amount decimal.Decimal) (*GatewayResult, error) {
	tx, err := c.gateway.Transaction().Refund(ctx, reference, toBraintreeDecimal(amount))
	if err != nil {
		return nil, c.fail("refund", err)
	}
	return transactionResult(tx), nil
}

func (c *braintreeGateway) fail(op string, err error) error {
	return &apperr.GatewayError{Provider: ProviderBraintree, Op: op, Err: err}
}

// VerifyAndParse checks bt_signature against bt_payload with the SDK, which
// rejects anything not signed with our public key.
func (c *braintreeGateway) VerifyAndParse(ctx context.Context, headers http.Header, body []byte) (*WebhookNotification, error) {
	var form struct {
		Signature string `json:"bt_signature"`
		Payload   string `json:"bt_payload"`
	}
	if err := json.Unmarshal(body, &form); err != nil || form.Signature == "" || form.Payload == "" {
		// Braintree posts form encoded by default
		values, perr := url.ParseQuery(string(body))
		if perr != nil {
			return nil, &apperr.AuthenticityError{Provider: ProviderBraintree, Err: fmt.Errorf("unreadable body")}
		}
		form.Signature = values.Get("bt_signature")
		form.Payload = values.Get("bt_payload")
	}

	notification, err := c.gateway.WebhookNotification().Parse(form.Signature, form.Payload)
	if err != nil {
		return nil, &apperr.AuthenticityError{Provider: ProviderBraintree, Err: err}
	}

	n := &WebhookNotification{
		Provider:  ProviderBraintree,
		EventType: notification.Kind,
	}

	if notification.Subject == nil || notification.Subject.Transaction == nil {
		n.EventID = fmt.Sprintf("%s:%d", notification.Kind, notification.Timestamp.UnixNano())
		n.Payload, _ = json.Marshal(map[string]string{"kind": notification.Kind})
		return n, nil
	}

	tx := notification.Subject.Transaction
	// the signed payload is XML, keep a JSON digest of it instead
	n.Payload, _ = json.Marshal(map[string]string{
		"kind":           notification.Kind,
		"transaction_id": tx.Id,
		"status":         string(tx.Status),
		"order_id":       tx.OrderId,
	})
	n.EventID = notification.Kind + ":" + tx.Id
	n.ProviderReference = tx.Id
	n.AttemptID = tx.OrderId
	n.Currency = tx.CurrencyISOCode
	if tx.Amount != nil {
		n.Amount = fromBraintreeDecimal(tx.Amount)
	}

	switch notification.Kind {
	case btKindSettled:
		n.Outcome = model.LedgerSucceeded
	case btKindSettlementDeclined:
		n.Outcome = model.LedgerFailed
	}
	return n, nil
}

func transactionResult(tx *braintree.Transaction) *GatewayResult {
	res := &GatewayResult{
		ProviderReference: tx.Id,
		RawStatus:         string(tx.Status),
	}
	if tx.Amount != nil {
		res.RawAmount = fromBraintreeDecimal(tx.Amount)
	}

	switch tx.Status {
	case braintree.TransactionStatusAuthorized,
		braintree.TransactionStatusSubmittedForSettlement,
		braintree.TransactionStatusSettling,
		braintree.TransactionStatusSettled:
		res.Success = true
	}
	return res
}

// Braintree expects NewDecimal(unscaled, scale). For 2 decimal places:
// "50.00" * 100 = 5000 -> braintree.NewDecimal(5000, 2)
func toBraintreeDecimal(amount decimal.Decimal) *braintree.Decimal {
	cents := amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
	return braintree.NewDecimal(cents, 2)
}

func fromBraintreeDecimal(d *braintree.Decimal) decimal.Decimal {
	return decimal.New(d.Unscaled, -int32(d.Scale))
}
