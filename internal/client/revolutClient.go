package client

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"freshness-orders/internal/apperr"
	"freshness-orders/internal/config"
	"freshness-orders/internal/model"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

const ProviderRevolut = "revolut"

const (
	revolutOrderCompleted     = "ORDER_COMPLETED"
	revolutOrderPaymentFailed = "ORDER_PAYMENT_FAILED"
	revolutOrderDeclined      = "ORDER_PAYMENT_DECLINED"
	revolutOrderCancelled     = "ORDER_CANCELLED"

	revolutSignatureHeader = "Revolut-Signature"
	revolutTimestampHeader = "Revolut-Request-Timestamp"
)

type revolutOrder struct {
	ID          string `json:"id"`
	State       string `json:"state"`
	Amount      int64  `json:"amount"` // minor units
	Currency    string `json:"currency"`
	CheckoutURL string `json:"checkout_url"`
}

type revolutWebhookEvent struct {
	Event               string `json:"event"`
	OrderID             string `json:"order_id"`
	MerchantOrderExtRef string `json:"merchant_order_ext_ref"`
}

// revolutGateway settles bank transfers through Revolut Merchant orders. The
// customer pays on Revolut's hosted page and the result arrives by webhook.
type revolutGateway struct {
	http          *resty.Client
	webhookSecret string
	tolerance     time.Duration
	now           func() time.Time
}

func NewRevolutGateway(cfg *config.Revolut) WebhookGateway {
	return newRevolutGateway(cfg)
}

func newRevolutGateway(cfg *config.Revolut) *revolutGateway {
	return &revolutGateway{
		http: resty.New().
			SetBaseURL(cfg.BaseApiURL).
			SetTimeout(30*time.Second).
			SetAuthToken(cfg.SecretKey).
			SetHeader("Revolut-Api-Version", cfg.APIVersion),
		webhookSecret: cfg.WebhookSecret,
		tolerance:     5 * time.Minute,
		now:           time.Now,
	}
}

func (c *revolutGateway) Provider() string { return ProviderRevolut }

func (c *revolutGateway) Authorize(ctx context.Context, req AuthorizeRequest) (*GatewayResult, error) {
	var order revolutOrder
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"amount":                 toMinorUnits(req.Amount),
			"currency":               req.Currency,
			"merchant_order_ext_ref": req.AttemptID,
			"description":            "order " + req.OrderID,
			"capture_mode":           "automatic",
		}).
		SetResult(&order).
		Post("/api/orders")
	if err != nil {
		return nil, c.fail("create order", err)
	}
	if resp.IsError() {
		return nil, c.fail("create order", fmt.Errorf("status=%d body=%s", resp.StatusCode(), resp.String()))
	}

	return &GatewayResult{
		ProviderReference: order.ID,
		RawAmount:         fromMinorUnits(order.Amount),
		RawStatus:         order.State,
		RequiresAction:    true,
		ApprovalURL:       order.CheckoutURL,
	}, nil
}

func (c *revolutGateway) Capture(ctx context.Context, reference string) (*GatewayResult, error) {
	return c.orderCall(ctx, "capture", fmt.Sprintf("/api/orders/%s/capture", reference), nil)
}

func (c *revolutGateway) Refund(ctx context.Context, reference string, amount decimal.Decimal) (*GatewayResult, error) {
	body := map[string]interface{}{"amount": toMinorUnits(amount)}
	return c.orderCall(ctx, "refund", fmt.Sprintf("/api/orders/%s/refund", reference), body)
}

func (c *revolutGateway) orderCall(ctx context.Context, op, path string, body interface{}) (*GatewayResult, error) {
	r := c.http.R().SetContext(ctx)
	if body != nil {
		r.SetBody(body)
	}

	var order revolutOrder
	resp, err := r.SetResult(&order).Post(path)
	if err != nil {
		return nil, c.fail(op, err)
	}
	if resp.IsError() {
		return nil, c.fail(op, fmt.Errorf("status=%d body=%s", resp.StatusCode(), resp.String()))
	}

	state := strings.ToLower(order.State)
	return &GatewayResult{
		Success:           state == "completed" || state == "processing",
		ProviderReference: order.ID,
		RawAmount:         fromMinorUnits(order.Amount),
		RawStatus:         order.State,
	}, nil
}

func (c *revolutGateway) fail(op string, err error) error {
	return &apperr.GatewayError{Provider: ProviderRevolut, Op: op, Err: err}
}

func (c *revolutGateway) VerifyAndParse(ctx context.Context, headers http.Header, body []byte) (*WebhookNotification, error) {
	if err := c.verifySignature(headers, body); err != nil {
		return nil, &apperr.AuthenticityError{Provider: ProviderRevolut, Err: err}
	}

	var event revolutWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("decode revolut webhook payload: %w", err)
	}

	n := &WebhookNotification{
		Provider:          ProviderRevolut,
		EventID:           event.Event + ":" + event.OrderID,
		EventType:         event.Event,
		ProviderReference: event.OrderID,
		AttemptID:         event.MerchantOrderExtRef,
		Payload:           body,
	}

	switch event.Event {
	case revolutOrderCompleted:
		n.Outcome = model.LedgerSucceeded
	case revolutOrderPaymentFailed, revolutOrderDeclined, revolutOrderCancelled:
		n.Outcome = model.LedgerFailed
	}
	return n, nil
}

// verifySignature checks Revolut-Signature, a list of "v1=<hex>" HMAC-SHA256
// digests of "v1.<timestamp>.<raw body>". Any matching digest is accepted so
// secrets can be rotated.
func (c *revolutGateway) verifySignature(headers http.Header, body []byte) error {
	if c.webhookSecret == "" {
		return fmt.Errorf("webhook secret not configured")
	}

	timestamp := headers.Get(revolutTimestampHeader)
	signatures := headers.Get(revolutSignatureHeader)
	if timestamp == "" || signatures == "" {
		return fmt.Errorf("missing signature headers")
	}

	ms, err := parseMillis(timestamp)
	if err != nil {
		return err
	}
	if age := c.now().Sub(time.UnixMilli(ms)); age > c.tolerance || age < -c.tolerance {
		return fmt.Errorf("timestamp outside tolerance")
	}

	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	mac.Write([]byte("v1." + timestamp + "."))
	mac.Write(body)
	expected := mac.Sum(nil)

	for _, sig := range strings.Split(signatures, ",") {
		sig = strings.TrimSpace(sig)
		if !strings.HasPrefix(sig, "v1=") {
			continue
		}
		got, err := hex.DecodeString(strings.TrimPrefix(sig, "v1="))
		if err != nil {
			continue
		}
		if hmac.Equal(got, expected) {
			return nil
		}
	}
	return fmt.Errorf("signature mismatch")
}

func parseMillis(s string) (int64, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp %q", s)
	}
	return ms, nil
}

func toMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func fromMinorUnits(v int64) decimal.Decimal {
	return decimal.New(v, -2)
}
